// Package store defines the persistence contracts the task engine runs on: a
// durable key-value Store and a sorted Index mapping score -> member. Backends
// are provided for redis, sqlite, and an in-process map.
package store

import (
	"context"
	"errors"
	"math"
)

// Open bounds for RangeByScore queries.
const (
	ScoreMin int64 = math.MinInt64
	ScoreMax int64 = math.MaxInt64
)

var (
	// ErrNotFound is returned by Get for absent keys.
	ErrNotFound = errors.New("store: key not found")
	// ErrConflict is returned when an Update keeps losing to concurrent
	// writers and gives up.
	ErrConflict = errors.New("store: too many concurrent updates")
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Update applies fn to the current value of key as an atomic
	// read-modify-write. fn receives nil when the key is absent; an error
	// from fn aborts the update without writing and is returned unwrapped,
	// so callers can carry domain errors through it. This is the
	// conditional-write primitive that serializes status transitions.
	Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error
}

type Index interface {
	// Add inserts member into set with the given score, or updates the
	// score if the member is already present.
	Add(ctx context.Context, set string, score int64, member string) error

	// RangeByScore returns members with min <= score <= max, ordered by
	// ascending score. Ordering between equal scores is unspecified.
	RangeByScore(ctx context.Context, set string, min, max int64) ([]string, error)

	// Remove deletes member from set and reports whether it was present.
	// At most one concurrent caller observes true for a given member,
	// which makes Remove usable as a claim.
	Remove(ctx context.Context, set string, member string) (bool, error)
}
