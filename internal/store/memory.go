package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a mutex-guarded in-process Store and Index. It is not durable;
// it backs tests and the -store memory development mode.
type Memory struct {
	mu   sync.Mutex
	kv   map[string][]byte
	sets map[string]map[string]memEntry
	seq  uint64
}

type memEntry struct {
	score int64
	seq   uint64
}

func NewMemory() *Memory {
	return &Memory{
		kv:   make(map[string][]byte),
		sets: make(map[string]map[string]memEntry),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *Memory) Update(_ context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur []byte
	if v, ok := m.kv[key]; ok {
		cur = append([]byte(nil), v...)
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	m.kv[key] = append([]byte(nil), next...)
	return nil
}

func (m *Memory) Add(_ context.Context, set string, score int64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[set]
	if !ok {
		s = make(map[string]memEntry)
		m.sets[set] = s
	}
	m.seq++
	s[member] = memEntry{score: score, seq: m.seq}
	return nil
}

func (m *Memory) RangeByScore(_ context.Context, set string, min, max int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type pair struct {
		member string
		memEntry
	}
	var hits []pair
	for member, e := range m.sets[set] {
		if e.score >= min && e.score <= max {
			hits = append(hits, pair{member, e})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score < hits[j].score
		}
		return hits[i].seq < hits[j].seq
	})
	members := make([]string, len(hits))
	for i, h := range hits {
		members[i] = h.member
	}
	return members, nil
}

func (m *Memory) Remove(_ context.Context, set string, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[set]
	if !ok {
		return false, nil
	}
	if _, ok := s[member]; !ok {
		return false, nil
	}
	delete(s, member)
	return true, nil
}
