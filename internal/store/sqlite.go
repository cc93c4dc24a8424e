package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS sorted_sets (
  set_name TEXT NOT NULL,
  member TEXT NOT NULL,
  score INTEGER NOT NULL,
  PRIMARY KEY (set_name, member)
);
CREATE INDEX IF NOT EXISTS idx_sorted_sets_score ON sorted_sets(set_name, score);
`
	_, err := db.Exec(schema)
	return err
}

// SQLite implements Store and Index on two tables: kv for records and
// sorted_sets for score-ordered members. The caller is expected to cap the
// pool at a single connection, as SQLite has a single writer anyway.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key)
	return err
}

func (s *SQLite) Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		cur = nil
	} else if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, next); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLite) Add(ctx context.Context, set string, score int64, member string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sorted_sets (set_name, member, score) VALUES (?, ?, ?)
ON CONFLICT(set_name, member) DO UPDATE SET score=excluded.score`, set, member, score)
	return err
}

func (s *SQLite) RangeByScore(ctx context.Context, set string, min, max int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT member FROM sorted_sets
WHERE set_name=? AND score>=? AND score<=?
ORDER BY score ASC, rowid ASC`, set, min, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLite) Remove(ctx context.Context, set string, member string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sorted_sets WHERE set_name=? AND member=?`, set, member)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
