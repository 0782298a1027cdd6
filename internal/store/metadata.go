package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Keys of the metadata table.
const (
	metaLastVacuum   = "last_vacuum_at"
	metaLegacyPrefix = "legacy_migrated:"
)

// meta returns the value stored under key; ok is false when the key is unset.
func (s *Store) meta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("read metadata %q: %w", key, err)
	}
	return value, true, nil
}

// metaTime is meta for timestamp values. Unset or unparsable values read
// as the zero time.
func (s *Store) metaTime(ctx context.Context, key string) (time.Time, error) {
	v, ok, err := s.meta(ctx, key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := parseTime(v)
	if err != nil {
		s.logger.Warn("ignoring malformed metadata timestamp", "key", key, "value", v)
		return time.Time{}, nil
	}
	return t, nil
}

// setMeta upserts key through x, which may be the database or a transaction.
func setMeta(ctx context.Context, x execer, key, value string) error {
	if _, err := x.ExecContext(ctx,
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value,
	); err != nil {
		return fmt.Errorf("write metadata %q: %w", key, err)
	}
	return nil
}
