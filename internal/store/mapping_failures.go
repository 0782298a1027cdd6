package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// MaxErrorMsgLen caps stored mapping failure messages.
const MaxErrorMsgLen = 1024

// InsertMappingFailure records a snapshot that could not be mapped.
// Identical (owner, startBlock, message) failures are stored once.
// Returns true if a new row was written.
func (s *Store) InsertMappingFailure(ctx context.Context, owner string, startBlock uint64, msg string) (bool, error) {
	if len(msg) > MaxErrorMsgLen {
		msg = msg[:MaxErrorMsgLen]
	}

	sum := sha256.Sum256([]byte(owner + "|" + strconv.FormatUint(startBlock, 10) + "|" + msg))
	key := hex.EncodeToString(sum[:])

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mapping_failures (ts, owner, start_block, error_msg, dedupe_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dedupe_key) DO NOTHING`,
		s.nowString(), owner, int64(startBlock), msg, key,
	)
	if err != nil {
		return false, fmt.Errorf("insert mapping failure: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// CountMappingFailures returns the number of recorded mapping failures.
func (s *Store) CountMappingFailures(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mapping_failures").Scan(&count); err != nil {
		return 0, fmt.Errorf("count mapping failures: %w", err)
	}
	return count, nil
}
