package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PurgeOlderThan deletes every record of (owner, character) whose store
// time predates cutoff. Event time is not considered. Returns the number of
// rows removed across events, chat and legacy blocks.
func (s *Store) PurgeOlderThan(ctx context.Context, owner, character string, cutoff time.Time) (int64, error) {
	cut := formatTime(cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"events", "chat_messages", "block_cache"} {
		result, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE owner = ? AND character_id = ? AND stored_at < ?",
			owner, character, cut,
		)
		if err != nil {
			return 0, fmt.Errorf("purge %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return total, nil
}

// OwnerCharacter names one (owner, character) pair with cached records.
type OwnerCharacter struct {
	Owner     string
	Character string
}

// ListScopes returns every (owner, character) pair holding cached records.
func (s *Store) ListScopes(ctx context.Context) ([]OwnerCharacter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, character_id FROM events
		UNION
		SELECT owner, character_id FROM chat_messages
		UNION
		SELECT owner, character_id FROM block_cache
		ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var out []OwnerCharacter
	for rows.Next() {
		var oc OwnerCharacter
		if err := rows.Scan(&oc.Owner, &oc.Character); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		out = append(out, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Sweeper periodically purges records older than TTL for every known
// (owner, character).
type Sweeper struct {
	Store    *Store
	TTL      time.Duration
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Run sweeps once immediately, then every Interval until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) error {
	interval := sw.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := sw.SweepOnce(ctx, sw.now()); err != nil && ctx.Err() == nil {
			sw.logger().Warn("cache sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce purges every scope with cutoff now-TTL and returns the total
// number of rows removed. A failing scope is logged and skipped.
func (sw *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int64, error) {
	if sw.TTL <= 0 {
		return 0, nil
	}
	scopes, err := sw.Store.ListScopes(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-sw.TTL)
	var total int64
	for _, sc := range scopes {
		n, err := sw.Store.PurgeOlderThan(ctx, sc.Owner, sc.Character, cutoff)
		if err != nil {
			sw.logger().Warn("purge failed",
				"owner", sc.Owner, "character", sc.Character, "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		sw.logger().Info("cache sweep removed expired records", "count", total)
	}
	return total, nil
}

func (sw *Sweeper) now() time.Time {
	if sw.Now != nil {
		return sw.Now()
	}
	return time.Now()
}

func (sw *Sweeper) logger() *slog.Logger {
	if sw.Logger != nil {
		return sw.Logger
	}
	return slog.Default()
}
