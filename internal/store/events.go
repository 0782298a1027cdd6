package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertEventQuery = `
INSERT INTO events (owner, contract, character_id, event_key, ` + eventColumns + `, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(owner, contract, character_id, event_key) DO UPDATE SET
	main_id        = excluded.main_id,
	main_name      = excluded.main_name,
	main_resolved  = excluded.main_resolved,
	other_id       = excluded.other_id,
	other_name     = excluded.other_name,
	other_resolved = excluded.other_resolved,
	name_resolved  = excluded.name_resolved
WHERE events.name_resolved = 0 AND excluded.name_resolved = 1
`

// InsertEventIfAbsent stores e under scope.
// An existing resolved row is left untouched; an existing unresolved row is
// overwritten once by a resolved copy, keeping its original stored_at.
// Returns true if a row was inserted or backfilled.
func (s *Store) InsertEventIfAbsent(ctx context.Context, scope event.Scope, e *event.Event) (bool, error) {
	return s.insertEvent(ctx, s.db, scope, e, s.nowString())
}

// insertEvent writes e with storedAt as its store time.
func (s *Store) insertEvent(ctx context.Context, x execer, scope event.Scope, e *event.Event, storedAt string) (bool, error) {
	if err := validateScope(scope); err != nil {
		return false, err
	}
	if err := validateEvent(e); err != nil {
		return false, err
	}

	args := append([]any{scope.Owner, scope.Contract, scope.Character, e.Key()}, eventArgs(e)...)
	args = append(args, storedAt)

	result, err := x.ExecContext(ctx, insertEventQuery, args...)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// EventFilter contains filter options for paging through stored events.
type EventFilter struct {
	Type   *event.LogType
	Limit  int
	Cursor *string
}

// EventPage is one page of a QueryEvents result.
type EventPage struct {
	Items      []event.Event
	NextCursor *string
}

// QueryEvents pages through the events of scope in (block, log index) order.
func (s *Store) QueryEvents(ctx context.Context, scope event.Scope, f EventFilter) (EventPage, error) {
	if err := validateScope(scope); err != nil {
		return EventPage{}, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT " + eventColumns + `
FROM events
WHERE owner = ? AND contract = ? AND character_id = ?`)
	args = append(args, scope.Owner, scope.Contract, scope.Character)

	if f.Type != nil {
		sb.WriteString(" AND log_type = ?")
		args = append(args, int(*f.Type))
	}

	// Composite cursor: block|logIndex
	if f.Cursor != nil && *f.Cursor != "" {
		block, logIndex, err := decodeCursor(*f.Cursor)
		if err != nil {
			return EventPage{}, fmt.Errorf("decode cursor: %w", err)
		}
		sb.WriteString(" AND (block_number > ? OR (block_number = ? AND log_index > ?))")
		args = append(args, int64(block), int64(block), logIndex)
	}

	sb.WriteString(" ORDER BY block_number ASC, log_index ASC LIMIT ?")
	args = append(args, limit+1) // fetch one extra to detect next page

	items, err := s.scanEvents(ctx, sb.String(), args...)
	if err != nil {
		return EventPage{}, err
	}

	var next *string
	if len(items) > limit {
		last := items[limit-1]
		items = items[:limit]
		c := EncodeCursor(last.BlockNumber, last.LogIndex)
		next = &c
	}
	return EventPage{Items: items, NextCursor: next}, nil
}

// CountEvents returns the number of events stored for scope.
func (s *Store) CountEvents(ctx context.Context, scope event.Scope) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE owner = ? AND contract = ? AND character_id = ?`,
		scope.Owner, scope.Contract, scope.Character,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// LastBlock returns the highest block stored for scope, or false if none.
func (s *Store) LastBlock(ctx context.Context, scope event.Scope) (uint64, bool, error) {
	var block sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(block_number) FROM (
			SELECT block_number FROM events WHERE owner = ? AND contract = ? AND character_id = ?
			UNION ALL
			SELECT block_number FROM chat_messages WHERE owner = ? AND contract = ? AND character_id = ?
		)`,
		scope.Owner, scope.Contract, scope.Character,
		scope.Owner, scope.Contract, scope.Character,
	).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !block.Valid) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last block: %w", err)
	}
	return uint64(block.Int64), true, nil
}

func (s *Store) scanEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	items := make([]event.Event, 0)
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}
