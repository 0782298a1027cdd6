package store

import (
	"context"
	"fmt"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

const insertChatQuery = `
INSERT INTO chat_messages (owner, contract, character_id, message_key, ` + chatColumns + `, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(owner, contract, character_id, message_key) DO NOTHING
`

// InsertChatIfAbsent stores a confirmed chat message under scope.
// Confirmed chat is immutable, so an existing row is never touched.
func (s *Store) InsertChatIfAbsent(ctx context.Context, scope event.Scope, m *event.ChatMessage) (bool, error) {
	return s.insertChat(ctx, s.db, scope, m, s.nowString())
}

func (s *Store) insertChat(ctx context.Context, x execer, scope event.Scope, m *event.ChatMessage, storedAt string) (bool, error) {
	if err := validateScope(scope); err != nil {
		return false, err
	}
	if err := validateChat(m); err != nil {
		return false, err
	}

	args := append([]any{scope.Owner, scope.Contract, scope.Character, m.Key()}, chatArgs(m)...)
	args = append(args, storedAt)

	result, err := x.ExecContext(ctx, insertChatQuery, args...)
	if err != nil {
		return false, fmt.Errorf("insert chat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// CountChat returns the number of chat messages stored for scope.
func (s *Store) CountChat(ctx context.Context, scope event.Scope) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE owner = ? AND contract = ? AND character_id = ?`,
		scope.Owner, scope.Contract, scope.Character,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chat: %w", err)
	}
	return count, nil
}

func (s *Store) scanChat(ctx context.Context, query string, args ...any) ([]event.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	defer rows.Close()

	items := make([]event.ChatMessage, 0)
	for rows.Next() {
		var r chatRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		m, err := r.toMessage()
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}
