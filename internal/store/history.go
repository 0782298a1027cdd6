package store

import (
	"context"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

// History is the persisted record set of one scope, ordered by
// (block, log index).
type History struct {
	Events []event.Event
	Chat   []event.ChatMessage
}

// Empty reports whether the history holds no records.
func (h History) Empty() bool {
	return len(h.Events) == 0 && len(h.Chat) == 0
}

// QueryRange returns every event and chat message of scope.
func (s *Store) QueryRange(ctx context.Context, scope event.Scope) (History, error) {
	if err := validateScope(scope); err != nil {
		return History{}, err
	}

	events, err := s.scanEvents(ctx, "SELECT "+eventColumns+`
FROM events
WHERE owner = ? AND contract = ? AND character_id = ?
ORDER BY block_number ASC, log_index ASC`,
		scope.Owner, scope.Contract, scope.Character)
	if err != nil {
		return History{}, err
	}

	chat, err := s.scanChat(ctx, "SELECT "+chatColumns+`
FROM chat_messages
WHERE owner = ? AND contract = ? AND character_id = ?
ORDER BY block_number ASC, log_index ASC`,
		scope.Owner, scope.Contract, scope.Character)
	if err != nil {
		return History{}, err
	}

	return History{Events: events, Chat: chat}, nil
}

// LoadHistory returns the cold-start history of scope. When scope has no
// event-level records but block-grouped legacy records exist, they are
// copied into the event tables once and returned as the seed history.
func (s *Store) LoadHistory(ctx context.Context, scope event.Scope) (History, error) {
	h, err := s.QueryRange(ctx, scope)
	if err != nil {
		return History{}, err
	}
	if !h.Empty() {
		return h, nil
	}

	migrated, err := s.migrateLegacy(ctx, scope)
	if err != nil {
		return History{}, err
	}
	if migrated == 0 {
		return h, nil
	}
	s.logger.Info("migrated legacy block cache",
		"owner", scope.Owner, "character", scope.Character, "blocks", migrated)
	return s.QueryRange(ctx, scope)
}

// SaveCachedBlock writes a block-grouped record in the legacy layout.
func (s *Store) SaveCachedBlock(ctx context.Context, scope event.Scope, block event.CachedBlock) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	payload, err := sonnet.Marshal(block)
	if err != nil {
		return fmt.Errorf("encode cached block: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO block_cache (owner, contract, character_id, block_number, payload, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		scope.Owner, scope.Contract, scope.Character, int64(block.BlockNumber), string(payload), s.nowString(),
	)
	if err != nil {
		return fmt.Errorf("save cached block: %w", err)
	}
	return nil
}

// migrateLegacy copies legacy blocks of scope into the event tables and
// records a marker so the copy never runs twice. Returns the number of
// blocks copied.
func (s *Store) migrateLegacy(ctx context.Context, scope event.Scope) (int, error) {
	marker := metaLegacyPrefix + scope.String()

	if _, done, err := s.meta(ctx, marker); err != nil || done {
		return 0, err
	}

	blocks, err := s.legacyBlocks(ctx, scope)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin legacy migration: %w", err)
	}
	defer tx.Rollback()

	// Migrated rows keep the block's stored_at so retention still counts
	// from when the record was first cached.
	for _, lb := range blocks {
		b := lb.block
		for i := range b.Events {
			if _, err := s.insertEvent(ctx, tx, scope, &b.Events[i], lb.storedAt); err != nil {
				return 0, err
			}
		}
		for i := range b.Chat {
			if b.Chat[i].Optimistic {
				continue
			}
			if _, err := s.insertChat(ctx, tx, scope, &b.Chat[i], lb.storedAt); err != nil {
				return 0, err
			}
		}
	}

	if err := setMeta(ctx, tx, marker, s.nowString()); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit legacy migration: %w", err)
	}
	return len(blocks), nil
}

// legacyBlock is one decoded block_cache row.
type legacyBlock struct {
	block    event.CachedBlock
	storedAt string
}

func (s *Store) legacyBlocks(ctx context.Context, scope event.Scope) ([]legacyBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_number, payload, stored_at FROM block_cache
		WHERE owner = ? AND contract = ? AND character_id = ?
		ORDER BY block_number ASC`,
		scope.Owner, scope.Contract, scope.Character,
	)
	if err != nil {
		return nil, fmt.Errorf("query legacy blocks: %w", err)
	}
	defer rows.Close()

	var blocks []legacyBlock
	for rows.Next() {
		var (
			number   int64
			payload  string
			storedAt string
		)
		if err := rows.Scan(&number, &payload, &storedAt); err != nil {
			return nil, fmt.Errorf("scan legacy block: %w", err)
		}
		var b event.CachedBlock
		if err := sonnet.Unmarshal([]byte(payload), &b); err != nil {
			s.logger.Warn("skipping unreadable legacy block",
				"owner", scope.Owner, "character", scope.Character, "block", number, "error", err)
			continue
		}
		b.BlockNumber = uint64(number)
		if _, err := parseTime(storedAt); err != nil {
			storedAt = s.nowString()
		}
		blocks = append(blocks, legacyBlock{block: b, storedAt: storedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return blocks, nil
}
