package store

import (
	"context"
	"fmt"
	"time"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

// TouchCharacter records that characterID of owner was active at at.
// last_active never moves backwards and an empty name keeps the known one.
func (s *Store) TouchCharacter(ctx context.Context, owner, characterID, name string, at time.Time) error {
	if owner == "" || characterID == "" {
		return fmt.Errorf("%w: owner and character are required", ErrInvalidScope)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO characters (owner, character_id, name, last_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, character_id) DO UPDATE SET
			name        = CASE WHEN excluded.name = '' THEN characters.name ELSE excluded.name END,
			last_active = MAX(characters.last_active, excluded.last_active)`,
		owner, characterID, name, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("touch character: %w", err)
	}
	return nil
}

// ListCharacters returns the characters known for owner, most recently
// active first.
func (s *Store) ListCharacters(ctx context.Context, owner string) ([]event.CharacterSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT character_id, name, last_active FROM characters
		WHERE owner = ?
		ORDER BY last_active DESC, character_id ASC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	out := make([]event.CharacterSummary, 0)
	for rows.Next() {
		var (
			cs   event.CharacterSummary
			last string
		)
		if err := rows.Scan(&cs.CharacterID, &cs.Name, &last); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		cs.Owner = owner
		if cs.LastActive, err = parseTime(last); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
