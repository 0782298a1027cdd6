package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

// recentOpponentsLimit bounds Stats.RecentOpponents.
const recentOpponentsLimit = 5

// Stats holds aggregated cache statistics for one scope.
type Stats struct {
	Events          int      `json:"events"`
	Chat            int      `json:"chat"`
	CombatHits      int      `json:"combat_hits"`
	Kills           int      `json:"kills"`
	Experience      int      `json:"experience"`
	RecentOpponents []string `json:"recent_opponents"`
	LastBlock       *uint64  `json:"last_block,omitempty"`
	LastStoredAt    *string  `json:"last_stored_at,omitempty"`
}

// CacheStats retrieves aggregated statistics for scope.
func (s *Store) CacheStats(ctx context.Context, scope event.Scope) (*Stats, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	stats := &Stats{
		RecentOpponents: []string{},
	}
	args := []any{scope.Owner, scope.Contract, scope.Character}

	// Aggregated counts in a single query
	var (
		lastBlock sql.NullInt64
		lastStore sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN log_type IN (?, ?) AND hit = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN log_type IN (?, ?) AND target_died = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(experience), 0),
			MAX(block_number),
			MAX(stored_at)
		FROM events
		WHERE owner = ? AND contract = ? AND character_id = ?
	`, append([]any{
		int(event.LogCombat), int(event.LogInstigatedCombat),
		int(event.LogCombat), int(event.LogInstigatedCombat),
	}, args...)...).
		Scan(&stats.Events, &stats.CombatHits, &stats.Kills, &stats.Experience, &lastBlock, &lastStore)
	if err != nil {
		return nil, err
	}
	if lastBlock.Valid {
		b := uint64(lastBlock.Int64)
		stats.LastBlock = &b
	}
	if lastStore.Valid {
		stats.LastStoredAt = &lastStore.String
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_messages
		WHERE owner = ? AND contract = ? AND character_id = ?
	`, args...).Scan(&stats.Chat)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Most recent distinct named opponents
	rows, err := s.db.QueryContext(ctx, `
		SELECT other_name FROM events
		WHERE owner = ? AND contract = ? AND character_id = ?
			AND log_type IN (?, ?) AND other_resolved = 1 AND other_index > 0
		GROUP BY other_name
		ORDER BY MAX(block_number) DESC
		LIMIT ?
	`, append(args, int(event.LogCombat), int(event.LogInstigatedCombat), recentOpponentsLimit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		stats.RecentOpponents = append(stats.RecentOpponents, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
