package app

import (
	"context"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/session"
	"github.com/graaaaa/worldlog-companion/internal/store"
)

// StatsResult represents the response for the stats endpoint.
type StatsResult struct {
	CharacterID     string   `json:"character_id"`
	Events          int      `json:"events"`
	Chat            int      `json:"chat"`
	CombatHits      int      `json:"combat_hits"`
	Kills           int      `json:"kills"`
	Experience      int      `json:"experience"`
	RecentOpponents []string `json:"recent_opponents"`
	LastBlock       *uint64  `json:"last_block,omitempty"`
	LastStoredAt    *string  `json:"last_stored_at,omitempty"`
}

// StatsUsecase defines the interface for stats operations.
type StatsUsecase interface {
	GetStats(ctx context.Context) (*StatsResult, error)
}

// StatsStore defines the interface for stats data access.
type StatsStore interface {
	CacheStats(ctx context.Context, scope event.Scope) (*store.Stats, error)
}

// StatsService implements StatsUsecase.
type StatsService struct {
	store  StatsStore
	scopes ScopeSource
}

// NewStatsService creates a new StatsService.
func NewStatsService(store StatsStore, scopes ScopeSource) *StatsService {
	return &StatsService{store: store, scopes: scopes}
}

// GetStats retrieves cache statistics for the active character.
func (s *StatsService) GetStats(ctx context.Context) (*StatsResult, error) {
	scope, ok := s.scopes.Scope()
	if !ok {
		return nil, session.ErrNoCharacter
	}

	stats, err := s.store.CacheStats(ctx, scope)
	if err != nil {
		return nil, err
	}

	return &StatsResult{
		CharacterID:     scope.Character,
		Events:          stats.Events,
		Chat:            stats.Chat,
		CombatHits:      stats.CombatHits,
		Kills:           stats.Kills,
		Experience:      stats.Experience,
		RecentOpponents: stats.RecentOpponents,
		LastBlock:       stats.LastBlock,
		LastStoredAt:    stats.LastStoredAt,
	}, nil
}
