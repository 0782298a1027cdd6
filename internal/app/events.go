package app

import (
	"context"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/session"
	"github.com/graaaaa/worldlog-companion/internal/store"
)

// EventsUsecase defines the events query use case.
type EventsUsecase interface {
	Query(ctx context.Context, filter store.EventFilter) (store.EventPage, error)
}

// EventStore defines store operations needed by EventsService.
type EventStore interface {
	QueryEvents(ctx context.Context, scope event.Scope, filter store.EventFilter) (store.EventPage, error)
}

// ScopeSource reports the active scope.
type ScopeSource interface {
	Scope() (event.Scope, bool)
}

// EventsService implements EventsUsecase over the active character's cache.
type EventsService struct {
	Store  EventStore
	Scopes ScopeSource
}

// Query pages through cached events of the active character.
func (s *EventsService) Query(ctx context.Context, filter store.EventFilter) (store.EventPage, error) {
	scope, ok := s.Scopes.Scope()
	if !ok {
		return store.EventPage{}, session.ErrNoCharacter
	}
	return s.Store.QueryEvents(ctx, scope, filter)
}
