package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/graaaaa/worldlog-companion/internal/config"
	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/session"
)

// ErrInvalidOwner is returned for a blank or malformed owner id.
var ErrInvalidOwner = errors.New("invalid owner id")

// maxChatLen bounds a single chat message in bytes.
const maxChatLen = 512

// ErrMessageTooLong is returned for chat content over maxChatLen bytes.
var ErrMessageTooLong = fmt.Errorf("chat message longer than %d bytes", maxChatLen)

// WorldUsecase defines the live world use cases.
type WorldUsecase interface {
	// GetWorld returns the current reconciled snapshot and status flags.
	GetWorld(ctx context.Context) WorldResult

	// SendChat shows content as pending until the remote confirms it.
	SendChat(ctx context.Context, content string) (ChatResult, error)

	// SetOwner switches the owner being followed.
	SetOwner(ctx context.Context, owner string) (OwnerResult, error)

	// Characters lists characters known locally for owner, or for the
	// current owner when owner is empty.
	Characters(ctx context.Context, owner string) ([]event.CharacterSummary, error)
}

// WorldResult represents the world response. Snapshot is nil until the
// first successful poll.
type WorldResult struct {
	Snapshot *event.WorldSnapshot `json:"snapshot"`
	Status   session.Status       `json:"status"`
}

// ChatResult represents the result of a chat send.
type ChatResult struct {
	Message event.ChatMessage `json:"message"`
	Added   bool              `json:"added"`
}

// OwnerResult represents the result of an owner switch.
type OwnerResult struct {
	Owner   string `json:"owner"`
	Changed bool   `json:"changed"`
}

// Session is the part of session.Manager the world use cases need.
type Session interface {
	GetWorldSnapshot() *event.WorldSnapshot
	Status() session.Status
	Owner() string
	SetOwner(owner string) bool
	AddOptimisticChatMessage(content string) (event.ChatMessage, bool, error)
	GetHistoryForOwner(ctx context.Context, owner string) ([]event.CharacterSummary, error)
}

// OwnerSwitcher is notified when the owner changes.
type OwnerSwitcher interface {
	SetOwner(owner string)
}

// WorldService implements WorldUsecase.
type WorldService struct {
	Session Session
	Poller  OwnerSwitcher
	// ConfigPath, when set, persists the owner so it survives restarts.
	ConfigPath string
}

// GetWorld returns the current snapshot and status.
func (s *WorldService) GetWorld(ctx context.Context) WorldResult {
	return WorldResult{
		Snapshot: s.Session.GetWorldSnapshot(),
		Status:   s.Session.Status(),
	}
}

// SendChat adds content as an optimistic message from the active character.
func (s *WorldService) SendChat(ctx context.Context, content string) (ChatResult, error) {
	if len(content) > maxChatLen {
		return ChatResult{}, ErrMessageTooLong
	}
	msg, added, err := s.Session.AddOptimisticChatMessage(content)
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Message: msg, Added: added}, nil
}

// SetOwner switches session and poller to owner and persists it.
func (s *WorldService) SetOwner(ctx context.Context, owner string) (OwnerResult, error) {
	owner = strings.TrimSpace(owner)
	if !validOwner(owner) {
		return OwnerResult{}, ErrInvalidOwner
	}

	changed := s.Session.SetOwner(owner)
	if !changed {
		return OwnerResult{Owner: owner}, nil
	}
	if s.Poller != nil {
		s.Poller.SetOwner(owner)
	}

	if s.ConfigPath != "" {
		cfg, err := config.LoadConfigFrom(s.ConfigPath)
		if err != nil {
			return OwnerResult{}, fmt.Errorf("load config: %w", err)
		}
		cfg.OwnerID = owner
		if err := config.SaveConfigTo(cfg, s.ConfigPath); err != nil {
			return OwnerResult{}, fmt.Errorf("save config: %w", err)
		}
	}
	return OwnerResult{Owner: owner, Changed: true}, nil
}

// Characters lists locally known characters of owner.
func (s *WorldService) Characters(ctx context.Context, owner string) ([]event.CharacterSummary, error) {
	if owner == "" {
		owner = s.Session.Owner()
	}
	if owner == "" {
		return []event.CharacterSummary{}, nil
	}
	chars, err := s.Session.GetHistoryForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if chars == nil {
		chars = []event.CharacterSummary{}
	}
	return chars, nil
}

// validOwner accepts printable ids without whitespace of up to 128 bytes.
func validOwner(owner string) bool {
	if owner == "" || len(owner) > 128 {
		return false
	}
	for _, r := range owner {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
