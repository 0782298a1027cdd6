// Package identity maps roster slot indices to participant identities.
// Historical logs only carry slot indices, so the resolver remembers every
// identity it has seen for the life of a session.
package identity

import (
	"strconv"
	"sync"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

// CreatureSlotStart is the first slot index used by non-player creatures.
const CreatureSlotStart = 65

// Entry is the identity last observed in a slot.
type Entry struct {
	Slot   int    `json:"slot"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	AreaID string `json:"area_id"`
}

// Resolver tracks slot identities for one session.
// It is safe for concurrent use.
type Resolver struct {
	mu      sync.RWMutex
	entries map[int]Entry
}

// New creates an empty Resolver.
func New() *Resolver {
	return &Resolver{
		entries: make(map[int]Entry),
	}
}

// Observe upserts a batch of entries, highest priority first.
// Within a batch the first named entry for a slot wins; across batches the
// newest named entry replaces the stored one. An entry without a name never
// replaces a known name.
func (r *Resolver) Observe(entries ...Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if e.Slot <= 0 {
			continue
		}
		if seen[e.Slot] {
			continue
		}
		prev, exists := r.entries[e.Slot]
		if e.Name == "" {
			if exists && prev.Name != "" {
				continue
			}
		} else {
			seen[e.Slot] = true
		}
		r.entries[e.Slot] = e
	}
}

// ObserveRoster observes a snapshot roster in priority order: the playing
// character, then combatants, then non-combatants.
func (r *Resolver) ObserveRoster(player *event.Character, combatants, nonCombatants []event.Character) {
	entries := make([]Entry, 0, 1+len(combatants)+len(nonCombatants))
	if player != nil {
		entries = append(entries, entryFor(*player))
	}
	for _, c := range combatants {
		entries = append(entries, entryFor(c))
	}
	for _, c := range nonCombatants {
		entries = append(entries, entryFor(c))
	}
	r.Observe(entries...)
}

// Resolve returns the identity last seen in slot.
func (r *Resolver) Resolve(slot int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[slot]
	if !ok || e.Name == "" {
		return Entry{}, false
	}
	return e, true
}

// Participant resolves slot into an event participant, falling back to a
// placeholder name when the slot was never observed.
func (r *Resolver) Participant(slot int, attacker bool) event.Participant {
	if slot <= 0 {
		return event.Participant{Index: slot, Name: FallbackName(slot, attacker), Resolved: true}
	}
	if e, ok := r.Resolve(slot); ok {
		return event.Participant{Index: slot, ID: e.ID, Name: e.Name, Resolved: true}
	}
	return event.Participant{Index: slot, Name: FallbackName(slot, attacker)}
}

// Reset forgets every identity. Called when the active character changes.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[int]Entry)
}

// Len returns the number of known slots.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// FallbackName returns a deterministic placeholder for an unknown slot so
// raw indices are never shown.
func FallbackName(slot int, attacker bool) string {
	switch {
	case slot <= 0 && attacker:
		return "Unknown attacker"
	case slot <= 0:
		return "Unknown target"
	case slot >= CreatureSlotStart:
		return "Creature " + strconv.Itoa(slot)
	default:
		return "Player " + strconv.Itoa(slot)
	}
}

func entryFor(c event.Character) Entry {
	return Entry{
		Slot:   c.Index,
		ID:     c.ID,
		Name:   c.Name,
		AreaID: c.AreaID,
	}
}
