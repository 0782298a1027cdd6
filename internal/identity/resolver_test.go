package identity

import (
	"sync"
	"testing"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

func TestResolver_RemembersDepartedSlot(t *testing.T) {
	r := New()

	// Slot 7 is in view three ticks ago, then leaves the roster.
	r.ObserveRoster(&event.Character{ID: "0xA", Name: "Bob", Index: 1},
		[]event.Character{{ID: "m-7", Name: "Goblin", Index: 7}}, nil)
	r.ObserveRoster(&event.Character{ID: "0xA", Name: "Bob", Index: 1}, nil, nil)
	r.ObserveRoster(&event.Character{ID: "0xA", Name: "Bob", Index: 1}, nil, nil)
	r.ObserveRoster(&event.Character{ID: "0xA", Name: "Bob", Index: 1}, nil, nil)

	e, ok := r.Resolve(7)
	if !ok {
		t.Fatal("slot 7 should still resolve")
	}
	if e.Name != "Goblin" {
		t.Errorf("slot 7 name = %q, want Goblin", e.Name)
	}

	p := r.Participant(7, false)
	if !p.Resolved || p.Name != "Goblin" || p.ID != "m-7" {
		t.Errorf("Participant(7) = %+v", p)
	}
}

func TestResolver_PriorityWithinBatch(t *testing.T) {
	r := New()

	// The playing character is observed first; a stale non-combatant
	// copy of the same slot in the same batch must not downgrade it.
	r.ObserveRoster(
		&event.Character{ID: "0xA", Name: "Bob the Brave", Index: 3},
		nil,
		[]event.Character{{ID: "0xA", Name: "Bob", Index: 3}},
	)

	e, _ := r.Resolve(3)
	if e.Name != "Bob the Brave" {
		t.Errorf("name = %q, want Bob the Brave", e.Name)
	}
}

func TestResolver_FreshBatchOverwrites(t *testing.T) {
	r := New()
	r.Observe(Entry{Slot: 4, ID: "0xB", Name: "Alice"})
	r.Observe(Entry{Slot: 4, ID: "0xC", Name: "Carol"})

	e, _ := r.Resolve(4)
	if e.ID != "0xC" || e.Name != "Carol" {
		t.Errorf("slot 4 = %+v, want Carol", e)
	}
}

func TestResolver_EmptyNameNeverDowngrades(t *testing.T) {
	r := New()
	r.Observe(Entry{Slot: 5, ID: "0xD", Name: "Dave"})
	r.Observe(Entry{Slot: 5, ID: "0xD"})

	e, ok := r.Resolve(5)
	if !ok || e.Name != "Dave" {
		t.Errorf("slot 5 = %+v, ok=%v; want Dave", e, ok)
	}
}

func TestResolver_UnknownSlotFallsBack(t *testing.T) {
	r := New()

	p := r.Participant(12, true)
	if p.Resolved {
		t.Error("unknown slot should not be resolved")
	}
	if p.Name != "Player 12" {
		t.Errorf("name = %q, want Player 12", p.Name)
	}

	p = r.Participant(0, false)
	if !p.Resolved {
		t.Error("slot 0 means no participant and counts as resolved")
	}
}

func TestFallbackName(t *testing.T) {
	tests := []struct {
		slot     int
		attacker bool
		want     string
	}{
		{0, true, "Unknown attacker"},
		{0, false, "Unknown target"},
		{1, true, "Player 1"},
		{64, false, "Player 64"},
		{65, false, "Creature 65"},
		{120, true, "Creature 120"},
	}
	for _, tt := range tests {
		if got := FallbackName(tt.slot, tt.attacker); got != tt.want {
			t.Errorf("FallbackName(%d, %v) = %q, want %q", tt.slot, tt.attacker, got, tt.want)
		}
	}
}

func TestResolver_Reset(t *testing.T) {
	r := New()
	r.Observe(Entry{Slot: 2, Name: "Eve"})
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", r.Len())
	}
	if _, ok := r.Resolve(2); ok {
		t.Error("slot 2 should not resolve after Reset")
	}
}

func TestResolver_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func(slot int) {
			defer wg.Done()
			r.Observe(Entry{Slot: slot, Name: "n"})
		}(i)
		go func(slot int) {
			defer wg.Done()
			r.Resolve(slot)
		}(i)
	}
	wg.Wait()

	if r.Len() != 20 {
		t.Errorf("Len() = %d, want 20", r.Len())
	}
}
