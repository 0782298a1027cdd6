package reconcile

import (
	"sort"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

// preferEvent picks between two copies of the same key. The higher layer
// wins unless only the lower copy is name-resolved.
func preferEvent(lower, higher event.Event) event.Event {
	if lower.NameResolved && !higher.NameResolved {
		return lower
	}
	return higher
}

// overlayEvents writes layer into dst using preferEvent and returns the
// entries that changed dst (new keys or resolution upgrades).
func overlayEvents(dst map[string]event.Event, layer []event.Event) []event.Event {
	var changed []event.Event
	for _, e := range layer {
		key := e.Key()
		prev, ok := dst[key]
		if !ok {
			dst[key] = e
			changed = append(changed, e)
			continue
		}
		next := preferEvent(prev, e)
		dst[key] = next
		if !prev.NameResolved && next.NameResolved {
			changed = append(changed, next)
		}
	}
	return changed
}

// overlayChat writes layer into dst; the higher layer always wins since
// confirmed chat never changes. Returns the keys not seen before.
func overlayChat(dst map[string]event.ChatMessage, layer []event.ChatMessage) []event.ChatMessage {
	var added []event.ChatMessage
	for _, m := range layer {
		key := m.Key()
		if _, ok := dst[key]; !ok {
			added = append(added, m)
		}
		dst[key] = m
	}
	return added
}

// mergeEvents flattens the layers, lowest priority first, into one
// (block, log index) ordered slice.
func mergeEvents(layers ...map[string]event.Event) []event.Event {
	merged := make(map[string]event.Event)
	for _, layer := range layers {
		for key, e := range layer {
			if prev, ok := merged[key]; ok {
				merged[key] = preferEvent(prev, e)
				continue
			}
			merged[key] = e
		}
	}
	out := make([]event.Event, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return event.Before(out[i].BlockNumber, out[i].LogIndex, out[j].BlockNumber, out[j].LogIndex)
	})
	return out
}

// mergeChat flattens the confirmed layers into block order, then merges
// optimistic messages in by submit time without reordering confirmed ones.
func mergeChat(optimistic []event.ChatMessage, layers ...map[string]event.ChatMessage) []event.ChatMessage {
	merged := make(map[string]event.ChatMessage)
	for _, layer := range layers {
		for key, m := range layer {
			merged[key] = m
		}
	}
	confirmed := make([]event.ChatMessage, 0, len(merged))
	for _, m := range merged {
		confirmed = append(confirmed, m)
	}
	sort.Slice(confirmed, func(i, j int) bool {
		return event.Before(confirmed[i].BlockNumber, confirmed[i].LogIndex, confirmed[j].BlockNumber, confirmed[j].LogIndex)
	})
	return insertOptimistic(confirmed, optimistic)
}

// insertOptimistic merges opt (ordered by submit time) into confirmed: an
// optimistic message goes before the first confirmed message stamped
// after it.
func insertOptimistic(confirmed, opt []event.ChatMessage) []event.ChatMessage {
	if len(opt) == 0 {
		return confirmed
	}
	out := make([]event.ChatMessage, 0, len(confirmed)+len(opt))
	i, j := 0, 0
	for i < len(confirmed) && j < len(opt) {
		if !confirmed[i].Timestamp.After(opt[j].Timestamp) {
			out = append(out, confirmed[i])
			i++
			continue
		}
		out = append(out, opt[j])
		j++
	}
	out = append(out, confirmed[i:]...)
	out = append(out, opt[j:]...)
	return out
}
