package reconcile

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/graaaaa/worldlog-companion/internal/blocktime"
	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/identity"
)

// extracted holds the confirmed entries of one raw snapshot.
type extracted struct {
	events []event.Event
	chat   []event.ChatMessage
}

// Validate rejects snapshots whose shape cannot be mapped. Apply runs it
// first; callers that act on raw before Apply can run it themselves.
func Validate(raw *event.RawSnapshot) error {
	if raw.Character == nil {
		return &MappingError{Reason: "missing character"}
	}
	if raw.Character.ID == "" {
		return &MappingError{Reason: "character without id"}
	}
	for _, feed := range raw.DataFeeds {
		if feed.BlockNumber > raw.EndBlock && raw.EndBlock != 0 {
			return &MappingError{Reason: fmt.Sprintf("feed block %d beyond end block %d", feed.BlockNumber, raw.EndBlock)}
		}
		for _, l := range feed.Logs {
			if l.Index < 0 {
				return &MappingError{Reason: fmt.Sprintf("negative log index in block %d", feed.BlockNumber)}
			}
		}
	}
	return nil
}

// extract maps every data feed of raw into events and chat, labelling
// participants with the resolver's current state.
func extract(raw *event.RawSnapshot, r *identity.Resolver, anchor blocktime.Anchor, interval time.Duration, logger *slog.Logger) extracted {
	var out extracted
	for _, feed := range raw.DataFeeds {
		ts := anchor.Estimate(feed.BlockNumber, interval)
		chatPos := 0
		for _, l := range feed.Logs {
			if l.LogType == event.LogChat {
				pos := chatPos
				chatPos++
				if pos >= len(feed.ChatLogs) {
					logger.Warn("chat log without text",
						"block", feed.BlockNumber, "log_index", l.Index)
					continue
				}
				out.chat = append(out.chat, chatMessage(feed.BlockNumber, l, feed.ChatLogs[pos], ts, r))
				continue
			}
			out.events = append(out.events, mapEvent(feed.BlockNumber, l, ts, r))
		}
	}
	return out
}

func mapEvent(block uint64, l event.RawLog, ts time.Time, r *identity.Resolver) event.Event {
	e := event.Event{
		BlockNumber:    block,
		LogIndex:       l.Index,
		Type:           l.LogType,
		Hit:            l.Hit,
		Critical:       l.Critical,
		Damage:         l.DamageDone,
		Healed:         l.HealthHealed,
		TargetDied:     l.TargetDied,
		LootedWeaponID: l.LootedWeaponID,
		LootedArmorID:  l.LootedArmorID,
		Experience:     l.Experience,
		Value:          l.Value,
		Timestamp:      ts,
		Main:           event.Participant{Index: l.MainPlayerIndex},
		Other:          event.Participant{Index: l.OtherPlayerIndex},
	}
	label(&e, r)
	return e
}

// label resolves the participants of e that are not yet resolved and
// refreshes NameResolved. Returns true if e became fully resolved.
func label(e *event.Event, r *identity.Resolver) bool {
	was := e.NameResolved
	if !e.Main.Resolved {
		e.Main = r.Participant(e.Main.Index, true)
	}
	if !e.Other.Resolved {
		e.Other = r.Participant(e.Other.Index, false)
	}
	if e.AreaID == "" {
		if entry, ok := r.Resolve(e.Main.Index); ok {
			e.AreaID = entry.AreaID
		}
	}
	e.NameResolved = e.Main.Resolved && e.Other.Resolved
	return !was && e.NameResolved
}

func chatMessage(block uint64, l event.RawLog, text string, ts time.Time, r *identity.Resolver) event.ChatMessage {
	sender := r.Participant(l.MainPlayerIndex, true)
	return event.ChatMessage{
		BlockNumber: block,
		LogIndex:    l.Index,
		Content:     text,
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		SenderIndex: l.MainPlayerIndex,
		Timestamp:   ts,
	}
}
