package store

import (
	"database/sql"
	"fmt"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

const eventColumns = `block_number, log_index, log_type,
	main_index, main_id, main_name, main_resolved,
	other_index, other_id, other_name, other_resolved,
	hit, critical, damage, healed, target_died,
	looted_weapon_id, looted_armor_id, experience, value, area_id,
	event_ts, name_resolved`

const chatColumns = `block_number, log_index, content, sender_id, sender_name, sender_index, message_ts`

// eventRow is the internal type representing an events row.
type eventRow struct {
	BlockNumber    int64
	LogIndex       int
	LogType        int
	MainIndex      int
	MainID         sql.NullString
	MainName       string
	MainResolved   int
	OtherIndex     int
	OtherID        sql.NullString
	OtherName      string
	OtherResolved  int
	Hit            int
	Critical       int
	Damage         int
	Healed         int
	TargetDied     int
	LootedWeaponID int
	LootedArmorID  int
	Experience     int
	Value          sql.NullString
	AreaID         sql.NullString
	EventTs        string
	NameResolved   int
}

func (r *eventRow) dest() []any {
	return []any{
		&r.BlockNumber, &r.LogIndex, &r.LogType,
		&r.MainIndex, &r.MainID, &r.MainName, &r.MainResolved,
		&r.OtherIndex, &r.OtherID, &r.OtherName, &r.OtherResolved,
		&r.Hit, &r.Critical, &r.Damage, &r.Healed, &r.TargetDied,
		&r.LootedWeaponID, &r.LootedArmorID, &r.Experience, &r.Value, &r.AreaID,
		&r.EventTs, &r.NameResolved,
	}
}

// toEvent converts a database row to an Event.
func (r *eventRow) toEvent() (event.Event, error) {
	ts, err := parseTime(r.EventTs)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		BlockNumber: uint64(r.BlockNumber),
		LogIndex:    r.LogIndex,
		Type:        event.LogType(r.LogType),
		Main: event.Participant{
			Index:    r.MainIndex,
			ID:       r.MainID.String,
			Name:     r.MainName,
			Resolved: r.MainResolved != 0,
		},
		Other: event.Participant{
			Index:    r.OtherIndex,
			ID:       r.OtherID.String,
			Name:     r.OtherName,
			Resolved: r.OtherResolved != 0,
		},
		Hit:            r.Hit != 0,
		Critical:       r.Critical != 0,
		Damage:         r.Damage,
		Healed:         r.Healed,
		TargetDied:     r.TargetDied != 0,
		LootedWeaponID: r.LootedWeaponID,
		LootedArmorID:  r.LootedArmorID,
		Experience:     r.Experience,
		Value:          r.Value.String,
		AreaID:         r.AreaID.String,
		Timestamp:      ts,
		NameResolved:   r.NameResolved != 0,
	}, nil
}

// eventArgs returns the column values of e in eventColumns order.
func eventArgs(e *event.Event) []any {
	return []any{
		int64(e.BlockNumber), e.LogIndex, int(e.Type),
		e.Main.Index, nullString(e.Main.ID), e.Main.Name, boolInt(e.Main.Resolved),
		e.Other.Index, nullString(e.Other.ID), e.Other.Name, boolInt(e.Other.Resolved),
		boolInt(e.Hit), boolInt(e.Critical), e.Damage, e.Healed, boolInt(e.TargetDied),
		e.LootedWeaponID, e.LootedArmorID, e.Experience, nullString(e.Value), nullString(e.AreaID),
		formatTime(e.Timestamp), boolInt(e.NameResolved),
	}
}

// chatRow is the internal type representing a chat_messages row.
type chatRow struct {
	BlockNumber int64
	LogIndex    int
	Content     string
	SenderID    sql.NullString
	SenderName  string
	SenderIndex int
	MessageTs   string
}

func (r *chatRow) dest() []any {
	return []any{&r.BlockNumber, &r.LogIndex, &r.Content, &r.SenderID, &r.SenderName, &r.SenderIndex, &r.MessageTs}
}

func (r *chatRow) toMessage() (event.ChatMessage, error) {
	ts, err := parseTime(r.MessageTs)
	if err != nil {
		return event.ChatMessage{}, err
	}
	return event.ChatMessage{
		BlockNumber: uint64(r.BlockNumber),
		LogIndex:    r.LogIndex,
		Content:     r.Content,
		SenderID:    r.SenderID.String,
		SenderName:  r.SenderName,
		SenderIndex: r.SenderIndex,
		Timestamp:   ts,
	}, nil
}

func chatArgs(m *event.ChatMessage) []any {
	return []any{
		int64(m.BlockNumber), m.LogIndex, m.Content, nullString(m.SenderID),
		m.SenderName, m.SenderIndex, formatTime(m.Timestamp),
	}
}

// validateEvent checks that required fields are set.
func validateEvent(e *event.Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidRecord)
	}
	if e.LogIndex < 0 {
		return fmt.Errorf("%w: negative log index", ErrInvalidRecord)
	}
	return nil
}

func validateChat(m *event.ChatMessage) error {
	if m == nil {
		return fmt.Errorf("%w: nil chat message", ErrInvalidRecord)
	}
	if m.Optimistic {
		return fmt.Errorf("%w: optimistic chat is never persisted", ErrInvalidRecord)
	}
	if m.LogIndex < 0 {
		return fmt.Errorf("%w: negative log index", ErrInvalidRecord)
	}
	return nil
}

func validateScope(scope event.Scope) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope.String())
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
