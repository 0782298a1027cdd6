// Package event provides the shared domain model for the world log companion.
// It is used by the identity, store, reconcile, session and api packages.
package event

import (
	"fmt"
	"strconv"
	"time"
)

// Scope identifies whose records are being read or written.
// Every persisted record belongs to exactly one scope.
type Scope struct {
	Owner     string `json:"owner"`
	Contract  string `json:"contract"`
	Character string `json:"character"`
}

// Valid reports whether all three parts of the scope are set.
func (s Scope) Valid() bool {
	return s.Owner != "" && s.Contract != "" && s.Character != ""
}

// String returns the scope as owner/contract/character.
func (s Scope) String() string {
	return s.Owner + "/" + s.Contract + "/" + s.Character
}

// LogType tags what kind of occurrence a log entry records.
type LogType int

// Log type wire codes.
const (
	LogCombat LogType = iota
	LogInstigatedCombat
	LogEnteredArea
	LogLeftArea
	LogChat
	LogAbility
	LogAscend
)

var logTypeNames = [...]string{
	LogCombat:           "combat",
	LogInstigatedCombat: "instigated_combat",
	LogEnteredArea:      "entered_area",
	LogLeftArea:         "left_area",
	LogChat:             "chat",
	LogAbility:          "ability",
	LogAscend:           "ascend",
}

// String returns the lower-case name of the log type.
func (t LogType) String() string {
	if t >= 0 && int(t) < len(logTypeNames) {
		return logTypeNames[t]
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// ParseLogType returns the LogType named name.
func ParseLogType(name string) (LogType, bool) {
	for i, n := range logTypeNames {
		if n == name {
			return LogType(i), true
		}
	}
	return 0, false
}

// Participant is a roster slot resolved to an identity at the time the
// event was built.
type Participant struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Resolved bool   `json:"resolved"`
}

// Event is one state-changing occurrence in a character's stream.
// (scope, BlockNumber, LogIndex) is unique.
type Event struct {
	BlockNumber    uint64      `json:"block_number"`
	LogIndex       int         `json:"log_index"`
	Type           LogType     `json:"type"`
	Main           Participant `json:"main"`
	Other          Participant `json:"other"`
	Hit            bool        `json:"hit"`
	Critical       bool        `json:"critical"`
	Damage         int         `json:"damage"`
	Healed         int         `json:"healed"`
	TargetDied     bool        `json:"target_died"`
	LootedWeaponID int         `json:"looted_weapon_id,omitempty"`
	LootedArmorID  int         `json:"looted_armor_id,omitempty"`
	Experience     int         `json:"experience,omitempty"`
	Value          string      `json:"value,omitempty"`
	AreaID         string      `json:"area_id,omitempty"`
	Timestamp      time.Time   `json:"ts"`
	NameResolved   bool        `json:"name_resolved"`
}

// Key returns the per-scope unique key of the event.
func (e *Event) Key() string {
	return BlockKey(e.BlockNumber, e.LogIndex)
}

// BlockKey formats a (block, logIndex) pair as a record key.
func BlockKey(block uint64, logIndex int) string {
	return fmt.Sprintf("%d-%d", block, logIndex)
}

// Before reports whether position (b1, i1) sorts before (b2, i2).
// Block number is the primary order and log index breaks ties.
func Before(b1 uint64, i1 int, b2 uint64, i2 int) bool {
	if b1 != b2 {
		return b1 < b2
	}
	return i1 < i2
}
