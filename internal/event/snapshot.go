package event

import "time"

// Character is a participant as reported by the remote source.
type Character struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Index      int    `json:"index"`
	AreaID     string `json:"area_id"`
	Level      int    `json:"level"`
	Health     int    `json:"health"`
	MaxHealth  int    `json:"max_health"`
	Experience int    `json:"experience"`
	Dead       bool   `json:"dead"`
}

// RawLog is one log entry of a data feed, exactly as the remote source
// returns it. Participants are only referenced by slot index.
type RawLog struct {
	Index            int     `json:"index"`
	LogType          LogType `json:"log_type"`
	MainPlayerIndex  int     `json:"main_player_index"`
	OtherPlayerIndex int     `json:"other_player_index"`
	Hit              bool    `json:"hit"`
	Critical         bool    `json:"critical"`
	DamageDone       int     `json:"damage_done"`
	HealthHealed     int     `json:"health_healed"`
	TargetDied       bool    `json:"target_died"`
	LootedWeaponID   int     `json:"looted_weapon_id"`
	LootedArmorID    int     `json:"looted_armor_id"`
	Experience       int     `json:"experience"`
	Value            string  `json:"value"`
}

// DataFeed groups the logs of one block. ChatLogs[i] is the text of the
// i-th log in Logs whose type is LogChat.
type DataFeed struct {
	BlockNumber uint64   `json:"block_number"`
	Logs        []RawLog `json:"logs"`
	ChatLogs    []string `json:"chat_logs"`
}

// RawSnapshot is one fetch result covering a bounded block range.
type RawSnapshot struct {
	Character         *Character  `json:"character"`
	Combatants        []Character `json:"combatants"`
	NonCombatants     []Character `json:"non_combatants"`
	DataFeeds         []DataFeed  `json:"data_feeds"`
	EndBlock          uint64      `json:"end_block"`
	BalanceShortfall  string      `json:"balance_shortfall"`
	UnallocatedPoints int         `json:"unallocated_points"`
	FetchTimestampMs  int64       `json:"fetch_timestamp_ms"`
}

// WorldSnapshot is the reconciled view handed to callers.
// It is rebuilt on every tick and on every optimistic mutation.
type WorldSnapshot struct {
	Character         *Character    `json:"character"`
	Combatants        []Character   `json:"combatants"`
	NonCombatants     []Character   `json:"non_combatants"`
	Events            []Event       `json:"events"`
	Chat              []ChatMessage `json:"chat"`
	EndBlock          uint64        `json:"end_block"`
	BalanceShortfall  string        `json:"balance_shortfall,omitempty"`
	UnallocatedPoints int           `json:"unallocated_points"`
	FetchedAt         time.Time     `json:"fetched_at"`
}

// CharacterSummary is a character known locally for an owner.
type CharacterSummary struct {
	Owner       string    `json:"owner"`
	CharacterID string    `json:"character_id"`
	Name        string    `json:"name"`
	LastActive  time.Time `json:"last_active"`
}
