package event

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// optimisticPrefixLen bounds how much of the content goes into an
// optimistic message key.
const optimisticPrefixLen = 16

// ChatMessage is one chat line. Confirmed messages are keyed like events;
// optimistic ones have no block number and are keyed by sender, content
// prefix and client submit time.
type ChatMessage struct {
	BlockNumber uint64    `json:"block_number,omitempty"`
	LogIndex    int       `json:"log_index"`
	Content     string    `json:"content"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	SenderIndex int       `json:"sender_index"`
	Timestamp   time.Time `json:"ts"`
	Optimistic  bool      `json:"optimistic"`
	ClientID    string    `json:"client_id,omitempty"`
}

// Key returns the unique key of the message within its scope.
func (m *ChatMessage) Key() string {
	if m.Optimistic {
		return fmt.Sprintf("opt:%s:%s:%d", m.SenderID, contentPrefix(m.Content), m.Timestamp.UnixMilli())
	}
	return BlockKey(m.BlockNumber, m.LogIndex)
}

// contentPrefix cuts s to at most optimisticPrefixLen bytes without
// splitting a rune.
func contentPrefix(s string) string {
	if len(s) <= optimisticPrefixLen {
		return s
	}
	n := optimisticPrefixLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
