package event

import "sort"

// CachedBlock groups the events and chat of one block. It is a derived
// view for consumers that want block-shaped history, never a source of truth.
type CachedBlock struct {
	BlockNumber uint64        `json:"block_number"`
	Events      []Event       `json:"events"`
	Chat        []ChatMessage `json:"chat"`
}

// GroupByBlock builds block-shaped history from flat events and chat.
// Optimistic messages have no block and are skipped. Blocks are returned
// in ascending order; entries inside a block keep log-index order.
func GroupByBlock(events []Event, chat []ChatMessage) []CachedBlock {
	byBlock := make(map[uint64]*CachedBlock)
	get := func(n uint64) *CachedBlock {
		b, ok := byBlock[n]
		if !ok {
			b = &CachedBlock{BlockNumber: n}
			byBlock[n] = b
		}
		return b
	}

	for _, e := range events {
		b := get(e.BlockNumber)
		b.Events = append(b.Events, e)
	}
	for _, m := range chat {
		if m.Optimistic {
			continue
		}
		b := get(m.BlockNumber)
		b.Chat = append(b.Chat, m)
	}

	blocks := make([]CachedBlock, 0, len(byBlock))
	for _, b := range byBlock {
		sort.SliceStable(b.Events, func(i, j int) bool { return b.Events[i].LogIndex < b.Events[j].LogIndex })
		sort.SliceStable(b.Chat, func(i, j int) bool { return b.Chat[i].LogIndex < b.Chat[j].LogIndex })
		blocks = append(blocks, *b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].BlockNumber < blocks[j].BlockNumber })
	return blocks
}
