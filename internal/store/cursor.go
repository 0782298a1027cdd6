package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// EncodeCursor creates a URL-safe base64-encoded cursor from a block
// position. Uses RawURLEncoding for safe use in HTTP query parameters.
func EncodeCursor(block uint64, logIndex int) string {
	s := fmt.Sprintf("%d|%d", block, logIndex)
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// decodeCursor parses a base64-encoded cursor into block and log index.
func decodeCursor(cur string) (uint64, int, error) {
	b, err := base64.RawURLEncoding.DecodeString(cur)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: base64 decode failed", ErrInvalidCursor)
	}

	blockStr, idxStr, ok := strings.Cut(string(b), "|")
	if !ok {
		return 0, 0, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}

	block, err := strconv.ParseUint(blockStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid block", ErrInvalidCursor)
	}
	logIndex, err := strconv.Atoi(idxStr)
	if err != nil || logIndex < 0 {
		return 0, 0, fmt.Errorf("%w: invalid log index", ErrInvalidCursor)
	}

	return block, logIndex, nil
}
