// Package remote is the read-only boundary to the remote world source.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

// Source fetches world state from the remote ledger.
type Source interface {
	// FetchSnapshot returns the state of owner's character plus every data
	// feed from startBlock up to the source's current end block.
	FetchSnapshot(ctx context.Context, owner string, startBlock uint64) (*event.RawSnapshot, error)

	// FetchLatestBlock returns the newest block number known to the source.
	FetchLatestBlock(ctx context.Context) (uint64, error)
}

// ErrStatus is the sentinel wrapped by every StatusError.
var ErrStatus = errors.New("unexpected status")

// StatusError reports a non-2xx response from the remote source.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: status %d", e.Code)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}
