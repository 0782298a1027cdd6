// Package remotetest provides an in-memory remote.Source for tests.
package remotetest

import (
	"context"
	"errors"
	"sync"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

// ErrExhausted is returned once every scripted step has been consumed.
var ErrExhausted = errors.New("remotetest: script exhausted")

// Step is one scripted FetchSnapshot outcome.
type Step struct {
	Snapshot *event.RawSnapshot
	Err      error
	// Block, when set, makes the call wait until it is closed or ctx ends.
	Block chan struct{}
}

// Call records the arguments of one FetchSnapshot call.
type Call struct {
	Owner      string
	StartBlock uint64
}

// ScriptedSource replays Steps in order. It is safe for concurrent use.
type ScriptedSource struct {
	mu        sync.Mutex
	steps     []Step
	calls     []Call
	latest    uint64
	latestErr error
}

// NewScriptedSource creates a source whose latest block is latest.
func NewScriptedSource(latest uint64, steps ...Step) *ScriptedSource {
	return &ScriptedSource{latest: latest, steps: steps}
}

// Push appends steps to the script.
func (s *ScriptedSource) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// SetLatest changes the latest block and its error.
func (s *ScriptedSource) SetLatest(block uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = block
	s.latestErr = err
}

// Calls returns a copy of the recorded FetchSnapshot calls.
func (s *ScriptedSource) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// FetchSnapshot implements remote.Source.
func (s *ScriptedSource) FetchSnapshot(ctx context.Context, owner string, startBlock uint64) (*event.RawSnapshot, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Owner: owner, StartBlock: startBlock})
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return nil, ErrExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return step.Snapshot, step.Err
}

// FetchLatestBlock implements remote.Source.
func (s *ScriptedSource) FetchLatestBlock(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latestErr
}
