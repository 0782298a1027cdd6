package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/optimistic"
	"github.com/graaaaa/worldlog-companion/internal/reconcile"
	"github.com/graaaaa/worldlog-companion/internal/store"
)

const (
	testOwner    = "0xA"
	testContract = "0xworld"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// FakeTimers records scheduled callbacks so tests can fire them.
type FakeTimers struct {
	mu  sync.Mutex
	fns []func()
}

type fakeHandle struct{}

func (fakeHandle) Stop() bool { return true }

func (f *FakeTimers) AfterFunc(d time.Duration, fn func()) optimistic.TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	return fakeHandle{}
}

func (f *FakeTimers) FireAll() {
	f.mu.Lock()
	fns := f.fns
	f.fns = nil
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// stubStore implements Store with canned results.
type stubStore struct {
	history  store.History
	loadErr  error
	loads    []event.Scope
	failures []string
}

func (s *stubStore) LoadHistory(ctx context.Context, scope event.Scope) (store.History, error) {
	s.loads = append(s.loads, scope)
	return s.history, s.loadErr
}

func (s *stubStore) ListCharacters(ctx context.Context, owner string) ([]event.CharacterSummary, error) {
	return nil, nil
}

func (s *stubStore) InsertMappingFailure(ctx context.Context, owner string, startBlock uint64, msg string) (bool, error) {
	s.failures = append(s.failures, msg)
	return true, nil
}

func character(id, name string) *event.Character {
	return &event.Character{ID: id, Name: name, Index: 3, Health: 80, MaxHealth: 100}
}

func snapshot(ch *event.Character, end uint64, feeds ...event.DataFeed) *event.RawSnapshot {
	return &event.RawSnapshot{
		Character:        ch,
		DataFeeds:        feeds,
		EndBlock:         end,
		FetchTimestampMs: base.UnixMilli(),
	}
}

func chatFeed(block uint64, index int, text string) event.DataFeed {
	return event.DataFeed{
		BlockNumber: block,
		Logs:        []event.RawLog{{Index: index, LogType: event.LogChat, MainPlayerIndex: 3}},
		ChatLogs:    []string{text},
	}
}

func newManager(t *testing.T, st Store, opts ...Option) (*Manager, *FakeTimers) {
	t.Helper()
	timers := &FakeTimers{}
	opts = append([]Option{
		WithOwner(testOwner),
		WithAfterFunc(timers.AfterFunc),
		WithNow(func() time.Time { return base }),
	}, opts...)
	return New(st, testContract, opts...), timers
}

func TestManager_NilBeforeFirstSuccess(t *testing.T) {
	m, _ := newManager(t, &stubStore{})
	if m.GetWorldSnapshot() != nil {
		t.Error("snapshot should be nil before the first tick")
	}
	if _, _, err := m.AddOptimisticChatMessage("hi"); !errors.Is(err, ErrNoCharacter) {
		t.Errorf("Add = %v, want ErrNoCharacter", err)
	}
}

func TestManager_FetchErrorKeepsSnapshot(t *testing.T) {
	m, _ := newManager(t, &stubStore{})
	ctx := context.Background()

	if err := m.HandleSnapshot(ctx, testOwner, snapshot(character("c1", "Bob"), 100)); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}
	before := m.GetWorldSnapshot()

	m.HandleFetchError(ctx, testOwner, errors.New("timeout"))
	if got := m.GetWorldSnapshot(); got != before {
		t.Error("snapshot changed after a fetch error")
	}
	st := m.Status()
	if st.FetchError != "timeout" || st.CacheError != "" {
		t.Errorf("status = %+v, want fetch error only", st)
	}

	if err := m.HandleSnapshot(ctx, testOwner, snapshot(character("c1", "Bob"), 101)); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}
	if st := m.Status(); st.FetchError != "" || st.LastSuccess == nil {
		t.Errorf("status after recovery = %+v", st)
	}
}

func TestManager_LoadsHistoryOnFirstSight(t *testing.T) {
	stub := &stubStore{history: store.History{
		Events: []event.Event{{BlockNumber: 50, LogIndex: 0, NameResolved: true}},
	}}
	m, _ := newManager(t, stub)

	if err := m.HandleSnapshot(context.Background(), testOwner, snapshot(character("c1", "Bob"), 100)); err != nil {
		t.Fatal(err)
	}
	want := event.Scope{Owner: testOwner, Contract: testContract, Character: "c1"}
	if len(stub.loads) != 1 || stub.loads[0] != want {
		t.Errorf("loads = %+v, want one for %+v", stub.loads, want)
	}
	if ws := m.GetWorldSnapshot(); len(ws.Events) != 1 || ws.Events[0].BlockNumber != 50 {
		t.Errorf("events = %+v, want seeded history", ws.Events)
	}

	m.HandleSnapshot(context.Background(), testOwner, snapshot(character("c1", "Bob"), 101))
	if len(stub.loads) != 1 {
		t.Errorf("history reloaded on a later tick")
	}
}

func TestManager_CacheErrorIsIndependent(t *testing.T) {
	m, _ := newManager(t, &stubStore{loadErr: errors.New("database is locked")})

	if err := m.HandleSnapshot(context.Background(), testOwner, snapshot(character("c1", "Bob"), 100)); err != nil {
		t.Fatalf("cache failure must not fail the tick: %v", err)
	}
	st := m.Status()
	if st.CacheError == "" || st.FetchError != "" || st.CacheLoading {
		t.Errorf("status = %+v, want cache error only", st)
	}
	if m.GetWorldSnapshot() == nil {
		t.Error("snapshot should be served without history")
	}
}

func TestManager_OptimisticChat(t *testing.T) {
	m, _ := newManager(t, &stubStore{})
	ctx := context.Background()
	m.HandleSnapshot(ctx, testOwner, snapshot(character("0xA-c", "Bob"), 200))

	var updates []*event.WorldSnapshot
	m.OnUpdate(func(ws *event.WorldSnapshot) { updates = append(updates, ws) })

	if _, _, err := m.AddOptimisticChatMessage("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank Add = %v, want ErrEmptyMessage", err)
	}

	msg, added, err := m.AddOptimisticChatMessage("gg")
	if err != nil || !added {
		t.Fatalf("Add = %v, %v", added, err)
	}
	if msg.SenderID != "0xA-c" || msg.SenderName != "Bob" || !msg.Optimistic {
		t.Errorf("msg = %+v", msg)
	}
	if _, added, _ := m.AddOptimisticChatMessage("gg"); added {
		t.Error("identical pending send should not be added twice")
	}
	if len(updates) != 1 || len(updates[0].Chat) != 1 {
		t.Fatalf("updates = %d, want one with the optimistic message", len(updates))
	}

	m.HandleSnapshot(ctx, testOwner, snapshot(character("0xA-c", "Bob"), 210, chatFeed(205, 1, "gg")))
	chat := m.GetWorldSnapshot().Chat
	if len(chat) != 1 || chat[0].Optimistic || chat[0].SenderName != "Bob" {
		t.Errorf("chat = %+v, want one confirmed gg", chat)
	}
}

func TestManager_OptimisticExpiryNotifies(t *testing.T) {
	now := base
	m, timers := newManager(t, &stubStore{}, WithNow(func() time.Time { return now }))
	m.HandleSnapshot(context.Background(), testOwner, snapshot(character("c1", "Bob"), 200))
	m.AddOptimisticChatMessage("anyone here?")

	var last *event.WorldSnapshot
	m.OnUpdate(func(ws *event.WorldSnapshot) { last = ws })

	now = now.Add(31 * time.Second)
	timers.FireAll()

	if last == nil {
		t.Fatal("expiry should publish a new snapshot")
	}
	if len(last.Chat) != 0 {
		t.Errorf("chat = %+v, want empty after expiry", last.Chat)
	}
}

func TestManager_CharacterSwitchResets(t *testing.T) {
	stub := &stubStore{}
	m, _ := newManager(t, stub)
	ctx := context.Background()

	m.HandleSnapshot(ctx, testOwner, snapshot(character("c1", "Bob"), 100, chatFeed(99, 0, "hello")))
	m.AddOptimisticChatMessage("pending")

	if err := m.HandleSnapshot(ctx, testOwner, snapshot(character("c2", "Ann"), 101)); err != nil {
		t.Fatal(err)
	}

	ws := m.GetWorldSnapshot()
	if ws.Character.ID != "c2" {
		t.Errorf("character = %s, want c2", ws.Character.ID)
	}
	if len(ws.Chat) != 0 {
		t.Errorf("chat = %+v, want nothing carried over from c1", ws.Chat)
	}
	if scope, _ := m.Scope(); scope.Character != "c2" {
		t.Errorf("scope = %+v", scope)
	}
	if len(stub.loads) != 2 {
		t.Errorf("history loads = %d, want 2", len(stub.loads))
	}
}

func TestManager_SetOwner(t *testing.T) {
	m, _ := newManager(t, &stubStore{})
	ctx := context.Background()
	m.HandleSnapshot(ctx, testOwner, snapshot(character("c1", "Bob"), 100))

	if !m.SetOwner("0xB") {
		t.Fatal("SetOwner should report a change")
	}
	if m.SetOwner("0xB") {
		t.Error("same owner should be a no-op")
	}
	if m.GetWorldSnapshot() != nil {
		t.Error("snapshot must be dropped on owner change")
	}

	// A late result for the old owner is rejected.
	if err := m.HandleSnapshot(ctx, testOwner, snapshot(character("c1", "Bob"), 101)); err == nil {
		t.Error("stale owner snapshot should be rejected")
	}
	if m.GetWorldSnapshot() != nil {
		t.Error("stale snapshot must not become current")
	}
}

func TestManager_MappingFailureRecorded(t *testing.T) {
	stub := &stubStore{}
	m, _ := newManager(t, stub)
	ctx := context.Background()

	err := m.HandleSnapshot(ctx, testOwner, snapshot(nil, 100))
	if !reconcile.IsMappingError(err) {
		t.Fatalf("err = %v, want mapping error", err)
	}
	if len(stub.failures) != 1 {
		t.Errorf("failures = %d, want 1", len(stub.failures))
	}
	if m.Status().FetchError == "" {
		t.Error("mapping failure should set the fetch error flag")
	}

	m.HandleSnapshot(ctx, testOwner, snapshot(character("c1", "Bob"), 101))
	before := m.GetWorldSnapshot()
	if err := m.HandleSnapshot(ctx, testOwner, snapshot(nil, 102)); err == nil {
		t.Fatal("expected mapping error")
	}
	if m.GetWorldSnapshot() != before {
		t.Error("mapping failure must keep the previous snapshot")
	}
}

func TestManager_MalformedSnapshotDoesNotSwitchCharacter(t *testing.T) {
	stub := &stubStore{}
	m, _ := newManager(t, stub)
	ctx := context.Background()

	if err := m.HandleSnapshot(ctx, testOwner, snapshot(character("c1", "Bob"), 100)); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}
	if _, added, err := m.AddOptimisticChatMessage("brb"); err != nil || !added {
		t.Fatalf("Add = %v, %v", added, err)
	}
	before := m.GetWorldSnapshot()

	bad := snapshot(character("c2", "Alice"), 105, event.DataFeed{
		BlockNumber: 105,
		Logs:        []event.RawLog{{Index: -1, LogType: event.LogEnteredArea}},
	})
	err := m.HandleSnapshot(ctx, testOwner, bad)
	if !reconcile.IsMappingError(err) {
		t.Fatalf("err = %v, want mapping error", err)
	}

	if got := m.GetWorldSnapshot(); got != before {
		t.Errorf("snapshot = %p, want previous %p", got, before)
	}
	if scope, _ := m.Scope(); scope.Character != "c1" {
		t.Errorf("active character = %q, want c1", scope.Character)
	}
	if _, added, _ := m.AddOptimisticChatMessage("brb"); added {
		t.Error("pending chat was dropped by the malformed snapshot")
	}
	if len(stub.loads) != 1 {
		t.Errorf("history loads = %d, want 1", len(stub.loads))
	}
	if m.Status().FetchError == "" || len(stub.failures) != 1 {
		t.Errorf("status = %+v, failures = %d", m.Status(), len(stub.failures))
	}
}

func TestManager_WithRealStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.TouchCharacter(ctx, testOwner, "c1", "Bob", base); err != nil {
		t.Fatal(err)
	}
	if err := st.TouchCharacter(ctx, testOwner, "c2", "Ann", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	m, _ := newManager(t, st)
	chars, err := m.GetHistoryForOwner(ctx, testOwner)
	if err != nil {
		t.Fatalf("GetHistoryForOwner: %v", err)
	}
	if len(chars) != 2 || chars[0].CharacterID != "c2" {
		t.Errorf("characters = %+v, want c2 first", chars)
	}

	if err := m.HandleSnapshot(ctx, testOwner, snapshot(nil, 100)); err == nil {
		t.Fatal("expected mapping error")
	}
	n, err := st.CountMappingFailures(ctx)
	if err != nil || n != 1 {
		t.Errorf("mapping failures = %d, %v; want 1", n, err)
	}
}
