//go:build integration

// Package integration provides end-to-end tests that wire a real store,
// session, poller and HTTP server against a scripted remote source.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/graaaaa/worldlog-companion/internal/api"
	"github.com/graaaaa/worldlog-companion/internal/api/streamauth"
	"github.com/graaaaa/worldlog-companion/internal/app"
	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/poll"
	"github.com/graaaaa/worldlog-companion/internal/reconcile"
	"github.com/graaaaa/worldlog-companion/internal/remote/remotetest"
	"github.com/graaaaa/worldlog-companion/internal/session"
	"github.com/graaaaa/worldlog-companion/internal/store"
)

const (
	testOwner    = "0xowner"
	testContract = "0xworld"
)

// TestApp holds all dependencies for integration tests. The poller is
// driven with Tick, never Run, so every test controls when snapshots land.
type TestApp struct {
	Server  *httptest.Server
	Store   *store.Store
	Source  *remotetest.ScriptedSource
	Session *session.Manager
	Poller  *poll.Poller

	cancel context.CancelFunc
	done   chan struct{}
	hub    *api.Hub
}

type testAppConfig struct {
	authEnabled bool
	username    string
	password    string
	dbPath      string
}

// TestAppOption configures a TestApp.
type TestAppOption func(*testAppConfig)

// WithAuth enables Basic Auth and stream tokens.
func WithAuth(username, password string) TestAppOption {
	return func(c *testAppConfig) {
		c.authEnabled = true
		c.username = username
		c.password = password
	}
}

// WithDatabase reuses an existing database file.
func WithDatabase(path string) TestAppOption {
	return func(c *testAppConfig) { c.dbPath = path }
}

// NewTestApp wires the full stack. Resources are released with t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{dbPath: filepath.Join(t.TempDir(), "test.sqlite")}
	for _, opt := range opts {
		opt(cfg)
	}

	st, err := store.Open(cfg.dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	writer := reconcile.NewWriter(st)
	mgr := session.New(st, testContract, session.WithPersister(writer), session.WithOwner(testOwner))
	hub := api.NewHub()
	mgr.OnUpdate(hub.Publish)

	source := remotetest.NewScriptedSource(5000)
	poller := poll.New(source, mgr, poll.WithOwner(testOwner), poll.WithLookback(100))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = writer.Run(ctx)
	}()
	go hub.Run()

	serverOpts := []api.ServerOption{
		api.WithWorldUsecase(&app.WorldService{Session: mgr, Poller: poller}),
		api.WithEventsUsecase(&app.EventsService{Store: st, Scopes: mgr}),
		api.WithStatsUsecase(app.NewStatsService(st, mgr)),
		api.WithHub(hub),
	}
	if cfg.authEnabled {
		issuer, err := streamauth.NewIssuer([]byte("test-secret-key-32-bytes-long!!"))
		if err != nil {
			t.Fatal(err)
		}
		serverOpts = append(serverOpts,
			api.WithBasicAuth(cfg.username, cfg.password),
			api.WithStreamTokens(issuer),
		)
	}
	server := api.NewServer(":0", app.HealthService{Version: "test", Session: mgr}, serverOpts...)
	ts := httptest.NewServer(server.Handler())

	a := &TestApp{
		Server:  ts,
		Store:   st,
		Source:  source,
		Session: mgr,
		Poller:  poller,
		cancel:  cancel,
		done:    done,
		hub:     hub,
	}
	t.Cleanup(a.Close)
	return a
}

// Close stops the stack and flushes the writer. Safe to call twice.
func (a *TestApp) Close() {
	if a.cancel == nil {
		return
	}
	a.hub.Stop()
	a.Server.Close()
	a.cancel()
	<-a.done
	a.Store.Close()
	a.cancel = nil
}

// URL returns the base URL of the test server.
func (a *TestApp) URL() string {
	return a.Server.URL
}

// Tick scripts snap as the next remote response and runs one poll tick.
func (a *TestApp) Tick(t *testing.T, snap *event.RawSnapshot) {
	t.Helper()
	a.Source.Push(remotetest.Step{Snapshot: snap})
	if err := a.Poller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

// WaitForEvents polls the store until scope holds n events.
func (a *TestApp) WaitForEvents(t *testing.T, n int64) {
	t.Helper()
	scope, ok := a.Session.Scope()
	if !ok {
		t.Fatal("no active scope")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := a.Store.CountEvents(context.Background(), scope)
		if err == nil && got >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d persisted events", n)
}

func bob() *event.Character {
	return &event.Character{ID: "c1", Name: "Bob", Index: 3, Health: 80, MaxHealth: 100}
}

// rawSnapshot returns a snapshot for bob ending at end with feeds.
func rawSnapshot(end uint64, feeds ...event.DataFeed) *event.RawSnapshot {
	return &event.RawSnapshot{
		Character:        bob(),
		DataFeeds:        feeds,
		EndBlock:         end,
		FetchTimestampMs: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli() + int64(end),
	}
}

func chatFeed(block uint64, index int, text string) event.DataFeed {
	return event.DataFeed{
		BlockNumber: block,
		Logs:        []event.RawLog{{Index: index, LogType: event.LogChat, MainPlayerIndex: 3}},
		ChatLogs:    []string{text},
	}
}

func areaFeed(block uint64, index int) event.DataFeed {
	return event.DataFeed{
		BlockNumber: block,
		Logs:        []event.RawLog{{Index: index, LogType: event.LogEnteredArea, MainPlayerIndex: 3}},
	}
}

// doJSON performs a request and decodes a JSON response into v when v is
// non-nil. It returns the status code.
func doJSON(t *testing.T, req *http.Request, v any) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if v != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(body, v); err != nil {
			t.Fatalf("failed to parse JSON %q: %v", body, err)
		}
	}
	return resp.StatusCode
}

func newRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "http://localhost")
	}
	return req
}
