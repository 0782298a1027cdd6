//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/graaaaa/worldlog-companion/internal/app"
	"github.com/graaaaa/worldlog-companion/internal/event"
)

type eventsPage struct {
	Items      []event.Event `json:"items"`
	NextCursor *string       `json:"next_cursor"`
}

func TestHealthEndpoint(t *testing.T) {
	a := NewTestApp(t)

	var health app.HealthResult
	if code := doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/health", ""), &health); code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("health = %+v", health)
	}
}

func TestSecurityHeaders(t *testing.T) {
	a := NewTestApp(t)

	resp, err := http.Get(a.URL() + "/api/v1/health")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	headers := map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Referrer-Policy":            "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	for name, expected := range headers {
		if got := resp.Header.Get(name); got != expected {
			t.Errorf("%s = %q, want %q", name, got, expected)
		}
	}
}

func TestWorld_NullUntilFirstPoll(t *testing.T) {
	a := NewTestApp(t)

	var world app.WorldResult
	doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/world", ""), &world)
	if world.Snapshot != nil {
		t.Error("snapshot should be null before the first poll")
	}

	a.Tick(t, rawSnapshot(5000, areaFeed(4950, 0), chatFeed(4960, 1, "hello")))

	doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/world", ""), &world)
	if world.Snapshot == nil {
		t.Fatal("snapshot should be set after a successful poll")
	}
	if world.Snapshot.EndBlock != 5000 || len(world.Snapshot.Events) != 1 || len(world.Snapshot.Chat) != 1 {
		t.Errorf("snapshot = end %d, %d events, %d chat",
			world.Snapshot.EndBlock, len(world.Snapshot.Events), len(world.Snapshot.Chat))
	}
	if world.Status.CharacterID != "c1" || world.Status.FetchError != "" {
		t.Errorf("status = %+v", world.Status)
	}
}

func TestEvents_PersistedAndPaged(t *testing.T) {
	a := NewTestApp(t)

	a.Tick(t, rawSnapshot(5000, areaFeed(4950, 0), areaFeed(4951, 0), areaFeed(4952, 0)))
	a.WaitForEvents(t, 3)

	var page eventsPage
	if code := doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/events?limit=2", ""), &page); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(page.Items) != 2 || page.NextCursor == nil {
		t.Fatalf("first page = %d items, cursor %v", len(page.Items), page.NextCursor)
	}

	var rest eventsPage
	doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/events?limit=2&cursor="+*page.NextCursor, ""), &rest)
	if len(rest.Items) != 1 || rest.Items[0].BlockNumber != 4952 {
		t.Errorf("second page = %+v", rest.Items)
	}
}

func TestChat_OptimisticThenConfirmed(t *testing.T) {
	a := NewTestApp(t)
	a.Tick(t, rawSnapshot(5000))

	var sent app.ChatResult
	code := doJSON(t, newRequest(t, http.MethodPost, a.URL()+"/api/v1/chat", `{"content":"gg"}`), &sent)
	if code != http.StatusCreated || !sent.Message.Optimistic {
		t.Fatalf("send = %d %+v", code, sent)
	}

	var world app.WorldResult
	doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/world", ""), &world)
	if len(world.Snapshot.Chat) != 1 || !world.Snapshot.Chat[0].Optimistic {
		t.Fatalf("pending chat = %+v", world.Snapshot.Chat)
	}

	a.Tick(t, rawSnapshot(5010, chatFeed(5005, 0, "gg")))

	doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/world", ""), &world)
	if len(world.Snapshot.Chat) != 1 || world.Snapshot.Chat[0].Optimistic {
		t.Errorf("confirmed chat = %+v", world.Snapshot.Chat)
	}
}

func TestChat_NoCharacterYet(t *testing.T) {
	a := NewTestApp(t)

	code := doJSON(t, newRequest(t, http.MethodPost, a.URL()+"/api/v1/chat", `{"content":"gg"}`), nil)
	if code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestRestart_ServesCachedHistory(t *testing.T) {
	dbPath := t.TempDir() + "/shared.sqlite"

	first := NewTestApp(t, WithDatabase(dbPath))
	first.Tick(t, rawSnapshot(5000, areaFeed(4950, 0), chatFeed(4960, 1, "before restart")))
	first.WaitForEvents(t, 1)
	first.Close()

	second := NewTestApp(t, WithDatabase(dbPath))
	second.Tick(t, rawSnapshot(5100))

	var world app.WorldResult
	doJSON(t, newRequest(t, http.MethodGet, second.URL()+"/api/v1/world", ""), &world)
	if world.Snapshot == nil || len(world.Snapshot.Events) != 1 || len(world.Snapshot.Chat) != 1 {
		t.Fatalf("history after restart = %+v", world.Snapshot)
	}
	if world.Snapshot.Chat[0].Content != "before restart" {
		t.Errorf("chat = %+v", world.Snapshot.Chat[0])
	}
}

func TestOwner_SwitchResetsWorld(t *testing.T) {
	a := NewTestApp(t)
	a.Tick(t, rawSnapshot(5000))

	var res app.OwnerResult
	if code := doJSON(t, newRequest(t, http.MethodPut, a.URL()+"/api/v1/owner", `{"owner":"0xother"}`), &res); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !res.Changed {
		t.Error("owner should change")
	}

	var world app.WorldResult
	doJSON(t, newRequest(t, http.MethodGet, a.URL()+"/api/v1/world", ""), &world)
	if world.Snapshot != nil {
		t.Error("snapshot should be cleared after an owner switch")
	}
	if a.Poller.Owner() != "0xother" {
		t.Errorf("poller owner = %q", a.Poller.Owner())
	}
}
