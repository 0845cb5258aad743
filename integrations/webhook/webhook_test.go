package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vttkit/core"
	"vttkit/session"
)

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	var hits int32
	var last []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		last, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}))
	defer srv.Close()

	sink := New([]string{srv.URL})
	ev := session.LifecycleEvent{
		Type:   session.PlayerJoined,
		Time:   time.Now().UTC(),
		Key:    core.GameKey{Owner: "gm", Slug: "cave"},
		Player: "alice",
	}
	sink.OnEvent(context.Background(), ev)

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}
	var posted session.LifecycleEvent
	if err := json.Unmarshal(last, &posted); err != nil {
		t.Fatalf("decode posted body: %v", err)
	}
	if posted.Type != session.PlayerJoined || posted.Player != "alice" {
		t.Fatalf("unexpected payload: %+v", posted)
	}
}

func TestBindForwardsBusEvents(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}))
	defer srv.Close()

	bus := session.NewBus(session.DispatchSync)
	defer bus.Close()

	unbind := Bind(bus, New([]string{srv.URL}))

	key := core.GameKey{Owner: "gm", Slug: "cave"}
	bus.Publish(context.Background(), session.LifecycleEvent{Type: session.GameDeleted, Key: key})
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}

	unbind()
	bus.Publish(context.Background(), session.LifecycleEvent{Type: session.GameDeleted, Key: key})
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected no hits after unbind, got %d", hits)
	}
}
