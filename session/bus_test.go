package session

import (
	"context"
	"testing"
	"time"

	"vttkit/core"
)

func TestBusSync(t *testing.T) {
	bus := NewBus(DispatchSync)
	count := 0
	unsub := bus.Subscribe(GameLoaded, func(ctx context.Context, e LifecycleEvent) { count++ })
	bus.Publish(context.Background(), newLifecycle(GameLoaded, core.GameKey{Owner: "gm", Slug: "demo"}, ""))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
	unsub()
	bus.Publish(context.Background(), newLifecycle(GameLoaded, core.GameKey{Owner: "gm", Slug: "demo"}, ""))
	if count != 1 {
		t.Fatalf("unsubscribed handler invoked, count %d", count)
	}
}

func TestBusAsync(t *testing.T) {
	bus := NewBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(PlayerJoined, func(ctx context.Context, e LifecycleEvent) { close(ch) })
	bus.Publish(context.Background(), newLifecycle(PlayerJoined, core.GameKey{Owner: "gm", Slug: "demo"}, "alice"))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}
