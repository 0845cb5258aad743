package vtt

import (
	"context"
	"testing"

	mem "vttkit/adapters/memory"
	"vttkit/core"
	"vttkit/session"
)

func TestNewDefaultsAndOptions(t *testing.T) {
	svc := New(
		WithStorage(mem.New()),
		WithAssetRoot(t.TempDir()),
		WithDispatchMode(session.DispatchSync),
	)
	defer svc.Close()

	var seen []session.LifecycleType
	unsub := svc.Bus().Subscribe(session.GameImported, func(ctx context.Context, e session.LifecycleEvent) {
		seen = append(seen, e.Type)
	})
	defer unsub()

	key := core.GameKey{Owner: "gm", Slug: "cave"}
	entry, err := svc.CreateFromImage(context.Background(), key, []byte("png-bytes"), "map.png")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if entry.Key != key {
		t.Fatalf("unexpected key: %v", entry.Key)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one lifecycle event, got %d", len(seen))
	}
}

func TestNewWithoutStorageUsesMemory(t *testing.T) {
	svc := New(WithAssetRoot(t.TempDir()), WithDispatchMode(session.DispatchSync))
	defer svc.Close()

	key := core.GameKey{Owner: "gm", Slug: "cave"}
	if _, err := svc.CreateFromImage(context.Background(), key, []byte("png"), "map.png"); err != nil {
		t.Fatalf("create game: %v", err)
	}
	if _, err := svc.GetGame(context.Background(), key.Owner, key.Slug); err != nil {
		t.Fatalf("get game: %v", err)
	}
}
