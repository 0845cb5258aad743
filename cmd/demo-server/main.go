package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	mem "vttkit/adapters/memory"
	"vttkit/api/httpapi"
	"vttkit/core"
	"vttkit/integrations/webhook"
	"vttkit/session"
	"vttkit/vtt"
)

// Demo server with an in-memory store and a pre-seeded game. Create more
// games over HTTP, attach with:
//
//	ws://localhost:8080/games/demo/dungeon/ws?name=alice
func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(textHandler))

	ctx := context.Background()

	svc := vtt.New(
		vtt.WithStorage(mem.New()),
		vtt.WithAssetRoot("./demo-assets"),
		vtt.WithIdleTimeout(5*time.Minute),
		vtt.WithDispatchMode(session.DispatchSync),
	)
	defer svc.Close()

	// Log lifecycle transitions, and mirror them to a webhook if set
	for _, typ := range []session.LifecycleType{
		session.GameImported, session.GameEvicted, session.GameDeleted,
		session.PlayerJoined, session.PlayerLeft,
	} {
		svc.Bus().Subscribe(typ, func(_ context.Context, e session.LifecycleEvent) {
			slog.Info("lifecycle", "type", e.Type, "game", e.Key.String(), "player", e.Player)
		})
	}
	if url := os.Getenv("DEMO_WEBHOOK_URL"); url != "" {
		unbind := webhook.Bind(svc.Bus(), webhook.New([]string{url}))
		defer unbind()
	}

	key := core.GameKey{Owner: "demo", Slug: "dungeon"}
	if _, err := svc.CreateFromImage(ctx, key, demoMap(), "dungeon.png"); err != nil {
		slog.Error("seed demo game", "error", err)
		os.Exit(1)
	}
	slog.Info("seeded demo game", "game", key.String())

	go svc.Run(ctx)

	handler := httpapi.NewMux(svc, httpapi.Options{AllowCORSOrigin: "*"})

	slog.Info("starting demo server on :8080")

	if err := http.ListenAndServe(":8080", handler); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// demoMap returns a tiny valid PNG used as the seeded background image.
func demoMap() []byte {
	return []byte{
		0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
		0x89, 0x00, 0x00, 0x00, 0x0a, 'I', 'D', 'A', 'T',
		0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00, 0x05,
		0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00,
		0x00, 0x00, 'I', 'E', 'N', 'D', 0xae, 0x42, 0x60, 0x82,
	}
}
