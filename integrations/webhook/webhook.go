package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"vttkit/session"
)

// Sink posts game lifecycle events to configured HTTP endpoints.
// It is synchronous for determinism; keep handlers fast or wrap with buffering if needed.
type Sink struct {
	client    *http.Client
	endpoints []string
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// OnEvent posts the event JSON to all endpoints; delivery failures are
// dropped rather than retried.
func (s *Sink) OnEvent(ctx context.Context, e session.LifecycleEvent) {
	if len(s.endpoints) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	for _, ep := range s.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		_, _ = s.client.Do(req)
	}
}

// Bind subscribes the sink to every lifecycle event type on the bus and
// returns a function undoing all subscriptions.
func Bind(bus *session.Bus, sink *Sink) func() {
	types := []session.LifecycleType{
		session.GameLoaded,
		session.GameImported,
		session.GameEvicted,
		session.GameDeleted,
		session.PlayerJoined,
		session.PlayerLeft,
	}
	unsubs := make([]func(), 0, len(types))
	for _, typ := range types {
		unsubs = append(unsubs, bus.Subscribe(typ, sink.OnEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
