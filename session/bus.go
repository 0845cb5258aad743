package session

import (
	"context"
	"sync"
	"time"

	"vttkit/core"
)

// LifecycleType enumerates cache lifecycle events. These are internal
// observer events, not part of the wire protocol.
type LifecycleType string

const (
	GameLoaded   LifecycleType = "game-loaded"
	GameImported LifecycleType = "game-imported"
	GameEvicted  LifecycleType = "game-evicted"
	GameDeleted  LifecycleType = "game-deleted"
	PlayerJoined LifecycleType = "player-joined"
	PlayerLeft   LifecycleType = "player-left"
)

// LifecycleEvent describes one cache state transition.
type LifecycleEvent struct {
	Type   LifecycleType `json:"type"`
	Time   time.Time     `json:"time"`
	Key    core.GameKey  `json:"key"`
	Player string        `json:"player,omitempty"`
}

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

type subscription struct {
	id  int64
	typ LifecycleType
	fn  func(context.Context, LifecycleEvent)
}

// Bus provides thread-safe pub/sub over lifecycle events with sync and
// async dispatch.
type Bus struct {
	mode         DispatchMode
	mu           sync.RWMutex
	subs         map[LifecycleType]map[int64]subscription
	nextID       int64
	asyncQueue   chan LifecycleEvent
	asyncWorkers int
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewBus(mode DispatchMode) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		mode:         mode,
		subs:         make(map[LifecycleType]map[int64]subscription),
		asyncQueue:   make(chan LifecycleEvent, 2048),
		asyncWorkers: 4,
		ctx:          ctx,
		cancel:       cancel,
	}
	if mode == DispatchAsync {
		b.startWorkers()
	}
	return b
}

func (b *Bus) startWorkers() {
	for i := 0; i < b.asyncWorkers; i++ {
		go func() {
			for {
				select {
				case ev := <-b.asyncQueue:
					b.dispatchSync(context.Background(), ev)
				case <-b.ctx.Done():
					return
				}
			}
		}()
	}
}

// Close stops async workers.
func (b *Bus) Close() {
	b.cancel()
	// allow workers to drain briefly
	time.Sleep(10 * time.Millisecond)
}

// Subscribe registers a handler for a lifecycle type. Returns unsubscribe func.
func (b *Bus) Subscribe(typ LifecycleType, handler func(context.Context, LifecycleEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[typ] == nil {
		b.subs[typ] = make(map[int64]subscription)
	}
	b.subs[typ][id] = subscription{id: id, typ: typ, fn: handler}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m := b.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// Publish sends an event to subscribers.
func (b *Bus) Publish(ctx context.Context, ev LifecycleEvent) {
	if b.mode == DispatchAsync {
		select {
		case b.asyncQueue <- ev:
		default:
			// Drop if queue full to preserve latency; alternative is blocking
		}
		return
	}
	b.dispatchSync(ctx, ev)
}

func (b *Bus) dispatchSync(ctx context.Context, ev LifecycleEvent) {
	b.mu.RLock()
	subs := b.subs[ev.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, LifecycleEvent), 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

func newLifecycle(typ LifecycleType, key core.GameKey, player string) LifecycleEvent {
	return LifecycleEvent{Type: typ, Time: time.Now().UTC(), Key: key, Player: player}
}
