// Package realtime implements the per-game broadcast group: it tracks the
// connected members of one game, serializes concurrent mutation through the
// game's mutation lock, and relays applied events to all other members.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vttkit/core"
)

// MemberState tracks a connection through its lifecycle.
type MemberState int32

const (
	StateConnecting MemberState = iota
	StateAttached
	StateDetached
)

// memberBuffer is the per-member event queue depth. A member that cannot
// drain this many events is considered failed and detached.
const memberBuffer = 256

// Member is one live connection attached to a hub. Events for the member
// arrive on Events() in FIFO order; Done() closes when the member detaches.
type Member struct {
	id     int
	Player string
	Color  string

	ch    chan core.Event
	done  chan struct{}
	state atomic.Int32
}

// Events returns the member's receive queue.
func (m *Member) Events() <-chan core.Event { return m.ch }

// Done closes when the member has been detached from the hub.
func (m *Member) Done() <-chan struct{} { return m.done }

// State returns the member's lifecycle state.
func (m *Member) State() MemberState { return MemberState(m.state.Load()) }

// CommitFunc persists the game after a mutation, under the mutation lock.
type CommitFunc func(ctx context.Context, g core.Game) error

// Hub owns the member set and the authoritative in-memory game state.
// The member registry and the mutation path use distinct locks so a slow
// commit never blocks membership bookkeeping.
type Hub struct {
	logger *slog.Logger

	mu         sync.RWMutex
	members    map[int]*Member
	nextID     int
	lastActive time.Time
	closed     bool

	mutateMu sync.Mutex
	game     *core.Game
	commit   CommitFunc
}

// NewHub wraps a loaded game. commit may be nil for hubs whose state is
// persisted elsewhere (tests, exports).
func NewHub(game *core.Game, commit CommitFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("game", game.Key.String()),
		members:    map[int]*Member{},
		lastActive: time.Now(),
		game:       game,
		commit:     commit,
	}
}

// Join attaches a connection and announces it to the other members. Returns
// nil when the hub has been closed; the caller must look the game up again,
// which materializes a fresh hub.
func (h *Hub) Join(player, color string) *Member {
	m := &Member{
		Player: player,
		Color:  color,
		ch:     make(chan core.Event, memberBuffer),
		done:   make(chan struct{}),
	}
	m.state.Store(int32(StateAttached))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.nextID++
	m.id = h.nextID
	h.members[m.id] = m
	h.lastActive = time.Now()
	h.mu.Unlock()

	h.Broadcast(core.NewJoin(player, color), m)
	return m
}

// Leave detaches the member and announces its departure. Safe to call more
// than once; only the first call has any effect.
func (h *Hub) Leave(m *Member) {
	if !h.remove(m) {
		return
	}
	h.Broadcast(core.NewQuit(m.Player), nil)
}

// remove drops the member from the registry and marks it detached. Returns
// false when the member was already gone.
func (h *Hub) remove(m *Member) bool {
	h.mu.Lock()
	_, ok := h.members[m.id]
	if ok {
		delete(h.members, m.id)
		h.lastActive = time.Now()
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	m.state.Store(int32(StateDetached))
	close(m.done)
	return true
}

// Broadcast delivers the event to every attached member except exclude.
// A member whose queue is full is detached; the failure is isolated and the
// remaining members still receive the event.
func (h *Hub) Broadcast(ev core.Event, exclude *Member) {
	h.mu.RLock()
	receivers := make([]*Member, 0, len(h.members))
	for _, m := range h.members {
		if exclude != nil && m.id == exclude.id {
			continue
		}
		receivers = append(receivers, m)
	}
	h.mu.RUnlock()

	var failed []*Member
	for _, m := range receivers {
		select {
		case m.ch <- ev:
		default:
			failed = append(failed, m)
		}
	}
	for _, m := range failed {
		h.logger.Warn("member send failed, detaching", "player", m.Player)
		if h.remove(m) {
			h.Broadcast(core.NewQuit(m.Player), nil)
		}
	}
}

// Mutate applies one mutation event under the game's mutation lock, commits
// the result, and broadcasts the canonical applied form to everyone but the
// originator. Mutations from concurrent members serialize, never interleave.
func (h *Hub) Mutate(ctx context.Context, origin *Member, ev core.Event) (core.Event, error) {
	h.mutateMu.Lock()
	applied, err := h.game.Apply(ev)
	if err != nil {
		h.mutateMu.Unlock()
		return core.Event{}, err
	}
	if h.commit != nil {
		if cerr := h.commit(ctx, h.game.Clone()); cerr != nil {
			h.logger.Warn("commit after mutation failed", "error", cerr)
		}
	}
	h.mutateMu.Unlock()

	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()

	h.Broadcast(applied, origin)
	return applied, nil
}

// WithLock runs fn with exclusive access to the game state. Used for asset
// operations and eviction, which must not race in-flight mutations.
func (h *Hub) WithLock(fn func(g *core.Game) error) error {
	h.mutateMu.Lock()
	defer h.mutateMu.Unlock()
	return fn(h.game)
}

// Snapshot returns a deep copy of the current game state.
func (h *Hub) Snapshot() core.Game {
	h.mutateMu.Lock()
	defer h.mutateMu.Unlock()
	return h.game.Clone()
}

// Close detaches every member without quit announcements and rejects later
// joins. Used when the game is forcibly dropped from the cache.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	members := make([]*Member, 0, len(h.members))
	for _, m := range h.members {
		members = append(members, m)
	}
	h.members = map[int]*Member{}
	h.mu.Unlock()
	for _, m := range members {
		m.state.Store(int32(StateDetached))
		close(m.done)
	}
}

// CloseIfIdle atomically closes the hub when no member is attached. The
// member check and the close share one critical section, so a concurrent
// Join either lands first (and the close is refused) or observes the closed
// hub and fails. Returns whether the hub was closed.
func (h *Hub) CloseIfIdle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.members) > 0 {
		return false
	}
	h.closed = true
	return true
}

// MemberCount reports the number of attached members.
func (h *Hub) MemberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Idle reports whether the hub has no members and has seen no activity
// since the given threshold.
func (h *Hub) Idle(now time.Time, threshold time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members) == 0 && now.Sub(h.lastActive) > threshold
}

// MarshalJSON is a helper to convert events to JSON bytes for the transport.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
