package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vttkit/core"
)

func newTestHub() *Hub {
	g := &core.Game{Key: core.GameKey{Owner: "gm", Slug: "demo"}, Scenes: []core.Scene{{}}}
	return NewHub(g, nil, nil)
}

func recvEvent(t *testing.T, m *Member) core.Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return core.Event{}
	}
}

func TestJoinAnnouncesToOthers(t *testing.T) {
	h := newTestHub()

	alice := h.Join("alice", "red")
	assert.Equal(t, StateAttached, alice.State())

	bob := h.Join("bob", "blue")

	ev := recvEvent(t, alice)
	assert.Equal(t, core.EventJoin, ev.Type)
	assert.Equal(t, "bob", ev.Player)
	assert.Equal(t, "blue", ev.Color)

	// the joiner does not hear its own join
	select {
	case ev := <-bob.Events():
		t.Fatalf("unexpected event for joiner: %+v", ev)
	default:
	}
}

func TestMutateBroadcastsCanonicalEvent(t *testing.T) {
	h := newTestHub()
	alice := h.Join("alice", "red")
	bob := h.Join("bob", "blue")
	recvEvent(t, alice) // bob's join

	applied, err := h.Mutate(context.Background(), alice, core.NewTokenCreate(0, core.Token{URL: "/token/gm/demo/0.png", Size: 20}))
	require.NoError(t, err)
	assert.Equal(t, 0, applied.Token.ID)

	got := recvEvent(t, bob)
	assert.Equal(t, core.EventTokenCreate, got.Type)
	assert.Equal(t, applied.Token.ID, got.Token.ID)

	// the originator applied it locally already and is excluded
	select {
	case ev := <-alice.Events():
		t.Fatalf("originator received echo: %+v", ev)
	default:
	}
}

func TestMutateRejectsUnresolvable(t *testing.T) {
	h := newTestHub()
	alice := h.Join("alice", "red")

	_, err := h.Mutate(context.Background(), alice, core.NewTokenUpdate(0, core.Token{ID: 77}))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConcurrentMutationsSerialize(t *testing.T) {
	h := newTestHub()
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := h.Mutate(context.Background(), nil, core.NewTokenCreate(0, core.Token{URL: "/token/gm/demo/0.png", Size: 20}))
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	snap := h.Snapshot()
	require.Len(t, snap.Scenes[0].Tokens, 2*perWriter)

	// ids are assigned under the lock, never duplicated
	seen := map[int]bool{}
	for _, tok := range snap.Scenes[0].Tokens {
		assert.False(t, seen[tok.ID], "duplicate token id %d", tok.ID)
		seen[tok.ID] = true
	}
}

func TestLeaveAnnouncesAndMakesIdle(t *testing.T) {
	h := newTestHub()
	alice := h.Join("alice", "red")
	bob := h.Join("bob", "blue")
	recvEvent(t, alice)

	h.Leave(bob)
	assert.Equal(t, StateDetached, bob.State())
	select {
	case <-bob.Done():
	default:
		t.Fatalf("done channel not closed")
	}

	ev := recvEvent(t, alice)
	assert.Equal(t, core.EventQuit, ev.Type)
	assert.Equal(t, "bob", ev.Player)

	// double-leave is harmless
	h.Leave(bob)

	h.Leave(alice)
	assert.Equal(t, 0, h.MemberCount())
	assert.True(t, h.Idle(time.Now().Add(time.Hour), time.Minute))
	assert.False(t, h.Idle(time.Now(), time.Minute))
}

func TestSlowMemberIsDetachedWithoutAbortingBroadcast(t *testing.T) {
	h := newTestHub()
	slow := h.Join("slow", "gray")
	fast := h.Join("fast", "green")
	recvEvent(t, slow) // fast's join

	// fill the slow member's queue without draining it
	for i := 0; i <= memberBuffer; i++ {
		h.Broadcast(core.NewJoin("noise", ""), fast)
	}

	assert.Equal(t, StateDetached, slow.State())
	assert.Equal(t, 1, h.MemberCount())

	// the healthy member keeps receiving, including the quit for the
	// detached one
	h.Broadcast(core.NewQuit("someone"), nil)
	for {
		ev := recvEvent(t, fast)
		if ev.Type == core.EventQuit && ev.Player == "slow" {
			return
		}
	}
}

func TestClosedHubRejectsJoin(t *testing.T) {
	h := newTestHub()
	alice := h.Join("alice", "red")

	// a member keeps the hub open
	assert.False(t, h.CloseIfIdle())
	require.NotNil(t, h.Join("bob", "blue"))

	h.Close()
	select {
	case <-alice.Done():
	default:
		t.Fatalf("member not detached on close")
	}
	assert.Nil(t, h.Join("late", "green"))

	h2 := newTestHub()
	assert.True(t, h2.CloseIfIdle())
	assert.Nil(t, h2.Join("late", "green"))
}

func TestMutationSurvivesOriginatorDisconnect(t *testing.T) {
	h := newTestHub()
	alice := h.Join("alice", "red")

	_, err := h.Mutate(context.Background(), alice, core.NewTokenCreate(0, core.Token{URL: "/token/gm/demo/0.png", Size: 20}))
	require.NoError(t, err)
	h.Leave(alice)

	bob := h.Join("bob", "blue")
	_ = bob
	snap := h.Snapshot()
	require.Len(t, snap.Scenes[0].Tokens, 1)
}

func TestCommitRunsUnderMutationLock(t *testing.T) {
	var committed []int
	g := &core.Game{Key: core.GameKey{Owner: "gm", Slug: "demo"}, Scenes: []core.Scene{{}}}
	h := NewHub(g, func(_ context.Context, snap core.Game) error {
		committed = append(committed, len(snap.Scenes[0].Tokens))
		return nil
	}, nil)

	_, err := h.Mutate(context.Background(), nil, core.NewTokenCreate(0, core.Token{Size: 20}))
	require.NoError(t, err)
	_, err = h.Mutate(context.Background(), nil, core.NewTokenCreate(0, core.Token{Size: 20}))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, committed)
}
