package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vttkit/adapters/memory"
	"vttkit/core"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := NewService(store, t.TempDir(), time.Minute, time.Minute, NewBus(DispatchSync), nil)
	t.Cleanup(svc.Close)
	return svc, store
}

func seedGame(t *testing.T, svc *Service, owner core.OwnerID, slug core.Slug) *Entry {
	t.Helper()
	key := core.GameKey{Owner: owner, Slug: slug}
	e, err := svc.CreateFromImage(context.Background(), key, []byte("map-"+string(slug)), "map.png")
	require.NoError(t, err)
	return e
}

func TestGetGameLazilyMaterializes(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	key := core.GameKey{Owner: "gm", Slug: "demo"}

	require.NoError(t, store.SaveGame(ctx, core.Game{Key: key, Scenes: []core.Scene{{}}}))

	var loaded []core.GameKey
	svc.Bus().Subscribe(GameLoaded, func(_ context.Context, ev LifecycleEvent) {
		loaded = append(loaded, ev.Key)
	})

	e, err := svc.GetGame(ctx, "gm", "demo")
	require.NoError(t, err)
	require.NotNil(t, e.Hub)
	require.NotNil(t, e.Assets)

	// second lookup hits the cache, no second load event
	again, err := svc.GetGame(ctx, "gm", "demo")
	require.NoError(t, err)
	assert.Same(t, e, again)
	assert.Equal(t, []core.GameKey{key}, loaded)
}

func TestGetGameNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetGame(context.Background(), "gm", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateFromImagePersistsAndRegisters(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	e := seedGame(t, svc, "gm", "demo")
	snap := e.Hub.Snapshot()
	require.Len(t, snap.Scenes, 1)
	require.Len(t, snap.Scenes[0].Tokens, 1)
	assert.True(t, snap.Scenes[0].Tokens[0].Background())

	durable, err := store.FindGame(ctx, "gm", "demo")
	require.NoError(t, err)
	assert.Len(t, durable.Scenes, 1)
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	e := seedGame(t, svc, "gm", "src")
	_, err := e.Hub.Mutate(ctx, nil, core.NewTokenCreate(0, core.Token{URL: e.Assets.URLFor(0), PosX: 10, PosY: 20, Size: 20}))
	require.NoError(t, err)

	data, err := svc.ExportArchive(ctx, "gm", "src")
	require.NoError(t, err)

	dst, err := svc.ImportArchive(ctx, core.GameKey{Owner: "gm", Slug: "dst"}, data)
	require.NoError(t, err)

	snap := dst.Hub.Snapshot()
	require.Len(t, snap.Scenes, 1)
	assert.Len(t, snap.Scenes[0].Tokens, 2)
}

func TestImportArchiveAtomicOnMalformed(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	key := core.GameKey{Owner: "gm", Slug: "broken"}

	_, err := svc.ImportArchive(ctx, key, []byte("not a zip"))
	require.ErrorIs(t, err, core.ErrMalformedArchive)

	// nothing registered, nothing persisted
	_, err = svc.GetGame(ctx, "gm", "broken")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.FindGame(ctx, "gm", "broken")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUploadDedupsThroughMutationLock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedGame(t, svc, "gm", "demo")

	id1, url1, err := svc.Upload(ctx, "gm", "demo", []byte("figure"), "figure.png")
	require.NoError(t, err)
	id2, url2, err := svc.Upload(ctx, "gm", "demo", []byte("figure"), "figure-copy.png")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, url1, url2)
}

func TestDeleteGameRemovesEverything(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	e := seedGame(t, svc, "gm", "demo")
	dir := e.Assets.Dir()
	assert.DirExists(t, dir)

	_, member, err := svc.Join(ctx, "gm", "demo", "alice", "red")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteGame(ctx, "gm", "demo"))

	assert.NoDirExists(t, dir)
	_, err = store.FindGame(ctx, "gm", "demo")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = svc.GetGame(ctx, "gm", "demo")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// the connected member was forcibly detached
	select {
	case <-member.Done():
	case <-time.After(time.Second):
		t.Fatal("member not detached on delete")
	}
}

func TestEvictIdleSkipsActiveGames(t *testing.T) {
	store := memory.New()
	svc := NewService(store, t.TempDir(), 0, time.Minute, NewBus(DispatchSync), nil)
	t.Cleanup(svc.Close)
	ctx := context.Background()

	seedGame(t, svc, "gm", "idle")
	seedGame(t, svc, "gm", "busy")

	_, member, err := svc.Join(ctx, "gm", "busy", "alice", "red")
	require.NoError(t, err)

	evicted := svc.EvictIdle(time.Now().Add(time.Second))
	assert.Equal(t, 1, evicted)

	// the idle game reloads from durable storage on next access
	e, err := svc.GetGame(ctx, "gm", "idle")
	require.NoError(t, err)
	require.Len(t, e.Hub.Snapshot().Scenes, 1)

	// the busy game kept its hub and member
	busy, err := svc.GetGame(ctx, "gm", "busy")
	require.NoError(t, err)
	assert.Equal(t, 1, busy.Hub.MemberCount())
	busy.Hub.Leave(member)
}

func TestJoinAfterEvictionAttachesToFreshHub(t *testing.T) {
	store := memory.New()
	svc := NewService(store, t.TempDir(), 0, time.Minute, NewBus(DispatchSync), nil)
	t.Cleanup(svc.Close)
	ctx := context.Background()

	stale := seedGame(t, svc, "gm", "demo")
	require.Equal(t, 1, svc.EvictIdle(time.Now().Add(time.Second)))

	// the evicted hub refuses late attachment, so a join that still holds
	// the old entry cannot land on orphaned state
	assert.Nil(t, stale.Hub.Join("alice", "red"))

	// the service-level join reloads and attaches to the live hub
	e, member, err := svc.Join(ctx, "gm", "demo", "alice", "red")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.NotSame(t, stale, e)
	assert.Equal(t, 1, e.Hub.MemberCount())

	cached, err := svc.GetGame(ctx, "gm", "demo")
	require.NoError(t, err)
	assert.Same(t, e, cached)
	e.Hub.Leave(member)
}

func TestInvalidateDropsRegardlessOfMembers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedGame(t, svc, "gm", "demo")
	_, member, err := svc.Join(ctx, "gm", "demo", "alice", "red")
	require.NoError(t, err)

	svc.Invalidate("gm", "demo")
	select {
	case <-member.Done():
	case <-time.After(time.Second):
		t.Fatal("member not detached on invalidate")
	}

	// the durable representation is untouched
	_, err = store.FindGame(ctx, "gm", "demo")
	require.NoError(t, err)
}

func TestMutationVisibleAfterOriginatorLeft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	e := seedGame(t, svc, "gm", "demo")
	_, member, err := svc.Join(ctx, "gm", "demo", "alice", "red")
	require.NoError(t, err)

	_, err = e.Hub.Mutate(ctx, member, core.NewTokenCreate(0, core.Token{URL: e.Assets.URLFor(0), Size: 20}))
	require.NoError(t, err)
	svc.Leave(ctx, e, member)

	_, late, err := svc.Join(ctx, "gm", "demo", "bob", "blue")
	require.NoError(t, err)
	defer e.Hub.Leave(late)

	snap := e.Hub.Snapshot()
	assert.Len(t, snap.Scenes[0].Tokens, 2)
}
