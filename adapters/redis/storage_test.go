package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vttkit/core"
)

// newTestClient spins up a miniredis server and returns a client plus cleanup.
func newTestClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, cleanup
}

func demoGame(owner core.OwnerID, slug core.Slug) core.Game {
	return core.Game{
		Key: core.GameKey{Owner: owner, Slug: slug},
		Scenes: []core.Scene{{
			Tokens: []core.Token{{ID: 0, URL: "/token/" + string(owner) + "/" + string(slug) + "/0.png", Size: 20}},
		}},
		NextTokenID: 1,
	}
}

func TestStore_SaveAndFindGame(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	g := demoGame("gm", "demo")
	require.NoError(t, store.SaveGame(ctx, g))

	got, err := store.FindGame(ctx, "gm", "demo")
	require.NoError(t, err)
	assert.Equal(t, g.Key, got.Key)
	require.Len(t, got.Scenes, 1)
	assert.Equal(t, g.Scenes[0].Tokens[0].URL, got.Scenes[0].Tokens[0].URL)
}

func TestStore_FindGameNotFound(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	_, err := store.FindGame(context.Background(), "gm", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_ListGames(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	require.NoError(t, store.SaveGame(ctx, demoGame("gm", "one")))
	require.NoError(t, store.SaveGame(ctx, demoGame("gm", "two")))
	require.NoError(t, store.SaveGame(ctx, demoGame("other", "three")))

	games, err := store.ListGames(ctx, "gm")
	require.NoError(t, err)
	assert.Len(t, games, 2)

	games, err = store.ListGames(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestStore_DeleteGame(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	require.NoError(t, store.SaveGame(ctx, demoGame("gm", "demo")))
	require.NoError(t, store.DeleteGame(ctx, "gm", "demo"))

	_, err := store.FindGame(ctx, "gm", "demo")
	assert.ErrorIs(t, err, core.ErrNotFound)

	games, err := store.ListGames(ctx, "gm")
	require.NoError(t, err)
	assert.Empty(t, games)

	assert.ErrorIs(t, store.DeleteGame(ctx, "gm", "demo"), core.ErrNotFound)
}
