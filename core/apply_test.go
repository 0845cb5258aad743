package core

import (
	"errors"
	"testing"
)

func TestApplySceneAndTokenLifecycle(t *testing.T) {
	g := &Game{Key: GameKey{Owner: "gm", Slug: "demo"}}

	applied, err := g.Apply(NewSceneCreate())
	if err != nil {
		t.Fatalf("scene create: %v", err)
	}
	if applied.Scene != 0 || len(g.Scenes) != 1 {
		t.Fatalf("unexpected scene index %d", applied.Scene)
	}

	applied, err = g.Apply(NewTokenCreate(0, Token{URL: "/token/gm/demo/0.png", PosX: 200, PosY: 150, Size: 20}))
	if err != nil {
		t.Fatalf("token create: %v", err)
	}
	id := applied.Token.ID

	applied, err = g.Apply(NewTokenUpdate(0, Token{ID: id, PosX: 5, PosY: 6, Size: 20}))
	if err != nil {
		t.Fatalf("token update: %v", err)
	}
	if applied.Token.URL != "/token/gm/demo/0.png" {
		t.Fatalf("update dropped url: %q", applied.Token.URL)
	}
	if g.Scenes[0].Tokens[0].PosX != 5 {
		t.Fatalf("update not applied")
	}

	if _, err := g.Apply(NewTokenDelete(0, id)); err != nil {
		t.Fatalf("token delete: %v", err)
	}
	if len(g.Scenes[0].Tokens) != 0 {
		t.Fatalf("token not removed")
	}
}

func TestApplyBackgroundReplacement(t *testing.T) {
	g := &Game{}
	if _, err := g.Apply(NewSceneCreate()); err != nil {
		t.Fatal(err)
	}

	first, err := g.Apply(NewTokenCreate(0, Token{URL: "/token/a/b/0.png", Size: -1}))
	if err != nil {
		t.Fatal(err)
	}
	if g.Scenes[0].Backing == nil || *g.Scenes[0].Backing != first.Token.ID {
		t.Fatalf("backing not set")
	}

	second, err := g.Apply(NewTokenCreate(0, Token{URL: "/token/a/b/1.png", Size: -1}))
	if err != nil {
		t.Fatal(err)
	}
	if *g.Scenes[0].Backing != second.Token.ID {
		t.Fatalf("backing not replaced")
	}
	if len(g.Scenes[0].Tokens) != 1 {
		t.Fatalf("old background token not removed, have %d tokens", len(g.Scenes[0].Tokens))
	}

	if _, err := g.Apply(NewTokenDelete(0, second.Token.ID)); err != nil {
		t.Fatal(err)
	}
	if g.Scenes[0].Backing != nil {
		t.Fatalf("backing not cleared after delete")
	}
}

func TestApplyUpdateMovesBackgroundBoundary(t *testing.T) {
	g := &Game{}
	if _, err := g.Apply(NewSceneCreate()); err != nil {
		t.Fatal(err)
	}

	bg, err := g.Apply(NewTokenCreate(0, Token{URL: "/token/a/b/0.png", Size: -1}))
	if err != nil {
		t.Fatal(err)
	}
	fig, err := g.Apply(NewTokenCreate(0, Token{URL: "/token/a/b/1.png", Size: 20}))
	if err != nil {
		t.Fatal(err)
	}

	// growing the background to a regular size clears the backing reference
	if _, err := g.Apply(NewTokenUpdate(0, Token{ID: bg.Token.ID, Size: 20})); err != nil {
		t.Fatal(err)
	}
	if g.Scenes[0].Backing != nil {
		t.Fatalf("backing still set after former background resized")
	}

	// shrinking a regular token negative promotes it to the background
	if _, err := g.Apply(NewTokenUpdate(0, Token{ID: fig.Token.ID, Size: -1})); err != nil {
		t.Fatal(err)
	}
	if g.Scenes[0].Backing == nil || *g.Scenes[0].Backing != fig.Token.ID {
		t.Fatalf("backing not tracking the new negative-size token")
	}

	// promoting another token replaces the background, as create does
	if _, err := g.Apply(NewTokenUpdate(0, Token{ID: bg.Token.ID, Size: -1})); err != nil {
		t.Fatal(err)
	}
	if *g.Scenes[0].Backing != bg.Token.ID {
		t.Fatalf("backing not replaced on promotion")
	}
	if len(g.Scenes[0].Tokens) != 1 {
		t.Fatalf("old background token not removed, have %d tokens", len(g.Scenes[0].Tokens))
	}
}

func TestApplyNotFound(t *testing.T) {
	g := &Game{Scenes: []Scene{{}}}
	if _, err := g.Apply(NewTokenUpdate(0, Token{ID: 9})); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := g.Apply(NewTokenCreate(3, Token{})); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for bad scene, got %v", err)
	}
	if _, err := g.Apply(NewJoin("p", "red")); err == nil {
		t.Fatalf("expected non-mutation rejection")
	}
}
