package core

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// OwnerID identifies the GM principal that owns one or more games.
type OwnerID string

// Slug is the URL-safe identifier of a game within an owner's namespace.
type Slug string

// GameKey is the globally unique (owner, slug) pair addressing one game.
type GameKey struct {
	Owner OwnerID `json:"owner"`
	Slug  Slug    `json:"slug"`
}

func (k GameKey) String() string { return string(k.Owner) + "/" + string(k.Slug) }

// Token is one placeable image reference inside a scene.
// URL points at an asset in the owning game's store; Size keeps the
// negative sentinel on the wire when the token is a scene background.
type Token struct {
	ID     int     `json:"id"`
	URL    string  `json:"url"`
	PosX   int     `json:"posx"`
	PosY   int     `json:"posy"`
	ZOrder int     `json:"zorder"`
	Size   int     `json:"size"`
	Rotate float64 `json:"rotate"`
	FlipX  bool    `json:"flipx"`
	Locked bool    `json:"locked"`
}

// Background reports whether the token is marked as a scene background.
func (t Token) Background() bool { return t.Size < 0 }

// Scene is an ordered collection of tokens. Backing, when non-nil, holds the
// id of the background token; that token also keeps its negative Size so
// external encodings stay compatible.
type Scene struct {
	Tokens  []Token `json:"tokens"`
	Backing *int    `json:"backing"`
}

// Game is the durable record of one game's scene/token graph.
type Game struct {
	Key         GameKey `json:"key"`
	Scenes      []Scene `json:"scenes"`
	NextTokenID int     `json:"next_token_id"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing internal slices to concurrent mutation.
func (g Game) Clone() Game {
	cp := Game{Key: g.Key, NextTokenID: g.NextTokenID, Scenes: make([]Scene, len(g.Scenes))}
	for i, sc := range g.Scenes {
		cs := Scene{Tokens: make([]Token, len(sc.Tokens))}
		copy(cs.Tokens, sc.Tokens)
		if sc.Backing != nil {
			b := *sc.Backing
			cs.Backing = &b
		}
		cp.Scenes[i] = cs
	}
	return cp
}

// NormalizeSlug trims and lowercases a slug, rejecting characters that
// would not survive a URL path segment.
func NormalizeSlug(s Slug) (Slug, error) {
	raw := strings.ToLower(strings.TrimSpace(string(s)))
	if raw == "" {
		return "", errors.New("empty slug")
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return "", fmt.Errorf("invalid slug character %q", r)
	}
	return Slug(raw), nil
}

// NormalizeOwner trims an owner identity.
func NormalizeOwner(id OwnerID) (OwnerID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty owner id")
	}
	return OwnerID(s), nil
}

// assetKind is the fixed first segment of every asset URL.
const assetKind = "token"

// AssetURL derives the public URL of an asset id. It is purely a function of
// the addressing scheme; the file does not have to exist on disk.
func AssetURL(key GameKey, id int, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("/%s/%s/%s/%d.%s", assetKind, key.Owner, key.Slug, id, ext)
}

// AssetIDFromURL parses the asset id out of an asset URL.
func AssetIDFromURL(url string) (int, error) {
	base := path.Base(url)
	stem, _, ok := strings.Cut(base, ".")
	if !ok {
		return 0, fmt.Errorf("asset url %q has no extension", url)
	}
	id, err := strconv.Atoi(stem)
	if err != nil {
		return 0, fmt.Errorf("asset url %q has non-numeric id", url)
	}
	return id, nil
}
