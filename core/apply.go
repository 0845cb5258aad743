package core

import (
	"errors"
	"fmt"
)

// Apply mutates the game with one protocol event and returns the canonical
// applied form (server-assigned ids filled in). Callers serialize Apply
// through the game's mutation lock; Apply itself does no locking.
func (g *Game) Apply(ev Event) (Event, error) {
	if !ev.Type.Mutation() {
		return Event{}, fmt.Errorf("event %q is not a mutation", ev.Type)
	}
	switch ev.Type {
	case EventSceneCreate:
		g.Scenes = append(g.Scenes, Scene{})
		ev.Scene = len(g.Scenes) - 1
		return ev, nil

	case EventSceneDelete:
		if ev.Scene < 0 || ev.Scene >= len(g.Scenes) {
			return Event{}, fmt.Errorf("scene %d: %w", ev.Scene, ErrNotFound)
		}
		g.Scenes = append(g.Scenes[:ev.Scene], g.Scenes[ev.Scene+1:]...)
		return ev, nil
	}

	// token mutations need a resolvable scene
	if ev.Scene < 0 || ev.Scene >= len(g.Scenes) {
		return Event{}, fmt.Errorf("scene %d: %w", ev.Scene, ErrNotFound)
	}
	if ev.Token == nil {
		return Event{}, errors.New("token mutation without token payload")
	}
	sc := &g.Scenes[ev.Scene]

	switch ev.Type {
	case EventTokenCreate:
		tok := *ev.Token
		tok.ID = g.NextTokenID
		g.NextTokenID++
		if tok.Background() {
			// a scene owns at most one background; the new one replaces it
			if sc.Backing != nil {
				sc.removeToken(*sc.Backing)
			}
			id := tok.ID
			sc.Backing = &id
		}
		sc.Tokens = append(sc.Tokens, tok)
		ev.Token = &tok
		return ev, nil

	case EventTokenUpdate:
		idx := sc.tokenIndex(ev.Token.ID)
		if idx < 0 {
			return Event{}, fmt.Errorf("token %d: %w", ev.Token.ID, ErrNotFound)
		}
		tok := *ev.Token
		if tok.URL == "" {
			tok.URL = sc.Tokens[idx].URL
		}
		sc.Tokens[idx] = tok
		// an update can move a token across the background boundary; keep
		// the backing reference in step with the negative-size sentinel
		switch {
		case tok.Background():
			if sc.Backing != nil && *sc.Backing != tok.ID {
				sc.removeToken(*sc.Backing)
			}
			id := tok.ID
			sc.Backing = &id
		case sc.Backing != nil && *sc.Backing == tok.ID:
			sc.Backing = nil
		}
		ev.Token = &tok
		return ev, nil

	case EventTokenDelete:
		if sc.tokenIndex(ev.Token.ID) < 0 {
			return Event{}, fmt.Errorf("token %d: %w", ev.Token.ID, ErrNotFound)
		}
		if sc.Backing != nil && *sc.Backing == ev.Token.ID {
			sc.Backing = nil
		}
		sc.removeToken(ev.Token.ID)
		return ev, nil
	}
	return Event{}, fmt.Errorf("unhandled mutation %q", ev.Type)
}

func (s *Scene) tokenIndex(id int) int {
	for i, t := range s.Tokens {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Scene) removeToken(id int) {
	if i := s.tokenIndex(id); i >= 0 {
		s.Tokens = append(s.Tokens[:i], s.Tokens[i+1:]...)
	}
}
