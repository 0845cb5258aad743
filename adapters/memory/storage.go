// Package memory provides a concurrent in-memory durable store, used in
// tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"vttkit/core"
)

// Store keeps game records in a map of deep copies; readers never observe
// in-place mutation.
type Store struct {
	mu    sync.RWMutex
	games map[core.GameKey]core.Game
}

func New() *Store { return &Store{games: map[core.GameKey]core.Game{}} }

func (s *Store) FindGame(_ context.Context, owner core.OwnerID, slug core.Slug) (core.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[core.GameKey{Owner: owner, Slug: slug}]
	if !ok {
		return core.Game{}, fmt.Errorf("game %s/%s: %w", owner, slug, core.ErrNotFound)
	}
	return g.Clone(), nil
}

func (s *Store) ListGames(_ context.Context, owner core.OwnerID) ([]core.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Game
	for key, g := range s.games {
		if key.Owner == owner {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (s *Store) SaveGame(_ context.Context, g core.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.Key] = g.Clone()
	return nil
}

func (s *Store) DeleteGame(_ context.Context, owner core.OwnerID, slug core.Slug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.GameKey{Owner: owner, Slug: slug}
	if _, ok := s.games[key]; !ok {
		return fmt.Errorf("game %s: %w", key, core.ErrNotFound)
	}
	delete(s.games, key)
	return nil
}
