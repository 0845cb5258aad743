// Package jsonfile persists every game record to a single JSON file.
// Suitable for demos and small deployments.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"vttkit/core"
)

type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data map[string]core.Game // "owner/slug" -> game
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[string]core.Game{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &s.data)
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) FindGame(_ context.Context, owner core.OwnerID, slug core.Slug) (core.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.GameKey{Owner: owner, Slug: slug}
	g, ok := s.data[key.String()]
	if !ok {
		return core.Game{}, fmt.Errorf("game %s: %w", key, core.ErrNotFound)
	}
	return g.Clone(), nil
}

func (s *Store) ListGames(_ context.Context, owner core.OwnerID) ([]core.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Game
	for _, g := range s.data {
		if g.Key.Owner == owner {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (s *Store) SaveGame(_ context.Context, g core.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[g.Key.String()] = g.Clone()
	return s.persist()
}

func (s *Store) DeleteGame(_ context.Context, owner core.OwnerID, slug core.Slug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.GameKey{Owner: owner, Slug: slug}
	if _, ok := s.data[key.String()]; !ok {
		return fmt.Errorf("game %s: %w", key, core.ErrNotFound)
	}
	delete(s.data, key.String())
	return s.persist()
}
