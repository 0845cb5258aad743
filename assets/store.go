// Package assets implements the per-game content-addressable file store for
// uploaded images: monotonic id allocation, hash-based dedup, orphan
// detection, and garbage collection.
package assets

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"vttkit/core"
)

// Store tracks the asset files of exactly one game. The hash index and the
// id space are guarded by an internal mutex; mutating calls are additionally
// expected to run under the owning game's mutation lock.
type Store struct {
	key core.GameKey
	dir string

	mu        sync.Mutex
	checksums map[string]int // md5 hex -> asset id
	exts      map[int]string // asset id -> file extension
}

// Open binds a store to root/<owner>/<slug> and rebuilds the dedup index by
// hashing whatever files are already present. A missing directory is fine;
// it is created on first write.
func Open(root string, key core.GameKey) (*Store, error) {
	s := &Store{
		key:       key,
		dir:       filepath.Join(root, string(key.Owner), string(key.Slug)),
		checksums: map[string]int{},
		exts:      map[int]string{},
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan asset dir: %w", err)
	}
	for _, e := range entries {
		id, ext, ok := parseAssetName(e.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("index asset %s: %w", e.Name(), err)
		}
		s.checksums[digest(data)] = id
		s.exts[id] = ext
	}
	return s, nil
}

// Dir returns the game's asset directory.
func (s *Store) Dir() string { return s.dir }

// AllocateID returns max(on-disk ids)+1, or 0 for an empty store. Gaps left
// by deleted assets are never reused.
func (s *Store) AllocateID() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked()
}

func (s *Store) allocateLocked() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan asset dir: %w", err)
	}
	next := 0
	for _, e := range entries {
		if id, _, ok := parseAssetName(e.Name()); ok && id >= next {
			next = id + 1
		}
	}
	return next, nil
}

// Upload stores raw image bytes and returns the asset id and public URL.
// Byte-identical content resolves to the already stored asset; exactly one
// file is written per distinct digest.
func (s *Store) Upload(data []byte, hint string) (int, string, error) {
	sum := digest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.checksums[sum]; ok {
		return id, core.AssetURL(s.key, id, s.exts[id]), nil
	}

	id, err := s.allocateLocked()
	if err != nil {
		return 0, "", err
	}
	ext := extFromHint(hint)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("create asset dir: %w", err)
	}
	name := fmt.Sprintf("%d.%s", id, ext)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return 0, "", fmt.Errorf("write asset %s: %w", name, err)
	}
	s.checksums[sum] = id
	s.exts[id] = ext
	return id, core.AssetURL(s.key, id, ext), nil
}

// URLFor derives the public URL of an asset id without touching the disk.
// Unknown ids fall back to the png extension to keep urls derivable.
func (s *Store) URLFor(id int) string {
	s.mu.Lock()
	ext := s.exts[id]
	s.mu.Unlock()
	return core.AssetURL(s.key, id, ext)
}

// Path returns the on-disk path for an asset id if the id has been observed.
func (s *Store) Path(id int) (string, bool) {
	s.mu.Lock()
	ext, ok := s.exts[id]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return filepath.Join(s.dir, fmt.Sprintf("%d.%s", id, ext)), true
}

// Referenced collects every asset id reachable from the scene/token graph.
// Token urls that do not follow the addressing scheme are skipped rather
// than failing retrieval.
func Referenced(g *core.Game) map[int]bool {
	ids := map[int]bool{}
	for _, sc := range g.Scenes {
		for _, tok := range sc.Tokens {
			if id, err := core.AssetIDFromURL(tok.URL); err == nil {
				ids[id] = true
			}
		}
	}
	return ids
}

// Abandoned returns the asset file paths present on disk but unreachable
// from any token of the game.
func (s *Store) Abandoned(g *core.Game) ([]string, error) {
	referenced := Referenced(g)
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan asset dir: %w", err)
	}
	var orphans []string
	for _, e := range entries {
		id, _, ok := parseAssetName(e.Name())
		if !ok {
			continue
		}
		if !referenced[id] {
			orphans = append(orphans, filepath.Join(s.dir, e.Name()))
		}
	}
	return orphans, nil
}

// GarbageCollect deletes every abandoned file. A file vanishing between
// listing and deletion counts as already collected.
func (s *Store) GarbageCollect(g *core.Game) error {
	orphans, err := s.Abandoned(g)
	if err != nil {
		return err
	}
	for _, p := range orphans {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Purge deletes the entire per-game asset directory. Used only on game
// deletion.
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checksums = map[string]int{}
	s.exts = map[int]string{}
	return os.RemoveAll(s.dir)
}

func digest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func parseAssetName(name string) (id int, ext string, ok bool) {
	stem, ext, found := strings.Cut(name, ".")
	if !found || ext == "" {
		return 0, "", false
	}
	id, err := strconv.Atoi(stem)
	if err != nil || id < 0 {
		return 0, "", false
	}
	return id, ext, true
}

func extFromHint(hint string) string {
	if i := strings.LastIndexByte(hint, '.'); i >= 0 && i < len(hint)-1 {
		return strings.ToLower(hint[i+1:])
	}
	return "png"
}
