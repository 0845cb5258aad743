// Package session implements the top-level registry mapping GM identities
// to their loaded games and hubs. Games are lazily materialized from the
// durable store on first access and evicted again after an idle period with
// no connected clients.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vttkit/archive"
	"vttkit/assets"
	"vttkit/core"
	"vttkit/realtime"
)

// Entry is one loaded game: its hub and its asset store. The hub owns the
// authoritative in-memory state; the asset store owns the game's files.
type Entry struct {
	Key    core.GameKey
	Hub    *realtime.Hub
	Assets *assets.Store
}

// ownerCache is the per-owner registry of loaded games. Guarded by its own
// mutex so a slow load for one owner never blocks another.
type ownerCache struct {
	owner core.OwnerID
	mu    sync.Mutex
	games map[core.Slug]*Entry
	slugs map[core.Slug]bool // enumerated from the durable store
}

// Service is the session cache. Its top-level map is guarded by a lock
// distinct from any per-game mutation lock.
type Service struct {
	storage   Storage
	assetRoot string
	idle      time.Duration
	sweep     time.Duration
	bus       *Bus
	logger    *slog.Logger

	mu     sync.Mutex
	owners map[core.OwnerID]*ownerCache
}

// NewService builds a session cache over the given durable store and asset
// root directory.
func NewService(storage Storage, assetRoot string, idle, sweep time.Duration, bus *Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = NewBus(DispatchSync)
	}
	return &Service{
		storage:   storage,
		assetRoot: assetRoot,
		idle:      idle,
		sweep:     sweep,
		bus:       bus,
		logger:    logger,
		owners:    map[core.OwnerID]*ownerCache{},
	}
}

// Bus exposes the lifecycle event bus for observers.
func (s *Service) Bus() *Bus { return s.bus }

// ownerFor returns the owner's registry, enumerating the owner's games from
// the durable store on first access. Storage I/O runs outside the top-level
// lock.
func (s *Service) ownerFor(ctx context.Context, owner core.OwnerID) (*ownerCache, error) {
	s.mu.Lock()
	oc, ok := s.owners[owner]
	if !ok {
		oc = &ownerCache{owner: owner, games: map[core.Slug]*Entry{}}
		s.owners[owner] = oc
	}
	s.mu.Unlock()

	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.slugs == nil {
		games, err := s.storage.ListGames(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("enumerate games for %s: %w", owner, err)
		}
		oc.slugs = map[core.Slug]bool{}
		for _, g := range games {
			oc.slugs[g.Key.Slug] = true
		}
	}
	return oc, nil
}

// GetGame returns the loaded entry for a game, materializing hub and asset
// store from the durable store on first access.
func (s *Service) GetGame(ctx context.Context, owner core.OwnerID, slug core.Slug) (*Entry, error) {
	oc, err := s.ownerFor(ctx, owner)
	if err != nil {
		return nil, err
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()
	if e, ok := oc.games[slug]; ok {
		return e, nil
	}

	g, err := s.storage.FindGame(ctx, owner, slug)
	if err != nil {
		return nil, err
	}
	e, err := s.materialize(g)
	if err != nil {
		return nil, err
	}
	oc.games[slug] = e
	oc.slugs[slug] = true
	s.bus.Publish(ctx, newLifecycle(GameLoaded, e.Key, ""))
	return e, nil
}

// materialize builds the runtime entry for a durable game record.
func (s *Service) materialize(g core.Game) (*Entry, error) {
	store, err := assets.Open(s.assetRoot, g.Key)
	if err != nil {
		return nil, fmt.Errorf("open asset store for %s: %w", g.Key, err)
	}
	game := g.Clone()
	hub := realtime.NewHub(&game, s.storage.SaveGame, s.logger)
	return &Entry{Key: g.Key, Hub: hub, Assets: store}, nil
}

// register saves a freshly constructed game and inserts it into the cache.
// Nothing is registered when the durable commit fails.
func (s *Service) register(ctx context.Context, g *core.Game, store *assets.Store, typ LifecycleType) (*Entry, error) {
	if err := s.storage.SaveGame(ctx, *g); err != nil {
		// keep the asset dir consistent with the durable store
		if perr := store.Purge(); perr != nil {
			s.logger.Warn("purge after failed save", "game", g.Key.String(), "error", perr)
		}
		return nil, fmt.Errorf("save game %s: %w", g.Key, err)
	}

	oc, err := s.ownerFor(ctx, g.Key.Owner)
	if err != nil {
		return nil, err
	}
	e := &Entry{Key: g.Key, Hub: realtime.NewHub(g, s.storage.SaveGame, s.logger), Assets: store}
	oc.mu.Lock()
	oc.games[g.Key.Slug] = e
	oc.slugs[g.Key.Slug] = true
	oc.mu.Unlock()
	s.bus.Publish(ctx, newLifecycle(typ, g.Key, ""))
	return e, nil
}

// CreateFromImage constructs a game whose single scene shows the uploaded
// image as background.
func (s *Service) CreateFromImage(ctx context.Context, key core.GameKey, data []byte, hint string) (*Entry, error) {
	store, err := assets.Open(s.assetRoot, key)
	if err != nil {
		return nil, err
	}
	g, err := archive.FromImage(data, hint, store, key)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, g, store, GameImported)
}

// ImportArchive reconstructs a game from a portable package. Import is
// all-or-nothing: on any failure no game is registered and the asset
// directory is not left half-populated.
func (s *Service) ImportArchive(ctx context.Context, key core.GameKey, data []byte) (*Entry, error) {
	store, err := assets.Open(s.assetRoot, key)
	if err != nil {
		return nil, err
	}
	g, err := archive.Import(data, store, key)
	if err != nil {
		if perr := store.Purge(); perr != nil {
			s.logger.Warn("purge after failed import", "game", key.String(), "error", perr)
		}
		return nil, err
	}
	return s.register(ctx, g, store, GameImported)
}

// ExportArchive packages a game under its mutation lock so the archive is a
// consistent snapshot.
func (s *Service) ExportArchive(ctx context.Context, owner core.OwnerID, slug core.Slug) ([]byte, error) {
	e, err := s.GetGame(ctx, owner, slug)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = e.Hub.WithLock(func(g *core.Game) error {
		var err error
		data, err = archive.Export(g, e.Assets)
		return err
	})
	return data, err
}

// Join attaches a player connection to a game's hub. A hub closed between
// the lookup and the attach means the entry was evicted or invalidated in the
// meantime; the lookup is retried and materializes a fresh hub.
func (s *Service) Join(ctx context.Context, owner core.OwnerID, slug core.Slug, player, color string) (*Entry, *realtime.Member, error) {
	for {
		e, err := s.GetGame(ctx, owner, slug)
		if err != nil {
			return nil, nil, err
		}
		m := e.Hub.Join(player, color)
		if m == nil {
			continue
		}
		s.bus.Publish(ctx, newLifecycle(PlayerJoined, e.Key, player))
		return e, m, nil
	}
}

// Leave detaches a member from a game's hub.
func (s *Service) Leave(ctx context.Context, e *Entry, m *realtime.Member) {
	e.Hub.Leave(m)
	s.bus.Publish(ctx, newLifecycle(PlayerLeft, e.Key, m.Player))
}

// Upload stores an asset for a game. The asset id counter and hash index
// are only touched under the game's mutation lock.
func (s *Service) Upload(ctx context.Context, owner core.OwnerID, slug core.Slug, data []byte, hint string) (int, string, error) {
	e, err := s.GetGame(ctx, owner, slug)
	if err != nil {
		return 0, "", err
	}
	var id int
	var url string
	err = e.Hub.WithLock(func(*core.Game) error {
		var err error
		id, url, err = e.Assets.Upload(data, hint)
		return err
	})
	return id, url, err
}

// Ping probes the durable store with a harmless lookup. A missing game is
// a healthy answer; anything else is a storage fault.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.storage.FindGame(ctx, "healthcheck-probe", "healthcheck-probe")
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return nil
}

// GarbageCollect removes asset files no token references anymore.
func (s *Service) GarbageCollect(ctx context.Context, owner core.OwnerID, slug core.Slug) error {
	e, err := s.GetGame(ctx, owner, slug)
	if err != nil {
		return err
	}
	return e.Hub.WithLock(func(g *core.Game) error {
		return e.Assets.GarbageCollect(g)
	})
}

// DeleteGame removes a game for good: asset directory, durable record, and
// cache entry. Connected members are detached.
func (s *Service) DeleteGame(ctx context.Context, owner core.OwnerID, slug core.Slug) error {
	key := core.GameKey{Owner: owner, Slug: slug}

	e, err := s.GetGame(ctx, owner, slug)
	if err != nil {
		return err
	}
	if err := e.Hub.WithLock(func(*core.Game) error {
		return e.Assets.Purge()
	}); err != nil {
		return fmt.Errorf("purge assets for %s: %w", key, err)
	}
	if err := s.storage.DeleteGame(ctx, owner, slug); err != nil {
		return fmt.Errorf("delete game %s: %w", key, err)
	}
	s.Invalidate(owner, slug)
	s.bus.Publish(ctx, newLifecycle(GameDeleted, key, ""))
	return nil
}

// Invalidate forcibly drops a game from the cache regardless of member
// count. The durable representation is untouched.
func (s *Service) Invalidate(owner core.OwnerID, slug core.Slug) {
	s.mu.Lock()
	oc := s.owners[owner]
	s.mu.Unlock()
	if oc == nil {
		return
	}
	oc.mu.Lock()
	e := oc.games[slug]
	delete(oc.games, slug)
	if oc.slugs != nil {
		delete(oc.slugs, slug)
	}
	oc.mu.Unlock()
	if e != nil {
		e.Hub.Close()
	}
}

// EvictIdle drops every game with zero members whose last activity exceeds
// the idle threshold, freeing memory and file handles without touching the
// durable store. The per-game mutation lock is taken before removal so an
// in-flight mutation is never evicted under. Returns the eviction count.
func (s *Service) EvictIdle(now time.Time) int {
	s.mu.Lock()
	caches := make([]*ownerCache, 0, len(s.owners))
	for _, oc := range s.owners {
		caches = append(caches, oc)
	}
	s.mu.Unlock()

	evicted := 0
	for _, oc := range caches {
		oc.mu.Lock()
		for slug, e := range oc.games {
			if !e.Hub.Idle(now, s.idle) {
				continue
			}
			// hold the mutation lock across removal; CloseIfIdle re-checks
			// membership and bars late joins in one step, so a join racing
			// the eviction either keeps the hub alive or fails and reloads
			entry := e
			_ = entry.Hub.WithLock(func(*core.Game) error {
				if entry.Hub.CloseIfIdle() {
					delete(oc.games, slug)
					evicted++
					s.bus.Publish(context.Background(), newLifecycle(GameEvicted, entry.Key, ""))
				}
				return nil
			})
		}
		oc.mu.Unlock()
	}
	return evicted
}

// Run sweeps for idle games until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	interval := s.sweep
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.EvictIdle(now); n > 0 {
				s.logger.Debug("evicted idle games", "count", n)
			}
		}
	}
}

// Close shuts down the lifecycle bus.
func (s *Service) Close() { s.bus.Close() }
