// Package vtt is the embedding facade: a small options builder that wires
// storage, asset root, and cache tuning into a ready session.Service.
package vtt

import (
	"log/slog"
	"time"

	"vttkit/adapters/memory"
	"vttkit/session"
)

// Option configures the service builder.
type Option func(*config)

type config struct {
	storage session.Storage
	root    string
	idle    time.Duration
	sweep   time.Duration
	mode    session.DispatchMode
	bus     *session.Bus
	logger  *slog.Logger
}

// WithStorage sets the durable game store.
func WithStorage(s session.Storage) Option { return func(c *config) { c.storage = s } }

// WithAssetRoot sets the directory holding per-game image files.
func WithAssetRoot(dir string) Option { return func(c *config) { c.root = dir } }

// WithIdleTimeout sets how long a game with no connected players stays
// loaded. Zero disables eviction.
func WithIdleTimeout(d time.Duration) Option { return func(c *config) { c.idle = d } }

// WithSweepInterval sets the eviction sweep cadence.
func WithSweepInterval(d time.Duration) Option { return func(c *config) { c.sweep = d } }

// WithDispatchMode selects sync or async lifecycle event dispatch.
func WithDispatchMode(m session.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithBus supplies a pre-built lifecycle bus, overriding WithDispatchMode.
func WithBus(b *session.Bus) Option { return func(c *config) { c.bus = b } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// New builds a configured session.Service. If not provided, defaults are
// used:
//   - storage: in-memory
//   - asset root: ./data/assets
//   - dispatch: async
func New(opts ...Option) *session.Service {
	cfg := &config{root: "./data/assets", mode: session.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = memory.New()
	}
	if cfg.bus == nil {
		cfg.bus = session.NewBus(cfg.mode)
	}
	return session.NewService(cfg.storage, cfg.root, cfg.idle, cfg.sweep, cfg.bus, cfg.logger)
}
