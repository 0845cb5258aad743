// Package redis implements the durable store on Redis.
// Data structure:
// - game:{owner}/{slug} -> JSON blob of the game record
// - owner:{owner}:games -> set of the owner's slugs
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vttkit/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the session.Storage interface using Redis as the backend.
type Store struct {
	client *redis.Client
}

// New creates a new Redis-backed store with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func gameKey(key core.GameKey) string {
	return "game:" + key.String()
}

func ownerGamesKey(owner core.OwnerID) string {
	return fmt.Sprintf("owner:%s:games", owner)
}

func (s *Store) FindGame(ctx context.Context, owner core.OwnerID, slug core.Slug) (core.Game, error) {
	key := core.GameKey{Owner: owner, Slug: slug}
	data, err := s.client.Get(ctx, gameKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Game{}, fmt.Errorf("game %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Game{}, fmt.Errorf("failed to load game %s: %w", key, err)
	}
	var g core.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return core.Game{}, fmt.Errorf("failed to decode game %s: %w", key, err)
	}
	return g, nil
}

func (s *Store) ListGames(ctx context.Context, owner core.OwnerID) ([]core.Game, error) {
	slugs, err := s.client.SMembers(ctx, ownerGamesKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list games for %s: %w", owner, err)
	}
	var out []core.Game
	for _, slug := range slugs {
		g, err := s.FindGame(ctx, owner, core.Slug(slug))
		if errors.Is(err, core.ErrNotFound) {
			// index entry without a record; skip rather than fail the listing
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) SaveGame(ctx context.Context, g core.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode game %s: %w", g.Key, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, gameKey(g.Key), data, 0)
	pipe.SAdd(ctx, ownerGamesKey(g.Key.Owner), string(g.Key.Slug))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save game %s: %w", g.Key, err)
	}
	return nil
}

func (s *Store) DeleteGame(ctx context.Context, owner core.OwnerID, slug core.Slug) error {
	key := core.GameKey{Owner: owner, Slug: slug}
	deleted, err := s.client.Del(ctx, gameKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete game %s: %w", key, err)
	}
	if err := s.client.SRem(ctx, ownerGamesKey(owner), string(slug)).Err(); err != nil {
		return fmt.Errorf("failed to unindex game %s: %w", key, err)
	}
	if deleted == 0 {
		return fmt.Errorf("game %s: %w", key, core.ErrNotFound)
	}
	return nil
}
