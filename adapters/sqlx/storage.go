// Package sqlx implements the durable store on a SQL database.
// Schema (three tables, one logical game per (owner, slug)):
//
//	games(owner, slug, next_token_id)
//	scenes(owner, slug, idx, backing NULL)
//	tokens(owner, slug, scene_idx, ord, token_id, url, posx, posy, zorder, size, rotate, flipx, locked)
//
// SaveGame rewrites the whole record inside one transaction, so readers
// never observe a half-written scene/token graph.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"vttkit/core"
)

// Driver identifies the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		DSN:             "",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements the session.Storage interface over database/sql via sqlx.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool from the configuration.
func New(config Config) (*Store, error) {
	db, err := sqlx.Open(string(config.Driver), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db, driver: config.Driver}, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type sceneRow struct {
	Idx     int           `db:"idx"`
	Backing sql.NullInt64 `db:"backing"`
}

type tokenRow struct {
	SceneIdx int     `db:"scene_idx"`
	TokenID  int     `db:"token_id"`
	URL      string  `db:"url"`
	PosX     int     `db:"posx"`
	PosY     int     `db:"posy"`
	ZOrder   int     `db:"zorder"`
	Size     int     `db:"size"`
	Rotate   float64 `db:"rotate"`
	FlipX    bool    `db:"flipx"`
	Locked   bool    `db:"locked"`
}

func (s *Store) FindGame(ctx context.Context, owner core.OwnerID, slug core.Slug) (core.Game, error) {
	key := core.GameKey{Owner: owner, Slug: slug}
	g := core.Game{Key: key}

	var nextTokenID int
	err := s.db.GetContext(ctx, &nextTokenID,
		s.db.Rebind(`SELECT next_token_id FROM games WHERE owner = ? AND slug = ?`), owner, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Game{}, fmt.Errorf("game %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Game{}, fmt.Errorf("failed to load game %s: %w", key, err)
	}
	g.NextTokenID = nextTokenID

	var scenes []sceneRow
	err = s.db.SelectContext(ctx, &scenes,
		s.db.Rebind(`SELECT idx, backing FROM scenes WHERE owner = ? AND slug = ? ORDER BY idx`), owner, slug)
	if err != nil {
		return core.Game{}, fmt.Errorf("failed to load scenes for %s: %w", key, err)
	}
	g.Scenes = make([]core.Scene, len(scenes))
	for _, row := range scenes {
		if row.Backing.Valid {
			b := int(row.Backing.Int64)
			g.Scenes[row.Idx].Backing = &b
		}
	}

	var tokens []tokenRow
	err = s.db.SelectContext(ctx, &tokens,
		s.db.Rebind(`SELECT scene_idx, token_id, url, posx, posy, zorder, size, rotate, flipx, locked
			FROM tokens WHERE owner = ? AND slug = ? ORDER BY scene_idx, ord`), owner, slug)
	if err != nil {
		return core.Game{}, fmt.Errorf("failed to load tokens for %s: %w", key, err)
	}
	for _, row := range tokens {
		if row.SceneIdx < 0 || row.SceneIdx >= len(g.Scenes) {
			continue
		}
		g.Scenes[row.SceneIdx].Tokens = append(g.Scenes[row.SceneIdx].Tokens, core.Token{
			ID:     row.TokenID,
			URL:    row.URL,
			PosX:   row.PosX,
			PosY:   row.PosY,
			ZOrder: row.ZOrder,
			Size:   row.Size,
			Rotate: row.Rotate,
			FlipX:  row.FlipX,
			Locked: row.Locked,
		})
	}
	return g, nil
}

func (s *Store) ListGames(ctx context.Context, owner core.OwnerID) ([]core.Game, error) {
	var slugs []string
	err := s.db.SelectContext(ctx, &slugs,
		s.db.Rebind(`SELECT slug FROM games WHERE owner = ? ORDER BY slug`), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list games for %s: %w", owner, err)
	}
	var out []core.Game
	for _, slug := range slugs {
		g, err := s.FindGame(ctx, owner, core.Slug(slug))
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) SaveGame(ctx context.Context, g core.Game) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	owner, slug := g.Key.Owner, g.Key.Slug

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM games WHERE owner = ? AND slug = ?`), owner, slug); err != nil {
		return fmt.Errorf("failed to clear game row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM scenes WHERE owner = ? AND slug = ?`), owner, slug); err != nil {
		return fmt.Errorf("failed to clear scenes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM tokens WHERE owner = ? AND slug = ?`), owner, slug); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO games (owner, slug, next_token_id) VALUES (?, ?, ?)`),
		owner, slug, g.NextTokenID); err != nil {
		return fmt.Errorf("failed to insert game row: %w", err)
	}
	for idx, sc := range g.Scenes {
		var backing sql.NullInt64
		if sc.Backing != nil {
			backing = sql.NullInt64{Int64: int64(*sc.Backing), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO scenes (owner, slug, idx, backing) VALUES (?, ?, ?, ?)`),
			owner, slug, idx, backing); err != nil {
			return fmt.Errorf("failed to insert scene %d: %w", idx, err)
		}
		for ord, tok := range sc.Tokens {
			if _, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO tokens (owner, slug, scene_idx, ord, token_id, url, posx, posy, zorder, size, rotate, flipx, locked)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				owner, slug, idx, ord, tok.ID, tok.URL, tok.PosX, tok.PosY, tok.ZOrder,
				tok.Size, tok.Rotate, tok.FlipX, tok.Locked); err != nil {
				return fmt.Errorf("failed to insert token %d: %w", tok.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit game %s: %w", g.Key, err)
	}
	return nil
}

func (s *Store) DeleteGame(ctx context.Context, owner core.OwnerID, slug core.Slug) error {
	key := core.GameKey{Owner: owner, Slug: slug}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM games WHERE owner = ? AND slug = ?`), owner, slug)
	if err != nil {
		return fmt.Errorf("failed to delete game %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM scenes WHERE owner = ? AND slug = ?`), owner, slug); err != nil {
		return fmt.Errorf("failed to delete scenes for %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM tokens WHERE owner = ? AND slug = ?`), owner, slug); err != nil {
		return fmt.Errorf("failed to delete tokens for %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", key, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("game %s: %w", key, core.ErrNotFound)
	}
	return nil
}
