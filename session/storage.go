package session

import (
	"context"

	"vttkit/core"
)

// Storage abstracts the durable store holding game records. Implementations
// must return core.ErrNotFound (wrapped is fine) for unknown games and
// commit SaveGame transactionally: a reader never observes a half-written
// scene/token graph.
type Storage interface {
	FindGame(ctx context.Context, owner core.OwnerID, slug core.Slug) (core.Game, error)
	ListGames(ctx context.Context, owner core.OwnerID) ([]core.Game, error)
	SaveGame(ctx context.Context, g core.Game) error
	DeleteGame(ctx context.Context, owner core.OwnerID, slug core.Slug) error
}
