package sqlx_test

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "vttkit/adapters/sqlx"
	"vttkit/core"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_FindGame(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT next_token_id FROM games`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnRows(sqlmock.NewRows([]string{"next_token_id"}).AddRow(2))
	mock.ExpectQuery(`SELECT idx, backing FROM scenes`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnRows(sqlmock.NewRows([]string{"idx", "backing"}).
			AddRow(0, 0).
			AddRow(1, nil))
	mock.ExpectQuery(`SELECT scene_idx, token_id, url, posx, posy, zorder, size, rotate, flipx, locked`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnRows(sqlmock.NewRows([]string{"scene_idx", "token_id", "url", "posx", "posy", "zorder", "size", "rotate", "flipx", "locked"}).
			AddRow(0, 0, "/token/gm/demo/0.png", 0, 0, 0, -1, 0.0, false, false).
			AddRow(1, 1, "/token/gm/demo/0.png", 200, 150, 1, 20, 90.0, true, false))

	g, err := store.FindGame(context.Background(), "gm", "demo")
	require.NoError(t, err)
	require.Len(t, g.Scenes, 2)
	require.NotNil(t, g.Scenes[0].Backing)
	require.Equal(t, 0, *g.Scenes[0].Backing)
	require.Nil(t, g.Scenes[1].Backing)
	require.Equal(t, -1, g.Scenes[0].Tokens[0].Size)
	require.Equal(t, 90.0, g.Scenes[1].Tokens[0].Rotate)
	require.Equal(t, 2, g.NextTokenID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_FindGame_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT next_token_id FROM games`).
		WithArgs(core.OwnerID("gm"), core.Slug("missing")).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindGame(context.Background(), "gm", "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SaveGame_Transactional(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	backing := 0
	g := core.Game{
		Key:         core.GameKey{Owner: "gm", Slug: "demo"},
		NextTokenID: 1,
		Scenes: []core.Scene{{
			Tokens:  []core.Token{{ID: 0, URL: "/token/gm/demo/0.png", Size: -1}},
			Backing: &backing,
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM games`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM scenes`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tokens`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO games`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo"), 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO scenes`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo"), 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tokens`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo"), 0, 0, 0, "/token/gm/demo/0.png", 0, 0, 0, -1, 0.0, false, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveGame(context.Background(), g))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SaveGame_RollbackOnFailure(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM games`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := store.SaveGame(context.Background(), core.Game{Key: core.GameKey{Owner: "gm", Slug: "demo"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DeleteGame(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM games`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM scenes`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tokens`).
		WithArgs(core.OwnerID("gm"), core.Slug("demo")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteGame(context.Background(), "gm", "demo"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DeleteGame_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM games`).
		WithArgs(core.OwnerID("gm"), core.Slug("missing")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM scenes`).
		WithArgs(core.OwnerID("gm"), core.Slug("missing")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM tokens`).
		WithArgs(core.OwnerID("gm"), core.Slug("missing")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.DeleteGame(context.Background(), "gm", "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
