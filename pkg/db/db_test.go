package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteNamespacesAttachedOnEveryConnection(t *testing.T) {
	client := dbtest.NewSQLite(t)
	ctx := context.Background()

	c1, err := client.Conn(ctx)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := client.Conn(ctx)
	require.NoError(t, err)
	defer c2.Close()

	for _, conn := range []*sql.Conn{c1, c2} {
		require.NoError(t, client.Dialect.EnsureNamespace(ctx, conn, "bronze"))
		require.NoError(t, client.Dialect.EnsureNamespace(ctx, conn, "silver"))
		assert.Error(t, client.Dialect.EnsureNamespace(ctx, conn, "gold"))
	}

	_, err = c1.ExecContext(ctx, `CREATE TABLE bronze.t (id INTEGER NOT NULL, name TEXT DEFAULT 'x')`)
	require.NoError(t, err)
	cols, err := client.Dialect.Columns(ctx, c2, "bronze", "t")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, db.ColumnInfo{Name: "id", Type: "INTEGER", NotNull: true}, cols[0])
	assert.True(t, cols[1].HasDefault)

	missing, err := client.Dialect.Columns(ctx, c2, "bronze", "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestInTxRollsBackOnError(t *testing.T) {
	client := dbtest.NewSQLite(t)
	dbtest.Exec(t, client, `CREATE TABLE bronze.t (id INTEGER NOT NULL)`)
	ctx := context.Background()

	boom := errors.New("boom")
	err := client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO bronze.t (id) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), dbtest.Count(t, client, "bronze", "t"))

	require.NoError(t, client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO bronze.t (id) VALUES (1)`)
		return err
	}))
	assert.Equal(t, int64(1), dbtest.Count(t, client, "bronze", "t"))
}

func TestConstraintViolationAndQueryMaps(t *testing.T) {
	client := dbtest.NewSQLite(t)
	dbtest.Exec(t, client,
		`CREATE TABLE bronze.t (id INTEGER NOT NULL, name TEXT)`,
		`INSERT INTO bronze.t (id, name) VALUES (1, 'a'), (2, NULL)`,
	)
	ctx := context.Background()

	_, err := client.DB.ExecContext(ctx, `INSERT INTO bronze.t (id) VALUES (NULL)`)
	require.Error(t, err)
	assert.True(t, client.Dialect.IsConstraintViolation(err))
	assert.False(t, client.Dialect.IsConstraintViolation(errors.New("other")))

	rows, err := db.QueryMaps(ctx, client.DB, `SELECT id, name FROM bronze.t ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "a", rows[0]["name"])
	assert.Nil(t, rows[1]["name"])
}

func TestIdentifiers(t *testing.T) {
	assert.True(t, db.ValidIdent("discord_chats"))
	assert.False(t, db.ValidIdent("chats; DROP TABLE x"))
	assert.Error(t, db.CheckIdents("bronze", "1abc"))
	assert.Equal(t, `"bronze"."discord_chats"`, db.Qualified("bronze", "discord_chats"))
	assert.Equal(t, "$1, $2, $3", db.Placeholders(db.Postgres{}, 1, 3))
	assert.Equal(t, "?, ?", db.Placeholders(db.SQLite{}, 4, 2))
}
