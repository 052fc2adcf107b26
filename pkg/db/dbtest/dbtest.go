// Package dbtest opens throwaway SQLite stores with the bronze and silver
// namespaces attached, for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/stretchr/testify/require"
)

// NewSQLite returns a client backed by files under t.TempDir().
func NewSQLite(t testing.TB) *db.Client {
	t.Helper()
	client, err := db.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "brain.db"),
		MaxOpenConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// Exec runs statements against client and fails the test on error.
func Exec(t testing.TB, client *db.Client, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := client.DB.Exec(s)
		require.NoError(t, err, s)
	}
}

// Count returns the row count of schema.table.
func Count(t testing.TB, client *db.Client, schema, table string) int64 {
	t.Helper()
	n, err := db.CountRows(t.Context(), client.DB, schema, table)
	require.NoError(t, err)
	return n
}
