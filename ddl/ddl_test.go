package ddl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryStatementParsesForItsTable(t *testing.T) {
	tables := Tables()
	require.Contains(t, tables, "bronze.discord_chats")
	require.Contains(t, tables, "silver.committee")

	for _, name := range tables {
		t.Run(name, func(t *testing.T) {
			schemaName, table, _ := strings.Cut(name, ".")
			stmt := MustStatement(schemaName, table)
			def, err := schema.ParseDDL(stmt)
			require.NoError(t, err)
			assert.Equal(t, name, def.Schema+"."+def.Name)
		})
	}
}

func TestSourceOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bronze"), 0o755))
	custom := "CREATE TABLE IF NOT EXISTS bronze.discord_chats (message_id TEXT NOT NULL);"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bronze", "discord_chats.sql"), []byte(custom), 0o644))

	src := Source{Dir: dir}
	got, err := src.Statement("bronze", "discord_chats")
	require.NoError(t, err)
	assert.Equal(t, custom, got)

	// Tables without an override fall back to the embedded files.
	got, err = src.Statement("silver", "project")
	require.NoError(t, err)
	assert.Equal(t, MustStatement("silver", "project"), got)

	_, err = Statement("bronze", "nope")
	assert.Error(t, err)
}
