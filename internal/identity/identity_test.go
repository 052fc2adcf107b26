package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db/dbtest"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const committeeTable = `CREATE TABLE silver.committee (
	member_id BIGINT NOT NULL PRIMARY KEY,
	name TEXT NOT NULL,
	discord_id TEXT,
	notion_user_id TEXT
)`

func TestLoadMappingAndResolve(t *testing.T) {
	client := dbtest.NewSQLite(t)
	dbtest.Exec(t, client, committeeTable,
		`INSERT INTO silver.committee VALUES (1, 'Ada', '111', NULL), (2, 'Bo', '222', 'n-2'), (3, 'Cy', NULL, 'n-3')`)
	r := NewResolver(client.DB)

	m, err := r.LoadMapping(context.Background(), "silver", "committee", "discord_id", "member_id")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	id, ok := m.Resolve("111")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = m.Resolve("333")
	assert.False(t, ok, "unknown ids resolve to absent")
}

func TestLoadMappingRereadsEveryCall(t *testing.T) {
	client := dbtest.NewSQLite(t)
	dbtest.Exec(t, client, committeeTable, `INSERT INTO silver.committee VALUES (1, 'Ada', '111', NULL)`)
	r := NewResolver(client.DB)
	ctx := context.Background()

	first, err := r.LoadMapping(ctx, "silver", "committee", "discord_id", "member_id")
	require.NoError(t, err)
	_, ok := first.Resolve("222")
	assert.False(t, ok)

	dbtest.Exec(t, client, `INSERT INTO silver.committee VALUES (2, 'Bo', '222', NULL)`)

	second, err := r.LoadMapping(ctx, "silver", "committee", "discord_id", "member_id")
	require.NoError(t, err)
	id, ok := second.Resolve("222")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)
}

func TestLoadMappingErrors(t *testing.T) {
	client := dbtest.NewSQLite(t)
	dbtest.Exec(t, client, committeeTable)
	r := NewResolver(client.DB)
	ctx := context.Background()

	_, err := r.LoadMapping(ctx, "silver", "committee", "discord_id", "member_id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMapping))
	assert.Contains(t, err.Error(), "is empty")

	_, err = r.LoadMapping(ctx, "silver", "nope", "discord_id", "member_id")
	assert.True(t, errors.Is(err, apperrors.ErrMapping))

	_, err = r.LoadMapping(ctx, "silver", "committee", "discord_id; --", "member_id")
	assert.True(t, errors.Is(err, apperrors.ErrMapping))

	dbtest.Exec(t, client, `CREATE TABLE silver.dupes (k TEXT, v BIGINT)`,
		`INSERT INTO silver.dupes VALUES ('x', 1), ('x', 2)`)
	_, err = r.LoadMapping(ctx, "silver", "dupes", "k", "v")
	assert.True(t, errors.Is(err, apperrors.ErrMapping))
	assert.Contains(t, err.Error(), "both 1 and 2")
}

func TestNewMappingCopiesEntries(t *testing.T) {
	src := map[string]int64{"111": 1, "222": 2}
	m := NewMapping("test", src)
	src["333"] = 3

	_, ok := m.Resolve("333")
	assert.False(t, ok)
	id, ok := m.Resolve("111")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestMappingMembersAreDistinct(t *testing.T) {
	m := NewMapping("test", map[string]int64{"333": 3, "111": 1, "112": 1})
	assert.Equal(t, []int64{1, 3}, m.Members())
	assert.Empty(t, Mapping{}.Members())
}

func TestOnboardUpsertsMembers(t *testing.T) {
	client := dbtest.NewSQLite(t)
	dbtest.Exec(t, client, committeeTable)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "members.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
members:
  - member_id: 1
    name: Ada
    discord_id: "111"
  - member_id: 2
    name: Bo
    notion_user_id: n-2
`), 0o600))
	members, err := LoadMembers(path)
	require.NoError(t, err)
	require.Len(t, members, 2)

	n, err := Onboard(ctx, client.DB, client.Dialect, "silver", "committee", members)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	members[0].DiscordID = "999"
	_, err = Onboard(ctx, client.DB, client.Dialect, "silver", "committee", members[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), dbtest.Count(t, client, "silver", "committee"))

	m, err := NewResolver(client.DB).LoadMapping(ctx, "silver", "committee", "discord_id", "member_id")
	require.NoError(t, err)
	id, ok := m.Resolve("999")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestValidateMembers(t *testing.T) {
	err := ValidateMembers([]Member{
		{MemberID: 1, Name: "Ada", DiscordID: "111"},
		{MemberID: 2, Name: "Bo", DiscordID: "111"},
		{MemberID: 2, Name: ""},
		{MemberID: 0, Name: "Zed"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMapping))
	assert.Contains(t, err.Error(), "discord id 111 used by members 1 and 2")
	assert.Contains(t, err.Error(), "duplicate member_id")
	assert.Contains(t, err.Error(), "entry 3")
}
