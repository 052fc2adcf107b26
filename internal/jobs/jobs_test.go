package jobs

import (
	"slices"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract/discord"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract/notion"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db/dbtest"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Discord.Token, cfg.Discord.GuildID = "", ""
	cfg.Notion.Token, cfg.Notion.CommitteeDatabaseID, cfg.Notion.ProjectsDatabaseID = "", "", ""
	return cfg
}

func build(t *testing.T, cfg *config.Config) *Catalog {
	t.Helper()
	client := dbtest.NewSQLite(t)
	cat, err := Build(cfg, Deps{Store: client.DB, Checkpoints: checkpoint.NewMemoryStore(), Metrics: metrics.New(nil)})
	require.NoError(t, err)
	return cat
}

func names(jobs []pipeline.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

func TestBuildWithoutCredentials(t *testing.T) {
	cat := build(t, testConfig(t))

	assert.Len(t, cat.Jobs(), len(definitions))
	assert.Equal(t, []string{DiscordChannels, DiscordChats, DiscordReactions, NotionCommittee, NotionProjects}, cat.Layer(Bronze))
	assert.Equal(t, []string{DiscordChannels, DiscordChats, DiscordReactions, NotionCommittee, NotionProjects}, cat.Unavailable())

	silverJobs, err := cat.Plan(cat.Layer(Silver), nil)
	require.NoError(t, err)
	assert.NoError(t, cat.Check(silverJobs))

	chats, ok := cat.Get(DiscordChats)
	require.True(t, ok)
	err = cat.Check([]pipeline.Job{chats})
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "discord.token")

	_, err = chats.Extractor.Fetch(t.Context(), config.ExtractConfig{MaxAttempts: 1}.RetryConfig())
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestBuildWithCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Discord.Token, cfg.Discord.GuildID = "token", "42"
	cfg.Notion.Token = "secret"
	cfg.Notion.ProjectsDatabaseID = "projects-db"
	cat := build(t, cfg)

	assert.Equal(t, []string{NotionCommittee}, cat.Unavailable())

	chats, _ := cat.Get(DiscordChats)
	assert.IsType(t, &discord.MessagesExtractor{}, chats.Extractor)
	assert.Equal(t, staging.ModeAppend, chats.Mode)
	assert.Equal(t, "bronze.discord_chats", chats.Table.String())

	projects, _ := cat.Get(NotionProjects)
	assert.IsType(t, &notion.DatabaseExtractor{}, projects.Extractor)
}

func TestModeOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs = map[string]config.JobConfig{DiscordChats: {Mode: "replace"}}
	cat := build(t, cfg)
	chats, _ := cat.Get(DiscordChats)
	assert.Equal(t, staging.ModeReplace, chats.Mode)

	cfg.Jobs = map[string]config.JobConfig{"ghost": {Mode: "append"}}
	_, err := Build(cfg, Deps{Metrics: metrics.New(nil)})
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	cfg.Jobs = map[string]config.JobConfig{DiscordChats: {Mode: "upsert"}}
	_, err = Build(cfg, Deps{Metrics: metrics.New(nil)})
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestPlanOrdersDependencies(t *testing.T) {
	cat := build(t, testConfig(t))

	jobs, err := cat.Plan([]string{SilverProjectMembers, SilverProjects, NotionProjects}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{NotionProjects, SilverProjects, SilverProjectMembers}, names(jobs))

	deps := names(cat.Dependents(DiscordChats))
	assert.ElementsMatch(t, []string{DiscordReactions, SilverMessages}, deps)

	jobs, err = cat.Plan([]string{SilverReactions}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{SilverReactions}, names(jobs))

	jobs, err = cat.Plan(cat.Layer(Silver), nil)
	require.NoError(t, err)
	order := names(jobs)
	assert.Less(t, slices.Index(order, SilverMessages), slices.Index(order, SilverReactions))
	assert.Less(t, slices.Index(order, SilverComponents), slices.Index(order, SilverComponentMembers))

	reactions, _ := cat.Get(SilverReactions)
	assert.Equal(t, "silver.internal_msg_reactions", reactions.Table.String())
	members, _ := cat.Get(SilverComponentMembers)
	assert.Equal(t, "silver.internal_msg_members", members.Table.String())
}
