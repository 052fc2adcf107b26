// Package jobs assembles the bronze and silver jobs of a deployment from
// its configuration.
package jobs

import (
	"context"
	"errors"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/ddl"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract/discord"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract/notion"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/silver"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// Layers.
const (
	Bronze = "bronze"
	Silver = "silver"
)

// Job names.
const (
	DiscordChannels      = "discord_channels"
	DiscordChats         = "discord_chats"
	DiscordReactions     = "discord_reactions"
	NotionCommittee      = "notion_committee"
	NotionProjects       = "notion_projects"
	SilverComponents     = "silver_components"
	SilverMessages       = "silver_messages"
	SilverProjects       = "silver_projects"
	SilverProjectMembers = "silver_project_members"

	SilverReactions        = "silver_reactions"
	SilverComponentMembers = "silver_component_members"
)

// definition is the static shape of one job. Only the load mode is configurable.
type definition struct {
	name    string
	layer   string
	schema  string
	table   string
	mode    staging.Mode
	depends []string
}

var definitions = []definition{
	{DiscordChannels, Bronze, "bronze", "discord_channels", staging.ModeReplace, nil},
	{DiscordChats, Bronze, "bronze", "discord_chats", staging.ModeAppend, []string{DiscordChannels}},
	{DiscordReactions, Bronze, "bronze", "discord_reactions", staging.ModeReplace, []string{DiscordChats}},
	{NotionCommittee, Bronze, "bronze", "notion_committee", staging.ModeReplace, nil},
	{NotionProjects, Bronze, "bronze", "notion_projects", staging.ModeReplace, nil},
	{SilverComponents, Silver, "silver", "internal_msg_component", staging.ModeReplace, []string{DiscordChannels}},
	{SilverMessages, Silver, "silver", "internal_msg_messages", staging.ModeReplace, []string{DiscordChats, SilverComponents}},
	{SilverReactions, Silver, "silver", "internal_msg_reactions", staging.ModeReplace, []string{DiscordReactions, SilverMessages}},
	{SilverComponentMembers, Silver, "silver", "internal_msg_members", staging.ModeReplace, []string{SilverComponents}},
	{SilverProjects, Silver, "silver", "project", staging.ModeReplace, []string{NotionProjects}},
	{SilverProjectMembers, Silver, "silver", "project_members", staging.ModeReplace, []string{NotionProjects, SilverProjects}},
}

// Deps are the shared services extractors are built on.
type Deps struct {
	Store       db.DBTX
	Checkpoints checkpoint.Store
	Metrics     *metrics.Metrics
}

// Catalog is the registry of a deployment plus the jobs that cannot run
// because their source is not configured.
type Catalog struct {
	*pipeline.Registry
	unavailable map[string]error
}

// Build registers every job. Jobs whose source credentials are missing are
// still registered, so dependency planning works, but Check rejects them.
func Build(cfg *config.Config, deps Deps) (*Catalog, error) {
	extractors, unavailable, err := buildExtractors(cfg, deps)
	if err != nil {
		return nil, err
	}

	src := ddl.Source{Dir: cfg.DDLDir}
	reg := pipeline.NewRegistry()
	for _, s := range definitions {
		stmt, err := src.Statement(s.schema, s.table)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, err, s.name)
		}
		mode := s.mode
		if m := cfg.JobMode(s.name); m != "" {
			if mode, err = staging.ParseMode(m); err != nil {
				return nil, apperrors.Wrapf(apperrors.ErrConfig, err, "jobs.%s.mode", s.name)
			}
		}
		job := pipeline.Job{
			Name:      s.name,
			Layer:     s.layer,
			Extractor: extractors[s.name],
			Table:     pipeline.Table{Schema: s.schema, Name: s.table, DDL: stmt},
			Mode:      mode,
			DependsOn: s.depends,
		}
		if err := reg.Register(job); err != nil {
			return nil, err
		}
	}
	for name := range cfg.Jobs {
		if _, ok := reg.Get(name); !ok {
			return nil, apperrors.Newf(apperrors.ErrConfig, "jobs.%s: unknown job", name)
		}
	}
	if _, err := reg.Plan(nil, nil); err != nil {
		return nil, err
	}
	return &Catalog{Registry: reg, unavailable: unavailable}, nil
}

// Check returns a configuration error naming every job in jobs whose
// source is not configured.
func (c *Catalog) Check(jobs []pipeline.Job) error {
	var errs []error
	for _, j := range jobs {
		if err, ok := c.unavailable[j.Name]; ok {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrConfig, errors.Join(errs...), "jobs cannot run")
}

// Unavailable lists the jobs Check would reject.
func (c *Catalog) Unavailable() []string {
	out := make([]string, 0, len(c.unavailable))
	for name := range c.unavailable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func buildExtractors(cfg *config.Config, deps Deps) (map[string]extract.Extractor, map[string]error, error) {
	out := make(map[string]extract.Extractor, len(definitions))
	unavailable := make(map[string]error)
	missing := func(name, what string) {
		err := apperrors.Newf(apperrors.ErrConfig, "%s: %s is not configured", name, what)
		unavailable[name] = err
		out[name] = unconfigured{name: name, err: err}
	}

	if cfg.Discord.Token == "" || cfg.Discord.GuildID == "" {
		for _, n := range []string{DiscordChannels, DiscordChats, DiscordReactions} {
			missing(n, "discord.token and discord.guildId")
		}
	} else {
		src := discord.NewSource(cfg.Discord, cfg.Extract, deps.Metrics)
		out[DiscordChannels] = discord.NewChannelsExtractor(src)
		out[DiscordChats] = discord.NewMessagesExtractor(src, deps.Checkpoints)
		out[DiscordReactions] = discord.NewReactionsExtractor(src, cfg.Discord.ReactionMessagesPerChan)
	}

	if cfg.Notion.Token == "" {
		missing(NotionCommittee, "notion.token")
		missing(NotionProjects, "notion.token")
	} else {
		src := notion.NewSource(cfg.Notion, cfg.Extract, deps.Metrics)
		for _, nd := range []struct {
			name  string
			id    string
			props map[string]string
		}{
			{NotionCommittee, cfg.Notion.CommitteeDatabaseID, cfg.Notion.CommitteeProperties},
			{NotionProjects, cfg.Notion.ProjectsDatabaseID, cfg.Notion.ProjectProperties},
		} {
			if nd.id == "" {
				missing(nd.name, "the database id")
				continue
			}
			e, err := notion.NewDatabaseExtractor(nd.name, src, nd.id, nd.props)
			if err != nil {
				return nil, nil, err
			}
			out[nd.name] = e
		}
	}

	out[SilverComponents] = silver.NewComponents(deps.Store, cfg.Silver.ComponentTypes)
	out[SilverMessages] = silver.NewMessages(deps.Store, cfg.Identity, deps.Metrics)
	out[SilverReactions] = silver.NewReactions(deps.Store, cfg.Identity, deps.Metrics)
	out[SilverComponentMembers] = silver.NewComponentMembers(deps.Store, cfg.Identity)
	out[SilverProjects] = silver.NewProjects(deps.Store)
	out[SilverProjectMembers] = silver.NewProjectMembers(deps.Store, cfg.Identity, deps.Metrics)
	return out, unavailable, nil
}

// unconfigured stands in for an extractor whose source has no credentials.
type unconfigured struct {
	name string
	err  error
}

func (u unconfigured) Name() string { return u.name }

func (u unconfigured) Fetch(context.Context, resilience.RetryConfig) (*extract.RawPayload, error) {
	return nil, u.err
}

func (u unconfigured) Transform(*extract.RawPayload) ([]record.Record, error) {
	return nil, u.err
}
