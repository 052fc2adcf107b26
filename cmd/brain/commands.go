package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/ddl"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/silver"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/ui"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/redis"
	"github.com/urfave/cli/v2"
)

const (
	committeeSchema = "silver"
	committeeTable  = "committee"
)

func jobsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cat, err := jobs.Build(cfg, jobs.Deps{Metrics: metrics.New(nil)})
	if err != nil {
		return err
	}
	plan, err := cat.Plan(nil, nil)
	if err != nil {
		return err
	}
	unavailable := cat.Unavailable()

	rows := make([][]string, 0, len(plan))
	for _, j := range plan {
		deps := "-"
		if len(j.DependsOn) > 0 {
			deps = strings.Join(j.DependsOn, ",")
		}
		status := "ready"
		if slices.Contains(unavailable, j.Name) {
			status = "not configured"
		}
		schedule := cfg.Schedules[j.Name]
		if schedule == "" {
			schedule = "-"
		}
		rows = append(rows, []string{j.Name, j.Layer, j.Table.String(), string(j.Mode), deps, schedule, status})
	}
	return ui.NewPrinter(c.App.Writer).Table(
		[]string{"JOB", "LAYER", "TABLE", "MODE", "DEPENDS ON", "SCHEDULE", "STATUS"}, rows)
}

func queryProjectsCommand(c *cli.Context) error {
	var set []string
	for _, f := range []string{"member", "discord-id", "notion-id"} {
		if c.String(f) != "" {
			set = append(set, "--"+f)
		}
	}
	if len(set) != 1 {
		return usageError("exactly one of --member, --discord-id or --notion-id is required")
	}

	cfg, client, err := openStore(c)
	if err != nil {
		return err
	}
	defer client.Close()

	q := silver.NewQueries(client.DB, client.Dialect, cfg.Identity)
	var projects []silver.Project
	switch {
	case c.String("member") != "":
		projects, err = q.ProjectsByMember(c.Context, c.String("member"))
	case c.String("discord-id") != "":
		projects, err = q.ProjectsByExternalID(c.Context, "discord", c.String("discord-id"))
	default:
		projects, err = q.ProjectsByExternalID(c.Context, "notion", c.String("notion-id"))
	}
	if err != nil {
		return err
	}

	out := ui.NewPrinter(c.App.Writer)
	if c.Bool("json") {
		if projects == nil {
			projects = []silver.Project{}
		}
		return out.JSON(projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(c.App.Writer, "no projects found")
		return nil
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		progress, due := "-", "-"
		if p.Progress != nil {
			progress = strconv.FormatFloat(*p.Progress*100, 'f', 0, 64) + "%"
		}
		if p.EndDate != nil {
			due = p.EndDate.Format("2006-01-02")
		} else if p.StartDate != nil {
			due = p.StartDate.Format("2006-01-02")
		}
		rows = append(rows, []string{p.ID, p.Name, p.Type, p.Priority, progress, due, strings.Join(p.Roles, ",")})
	}
	return out.Table([]string{"PROJECT", "NAME", "TYPE", "PRIORITY", "PROGRESS", "DUE", "ROLES"}, rows)
}

func queryActivityCommand(c *cli.Context) error {
	cfg, client, err := openStore(c)
	if err != nil {
		return err
	}
	defer client.Close()

	counts, err := silver.NewQueries(client.DB, client.Dialect, cfg.Identity).MessageCounts(c.Context)
	if err != nil {
		return err
	}
	out := ui.NewPrinter(c.App.Writer)
	if c.Bool("json") {
		return out.JSON(counts)
	}
	rows := make([][]string, 0, len(counts))
	for _, a := range counts {
		rows = append(rows, []string{strconv.FormatInt(a.MemberID, 10), a.Name, strconv.FormatInt(a.Messages, 10)})
	}
	return out.Table([]string{"MEMBER", "NAME", "MESSAGES"}, rows)
}

func onboardCommand(c *cli.Context) error {
	members, err := identity.LoadMembers(c.String("file"))
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return usageError("%s lists no members", c.String("file"))
	}

	cfg, client, err := openStore(c)
	if err != nil {
		return err
	}
	defer client.Close()

	stmt, err := ddl.Source{Dir: cfg.DDLDir}.Statement(committeeSchema, committeeTable)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, err, "committee ddl")
	}
	if _, err := schema.NewManager(client.Dialect).Ensure(c.Context, client.DB, stmt, committeeSchema, committeeTable); err != nil {
		return err
	}
	n, err := identity.Onboard(c.Context, client.DB, client.Dialect, committeeSchema, committeeTable, members)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "onboarded %d member(s) into %s.%s\n", n, committeeSchema, committeeTable)
	return nil
}

func resetCheckpointsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return apperrors.New(apperrors.ErrConfig, "redis is disabled; watermarks are not persisted")
	}
	rc, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, err, "connecting to redis")
	}
	defer rc.Close()

	source := c.String("source")
	n, err := checkpoint.NewRedisStore(rc, cfg.Redis.KeyPrefix).Reset(c.Context, source)
	if err != nil {
		return err
	}
	if source == "" {
		source = "all sources"
	}
	fmt.Fprintf(c.App.Writer, "reset %d watermark key(s) for %s\n", n, source)
	return nil
}
