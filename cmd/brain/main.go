// Command brain runs the bronze and silver ingestion jobs, the identity
// onboarding and lookups, and the long-running scheduler service.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/ui"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/urfave/cli/v2"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(args); err != nil {
		ui.NewPrinter(stderr).Error(err)
		return apperrors.ExitCode(err)
	}
	return apperrors.ExitOK
}

func newApp(stdout, stderr io.Writer) *cli.App {
	runFlags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "pipeline",
			Usage: "Run only these jobs (repeat or comma-separate)",
		},
		&cli.StringSliceFlag{
			Name:  "skip-pipeline",
			Usage: "Leave out these jobs",
		},
		&cli.BoolFlag{
			Name:  "validate-only",
			Usage: "Extract and validate without loading; print the records",
		},
		&cli.StringFlag{
			Name:  "output-format",
			Usage: "Record output for --validate-only (json, text)",
			Value: ui.FormatText,
		},
		&cli.BoolFlag{
			Name:  "continue-on-error",
			Usage: "Keep running independent jobs after a failure",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Print the execution plan and exit",
		},
	}

	return &cli.App{
		Name:      "brain",
		Usage:     "Bronze/silver ingestion pipeline for chat and workspace data",
		Writer:    stdout,
		ErrWriter: stderr,
		// Errors are printed and mapped to exit codes by run.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{"BRAIN_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Before: func(c *cli.Context) error {
			ui.InitColors(c.Bool("no-color"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "bronze",
				Usage: "Raw extraction jobs",
				Subcommands: []*cli.Command{{
					Name:   "run",
					Usage:  "Extract sources into the bronze tables",
					Flags:  runFlags,
					Action: layerCommand("bronze"),
				}},
			},
			{
				Name:  "silver",
				Usage: "Promotion and identity-resolution jobs",
				Subcommands: []*cli.Command{{
					Name:   "run",
					Usage:  "Promote bronze rows into the silver tables",
					Flags:  runFlags,
					Action: layerCommand("silver"),
				}},
			},
			{
				Name:   "jobs",
				Usage:  "List jobs with their tables, modes and dependencies",
				Action: jobsCommand,
			},
			{
				Name:  "query",
				Usage: "Cross-source lookups over the silver layer",
				Subcommands: []*cli.Command{
					{
						Name:   "projects",
						Usage:  "Projects of one member",
						Action: queryProjectsCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "member", Usage: "Member name"},
							&cli.StringFlag{Name: "discord-id", Usage: "Chat-platform user id"},
							&cli.StringFlag{Name: "notion-id", Usage: "Workspace user id"},
							&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
						},
					},
					{
						Name:   "activity",
						Usage:  "Silver message counts per member",
						Action: queryActivityCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
						},
					},
				},
			},
			{
				Name:  "identity",
				Usage: "Member identity mapping",
				Subcommands: []*cli.Command{{
					Name:   "onboard",
					Usage:  "Upsert members and their platform ids from a YAML file",
					Action: onboardCommand,
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:     "file",
							Aliases:  []string{"f"},
							Usage:    "Members file",
							Required: true,
						},
					},
				}},
			},
			{
				Name:  "checkpoints",
				Usage: "Incremental extraction watermarks",
				Subcommands: []*cli.Command{{
					Name:   "reset",
					Usage:  "Forget watermarks so the next run fetches full history",
					Action: resetCheckpointsCommand,
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "source",
							Usage: "Only this source (e.g. discord_chats); all when empty",
						},
					},
				}},
			},
			{
				Name:   "serve",
				Usage:  "Run the scheduler, the run-event trigger and the ops HTTP server",
				Action: serveCommand,
			},
		},
	}
}

func usageError(format string, args ...any) error {
	return apperrors.New(apperrors.ErrInvalidInput, fmt.Sprintf(format, args...))
}
