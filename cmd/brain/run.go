package main

import (
	"context"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/ui"
	"github.com/urfave/cli/v2"
)

// layerCommand runs the jobs of one layer in dependency order.
func layerCommand(layer string) cli.ActionFunc {
	return func(c *cli.Context) error {
		format := c.String("output-format")
		if !ui.ValidFormat(format) {
			return usageError("--output-format must be json or text, got %q", format)
		}

		e, err := newEnv(c)
		if err != nil {
			return err
		}
		defer e.close()

		requested := splitList(c.StringSlice("pipeline"))
		inLayer := e.catalog.Layer(layer)
		for _, name := range requested {
			if _, ok := e.catalog.Get(name); ok && !slices.Contains(inLayer, name) {
				return usageError("job %s is not a %s job", name, layer)
			}
		}
		if len(requested) == 0 {
			requested = inLayer
		}
		plan, err := e.catalog.Plan(requested, splitList(c.StringSlice("skip-pipeline")))
		if err != nil {
			return err
		}

		out := ui.NewPrinter(c.App.Writer)
		opts := pipeline.RunOptions{
			ValidateOnly:    c.Bool("validate-only"),
			DryRun:          c.Bool("dry-run"),
			ContinueOnError: c.Bool("continue-on-error"),
		}
		if opts.DryRun {
			out.Plan(layer+" plan", plan)
			return nil
		}
		if err := e.catalog.Check(plan); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sum := e.runner.RunAll(ctx, plan, opts)
		if opts.ValidateOnly {
			if err := out.Records(sum.Results, format); err != nil {
				return err
			}
		} else {
			out.Summary(sum)
			e.pushMetrics(context.WithoutCancel(ctx))
		}
		return sum.Err()
	}
}

// splitList flattens repeated and comma-separated flag values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
