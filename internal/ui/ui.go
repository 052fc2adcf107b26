// Package ui renders CLI output: run summaries, validate-only record dumps
// and query results. Colors follow fatih/color, which honours NO_COLOR and
// turns itself off when stdout is not a terminal.
//
//   - Red: failures
//   - Yellow: skipped jobs, warnings
//   - Green: successful runs
//   - Bold: headers
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/fatih/color"
)

// Output formats for record dumps.
const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

// InitColors forces colors off when noColor is set.
func InitColors(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// ValidFormat reports whether f is a supported output format.
func ValidFormat(f string) bool {
	return f == FormatText || f == FormatJSON
}

// Printer writes to one stream.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) header(text string) {
	bold.Fprintln(p.w, text)
	fmt.Fprintln(p.w, strings.Repeat("=", len(text)))
}

// Plan lists jobs in execution order with their dependencies.
func (p *Printer) Plan(title string, jobs []pipeline.Job) {
	p.header(title)
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tJOB\tTABLE\tMODE\tDEPENDS ON")
	for i, j := range jobs {
		deps := "-"
		if len(j.DependsOn) > 0 {
			deps = strings.Join(j.DependsOn, ", ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, j.Name, j.Table, j.Mode, deps)
	}
	tw.Flush()
}

// Summary prints one line per result and the totals.
func (p *Printer) Summary(sum *pipeline.Summary) {
	p.header("Execution summary")
	for _, r := range sum.Results {
		switch {
		case r.DryRun:
			dim.Fprintf(p.w, "- %s would load %s (%s)\n", r.Job, r.Table, r.Mode)
		case r.Skipped:
			yellow.Fprintf(p.w, "⚠ %s skipped: %s\n", r.Job, r.ErrorMessage)
		case r.Err != nil:
			red.Fprintf(p.w, "✗ %s failed from %s after %s: %s\n", r.Job, r.FailedFrom, round(r.Duration()), r.Err)
		case r.ValidateOnly:
			green.Fprintf(p.w, "✓ %s validated %d record(s) in %s\n", r.Job, r.RecordsExtracted, round(r.Duration()))
		default:
			green.Fprintf(p.w, "✓ %s loaded %d row(s) into %s (%s, %d replaced) in %s\n",
				r.Job, r.RowsWritten, r.Table, r.Mode, r.RowsDeleted, round(r.Duration()))
		}
	}
	fmt.Fprintf(p.w, "\nsucceeded: %d  failed: %d  skipped: %d  total time: %s\n",
		len(sum.Succeeded()), len(sum.Failed()), len(sum.Skipped()), round(sum.FinishedAt.Sub(sum.StartedAt)))
}

// Error prints err as "<Kind>: <message>".
func (p *Printer) Error(err error) {
	red.Fprintf(p.w, "%s: %v\n", apperrors.Kind(err), err)
}

type recordDump struct {
	Job     string          `json:"job"`
	Table   string          `json:"table"`
	Count   int             `json:"count"`
	Records []record.Record `json:"records"`
}

// Records dumps the records of validate-only results.
func (p *Printer) Records(results []*pipeline.Result, format string) error {
	if format == FormatJSON {
		dumps := make([]recordDump, 0, len(results))
		for _, r := range results {
			if !r.ValidateOnly {
				continue
			}
			recs := r.Records
			if recs == nil {
				recs = []record.Record{}
			}
			dumps = append(dumps, recordDump{Job: r.Job, Table: r.Table, Count: len(recs), Records: recs})
		}
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(dumps)
	}

	for _, r := range results {
		if !r.ValidateOnly {
			continue
		}
		bold.Fprintf(p.w, "%s -> %s (%d records)\n", r.Job, r.Table, len(r.Records))
		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(r.Columns, "\t"))
		for _, rec := range r.Records {
			cells := make([]string, len(r.Columns))
			for i, c := range r.Columns {
				cells[i] = cell(rec.Get(c))
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(p.w)
	}
	return nil
}

// JSON writes v indented.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table writes a header row and rows, tab-aligned.
func (p *Printer) Table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func cell(v record.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	s := strings.NewReplacer("\t", " ", "\n", " ").Replace(v.Str())
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
