package staging

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

const defaultBatchSize = 500

// Result reports the outcome of a write.
type Result struct {
	Table       string
	Mode        Mode
	RowsWritten int64
	RowsDeleted int64
}

// Writer loads records into tables created by schema.Manager. It never
// retries; a failed write leaves the table as it was.
type Writer struct {
	dialect   db.Dialect
	batchSize int
	logger    *slog.Logger
}

func NewWriter(dialect db.Dialect, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Writer{
		dialect:   dialect,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "staging-writer"),
	}
}

// Write loads records into def's table in one transaction on conn. In
// replace mode the table ends up holding exactly records; in append mode
// records are added after the existing rows. Records are validated up front
// and any invalid record fails the whole batch. Columns not declared by def
// are ignored.
func (w *Writer) Write(ctx context.Context, conn db.TxBeginner, def *schema.TableDef, records []record.Record, mode Mode) (Result, error) {
	res := Result{Table: def.QualifiedName(), Mode: mode}
	if !mode.Valid() {
		return res, apperrors.Newf(apperrors.ErrWrite, "invalid load mode %q for %s", mode, res.Table)
	}
	if err := db.CheckIdents(append([]string{def.Schema, def.Name}, def.ColumnNames()...)...); err != nil {
		return res, apperrors.Wrap(apperrors.ErrWrite, err, res.Table)
	}
	if err := ValidateRecords(def, records); err != nil {
		return res, apperrors.Wrap(apperrors.ErrWrite, err, "rejecting batch")
	}
	w.logUnknownColumns(def, records)

	var written, deleted int64
	err := db.InTx(ctx, conn, func(tx *sql.Tx) error {
		if mode == ModeReplace {
			r, err := tx.ExecContext(ctx, "DELETE FROM "+db.Qualified(def.Schema, def.Name))
			if err != nil {
				return fmt.Errorf("clearing table: %w", err)
			}
			deleted, _ = r.RowsAffected()
		}
		for _, g := range groupByColumns(def, records) {
			step := w.rowsPerStatement(len(g.columns))
			for start := 0; start < len(g.records); start += step {
				if err := ctx.Err(); err != nil {
					return err
				}
				end := min(start+step, len(g.records))
				n, err := w.insertBatch(ctx, tx, def, g.columns, g.records[start:end])
				if err != nil {
					return fmt.Errorf("inserting %d records: %w", end-start, err)
				}
				written += n
			}
		}
		return nil
	})
	if err != nil {
		msg := "write failed, table unchanged"
		if w.dialect.IsConstraintViolation(err) {
			msg = "constraint violation, table unchanged"
		}
		return res, apperrors.Wrapf(apperrors.ErrWrite, err, "%s: %s", res.Table, msg)
	}

	res.RowsWritten = written
	res.RowsDeleted = deleted
	w.logger.Info("records written",
		"table", res.Table,
		"mode", mode,
		"rows_written", written,
		"rows_replaced", deleted,
	)
	return res, nil
}

func (w *Writer) rowsPerStatement(columns int) int {
	perStmt := w.dialect.MaxParams() / max(1, columns)
	return max(1, min(w.batchSize, perStmt))
}

// columnGroup is a run of records that bind the same column list.
type columnGroup struct {
	columns []schema.Column
	records []record.Record
}

// groupByColumns splits records by which defaulted columns they leave null,
// so those columns are omitted from the INSERT and take their default.
func groupByColumns(def *schema.TableDef, records []record.Record) []*columnGroup {
	var (
		groups []*columnGroup
		byKey  = make(map[string]*columnGroup)
	)
	for _, r := range records {
		var key strings.Builder
		cols := make([]schema.Column, 0, len(def.Columns))
		for _, c := range def.Columns {
			if c.HasDefault && r.Get(c.Name).IsNull() {
				key.WriteString(c.Name)
				key.WriteByte(',')
				continue
			}
			cols = append(cols, c)
		}
		g, ok := byKey[key.String()]
		if !ok {
			g = &columnGroup{columns: cols}
			byKey[key.String()] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, r)
	}
	return groups
}

func (w *Writer) insertBatch(ctx context.Context, tx *sql.Tx, def *schema.TableDef, columns []schema.Column, batch []record.Record) (int64, error) {
	if len(columns) == 0 {
		for range batch {
			if _, err := tx.ExecContext(ctx, "INSERT INTO "+db.Qualified(def.Schema, def.Name)+" DEFAULT VALUES"); err != nil {
				return 0, err
			}
		}
		return int64(len(batch)), nil
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = db.QuoteIdent(c.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", db.Qualified(def.Schema, def.Name), strings.Join(quoted, ", "))
	args := make([]any, 0, len(batch)*len(columns))
	for i, r := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(db.Placeholders(w.dialect, len(args)+1, len(columns)))
		b.WriteByte(')')
		for _, c := range columns {
			args = append(args, columnArg(c, r.Get(c.Name)))
		}
	}

	r, err := tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, err
	}
	n, err := r.RowsAffected()
	if err != nil {
		return int64(len(batch)), nil
	}
	return n, nil
}

func (w *Writer) logUnknownColumns(def *schema.TableDef, records []record.Record) {
	unknown := make(map[string]bool)
	for _, r := range records {
		for col := range r {
			if _, ok := def.Column(col); !ok {
				unknown[col] = true
			}
		}
	}
	if len(unknown) > 0 {
		cols := make([]string, 0, len(unknown))
		for c := range unknown {
			cols = append(cols, c)
		}
		w.logger.Debug("ignoring undeclared columns", "table", def.QualifiedName(), "columns", cols)
	}
}
