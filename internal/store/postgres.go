// Package store persists validated previews directly into Postgres.
//
// It is the alternative to forwarding saves to the validation service's
// /save endpoint: each preview table is appended to the Postgres table of the
// same name, all tables of one save in a single transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// DB is the subset of *pgxpool.Pool the sink needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Sink implements core.PersistenceService on Postgres.
type Sink struct {
	db     DB
	logger *slog.Logger
}

// NewSink creates a sink over db.
func NewSink(db DB, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{db: db, logger: logger}
}

// EnsureSchema creates any missing catalogue tables.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := s.db.Exec(ctx, tables[name].createSQL()); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

// Save appends previews for sel. Either every row of every table is stored
// or none is.
func (s *Sink) Save(ctx context.Context, sel core.DatasetSelector, previews core.Previews) (string, error) {
	batch, rows, err := buildBatch(sel, previews)
	if err != nil {
		return "", core.NewOperationError(core.OpSave, core.KindRejected, 0, err.Error(), err)
	}

	start := time.Now()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", saveError(err)
	}
	defer tx.Rollback(ctx)

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return "", saveError(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", saveError(err)
	}

	s.logger.Info("previews saved to postgres",
		"dataset", sel, "tables", len(previews), "rows", rows, "duration", time.Since(start))
	return fmt.Sprintf("Saved %d rows", rows), nil
}

// buildBatch queues one INSERT per preview row. Tables outside the dataset,
// columns the table does not store, and cells that do not convert to the
// column type are refused before anything is sent.
func buildBatch(sel core.DatasetSelector, previews core.Previews) (*pgx.Batch, int, error) {
	dataset, ok := core.LookupDataset(sel)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", core.ErrUnknownDataset, sel)
	}

	names := make([]string, 0, len(previews))
	for name := range previews {
		names = append(names, name)
	}
	sort.Strings(names)

	batch := &pgx.Batch{}
	rows := 0
	for _, name := range names {
		table, ok := LookupTable(name)
		if !ok || !dataset.HasTable(name) {
			return nil, 0, fmt.Errorf("table %q does not belong to dataset %s", name, sel)
		}

		stmts := make(map[string]string)
		for i, row := range previews[name] {
			cols := row.Columns()
			if len(cols) == 0 {
				continue
			}
			args := make([]any, len(cols))
			for j, colName := range cols {
				col, ok := table.column(colName)
				if !ok {
					return nil, 0, fmt.Errorf("table %s has no column %q (row %d)", table.Name, colName, i)
				}
				v, _ := row.Get(colName)
				arg, err := columnArg(col, v)
				if err != nil {
					return nil, 0, fmt.Errorf("%s row %d column %s: %w", table.Name, i, colName, err)
				}
				args[j] = arg
			}

			key := strings.Join(cols, "\x00")
			sql, ok := stmts[key]
			if !ok {
				sql = insertSQL(table.Name, cols)
				stmts[key] = sql
			}
			batch.Queue(sql, args...)
			rows++
		}
	}
	return batch, rows, nil
}

func insertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// saveError classifies a database failure the same way a remote save
// failure is classified.
func saveError(err error) *core.OperationError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewOperationError(core.OpSave, core.KindTimeout, 0, "", err)
	case errors.Is(err, context.Canceled):
		return core.NewOperationError(core.OpSave, core.KindCancelled, 0, "", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 22 is bad data, class 23 a constraint violation.
		if strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23") {
			return core.NewOperationError(core.OpSave, core.KindRejected, 0, pgErr.Message, err)
		}
		return core.NewOperationError(core.OpSave, core.KindServiceFault, 0, pgErr.Message, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return core.NewOperationError(core.OpSave, core.KindUnreachable, 0, "Cannot reach the database", err)
	}
	return core.NewOperationError(core.OpSave, core.KindServiceFault, 0, "", err)
}
