// Package sqlite serves a local SQLite database as the remote warehouse, for
// offline runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"ratingcast/internal/logging"
	"ratingcast/internal/table"
	"ratingcast/internal/warehouse"
)

// Gateway reads and writes tables of one SQLite database.
type Gateway struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens the database at dsn.
func Open(dsn string) (*Gateway, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Gateway{db: db, log: logging.New("warehouse.sqlite")}, nil
}

// Close closes the database.
func (g *Gateway) Close() error { return g.db.Close() }

// quote renders id ("table" or "schema.table") as a quoted identifier.
func quote(id string) (string, error) {
	parts, err := warehouse.SplitID(id)
	if err != nil {
		return "", err
	}
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, "."), nil
}

// Fetch reads the whole table.
func (g *Gateway) Fetch(ctx context.Context, id string) (*table.Table, error) {
	var out *table.Table
	err := g.FetchPages(ctx, id, 0, func(page *table.Table) error {
		out = page
		return nil
	})
	return out, err
}

// FetchPages reads the table pageSize rows at a time in rowid order. A
// pageSize of zero reads everything in one page.
func (g *Gateway) FetchPages(ctx context.Context, id string, pageSize int, fn func(*table.Table) error) error {
	name, err := quote(id)
	if err != nil {
		return err
	}
	for offset, pages := 0, 0; ; pages++ {
		q := "SELECT * FROM " + name + " ORDER BY rowid"
		args := []any{}
		if pageSize > 0 {
			q += " LIMIT ? OFFSET ?"
			args = append(args, pageSize, offset)
		}
		page, err := g.query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("read %s: %w", id, err)
		}
		if page.Len() == 0 && pages > 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		g.log.Debug("page read", "table", id, "page", pages, "rows", page.Len())
		if pageSize <= 0 || page.Len() < pageSize {
			return nil
		}
		offset += pageSize
	}
}

func (g *Gateway) query(ctx context.Context, q string, args ...any) (*table.Table, error) {
	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	schema := make([]table.Field, len(types))
	for i, ct := range types {
		schema[i] = table.Field{Name: ct.Name(), Kind: kindOf(ct.DatabaseTypeName())}
	}
	b := table.NewBuilder(schema)
	vals := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if err := b.Append(vals); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.Table()
}

// kindOf maps a declared SQLite column type to a column kind using SQLite's
// affinity rules, with date-like names read as timestamps.
func kindOf(decl string) table.Kind {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return table.Time
	case strings.Contains(d, "INT"), strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"),
		strings.Contains(d, "DOUB"), strings.Contains(d, "NUM"), strings.Contains(d, "DEC"),
		strings.Contains(d, "BOOL"):
		return table.Float
	default:
		return table.String
	}
}

func declOf(k table.Kind) string {
	switch k {
	case table.Float:
		return "REAL"
	case table.Time:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// Exists reports whether a table or view named id exists.
func (g *Gateway) Exists(ctx context.Context, id string) (bool, error) {
	parts, err := warehouse.SplitID(id)
	if err != nil {
		return false, err
	}
	master := "sqlite_master"
	if len(parts) >= 2 {
		master = `"` + strings.ReplaceAll(parts[len(parts)-2], `"`, `""`) + `".sqlite_master`
	}
	var n int
	err = g.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+master+" WHERE type IN ('table', 'view') AND name = ?",
		parts[len(parts)-1],
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return n > 0, nil
}

// ErrExists is returned by Write when the table is already present.
var ErrExists = errors.New("table already exists")

// Write creates table id and inserts every row of t in one transaction. An
// existing table is never replaced.
func (g *Gateway) Write(ctx context.Context, id string, t *table.Table) error {
	name, err := quote(id)
	if err != nil {
		return err
	}
	if ok, err := g.Exists(ctx, id); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("write %s: %w", id, ErrExists)
	}

	cols := make([]string, t.Width())
	marks := make([]string, t.Width())
	for j, f := range warehouse.Schema(t) {
		cols[j] = `"` + strings.ReplaceAll(f.Name, `"`, `""`) + `" ` + declOf(f.Kind)
		marks[j] = "?"
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write %s: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+name+" ("+strings.Join(cols, ", ")+")"); err != nil {
		return fmt.Errorf("write %s: create: %w", id, err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+name+" VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return fmt.Errorf("write %s: prepare: %w", id, err)
	}
	defer stmt.Close()
	for i := 0; i < t.Len(); i++ {
		if _, err := stmt.ExecContext(ctx, warehouse.Row(t, i)...); err != nil {
			return fmt.Errorf("write %s: row %d: %w", id, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write %s: commit: %w", id, err)
	}
	g.log.Info("table written", "table", id, "rows", t.Len())
	return nil
}
