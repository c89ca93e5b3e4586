// Package postgres serves a PostgreSQL database as the remote warehouse.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ratingcast/internal/logging"
	"ratingcast/internal/table"
	"ratingcast/internal/warehouse"
)

// ErrExists is returned by Write when the table is already present.
var ErrExists = errors.New("table already exists")

// Gateway reads and writes tables of one PostgreSQL database.
type Gateway struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects to the database at dsn.
func Open(ctx context.Context, dsn string) (*Gateway, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Gateway{pool: pool, log: logging.New("warehouse.postgres")}, nil
}

// Close releases every pooled connection.
func (g *Gateway) Close() error {
	g.pool.Close()
	return nil
}

// identifier turns "table", "schema.table" or "db.schema.table" into a
// pgx identifier; a leading database name is dropped.
func identifier(id string) (pgx.Identifier, error) {
	parts, err := warehouse.SplitID(id)
	if err != nil {
		return nil, err
	}
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return pgx.Identifier(parts), nil
}

// Fetch reads the whole table in one query.
func (g *Gateway) Fetch(ctx context.Context, id string) (*table.Table, error) {
	ident, err := identifier(id)
	if err != nil {
		return nil, err
	}
	rows, err := g.pool.Query(ctx, "SELECT * FROM "+ident.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	defer rows.Close()
	out, _, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return out, nil
}

// FetchPages streams the table through a server-side cursor, handing fn
// pageSize rows at a time. The first page is always delivered, even when the
// table is empty, so the caller learns the schema.
func (g *Gateway) FetchPages(ctx context.Context, id string, pageSize int, fn func(*table.Table) error) error {
	if pageSize <= 0 {
		t, err := g.Fetch(ctx, id)
		if err != nil {
			return err
		}
		return fn(t)
	}
	ident, err := identifier(id)
	if err != nil {
		return err
	}
	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("read %s: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DECLARE ratingcast_pages NO SCROLL CURSOR FOR SELECT * FROM "+ident.Sanitize()); err != nil {
		return fmt.Errorf("read %s: declare cursor: %w", id, err)
	}
	fetch := fmt.Sprintf("FETCH FORWARD %d FROM ratingcast_pages", pageSize)
	for pages := 0; ; pages++ {
		rows, err := tx.Query(ctx, fetch)
		if err != nil {
			return fmt.Errorf("read %s: %w", id, err)
		}
		page, n, err := collect(rows)
		rows.Close()
		if err != nil {
			return fmt.Errorf("read %s: page %d: %w", id, pages, err)
		}
		if n == 0 && pages > 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		g.log.Debug("page read", "table", id, "page", pages, "rows", n)
		if n < pageSize {
			return nil
		}
	}
}

// collect drains rows into a table.
func collect(rows pgx.Rows) (*table.Table, int, error) {
	fields := rows.FieldDescriptions()
	schema := make([]table.Field, len(fields))
	for i, fd := range fields {
		schema[i] = table.Field{Name: string(fd.Name), Kind: kindOf(fd.DataTypeOID)}
	}
	b := table.NewBuilder(schema)
	n := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, 0, err
		}
		for i, v := range vals {
			if vals[i], err = normalize(v); err != nil {
				return nil, 0, fmt.Errorf("column %q: %w", schema[i].Name, err)
			}
		}
		if err := b.Append(vals); err != nil {
			return nil, 0, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	t, err := b.Table()
	return t, n, err
}

// kindOf maps a column type OID to a column kind.
func kindOf(oid uint32) table.Kind {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.OIDOID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID, pgtype.BoolOID:
		return table.Float
	case pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return table.Time
	default:
		return table.String
	}
}

// normalize converts driver values the table builder does not know.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case pgtype.Numeric:
		if x.Status != pgtype.Present {
			return nil, nil
		}
		var f float64
		if err := x.AssignTo(&f); err != nil {
			return nil, err
		}
		return f, nil
	case [16]byte:
		u := pgtype.UUID{Bytes: x, Status: pgtype.Present}
		s, err := u.EncodeText(nil, nil)
		return string(s), err
	default:
		return v, nil
	}
}

func declOf(k table.Kind) string {
	switch k {
	case table.Float:
		return "double precision"
	case table.Time:
		return "timestamptz"
	default:
		return "text"
	}
}

// Exists reports whether a relation named id is visible.
func (g *Gateway) Exists(ctx context.Context, id string) (bool, error) {
	ident, err := identifier(id)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := g.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", ident.Sanitize()).Scan(&ok); err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return ok, nil
}

// Write creates table id and copies t into it in one transaction. An
// existing table is never replaced.
func (g *Gateway) Write(ctx context.Context, id string, t *table.Table) error {
	ident, err := identifier(id)
	if err != nil {
		return err
	}
	schema := warehouse.Schema(t)
	names := make([]string, len(schema))
	defs := ""
	for j, f := range schema {
		names[j] = f.Name
		if j > 0 {
			defs += ", "
		}
		defs += pgx.Identifier{f.Name}.Sanitize() + " " + declOf(f.Kind)
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("write %s: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "CREATE TABLE "+ident.Sanitize()+" ("+defs+")"); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateTable {
			return fmt.Errorf("write %s: %w", id, ErrExists)
		}
		return fmt.Errorf("write %s: create: %w", id, err)
	}
	rows := make([][]any, t.Len())
	for i := range rows {
		rows[i] = warehouse.Row(t, i)
	}
	n, err := tx.CopyFrom(ctx, ident, names, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("write %s: copy: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("write %s: commit: %w", id, err)
	}
	g.log.Info("table written", "table", id, "rows", n)
	return nil
}
