// Package bigquery serves Google BigQuery as the remote warehouse. Reads are
// paged through the table-data API, read in one pass, or exported to Cloud
// Storage as CSV shards and downloaded; writes are load jobs that never
// replace an existing table.
package bigquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"ratingcast/internal/config"
	"ratingcast/internal/logging"
	"ratingcast/internal/table"
	"ratingcast/internal/warehouse"
)

// Options configures a Gateway.
type Options struct {
	Project  string
	Dataset  string // default dataset for bare table names
	Location string
	Mode     string // config.ModePaged, ModeExport or ModeDirect
	Bucket   string // staging bucket for export mode
	Workers  int    // parallel shard downloads in export mode
}

// Gateway reads and writes BigQuery tables.
type Gateway struct {
	opts Options
	bq   *bigquery.Client
	gcs  *storage.Client
	log  *slog.Logger
}

// Open creates the BigQuery client and, in export mode, the Cloud Storage
// client. Credentials come from the environment.
func Open(ctx context.Context, opts Options) (*Gateway, error) {
	project := opts.Project
	if project == "" {
		project = bigquery.DetectProjectID
	}
	bq, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	bq.Location = opts.Location
	g := &Gateway{opts: opts, bq: bq, log: logging.New("warehouse.bigquery")}
	if opts.Mode == config.ModeExport {
		if g.gcs, err = storage.NewClient(ctx); err != nil {
			_ = bq.Close()
			return nil, fmt.Errorf("storage client: %w", err)
		}
	}
	if g.opts.Workers <= 0 {
		g.opts.Workers = 1
	}
	return g, nil
}

// Close closes the clients.
func (g *Gateway) Close() error {
	var errs []error
	if g.gcs != nil {
		errs = append(errs, g.gcs.Close())
	}
	errs = append(errs, g.bq.Close())
	return errors.Join(errs...)
}

// ref is a fully qualified table reference.
type ref struct {
	Project, Dataset, Table string
}

func (r ref) String() string { return r.Project + "." + r.Dataset + "." + r.Table }

// parseRef resolves id against the default project and dataset.
func parseRef(id, project, dataset string) (ref, error) {
	parts, err := warehouse.SplitID(id)
	if err != nil {
		return ref{}, err
	}
	r := ref{Project: project, Dataset: dataset}
	switch len(parts) {
	case 1:
		r.Table = parts[0]
	case 2:
		r.Dataset, r.Table = parts[0], parts[1]
	default:
		r.Project, r.Dataset, r.Table = parts[0], parts[1], parts[2]
	}
	if r.Dataset == "" {
		return ref{}, fmt.Errorf("table %q has no dataset and none is configured", id)
	}
	return r, nil
}

func (g *Gateway) table(id string) (*bigquery.Table, ref, error) {
	r, err := parseRef(id, g.bq.Project(), g.opts.Dataset)
	if err != nil {
		return nil, ref{}, err
	}
	return g.bq.DatasetInProject(r.Project, r.Dataset).Table(r.Table), r, nil
}

// Fetch reads the whole table, through Cloud Storage in export mode.
func (g *Gateway) Fetch(ctx context.Context, id string) (*table.Table, error) {
	if g.opts.Mode == config.ModeExport {
		return g.export(ctx, id)
	}
	var out *table.Table
	err := g.FetchPages(ctx, id, 0, func(page *table.Table) error {
		out = page
		return nil
	})
	return out, err
}

// FetchPages reads the table pageSize rows at a time. A pageSize of zero
// reads everything into one page. The first page is always delivered.
func (g *Gateway) FetchPages(ctx context.Context, id string, pageSize int, fn func(*table.Table) error) error {
	tbl, r, err := g.table(id)
	if err != nil {
		return err
	}
	md, err := tbl.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("read %s: metadata: %w", r, err)
	}
	schema := fieldsOf(md.Schema)
	b := table.NewBuilder(schema)
	g.log.Info("reading table", "table", r.String(), "rows", md.NumRows, "page_size", pageSize)

	it := tbl.Read(ctx)
	if pageSize > 0 {
		it.PageInfo().MaxSize = pageSize
	}
	pages := 0
	flush := func() error {
		page, err := b.Table()
		if err != nil {
			return err
		}
		pages++
		return fn(page)
	}
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", r, err)
		}
		vals := make([]any, len(row))
		for i, v := range row {
			vals[i] = normalize(v)
		}
		if err := b.Append(vals); err != nil {
			return fmt.Errorf("read %s: %w", r, err)
		}
		if pageSize > 0 && b.Len() == pageSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if b.Len() > 0 || pages == 0 {
		return flush()
	}
	return nil
}

// export extracts the table to gs://bucket/<uuid>_*.csv, downloads the shards
// in parallel and merges them. Staged objects are always deleted.
func (g *Gateway) export(ctx context.Context, id string) (*table.Table, error) {
	tbl, r, err := g.table(id)
	if err != nil {
		return nil, err
	}
	if g.gcs == nil || g.opts.Bucket == "" {
		return nil, fmt.Errorf("export %s: no staging bucket", r)
	}
	md, err := tbl.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", r, err)
	}
	prefix := uuid.NewString() + "_"
	bucket := g.gcs.Bucket(g.opts.Bucket)
	defer g.cleanup(context.WithoutCancel(ctx), bucket, prefix)

	gcsRef := bigquery.NewGCSReference(fmt.Sprintf("gs://%s/%s*.csv", g.opts.Bucket, prefix))
	gcsRef.DestinationFormat = bigquery.CSV
	extractor := tbl.ExtractorTo(gcsRef)
	extractor.Location = g.opts.Location
	job, err := extractor.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", r, err)
	}
	status, err := job.Wait(ctx)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: job %s: %w", r, job.ID(), err)
	}
	g.log.Info("export job done", "table", r.String(), "job", job.ID(), "prefix", prefix)

	var names []string
	list := func() error {
		names, err = listObjects(ctx, bucket, prefix)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(names) == 0 {
			return fmt.Errorf("no staged objects under %s yet", prefix)
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 6), ctx)
	if err := backoff.RetryNotify(list, b, func(err error, wait time.Duration) {
		g.log.Debug("waiting for staged objects", "prefix", prefix, "wait", wait, "error", err)
	}); err != nil {
		return nil, fmt.Errorf("export %s: list staged objects: %w", r, err)
	}

	dir, err := os.MkdirTemp("", "ratingcast-export-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	paths := make([]string, len(names))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for i, name := range names {
		i, name := i, name
		paths[i] = filepath.Join(dir, fmt.Sprintf("%05d.csv", i))
		eg.Go(func() error {
			return download(egCtx, bucket.Object(name), paths[i])
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("export %s: download: %w", r, err)
	}
	g.log.Info("staged objects downloaded", "table", r.String(), "objects", len(names))
	return mergeCSV(paths, fieldsOf(md.Schema))
}

func listObjects(ctx context.Context, bucket *storage.BucketHandle, prefix string) ([]string, error) {
	var names []string
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}

func download(ctx context.Context, obj *storage.ObjectHandle, path string) error {
	rc, err := obj.NewReader(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", obj.ObjectName(), err)
	}
	defer rc.Close()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", obj.ObjectName(), err)
	}
	return f.Close()
}

// mergeCSV reads the downloaded shards as one table. Kinds come from schema
// so an export yields the same columns as a paged read.
func mergeCSV(paths []string, schema []table.Field) (*table.Table, error) {
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		readers = append(readers, f)
	}
	return table.ReadCSVsAs(schema, readers...)
}

// cleanup deletes every staged object under prefix, logging failures.
func (g *Gateway) cleanup(ctx context.Context, bucket *storage.BucketHandle, prefix string) {
	names, err := listObjects(ctx, bucket, prefix)
	if err != nil {
		g.log.Warn("listing staged objects for cleanup failed", "prefix", prefix, "error", err)
		return
	}
	for _, name := range names {
		if err := bucket.Object(name).Delete(ctx); err != nil {
			g.log.Warn("deleting staged object failed", "object", name, "error", err)
		}
	}
	if len(names) > 0 {
		g.log.Debug("staged objects deleted", "prefix", prefix, "objects", len(names))
	}
}

// Exists reports whether the table exists.
func (g *Gateway) Exists(ctx context.Context, id string) (bool, error) {
	tbl, r, err := g.table(id)
	if err != nil {
		return false, err
	}
	if _, err := tbl.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("exists %s: %w", r, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// Write loads t into a new table through a CSV load job. The job uses
// WriteEmpty, so a table that already holds data is left untouched.
func (g *Gateway) Write(ctx context.Context, id string, t *table.Table) error {
	tbl, r, err := g.table(id)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := table.WritePlainCSV(&buf, t); err != nil {
		return err
	}
	src := bigquery.NewReaderSource(&buf)
	src.SourceFormat = bigquery.CSV
	src.SkipLeadingRows = 1
	src.AllowQuotedNewlines = true
	src.Schema = schemaOf(t)

	loader := tbl.LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteEmpty
	loader.Location = g.opts.Location
	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("write %s: %w", r, err)
	}
	status, err := job.Wait(ctx)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return fmt.Errorf("write %s: job %s: %w", r, job.ID(), err)
	}
	g.log.Info("table written", "table", r.String(), "rows", t.Len(), "job", job.ID())
	return nil
}

func kindOf(ft bigquery.FieldType) table.Kind {
	switch ft {
	case bigquery.IntegerFieldType, bigquery.FloatFieldType, bigquery.NumericFieldType,
		bigquery.BigNumericFieldType, bigquery.BooleanFieldType:
		return table.Float
	case bigquery.TimestampFieldType, bigquery.DateFieldType, bigquery.DateTimeFieldType:
		return table.Time
	default:
		return table.String
	}
}

func fieldsOf(s bigquery.Schema) []table.Field {
	out := make([]table.Field, len(s))
	for i, f := range s {
		k := kindOf(f.Type)
		if f.Repeated {
			k = table.String
		}
		out[i] = table.Field{Name: f.Name, Kind: k}
	}
	return out
}

func schemaOf(t *table.Table) bigquery.Schema {
	fields := warehouse.Schema(t)
	out := make(bigquery.Schema, len(fields))
	for i, f := range fields {
		ft := bigquery.StringFieldType
		switch f.Kind {
		case table.Float:
			ft = bigquery.FloatFieldType
		case table.Time:
			ft = bigquery.TimestampFieldType
		}
		out[i] = &bigquery.FieldSchema{Name: f.Name, Type: ft}
	}
	return out
}

// normalize converts BigQuery cell values into ones the table builder
// accepts. Civil dates and datetimes are taken as UTC.
func normalize(v bigquery.Value) any {
	switch x := v.(type) {
	case *big.Rat:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return f
	case civil.Date:
		return x.In(time.UTC)
	case civil.DateTime:
		return x.In(time.UTC)
	case civil.Time:
		return x.String()
	default:
		return v
	}
}
