// Package config loads the pipeline run configuration once at startup and
// exposes typed per-stage views of it. Nothing below cmd/ reads the file.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage names accepted by [pipeline] stages.
const (
	StageFetch   = "fetch"
	StagePredict = "predict"
	StageStore   = "store"
	StagePlot    = "plot"
)

// AllStages lists the stages in execution order.
var AllStages = []string{StageFetch, StagePredict, StageStore, StagePlot}

// Warehouse backends.
const (
	BackendBigQuery = "bigquery"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Fetch modes.
const (
	ModePaged  = "paged"
	ModeExport = "export"
	ModeDirect = "direct"
)

// Error is a missing or invalid configuration key.
type Error struct {
	Section string
	Key     string
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config [%s] %s: %s", e.Section, e.Key, e.Reason)
}

// Config is the whole run configuration.
type Config struct {
	Path      string
	Warehouse Warehouse
	Fetch     Fetch
	Model     Model
	Plot      Plot
	Pipeline  Pipeline
}

// Warehouse is the [warehouse] section.
type Warehouse struct {
	Backend     string
	ProjectName string
	DatasetID   string
	TableIDs    []string // table_id and table_ids combined, in order
	BucketName  string
	Location    string
	DSN         string
}

// Fetch is the [fetch] section.
type Fetch struct {
	Mode      string
	ChunkSize int
	CacheDir  string
	Workers   int
}

// Model is the [model] section.
type Model struct {
	TargetColumnNames []string
	DropColumns       []string
	DateColumnName    string
	DateFilterValue   int
	RandomState       int64
	MaxIterations     int
	Alpha             float64
}

// Plot is the [plot] section.
type Plot struct {
	MinYear      int
	MarkerYear   int
	WidthInches  float64
	HeightInches float64
}

// Pipeline is the [pipeline] section.
type Pipeline struct {
	Stages     []string
	LedgerPath string
}

// Defaults returns a Config holding every default value.
func Defaults() *Config {
	return &Config{
		Warehouse: Warehouse{Backend: BackendBigQuery, Location: "US"},
		Fetch:     Fetch{Mode: ModePaged, ChunkSize: 10000, CacheDir: ".ratingcast/cache", Workers: 4},
		Model:     Model{MaxIterations: 500},
		Plot:      Plot{MinYear: 2009, MarkerYear: 2013, WidthInches: 20, HeightInches: 8},
		Pipeline:  Pipeline{Stages: append([]string(nil), AllStages...), LedgerPath: ".ratingcast/ledger.db"},
	}
}

// fromValues fills a Config from parsed key/values over the defaults, then
// validates it.
func fromValues(v values) (*Config, error) {
	c := Defaults()
	r := reader{v: v}

	r.str("warehouse", "backend", &c.Warehouse.Backend)
	r.str("warehouse", "project_name", &c.Warehouse.ProjectName)
	r.str("warehouse", "dataset_id", &c.Warehouse.DatasetID)
	r.str("warehouse", "bucket_name", &c.Warehouse.BucketName)
	r.str("warehouse", "location", &c.Warehouse.Location)
	r.str("warehouse", "dsn", &c.Warehouse.DSN)
	var single string
	r.str("warehouse", "table_id", &single)
	c.Warehouse.TableIDs = appendUnique(nil, strings.Fields(single)...)
	var many []string
	r.words("warehouse", "table_ids", &many)
	c.Warehouse.TableIDs = appendUnique(c.Warehouse.TableIDs, many...)

	r.str("fetch", "mode", &c.Fetch.Mode)
	r.int("fetch", "chunk_size", &c.Fetch.ChunkSize)
	r.str("fetch", "cache_dir", &c.Fetch.CacheDir)
	r.int("fetch", "workers", &c.Fetch.Workers)

	r.words("model", "target_column_names", &c.Model.TargetColumnNames)
	r.words("model", "drop_columns", &c.Model.DropColumns)
	r.str("model", "date_column_name", &c.Model.DateColumnName)
	r.int("model", "date_filter_value", &c.Model.DateFilterValue)
	r.int64("model", "random_state", &c.Model.RandomState)
	r.int("model", "max_iterations", &c.Model.MaxIterations)
	r.float("model", "alpha", &c.Model.Alpha)

	r.int("plot", "min_year", &c.Plot.MinYear)
	r.int("plot", "marker_year", &c.Plot.MarkerYear)
	r.float("plot", "width_inches", &c.Plot.WidthInches)
	r.float("plot", "height_inches", &c.Plot.HeightInches)

	r.words("pipeline", "stages", &c.Pipeline.Stages)
	r.str("pipeline", "ledger_path", &c.Pipeline.LedgerPath)

	if r.err != nil {
		return nil, r.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross-key constraints. It is run by Load and again by the
// CLI after flag overrides are applied.
func (c *Config) Validate() error {
	if len(c.Warehouse.TableIDs) == 0 {
		return &Error{"warehouse", "table_ids", "at least one table is required"}
	}
	switch c.Warehouse.Backend {
	case BackendBigQuery:
		if c.Warehouse.ProjectName == "" && c.Warehouse.DatasetID == "" {
			return &Error{"warehouse", "dataset_id", "required for the bigquery backend"}
		}
	case BackendPostgres, BackendSQLite:
		if c.Warehouse.DSN == "" {
			return &Error{"warehouse", "dsn", "required for the " + c.Warehouse.Backend + " backend"}
		}
	default:
		return &Error{"warehouse", "backend", fmt.Sprintf("unknown backend %q (bigquery, postgres, sqlite)", c.Warehouse.Backend)}
	}

	switch c.Fetch.Mode {
	case ModePaged, ModeDirect:
	case ModeExport:
		if c.Warehouse.Backend != BackendBigQuery {
			return &Error{"fetch", "mode", "export staging is only available for the bigquery backend"}
		}
		if c.Warehouse.BucketName == "" {
			return &Error{"warehouse", "bucket_name", "required when fetch mode is export"}
		}
	default:
		return &Error{"fetch", "mode", fmt.Sprintf("unknown mode %q (paged, export, direct)", c.Fetch.Mode)}
	}
	if c.Fetch.ChunkSize <= 0 {
		return &Error{"fetch", "chunk_size", "must be positive"}
	}
	if c.Fetch.CacheDir == "" {
		return &Error{"fetch", "cache_dir", "must not be empty"}
	}
	if c.Fetch.Workers <= 0 {
		return &Error{"fetch", "workers", "must be positive"}
	}

	if len(c.Pipeline.Stages) == 0 {
		return &Error{"pipeline", "stages", "at least one stage is required"}
	}
	for _, s := range c.Pipeline.Stages {
		if !isStage(s) {
			return &Error{"pipeline", "stages", fmt.Sprintf("unknown stage %q (fetch, predict, store, plot)", s)}
		}
	}

	if c.Enabled(StagePredict) || c.Enabled(StageStore) || c.Enabled(StagePlot) {
		if len(c.Model.TargetColumnNames) == 0 {
			return &Error{"model", "target_column_names", "at least one candidate is required"}
		}
		if c.Model.DateColumnName == "" {
			return &Error{"model", "date_column_name", "required"}
		}
		if c.Model.DateFilterValue == 0 {
			return &Error{"model", "date_filter_value", "required (training year)"}
		}
		if c.Model.MaxIterations <= 0 {
			return &Error{"model", "max_iterations", "must be positive"}
		}
		if c.Model.Alpha < 0 {
			return &Error{"model", "alpha", "must not be negative"}
		}
	}
	if c.Enabled(StageStore) && c.Warehouse.Backend == BackendBigQuery && c.Warehouse.DatasetID == "" {
		return &Error{"warehouse", "dataset_id", "required by the store stage"}
	}
	if c.Plot.WidthInches <= 0 || c.Plot.HeightInches <= 0 {
		return &Error{"plot", "width_inches", "plot size must be positive"}
	}
	return nil
}

// Enabled reports whether stage is listed in [pipeline] stages.
func (c *Config) Enabled(stage string) bool {
	for _, s := range c.Pipeline.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func isStage(s string) bool {
	for _, a := range AllStages {
		if a == s {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, more ...string) []string {
	for _, m := range more {
		dup := false
		for _, d := range dst {
			if d == m {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, m)
		}
	}
	return dst
}

// reader copies present keys into typed fields and remembers the first
// conversion error.
type reader struct {
	v   values
	err error
}

func (r *reader) str(section, key string, dst *string) {
	if s, ok := r.v.get(section, key); ok {
		*dst = s
	}
}

func (r *reader) words(section, key string, dst *[]string) {
	if s, ok := r.v.get(section, key); ok {
		*dst = strings.Fields(s)
	}
}

func (r *reader) int(section, key string, dst *int) {
	s, ok := r.v.get(section, key)
	if !ok || s == "" || r.err != nil {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.err = &Error{section, key, fmt.Sprintf("%q is not an integer", s)}
		return
	}
	*dst = n
}

func (r *reader) int64(section, key string, dst *int64) {
	s, ok := r.v.get(section, key)
	if !ok || s == "" || r.err != nil {
		return
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.err = &Error{section, key, fmt.Sprintf("%q is not an integer", s)}
		return
	}
	*dst = n
}

func (r *reader) float(section, key string, dst *float64) {
	s, ok := r.v.get(section, key)
	if !ok || s == "" || r.err != nil {
		return
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.err = &Error{section, key, fmt.Sprintf("%q is not a number", s)}
		return
	}
	*dst = f
}
