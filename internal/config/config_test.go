package config

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testdataPath(name string) string {
	_, f, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(f), "testdata", name)
}

func TestLoadFromPath_INI(t *testing.T) {
	path := testdataPath("config.ini")
	c, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if c.Path != path {
		t.Errorf("Path = %q", c.Path)
	}
	want := Warehouse{
		Backend:     BackendBigQuery,
		ProjectName: "my-project",
		DatasetID:   "ratings",
		TableIDs:    []string{"reviews", "reviews_2012"},
		BucketName:  "my-staging-bucket",
		Location:    "US",
	}
	if diff := cmp.Diff(want, c.Warehouse); diff != "" {
		t.Errorf("Warehouse mismatch (-want +got):\n%s", diff)
	}
	if c.Fetch.Mode != ModeExport || c.Fetch.ChunkSize != 5000 || c.Fetch.CacheDir != "/tmp/ratingcast" {
		t.Errorf("Fetch = %+v", c.Fetch)
	}
	m := c.ModelView()
	if diff := cmp.Diff([]string{"stars_v2", "stars"}, m.TargetColumnNames); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"review_id", "user_id"}, m.DropColumns); diff != "" {
		t.Errorf("drop columns (-want +got):\n%s", diff)
	}
	if m.DateFilterValue != 2010 || m.RandomState != 42 || m.MaxIterations != 500 {
		t.Errorf("ModelView = %+v", m)
	}
	p := c.PlotView()
	if p.MarkerYear != 0 || p.MinYear != 2009 || p.WidthInches != 20 {
		t.Errorf("PlotView = %+v", p)
	}
	if diff := cmp.Diff(AllStages, c.Pipeline.Stages); diff != "" {
		t.Errorf("stages (-want +got):\n%s", diff)
	}
}

func TestLoadFromPath_YAML(t *testing.T) {
	c, err := LoadFromPath(testdataPath("config.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if c.Warehouse.Backend != BackendSQLite || c.Warehouse.DSN != "/tmp/warehouse.db" {
		t.Errorf("Warehouse = %+v", c.Warehouse)
	}
	if diff := cmp.Diff([]string{"reviews"}, c.Warehouse.TableIDs); diff != "" {
		t.Errorf("tables (-want +got):\n%s", diff)
	}
	if c.Enabled(StageStore) || !c.Enabled(StagePlot) {
		t.Errorf("stages = %v", c.Pipeline.Stages)
	}
	if c.Pipeline.LedgerPath != "" {
		t.Errorf("LedgerPath = %q, want disabled", c.Pipeline.LedgerPath)
	}
}

func TestLoadFromPath_JSON(t *testing.T) {
	c, err := LoadFromPath(testdataPath("config.json"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if c.Fetch.ChunkSize != 250 || c.Model.MaxIterations != 200 || c.Model.DateFilterValue != 2010 {
		t.Errorf("numbers not decoded: fetch=%+v model=%+v", c.Fetch, c.Model)
	}
	if c.Plot.WidthInches != 12.5 {
		t.Errorf("WidthInches = %v", c.Plot.WidthInches)
	}
	if diff := cmp.Diff([]string{"public.reviews"}, c.Warehouse.TableIDs); diff != "" {
		t.Errorf("tables (-want +got):\n%s", diff)
	}
}

func TestLoad_DetectsFormat(t *testing.T) {
	ini := []byte("[warehouse]\ndataset_id = d\ntable_id = t\n[pipeline]\nstages = fetch\n")
	if c, err := Load(ini, ""); err != nil || c.Warehouse.DatasetID != "d" {
		t.Errorf("ini: %+v, %v", c, err)
	}
	yml := []byte("warehouse:\n  dataset_id: d\n  table_id: t\npipeline:\n  stages: fetch\n")
	if c, err := Load(yml, ""); err != nil || c.Warehouse.DatasetID != "d" {
		t.Errorf("yaml: %+v, %v", c, err)
	}
	js := []byte(`{"warehouse":{"dataset_id":"d","table_id":"t"},"pipeline":{"stages":"fetch"}}`)
	if c, err := Load(js, ""); err != nil || c.Warehouse.DatasetID != "d" {
		t.Errorf("json: %+v, %v", c, err)
	}
}

func TestLoad_TableIDsMerged(t *testing.T) {
	data := []byte("[warehouse]\ndataset_id = d\ntable_id = a\ntable_ids = b a c\n[pipeline]\nstages = fetch\n")
	c, err := Load(data, ".ini")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, c.Warehouse.TableIDs); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	base := "[warehouse]\ndataset_id = d\ntable_id = t\n"
	model := "[model]\ntarget_column_names = stars\ndate_column_name = date\ndate_filter_value = 2010\n"
	cases := []struct {
		name string
		data string
		key  string
	}{
		{"no tables", "[warehouse]\ndataset_id = d\n", "table_ids"},
		{"bad backend", base + "backend = oracle\n" + model, "backend"},
		{"bad mode", base + model + "[fetch]\nmode = carrier-pigeon\n", "mode"},
		{"export needs bucket", base + model + "[fetch]\nmode = export\n", "bucket_name"},
		{"chunk size not int", base + model + "[fetch]\nchunk_size = lots\n", "chunk_size"},
		{"chunk size zero", base + model + "[fetch]\nchunk_size = 0\n", "chunk_size"},
		{"unknown stage", base + model + "[pipeline]\nstages = fetch train\n", "stages"},
		{"predict needs targets", base, "target_column_names"},
		{"predict needs date column", base + "[model]\ntarget_column_names = stars\n", "date_column_name"},
		{"sqlite needs dsn", "[warehouse]\nbackend = sqlite\ntable_id = t\n" + model, "dsn"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.data), ".ini")
			var ce *Error
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if ce.Key != tc.key {
				t.Errorf("Key = %q, want %q (%v)", ce.Key, tc.key, err)
			}
		})
	}
}

func TestLoad_FetchOnlySkipsModelChecks(t *testing.T) {
	data := []byte("[warehouse]\ndataset_id = d\ntable_id = t\n[pipeline]\nstages = fetch\n")
	if _, err := Load(data, ".ini"); err != nil {
		t.Fatalf("fetch-only config rejected: %v", err)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.ini")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
