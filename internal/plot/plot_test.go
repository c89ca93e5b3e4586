package plot

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ratingcast/internal/config"
	"ratingcast/internal/table"
)

func day(year int) time.Time { return time.Date(year, 3, 1, 0, 0, 0, 0, time.UTC) }

func predictions(t *testing.T) *table.Table {
	t.Helper()
	tb, err := table.FromColumns(
		table.NewTime("date", []time.Time{day(2008), day(2010), day(2010), day(2010), day(2011), day(2011)}),
		table.NewFloat("stars", []float64{1, 1, 2, 2, 3, math.NaN()}),
		table.NewFloat("pred_1_pr", []float64{1, 0.5, 0.2, 0.2, 0, 0}),
		table.NewFloat("pred_2_pr", []float64{0, 0.5, 0.6, 0.6, 0.5, 0.2}),
		table.NewFloat("pred_3_pr", []float64{0, 0, 0.2, 0.2, 0.5, 0.8}),
		table.NewFloat("predicted", []float64{1, 1, 2, 2, 2, 3}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return tb
}

func TestProportions(t *testing.T) {
	cfg := config.PlotConfig{DateColumnName: "date", MinYear: 2009}
	truth, pred, err := Proportions(predictions(t), "stars", cfg)
	if err != nil {
		t.Fatalf("Proportions: %v", err)
	}
	opt := cmpopts.EquateApprox(0, 1e-9)

	wantTruth := &Shares{
		Years:  []int{2010, 2011},
		Labels: []string{"1", "2", "3"},
		Props: [][]float64{
			{1.0 / 3, 2.0 / 3, 0},
			{0, 0, 1},
		},
	}
	if diff := cmp.Diff(wantTruth, truth, opt); diff != "" {
		t.Errorf("truth (-want +got):\n%s", diff)
	}

	wantPred := &Shares{
		Years:  []int{2010, 2011},
		Labels: []string{"1", "2", "3"},
		Props: [][]float64{
			{0.9 / 3, 1.7 / 3, 0.4 / 3},
			{0, 0.7 / 2, 1.3 / 2},
		},
	}
	if diff := cmp.Diff(wantPred, pred, opt); diff != "" {
		t.Errorf("predicted (-want +got):\n%s", diff)
	}
}

func TestProportions_Errors(t *testing.T) {
	tb := predictions(t)
	cases := []struct {
		name   string
		target string
		cfg    config.PlotConfig
	}{
		{"no date column", "stars", config.PlotConfig{DateColumnName: "when", MinYear: 2009}},
		{"no target", "score", config.PlotConfig{DateColumnName: "date", MinYear: 2009}},
		{"nothing after min year", "stars", config.PlotConfig{DateColumnName: "date", MinYear: 2020}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Proportions(tb, tc.target, tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	noProbs, err := table.FromColumns(
		table.NewTime("date", []time.Time{day(2010)}),
		table.NewFloat("stars", []float64{1}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Proportions(noProbs, "stars", config.PlotConfig{DateColumnName: "date"}); err == nil {
		t.Error("table without probability columns accepted")
	}
}

func TestRender_WritesPNG(t *testing.T) {
	cfg := config.PlotConfig{DateColumnName: "date", MinYear: 2009, MarkerYear: 2010, WidthInches: 6, HeightInches: 3}
	var buf bytes.Buffer
	if err := NewRenderer().Render(&buf, predictions(t), "stars", cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}
	sig := []byte("\x89PNG\r\n\x1a\n")
	if !bytes.HasPrefix(buf.Bytes(), sig) {
		t.Fatalf("output is not a PNG (%d bytes)", buf.Len())
	}
}

func TestRender_SingleYear(t *testing.T) {
	tb, err := table.FromColumns(
		table.NewTime("date", []time.Time{day(2012), day(2012)}),
		table.NewFloat("stars", []float64{4, 5}),
		table.NewFloat("pred_1_pr", []float64{0.3, 0.1}),
		table.NewFloat("pred_2_pr", []float64{0.7, 0.9}),
	)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.PlotConfig{DateColumnName: "date", MinYear: 2009, WidthInches: 4, HeightInches: 2}
	var buf bytes.Buffer
	if err := NewRenderer().Render(&buf, tb, "stars", cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("empty output")
	}
}

func TestYearTicks(t *testing.T) {
	ticks := yearTicks{start: 2009, step: 2}.Ticks(2009, 2013)
	var labels []string
	for _, tk := range ticks {
		labels = append(labels, tk.Label)
	}
	want := []string{"2009", "", "2011", "", "2013"}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
}
