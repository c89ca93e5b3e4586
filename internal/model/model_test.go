package model

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"ratingcast/internal/config"
	"ratingcast/internal/table"
)

// synthetic draws n rows from an ordinal logit with slope beta and the given
// cut points; classes are 1..len(cuts)+1.
func synthetic(n int, beta float64, cuts []float64, seed int64) ([]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
		u := rng.Float64()
		latent := beta*x[i] + math.Log(u/(1-u))
		class := 1
		for _, c := range cuts {
			if latent > c {
				class++
			}
		}
		y[i] = float64(class)
	}
	return x, y
}

func TestFit_RecoversSlope(t *testing.T) {
	x, y := synthetic(2000, 1.5, []float64{-2, -0.5, 0.5, 2}, 1)
	X := make([][]float64, len(x))
	for i, v := range x {
		X[i] = []float64{v*10 + 50} // shifted and scaled feature
	}
	m, err := Fit(X, y, []string{"useful"}, Options{MaxIterations: 500})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(m.Classes) != 5 || len(m.Thresholds) != 4 {
		t.Fatalf("classes=%v thresholds=%v", m.Classes, m.Thresholds)
	}
	// Raw slope is 1.5 / 10 on the scaled feature.
	if got := m.RawCoef()[0]; got < 0.12 || got > 0.18 {
		t.Errorf("raw coef = %v, want about 0.15", got)
	}
	th := m.RawThresholds()
	for i := 1; i < len(th); i++ {
		if th[i] <= th[i-1] {
			t.Errorf("thresholds not increasing: %v", th)
		}
	}
	if m.Iterations == 0 {
		t.Errorf("no iterations recorded (status %s)", m.Status)
	}
	if m.LogLik >= 0 || m.NObs != 2000 {
		t.Errorf("LogLik=%v NObs=%d", m.LogLik, m.NObs)
	}
}

func TestPredictProba_SumsToOneAndIsMonotone(t *testing.T) {
	x, y := synthetic(800, 2, []float64{-1, 1}, 7)
	X := make([][]float64, len(x))
	for i, v := range x {
		X[i] = []float64{v}
	}
	m, err := Fit(X, y, []string{"x"}, Options{MaxIterations: 300, RandomState: 3})
	if err != nil {
		t.Fatal(err)
	}
	prev := m.Classes[0]
	for _, v := range []float64{-3, -1, 0, 1, 3} {
		p := m.PredictProba([]float64{v})
		sum := 0.0
		for _, q := range p {
			if q < 0 || q > 1 {
				t.Errorf("probability out of range: %v", p)
			}
			sum += q
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("probabilities at x=%v sum to %v", v, sum)
		}
		c := m.Predict([]float64{v})
		if c < prev {
			t.Errorf("predicted class decreased at x=%v: %v < %v", v, c, prev)
		}
		prev = c
	}
	if m.Predict([]float64{-3}) != 1 || m.Predict([]float64{3}) != 3 {
		t.Errorf("extremes predicted %v and %v", m.Predict([]float64{-3}), m.Predict([]float64{3}))
	}
}

func TestFit_ConstantFeatureIsIgnored(t *testing.T) {
	x, y := synthetic(300, 1, []float64{0}, 2)
	X := make([][]float64, len(x))
	for i, v := range x {
		X[i] = []float64{v, 4}
	}
	m, err := Fit(X, y, []string{"x", "flat"}, Options{MaxIterations: 200})
	if err != nil {
		t.Fatal(err)
	}
	if got := m.RawCoef()[1]; got != 0 {
		t.Errorf("constant feature got coefficient %v", got)
	}
	if m.RawCoef()[0] <= 0 {
		t.Errorf("slope = %v, want positive", m.RawCoef()[0])
	}
}

func TestFit_Errors(t *testing.T) {
	if _, err := Fit(nil, nil, nil, Options{}); err == nil {
		t.Error("empty training set accepted")
	}
	X := [][]float64{{1}, {2}}
	if _, err := Fit(X, []float64{3, 3}, []string{"x"}, Options{}); err == nil {
		t.Error("single class accepted")
	}
	if _, err := Fit(X, []float64{1}, []string{"x"}, Options{}); err == nil {
		t.Error("length mismatch accepted")
	}
}

// reviews builds a table whose 2010 rows follow an ordinal logit in useful
// and whose other rows carry a class (6) that never occurs in 2010.
func reviews(t *testing.T) *table.Table {
	t.Helper()
	x, y := synthetic(400, 1.5, []float64{-2, -0.5, 0.5, 2}, 11)
	n := len(x) + 20
	dates := make([]time.Time, n)
	useful := make([]float64, n)
	stars := make([]float64, n)
	text := make([]string, n)
	ids := make([]float64, n)
	for i := 0; i < n; i++ {
		ids[i] = float64(i)
		text[i] = "ok"
		if i < len(x) {
			dates[i] = time.Date(2010, time.Month(1+i%12), 1, 0, 0, 0, 0, time.UTC)
			useful[i] = x[i]
			stars[i] = y[i]
			continue
		}
		dates[i] = time.Date(2012, 5, 1, 0, 0, 0, 0, time.UTC)
		useful[i] = float64(i%5) - 2
		stars[i] = 6
	}
	useful[3] = math.NaN()
	tb, err := table.FromColumns(
		table.NewFloat("review_id", ids),
		table.NewTime("date", dates),
		table.NewString("text", text),
		table.NewFloat("useful", useful),
		table.NewFloat("stars", stars),
	)
	if err != nil {
		t.Fatal(err)
	}
	return tb
}

func TestTrainer_FitPredict(t *testing.T) {
	in := reviews(t)
	cfg := config.ModelConfig{
		DropColumns:     []string{"review_id"},
		DateColumnName:  "date",
		DateFilterValue: 2010,
		MaxIterations:   300,
	}
	out, summary, err := NewTrainer().FitPredict(context.Background(), in, "stars", cfg)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	if out.Len() != in.Len() {
		t.Fatalf("rows = %d, want %d", out.Len(), in.Len())
	}
	for _, name := range in.Columns() {
		if !out.Has(name) {
			t.Errorf("input column %s dropped", name)
		}
	}
	for i := 1; i <= 5; i++ {
		if !out.Has(ProbColumn(i)) {
			t.Errorf("missing %s", ProbColumn(i))
		}
	}
	if out.Has("pred_6_pr") {
		t.Error("class outside the training year leaked into the model")
	}
	pred, ok := out.Column(PredictedColumn)
	if !ok {
		t.Fatal("predicted column missing")
	}
	for i := 0; i < out.Len(); i++ {
		sum := 0.0
		for k := 1; k <= 5; k++ {
			c, _ := out.Column(ProbColumn(k))
			sum += c.Floats[i]
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d probabilities sum to %v", i, sum)
		}
		if p := pred.Floats[i]; p < 1 || p > 5 || p != math.Trunc(p) {
			t.Fatalf("row %d predicted %v", i, p)
		}
	}
	if in.Has(PredictedColumn) {
		t.Error("input table was modified")
	}
	for _, want := range []string{"Dependent variable: stars", "useful", "1/2", "4/5", "Observations:       400"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Contains(summary, "review_id") {
		t.Errorf("dropped column in summary:\n%s", summary)
	}
}

func TestTrainer_NoTrainingRows(t *testing.T) {
	cfg := config.ModelConfig{DateColumnName: "date", DateFilterValue: 1999, MaxIterations: 10}
	_, _, err := NewTrainer().FitPredict(context.Background(), reviews(t), "stars", cfg)
	if err == nil || !strings.Contains(err.Error(), "no training rows") {
		t.Fatalf("err = %v", err)
	}
}

func TestTrainer_RejectsStringTarget(t *testing.T) {
	cfg := config.ModelConfig{DateColumnName: "date", DateFilterValue: 2010}
	if _, _, err := NewTrainer().FitPredict(context.Background(), reviews(t), "text", cfg); err == nil {
		t.Fatal("string target accepted")
	}
}
