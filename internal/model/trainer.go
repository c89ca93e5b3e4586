package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"ratingcast/internal/config"
	"ratingcast/internal/format"
	"ratingcast/internal/logging"
	"ratingcast/internal/table"
)

// PredictedColumn holds the most probable class value of each row.
const PredictedColumn = "predicted"

// ProbColumn names the probability column of the i-th class, 1-based.
func ProbColumn(i int) string { return fmt.Sprintf("pred_%d_pr", i) }

// Trainer fits an Ordinal model on the training-year slice of a table and
// predicts every row.
type Trainer struct {
	log *slog.Logger
}

// NewTrainer returns a Trainer logging as the "model" component.
func NewTrainer() *Trainer {
	return &Trainer{log: logging.New("model")}
}

// FitPredict trains on rows whose date falls in cfg.DateFilterValue and whose
// target is present, then returns t with pred_<i>_pr columns for each class
// and a predicted column, plus the fit summary.
func (tr *Trainer) FitPredict(ctx context.Context, t *table.Table, target string, cfg config.ModelConfig) (*table.Table, string, error) {
	y, ok := t.Column(target)
	if !ok {
		return nil, "", fmt.Errorf("target column %q not in table", target)
	}
	if y.Kind != table.Float {
		return nil, "", fmt.Errorf("target column %q is %s, want float", target, y.Kind)
	}
	dateCol, ok := t.Column(cfg.DateColumnName)
	if !ok {
		return nil, "", fmt.Errorf("date column %q not in table", cfg.DateColumnName)
	}
	dates, err := dateCol.TimeValues()
	if err != nil {
		return nil, "", fmt.Errorf("date column %q: %w", cfg.DateColumnName, err)
	}

	features := tr.featureColumns(t, target, cfg)
	var train []int
	for i := 0; i < t.Len(); i++ {
		if dates[i].IsZero() || dates[i].Year() != cfg.DateFilterValue {
			continue
		}
		if math.IsNaN(y.Floats[i]) {
			continue
		}
		train = append(train, i)
	}
	if len(train) == 0 {
		return nil, "", fmt.Errorf("no training rows with %s in %d", cfg.DateColumnName, cfg.DateFilterValue)
	}

	names := make([]string, len(features))
	means := make([]float64, len(features))
	for j, c := range features {
		names[j] = c.Name
		means[j] = meanAt(c.Floats, train)
	}
	row := func(i int) []float64 {
		x := make([]float64, len(features))
		for j, c := range features {
			v := c.Floats[i]
			if math.IsNaN(v) {
				v = means[j]
			}
			x[j] = v
		}
		return x
	}

	X := make([][]float64, len(train))
	labels := make([]float64, len(train))
	for n, i := range train {
		X[n] = row(i)
		labels[n] = y.Floats[i]
	}

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	tr.log.Info("fitting ordinal model",
		"target", target, "features", len(names), "train_rows", len(train), "rows", t.Len())
	m, err := Fit(X, labels, names, Options{
		MaxIterations: cfg.MaxIterations,
		RandomState:   cfg.RandomState,
		Alpha:         cfg.Alpha,
	})
	if err != nil {
		return nil, "", err
	}
	if !m.Converged {
		tr.log.Warn("ordinal model did not converge", "target", target, "status", m.Status, "iterations", m.Iterations)
	}

	k := len(m.Classes)
	probs := make([][]float64, k)
	for c := range probs {
		probs[c] = make([]float64, t.Len())
	}
	predicted := make([]float64, t.Len())
	for i := 0; i < t.Len(); i++ {
		p := m.PredictProba(row(i))
		best := 0
		for c, v := range p {
			probs[c][i] = v
			if v > p[best] {
				best = c
			}
		}
		predicted[i] = m.Classes[best]
	}

	out := t.Clone()
	for c := 0; c < k; c++ {
		if err := out.AddColumn(table.NewFloat(ProbColumn(c+1), probs[c])); err != nil {
			return nil, "", err
		}
	}
	if err := out.AddColumn(table.NewFloat(PredictedColumn, predicted)); err != nil {
		return nil, "", err
	}

	correct := 0
	for n, i := range train {
		if predicted[i] == labels[n] {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(train))
	return out, Summary(m, target, cfg, accuracy), nil
}

// featureColumns returns the numeric columns used as predictors. The target,
// the date column and dropped columns are excluded; other non-numeric
// columns are skipped with a warning.
func (tr *Trainer) featureColumns(t *table.Table, target string, cfg config.ModelConfig) []*table.Column {
	skip := map[string]bool{target: true, cfg.DateColumnName: true}
	for _, d := range cfg.DropColumns {
		skip[d] = true
	}
	var out []*table.Column
	var ignored []string
	for i := 0; i < t.Width(); i++ {
		c := t.At(i)
		if skip[c.Name] {
			continue
		}
		if c.Kind != table.Float {
			ignored = append(ignored, c.Name)
			continue
		}
		out = append(out, c)
	}
	if len(ignored) > 0 {
		tr.log.Warn("non-numeric columns excluded from features", "columns", strings.Join(ignored, " "))
	}
	return out
}

func meanAt(vals []float64, rows []int) float64 {
	sum, n := 0.0, 0
	for _, i := range rows {
		if v := vals[i]; !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Summary renders the fitted model as a text report.
func Summary(m *Ordinal, target string, cfg config.ModelConfig, trainAccuracy float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ordinal logistic regression (cumulative logit)\n")
	fmt.Fprintf(&b, "Dependent variable: %s\n", target)
	fmt.Fprintf(&b, "Training slice:     %s year = %d\n", cfg.DateColumnName, cfg.DateFilterValue)
	fmt.Fprintf(&b, "Observations:       %d\n", m.NObs)
	fmt.Fprintf(&b, "Log-likelihood:     %s\n", format.FmtFloat(m.LogLik, 4))
	fmt.Fprintf(&b, "Iterations:         %d (%s, converged=%t)\n", m.Iterations, m.Status, m.Converged)
	fmt.Fprintf(&b, "Train accuracy:     %s\n\n", format.FmtPct(trainAccuracy))

	coef := format.NewTable(format.ASCII)
	coef.Title("Coefficients")
	coef.Header("Term", "Coef", "Coef (std)", "Mean", "Std")
	raw := m.RawCoef()
	for j, name := range m.Features {
		coef.Row(name, format.FmtFloat(raw[j], 6), format.FmtFloat(m.Coef[j], 6),
			format.FmtFloat(m.Mean[j], 4), format.FmtFloat(m.Std[j], 4))
	}
	coef.Columns(
		format.ColumnConfig{Number: 2, Align: format.AlignRight},
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
		format.ColumnConfig{Number: 5, Align: format.AlignRight},
	)
	b.WriteString(coef.String())
	b.WriteString("\n\n")

	th := format.NewTable(format.ASCII)
	th.Title("Thresholds")
	th.Header("Cut", "Value")
	for i, v := range m.RawThresholds() {
		th.Row(fmt.Sprintf("%s/%s", classLabel(m.Classes[i]), classLabel(m.Classes[i+1])), format.FmtFloat(v, 6))
	}
	th.Columns(format.ColumnConfig{Number: 2, Align: format.AlignRight})
	b.WriteString(th.String())
	b.WriteString("\n")
	return b.String()
}

func classLabel(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
