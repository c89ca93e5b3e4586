// Package model fits a cumulative-logit ordinal regression and turns it into
// per-class probability columns.
//
// For K ordered classes the model is
//
//	P(y <= k | x) = sigmoid(t_k - x·β),  k = 0..K-2
//
// with increasing thresholds t. Thresholds are parameterized as t_0 = a_0,
// t_k = t_{k-1} + exp(a_k) so BFGS can run unconstrained.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Options control a fit.
type Options struct {
	MaxIterations int
	RandomState   int64
	Alpha         float64 // L2 penalty on β (standardized scale)
}

// Ordinal is a fitted cumulative-logit model.
type Ordinal struct {
	Features   []string
	Classes    []float64 // sorted distinct target values
	Coef       []float64 // standardized scale
	Thresholds []float64 // len(Classes)-1, standardized scale
	Mean       []float64
	Std        []float64

	LogLik     float64
	NObs       int
	Iterations int
	Converged  bool
	Status     string
}

// Fit estimates the model from rows X (already imputed, no NaN) and labels y.
func Fit(X [][]float64, y []float64, features []string, opts Options) (*Ordinal, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("model: %d rows but %d labels", len(X), len(y))
	}
	if len(X) == 0 {
		return nil, errors.New("model: no training rows")
	}
	p := len(features)
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("model: row %d has %d features, want %d", i, len(row), p)
		}
	}

	classes := distinct(y)
	if len(classes) < 2 {
		return nil, fmt.Errorf("model: need at least 2 target classes, got %d", len(classes))
	}
	k := len(classes)
	labels := make([]int, len(y))
	for i, v := range y {
		labels[i] = sort.SearchFloat64s(classes, v)
	}

	m := &Ordinal{
		Features: append([]string(nil), features...),
		Classes:  classes,
		Mean:     make([]float64, p),
		Std:      make([]float64, p),
		NObs:     len(y),
	}
	Z := m.standardize(X)

	init := make([]float64, p+k-1)
	rng := rand.New(rand.NewSource(opts.RandomState))
	for j := 0; j < p; j++ {
		if m.Std[j] > 0 {
			init[j] = rng.NormFloat64() * 0.01
		}
	}
	copy(init[p:], initialThresholds(labels, k))

	obj := &objective{Z: Z, labels: labels, p: p, k: k, alpha: opts.Alpha}
	problem := optimize.Problem{Func: obj.value, Grad: obj.grad}
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		GradientThreshold: 1e-6,
	}
	res, err := optimize.Minimize(problem, init, settings, &optimize.BFGS{})
	if res == nil {
		return nil, fmt.Errorf("model: optimize: %w", err)
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return nil, fmt.Errorf("model: optimize diverged (status %v): %v", res.Status, err)
	}

	m.Coef = append([]float64(nil), res.X[:p]...)
	m.Thresholds = thresholds(res.X[p:])
	m.LogLik = -res.F - opts.Alpha/2*floats.Dot(m.Coef, m.Coef)
	m.Iterations = res.Stats.MajorIterations
	m.Status = res.Status.String()
	m.Converged = err == nil && (res.Status == optimize.GradientThreshold || res.Status == optimize.FunctionConvergence)
	return m, nil
}

// PredictProba returns the K class probabilities for one raw feature row.
func (m *Ordinal) PredictProba(x []float64) []float64 {
	eta := 0.0
	for j, v := range x {
		if m.Std[j] > 0 {
			eta += m.Coef[j] * (v - m.Mean[j]) / m.Std[j]
		}
	}
	return classProbs(m.Thresholds, eta)
}

// Predict returns the most probable class value for one raw feature row.
func (m *Ordinal) Predict(x []float64) float64 {
	return m.Classes[floats.MaxIdx(m.PredictProba(x))]
}

// RawCoef returns β on the original feature scale.
func (m *Ordinal) RawCoef() []float64 {
	out := make([]float64, len(m.Coef))
	for j, b := range m.Coef {
		if m.Std[j] > 0 {
			out[j] = b / m.Std[j]
		}
	}
	return out
}

// RawThresholds returns the thresholds on the original feature scale.
func (m *Ordinal) RawThresholds() []float64 {
	shift := 0.0
	for j, b := range m.Coef {
		if m.Std[j] > 0 {
			shift += b * m.Mean[j] / m.Std[j]
		}
	}
	out := make([]float64, len(m.Thresholds))
	for i, t := range m.Thresholds {
		out[i] = t + shift
	}
	return out
}

func (m *Ordinal) standardize(X [][]float64) [][]float64 {
	p := len(m.Features)
	col := make([]float64, len(X))
	for j := 0; j < p; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		m.Mean[j], m.Std[j] = stat.MeanStdDev(col, nil)
		if math.IsNaN(m.Std[j]) || m.Std[j] < 1e-12 {
			m.Std[j] = 0
		}
	}
	Z := make([][]float64, len(X))
	for i, row := range X {
		z := make([]float64, p)
		for j, v := range row {
			if m.Std[j] > 0 {
				z[j] = (v - m.Mean[j]) / m.Std[j]
			}
		}
		Z[i] = z
	}
	return Z
}

// objective is the penalized negative log-likelihood and its gradient.
type objective struct {
	Z      [][]float64
	labels []int
	p, k   int
	alpha  float64
}

func (o *objective) value(params []float64) float64 {
	beta := params[:o.p]
	t := thresholds(params[o.p:])
	nll := 0.0
	for i, z := range o.Z {
		eta := floats.Dot(beta, z)
		c := o.labels[i]
		nll -= math.Log(math.Max(classProb(t, eta, c), 1e-300))
	}
	return nll + o.alpha/2*floats.Dot(beta, beta)
}

func (o *objective) grad(grad, params []float64) {
	for i := range grad {
		grad[i] = 0
	}
	beta := params[:o.p]
	a := params[o.p:]
	t := thresholds(a)
	dT := make([]float64, len(t))

	for i, z := range o.Z {
		eta := floats.Dot(beta, z)
		c := o.labels[i]
		pr := math.Max(classProb(t, eta, c), 1e-300)

		// d(-log p)/d eta and d(-log p)/d t_j.
		dEta := 0.0
		if c < o.k-1 {
			f := density(t[c] - eta)
			dEta += f / pr
			dT[c] -= f / pr
		}
		if c > 0 {
			f := density(t[c-1] - eta)
			dEta -= f / pr
			dT[c-1] += f / pr
		}
		for j, v := range z {
			grad[j] += dEta * v
		}
	}
	for j := range beta {
		grad[j] += o.alpha * beta[j]
	}

	// Chain rule through t_j = a_0 + sum_{m=1..j} exp(a_m).
	tail := 0.0
	for m := len(t) - 1; m >= 0; m-- {
		tail += dT[m]
		if m == 0 {
			grad[o.p] = tail
		} else {
			grad[o.p+m] = tail * math.Exp(a[m])
		}
	}
}

func thresholds(a []float64) []float64 {
	t := make([]float64, len(a))
	for j, v := range a {
		if j == 0 {
			t[j] = v
			continue
		}
		t[j] = t[j-1] + math.Exp(v)
	}
	return t
}

// initialThresholds places the cut points at the logits of the cumulative
// class proportions, in the unconstrained parameterization.
func initialThresholds(labels []int, k int) []float64 {
	counts := make([]float64, k)
	for _, c := range labels {
		counts[c]++
	}
	n := float64(len(labels))
	a := make([]float64, k-1)
	cum, prev := 0.0, 0.0
	for j := 0; j < k-1; j++ {
		cum += counts[j]
		t := logit(cum / n)
		if j == 0 {
			a[j] = t
		} else {
			a[j] = math.Log(math.Max(t-prev, 1e-3))
		}
		prev = t
	}
	return a
}

func classProbs(t []float64, eta float64) []float64 {
	out := make([]float64, len(t)+1)
	for c := range out {
		out[c] = classProb(t, eta, c)
	}
	return out
}

func classProb(t []float64, eta float64, c int) float64 {
	upper, lower := 1.0, 0.0
	if c < len(t) {
		upper = sigmoid(t[c] - eta)
	}
	if c > 0 {
		lower = sigmoid(t[c-1] - eta)
	}
	return upper - lower
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func density(z float64) float64 {
	s := sigmoid(z)
	return s * (1 - s)
}

func logit(p float64) float64 {
	p = math.Min(math.Max(p, 1e-6), 1-1e-6)
	return math.Log(p / (1 - p))
}

func distinct(y []float64) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
