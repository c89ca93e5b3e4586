// Package plot renders the yearly share of each rating, true against
// predicted, as two stacked-area panels.
package plot

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"ratingcast/internal/config"
	"ratingcast/internal/table"
)

// Shares is the per-year proportion of each category. Props[y][c] is the
// share of Labels[c] in Years[y]; every row sums to 1.
type Shares struct {
	Years  []int
	Labels []string
	Props  [][]float64
}

// Proportions computes the true shares, from counts of the target per year,
// and the predicted shares, from yearly sums of the pred_<i>_pr columns.
// Rows dated before cfg.MinYear are ignored.
func Proportions(t *table.Table, target string, cfg config.PlotConfig) (truth, predicted *Shares, err error) {
	dateCol, ok := t.Column(cfg.DateColumnName)
	if !ok {
		return nil, nil, fmt.Errorf("date column %q not in table", cfg.DateColumnName)
	}
	dates, err := dateCol.TimeValues()
	if err != nil {
		return nil, nil, fmt.Errorf("date column %q: %w", cfg.DateColumnName, err)
	}
	y, ok := t.Column(target)
	if !ok || y.Kind != table.Float {
		return nil, nil, fmt.Errorf("target column %q missing or not numeric", target)
	}

	var probCols []*table.Column
	for i := 1; ; i++ {
		c, ok := t.Column(fmt.Sprintf("pred_%d_pr", i))
		if !ok {
			break
		}
		probCols = append(probCols, c)
	}
	if len(probCols) == 0 {
		return nil, nil, fmt.Errorf("no pred_<i>_pr columns in table")
	}

	year := make([]int, t.Len())
	yearSet := map[int]bool{}
	for i, d := range dates {
		if d.IsZero() || d.Year() < cfg.MinYear {
			continue
		}
		year[i] = d.Year()
		yearSet[year[i]] = true
	}
	if len(yearSet) == 0 {
		return nil, nil, fmt.Errorf("no rows dated %d or later", cfg.MinYear)
	}
	years := make([]int, 0, len(yearSet))
	for yr := range yearSet {
		years = append(years, yr)
	}
	sort.Ints(years)
	yearIdx := make(map[int]int, len(years))
	for i, yr := range years {
		yearIdx[yr] = i
	}

	classSet := map[float64]bool{}
	for i, v := range y.Floats {
		if year[i] != 0 && !math.IsNaN(v) {
			classSet[v] = true
		}
	}
	classes := make([]float64, 0, len(classSet))
	for v := range classSet {
		classes = append(classes, v)
	}
	sort.Float64s(classes)

	truth = newShares(years, len(classes))
	for c, v := range classes {
		truth.Labels[c] = classLabel(v)
	}
	for i, v := range y.Floats {
		if year[i] == 0 || math.IsNaN(v) {
			continue
		}
		truth.Props[yearIdx[year[i]]][sort.SearchFloat64s(classes, v)]++
	}

	predicted = newShares(years, len(probCols))
	for c := range probCols {
		predicted.Labels[c] = strconv.Itoa(c + 1)
	}
	for i := 0; i < t.Len(); i++ {
		if year[i] == 0 {
			continue
		}
		row := predicted.Props[yearIdx[year[i]]]
		for c, col := range probCols {
			if v := col.Floats[i]; !math.IsNaN(v) {
				row[c] += v
			}
		}
	}

	truth.normalize()
	predicted.normalize()
	return truth, predicted, nil
}

func newShares(years []int, k int) *Shares {
	s := &Shares{Years: years, Labels: make([]string, k), Props: make([][]float64, len(years))}
	for i := range s.Props {
		s.Props[i] = make([]float64, k)
	}
	return s
}

func (s *Shares) normalize() {
	for _, row := range s.Props {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for c := range row {
			row[c] /= sum
		}
	}
}

func classLabel(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
