package artifact

import "strings"

// Layout names every artifact derived from one remote table, so re-runs find
// them without a lookup table.
type Layout struct {
	Table string // logical table name, see LogicalName
}

// LayoutFor returns the layout for a remote table identifier.
func LayoutFor(tableID string) Layout {
	return Layout{Table: LogicalName(tableID)}
}

// LogicalName reduces "project.dataset.table" (or "dataset.table") to the
// bare table name and strips characters that cannot appear in a file name.
func LogicalName(tableID string) string {
	name := tableID
	if i := strings.LastIndexAny(name, ".:"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ':
			return '_'
		}
		return r
	}, name)
	return name
}

// Raw is the merged raw dataset.
func (l Layout) Raw() string { return l.Table + ".csv" }

// Chunks is the directory of per-page files written by a paged fetch.
func (l Layout) Chunks() string { return l.Table + "_chunks" }

// Predictions is the dataset augmented with class probabilities.
func (l Layout) Predictions() string { return l.Table + "_predictions.csv" }

// Summary is the fitted model's text report.
func (l Layout) Summary() string { return l.Table + "_predictions_summary.txt" }

// Plot is the rendered true-vs-predicted chart.
func (l Layout) Plot() string { return l.Table + "_predictions.png" }

// RemoteTable is the name of the warehouse table predictions are written to.
func (l Layout) RemoteTable() string { return l.Table + "_predictions" }
