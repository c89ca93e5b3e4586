// Package warehouse holds what the remote gateways share: the combined
// gateway contract and helpers for table identifiers and cell values.
package warehouse

import (
	"fmt"
	"strings"

	"ratingcast/internal/pipeline"
	"ratingcast/internal/table"
)

// Gateway is a remote warehouse that can serve as both source and sink.
type Gateway interface {
	pipeline.Source
	pipeline.PagedSource
	pipeline.Sink
	Close() error
}

// SplitID splits "project.dataset.table", "project:dataset.table" or
// "dataset.table" into its non-empty parts.
func SplitID(id string) ([]string, error) {
	parts := strings.FieldsFunc(id, func(r rune) bool { return r == '.' || r == ':' })
	if len(parts) == 0 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid table identifier %q", id)
	}
	return parts, nil
}

// Value returns cell i of c as a driver value: nil for missing cells,
// otherwise float64, string or time.Time according to the column kind.
func Value(c *table.Column, i int) any {
	if c.IsNull(i) {
		return nil
	}
	switch c.Kind {
	case table.Float:
		return c.Floats[i]
	case table.Time:
		return c.Times[i].UTC()
	default:
		return c.Strings[i]
	}
}

// Row returns row i of t as driver values, in column order.
func Row(t *table.Table, i int) []any {
	row := make([]any, t.Width())
	for j := range row {
		row[j] = Value(t.At(j), i)
	}
	return row
}

// Schema returns the field list of t.
func Schema(t *table.Table) []table.Field {
	out := make([]table.Field, t.Width())
	for j := range out {
		c := t.At(j)
		out[j] = table.Field{Name: c.Name, Kind: c.Kind}
	}
	return out
}
