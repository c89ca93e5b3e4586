// Package table holds the in-memory columnar dataset that flows between
// pipeline stages, plus its CSV encoding.
//
// A Table is an ordered set of uniquely named columns sharing one row count.
// Each column is homogeneous: float (NaN marks a missing value), string, or
// time (the zero time marks a missing value).
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind is the value type of a column.
type Kind int

const (
	Float Kind = iota
	String
	Time
)

func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case String:
		return "string"
	case Time:
		return "time"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "float":
		return Float, nil
	case "string":
		return String, nil
	case "time":
		return Time, nil
	default:
		return 0, fmt.Errorf("unknown column kind %q", s)
	}
}

// Column is one named, homogeneous sequence of values. Only the slice that
// matches Kind is populated.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	Times   []time.Time
}

// NewFloat returns a float column.
func NewFloat(name string, vals []float64) *Column {
	return &Column{Name: name, Kind: Float, Floats: vals}
}

// NewString returns a string column.
func NewString(name string, vals []string) *Column {
	return &Column{Name: name, Kind: String, Strings: vals}
}

// NewTime returns a time column.
func NewTime(name string, vals []time.Time) *Column {
	return &Column{Name: name, Kind: Time, Times: vals}
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case Float:
		return len(c.Floats)
	case Time:
		return len(c.Times)
	default:
		return len(c.Strings)
	}
}

// IsNull reports whether row i holds a missing value.
func (c *Column) IsNull(i int) bool {
	switch c.Kind {
	case Float:
		return math.IsNaN(c.Floats[i])
	case Time:
		return c.Times[i].IsZero()
	default:
		return false
	}
}

// Format renders row i the way the CSV codec writes it. Missing values
// render as the empty string.
func (c *Column) Format(i int) string {
	switch c.Kind {
	case Float:
		return formatFloat(c.Floats[i])
	case Time:
		if c.Times[i].IsZero() {
			return ""
		}
		return c.Times[i].UTC().Format(time.RFC3339Nano)
	default:
		return c.Strings[i]
	}
}

// TimeValues returns the column as times. String columns are parsed with the
// layouts the CSV reader accepts; float columns are rejected.
func (c *Column) TimeValues() ([]time.Time, error) {
	switch c.Kind {
	case Time:
		return c.Times, nil
	case String:
		out := make([]time.Time, len(c.Strings))
		for i, s := range c.Strings {
			if s == "" {
				continue
			}
			ts, ok := parseTime(s)
			if !ok {
				return nil, fmt.Errorf("column %q row %d: %q is not a timestamp", c.Name, i, s)
			}
			out[i] = ts
		}
		return out, nil
	default:
		return nil, fmt.Errorf("column %q is %s, not a timestamp", c.Name, c.Kind)
	}
}

func (c *Column) pick(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Float:
		out.Floats = make([]float64, len(rows))
		for j, i := range rows {
			out.Floats[j] = c.Floats[i]
		}
	case Time:
		out.Times = make([]time.Time, len(rows))
		for j, i := range rows {
			out.Times[j] = c.Times[i]
		}
	default:
		out.Strings = make([]string, len(rows))
		for j, i := range rows {
			out.Strings[j] = c.Strings[i]
		}
	}
	return out
}

func (c *Column) asString() *Column {
	if c.Kind == String {
		return c
	}
	out := &Column{Name: c.Name, Kind: String, Strings: make([]string, c.Len())}
	for i := range out.Strings {
		out.Strings[i] = c.Format(i)
	}
	return out
}

// Table is an ordered collection of columns sharing one row count.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New returns an empty table; its row count is fixed by the first column added.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// FromColumns builds a table from cols in order.
func FromColumns(cols ...*Column) (*Table, error) {
	t := New()
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AddColumn appends c. Names must be unique and lengths must match.
func (t *Table) AddColumn(c *Column) error {
	if c.Name == "" {
		return errors.New("table: column name is empty")
	}
	if _, dup := t.index[c.Name]; dup {
		return fmt.Errorf("table: duplicate column %q", c.Name)
	}
	if len(t.cols) > 0 && c.Len() != t.rows {
		return fmt.Errorf("table: column %q has %d rows, table has %d", c.Name, c.Len(), t.rows)
	}
	t.rows = c.Len()
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// At returns the i-th column.
func (t *Table) At(i int) *Column { return t.cols[i] }

// Len returns the row count.
func (t *Table) Len() int { return t.rows }

// Width returns the column count.
func (t *Table) Width() int { return len(t.cols) }

// Clone returns a table sharing column data with t. Columns are treated as
// immutable once added, so adding columns to the clone leaves t untouched.
func (t *Table) Clone() *Table {
	out := &Table{
		cols:  append([]*Column(nil), t.cols...),
		index: make(map[string]int, len(t.index)),
		rows:  t.rows,
	}
	for k, v := range t.index {
		out.index[k] = v
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	var rows []int
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	out := New()
	for _, c := range t.cols {
		_ = out.AddColumn(c.pick(rows))
	}
	out.rows = len(rows)
	return out
}

// Concat stacks tables with the same column names in the same order.
// A column whose kind differs between parts is widened to string.
func Concat(parts ...*Table) (*Table, error) {
	if len(parts) == 0 {
		return New(), nil
	}
	first := parts[0]
	for n, p := range parts[1:] {
		if p.Width() != first.Width() {
			return nil, fmt.Errorf("table: part %d has %d columns, want %d", n+1, p.Width(), first.Width())
		}
		for i, c := range p.cols {
			if c.Name != first.cols[i].Name {
				return nil, fmt.Errorf("table: part %d column %d is %q, want %q", n+1, i, c.Name, first.cols[i].Name)
			}
		}
	}
	out := New()
	for i, c := range first.cols {
		kind := c.Kind
		for _, p := range parts[1:] {
			if p.cols[i].Kind != kind {
				kind = String
			}
		}
		merged := &Column{Name: c.Name, Kind: kind}
		for _, p := range parts {
			src := p.cols[i]
			if kind == String {
				src = src.asString()
			}
			merged.Floats = append(merged.Floats, src.Floats...)
			merged.Strings = append(merged.Strings, src.Strings...)
			merged.Times = append(merged.Times, src.Times...)
		}
		if err := out.AddColumn(merged); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
