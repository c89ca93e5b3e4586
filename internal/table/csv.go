package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// SQLTimeLayout is the timestamp layout used for plain CSV handed to
// warehouses; BigQuery, PostgreSQL and SQLite all accept it.
const SQLTimeLayout = "2006-01-02 15:04:05.999999-07:00"

// timeLayouts are tried in order when a cell is parsed as a timestamp.
// Fractional seconds are accepted after the seconds field by every layout.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// WriteCSV encodes t with a typed header ("name:kind") so ReadCSV restores
// the exact column kinds.
func WriteCSV(w io.Writer, t *Table) error {
	header := make([]string, len(t.cols))
	for i, c := range t.cols {
		header[i] = c.Name + ":" + c.Kind.String()
	}
	return writeRecords(w, t, header, func(c *Column, i int) string { return c.Format(i) })
}

// WritePlainCSV encodes t with bare column names and warehouse-friendly
// timestamps, for loading into a remote table.
func WritePlainCSV(w io.Writer, t *Table) error {
	return writeRecords(w, t, t.Columns(), func(c *Column, i int) string {
		if c.Kind == Time && !c.Times[i].IsZero() {
			return c.Times[i].UTC().Format(SQLTimeLayout)
		}
		return c.Format(i)
	})
}

func writeRecords(w io.Writer, t *Table, header []string, cell func(*Column, int) string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	rec := make([]string, len(t.cols))
	for i := 0; i < t.rows; i++ {
		for j, c := range t.cols {
			rec[j] = cell(c, i)
		}
		if len(rec) == 1 && rec[0] == "" {
			// csv.Writer emits a lone empty field as a blank line, which
			// csv.Reader skips; quote it so the row survives.
			cw.Flush()
			if err := cw.Error(); err != nil {
				return fmt.Errorf("write csv row %d: %w", i, err)
			}
			if _, err := io.WriteString(w, "\"\"\n"); err != nil {
				return fmt.Errorf("write csv row %d: %w", i, err)
			}
			continue
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV decodes one CSV document. A typed header written by WriteCSV is
// honoured; otherwise each column's kind is inferred from its cells.
func ReadCSV(r io.Reader) (*Table, error) {
	return ReadCSVs(r)
}

// ReadCSVs decodes several CSV documents sharing one header (for example the
// shards of a warehouse export) into a single table. Kinds are inferred
// over all shards together.
func ReadCSVs(rs ...io.Reader) (*Table, error) {
	return readCSVs(nil, rs)
}

// ReadCSVsAs is ReadCSVs with column kinds taken from schema, matched by
// name. Columns schema does not name are still inferred.
func ReadCSVsAs(schema []Field, rs ...io.Reader) (*Table, error) {
	return readCSVs(schema, rs)
}

func readCSVs(schema []Field, rs []io.Reader) (*Table, error) {
	var header []string
	var cells [][]string
	for n, r := range rs {
		cr := csv.NewReader(r)
		cr.ReuseRecord = false
		h, err := cr.Read()
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read csv header: %w", err)
		}
		if header == nil {
			header = h
			cells = make([][]string, len(h))
		} else if !equalStrings(header, h) {
			return nil, fmt.Errorf("csv part %d header %v differs from %v", n, h, header)
		}
		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			for j := range rec {
				cells[j] = append(cells[j], rec[j])
			}
		}
	}
	if header == nil {
		return New(), nil
	}

	declared := make(map[string]Kind, len(schema))
	for _, f := range schema {
		declared[f.Name] = f.Kind
	}
	names, kinds, typed := parseTypedHeader(header)
	t := New()
	for j, name := range names {
		kind := kinds[j]
		if !typed {
			var ok bool
			if kind, ok = declared[name]; !ok {
				kind = inferKind(cells[j])
			}
		}
		c, err := buildColumn(name, kind, cells[j])
		if err != nil {
			return nil, err
		}
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// parseTypedHeader splits "name:kind" cells. The header counts as typed only
// when every cell carries a known kind.
func parseTypedHeader(header []string) ([]string, []Kind, bool) {
	names := make([]string, len(header))
	kinds := make([]Kind, len(header))
	typed := true
	for i, h := range header {
		names[i] = h
		idx := strings.LastIndex(h, ":")
		if idx <= 0 {
			typed = false
			continue
		}
		k, err := ParseKind(h[idx+1:])
		if err != nil {
			typed = false
			continue
		}
		names[i] = h[:idx]
		kinds[i] = k
	}
	if !typed {
		return header, kinds, false
	}
	return names, kinds, true
}

func inferKind(vals []string) Kind {
	seen := false
	numeric := true
	for _, v := range vals {
		if v == "" {
			continue
		}
		seen = true
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			numeric = false
			break
		}
	}
	if !seen {
		return String
	}
	if numeric {
		return Float
	}
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := parseTime(v); !ok {
			return String
		}
	}
	return Time
}

func buildColumn(name string, kind Kind, vals []string) (*Column, error) {
	c := &Column{Name: name, Kind: kind}
	switch kind {
	case Float:
		c.Floats = make([]float64, len(vals))
		for i, v := range vals {
			if v == "" {
				c.Floats[i] = math.NaN()
				continue
			}
			f, err := parseFloatCell(v)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			c.Floats[i] = f
		}
	case Time:
		c.Times = make([]time.Time, len(vals))
		for i, v := range vals {
			if v == "" {
				continue
			}
			ts, ok := parseTime(v)
			if !ok {
				return nil, fmt.Errorf("column %q row %d: %q is not a timestamp", name, i, v)
			}
			c.Times[i] = ts
		}
	default:
		c.Strings = vals
		if c.Strings == nil {
			c.Strings = []string{}
		}
	}
	return c, nil
}

// parseFloatCell also accepts boolean cells, as warehouse exports write
// BOOLEAN columns as true/false.
func parseFloatCell(v string) (float64, error) {
	switch strings.ToLower(v) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
