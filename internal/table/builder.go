package table

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Field describes one column of a schema.
type Field struct {
	Name string
	Kind Kind
}

// Builder accumulates rows against a fixed schema. Gateways use it to turn
// driver rows into a Table.
type Builder struct {
	fields []Field
	cols   []*Column
}

// NewBuilder returns a Builder for schema.
func NewBuilder(schema []Field) *Builder {
	b := &Builder{fields: schema}
	b.reset()
	return b
}

func (b *Builder) reset() {
	b.cols = make([]*Column, len(b.fields))
	for i, f := range b.fields {
		b.cols[i] = &Column{Name: f.Name, Kind: f.Kind}
	}
}

// Len returns the number of buffered rows.
func (b *Builder) Len() int {
	if len(b.cols) == 0 {
		return 0
	}
	return b.cols[0].Len()
}

// Append converts vals to the schema kinds and buffers them as one row.
// nil is a missing value for every kind.
func (b *Builder) Append(vals []any) error {
	if len(vals) != len(b.fields) {
		return fmt.Errorf("table: row has %d values, schema has %d", len(vals), len(b.fields))
	}
	floats := make([]float64, len(vals))
	times := make([]time.Time, len(vals))
	strs := make([]string, len(vals))
	for i, v := range vals {
		c := b.cols[i]
		var err error
		switch c.Kind {
		case Float:
			floats[i], err = toFloat(v)
		case Time:
			times[i], err = toTime(v)
		default:
			strs[i] = toString(v)
		}
		if err != nil {
			return fmt.Errorf("table: column %q: %w", c.Name, err)
		}
	}
	for i, c := range b.cols {
		switch c.Kind {
		case Float:
			c.Floats = append(c.Floats, floats[i])
		case Time:
			c.Times = append(c.Times, times[i])
		default:
			c.Strings = append(c.Strings, strs[i])
		}
	}
	return nil
}

// Table returns the buffered rows as a table and starts a new, empty buffer.
func (b *Builder) Table() (*Table, error) {
	t, err := FromColumns(b.cols...)
	b.reset()
	return t, err
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		if x == "" {
			return math.NaN(), nil
		}
		return strconv.ParseFloat(x, 64)
	case []byte:
		if len(x) == 0 {
			return math.NaN(), nil
		}
		return strconv.ParseFloat(string(x), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case string:
		if x == "" {
			return time.Time{}, nil
		}
		ts, ok := parseTime(x)
		if !ok {
			return time.Time{}, fmt.Errorf("%q is not a timestamp", x)
		}
		return ts, nil
	case []byte:
		return toTime(string(x))
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		return formatFloat(x)
	default:
		return fmt.Sprint(v)
	}
}
