package format

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode picks how a report table is rendered: boxed for the terminal, or
// Markdown for pasting into run notes (run --markdown).
type Mode int

const (
	ASCII Mode = iota
	Markdown
)

// ColumnAlign is the horizontal alignment of one report column.
type ColumnAlign int

const (
	AlignDefault ColumnAlign = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// ColumnConfig formats one column, addressed by its 1-based Number. The
// status listing centres its artifact marks this way; MaxWidth 0 leaves the
// column unbounded.
type ColumnConfig struct {
	Number   int
	Align    ColumnAlign
	MaxWidth int
}

// TableBuilder collects the rows of a run report, status listing or model
// summary and renders them in the Mode given to NewTable.
type TableBuilder interface {
	Title(s string)
	Header(cols ...string)
	Row(vals ...any)
	// Footer adds a closing row such as the failed-table count.
	Footer(vals ...any)
	// Columns replaces every column setting at once.
	Columns(cfgs ...ColumnConfig)
	String() string
}

// NewTable returns an empty report table.
func NewTable(m Mode) TableBuilder {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &prettyAdapter{writer: w, mode: m}
}

type prettyAdapter struct {
	writer table.Writer
	mode   Mode
}

func (a *prettyAdapter) Title(s string) {
	a.writer.SetTitle(s)
}

func (a *prettyAdapter) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	a.writer.AppendHeader(row)
}

func (a *prettyAdapter) Row(vals ...any) {
	row := make(table.Row, len(vals))
	copy(row, vals)
	a.writer.AppendRow(row)
}

func (a *prettyAdapter) Footer(vals ...any) {
	row := make(table.Row, len(vals))
	copy(row, vals)
	a.writer.AppendFooter(row)
}

func (a *prettyAdapter) Columns(cfgs ...ColumnConfig) {
	goCfgs := make([]table.ColumnConfig, len(cfgs))
	for i, c := range cfgs {
		goCfgs[i] = table.ColumnConfig{
			Number:   c.Number,
			Align:    toTextAlign(c.Align),
			WidthMax: c.MaxWidth,
		}
	}
	a.writer.SetColumnConfigs(goCfgs)
}

func (a *prettyAdapter) String() string {
	switch a.mode {
	case Markdown:
		return a.writer.RenderMarkdown()
	default:
		return a.writer.Render()
	}
}

func toTextAlign(a ColumnAlign) text.Align {
	switch a {
	case AlignLeft:
		return text.AlignLeft
	case AlignRight:
		return text.AlignRight
	case AlignCenter:
		return text.AlignCenter
	default:
		return text.AlignDefault
	}
}
