package plot

import (
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"ratingcast/internal/config"
	"ratingcast/internal/logging"
	"ratingcast/internal/table"
)

// starColors is the palette for one- to five-star ratings.
var starColors = map[string]color.NRGBA{
	"1": {R: 0xd7, G: 0x1e, B: 0x1d, A: 0xcc},
	"2": {R: 0xfd, G: 0xae, B: 0x61, A: 0xcc},
	"3": {R: 0xff, G: 0xfd, B: 0xbf, A: 0xcc},
	"4": {R: 0xab, G: 0xdd, B: 0xa4, A: 0xcc},
	"5": {R: 0x2a, G: 0x83, B: 0xba, A: 0xcc},
}

func colorFor(label string, i int) color.Color {
	if c, ok := starColors[label]; ok {
		return c
	}
	return plotutil.Color(i)
}

// Renderer draws the true and predicted panels side by side as a PNG.
type Renderer struct {
	log *slog.Logger
}

// NewRenderer returns a Renderer logging as the "plot" component.
func NewRenderer() *Renderer {
	return &Renderer{log: logging.New("plot")}
}

// Render writes the comparison chart for an augmented table to w.
func (r *Renderer) Render(w io.Writer, t *table.Table, target string, cfg config.PlotConfig) error {
	truth, predicted, err := Proportions(t, target, cfg)
	if err != nil {
		return err
	}
	r.log.Info("rendering plot", "target", target, "years", len(truth.Years),
		"first_year", truth.Years[0], "last_year", truth.Years[len(truth.Years)-1])

	left, err := panel("True Ratings", truth, cfg)
	if err != nil {
		return err
	}
	left.Y.Label.Text = "Proportion"
	right, err := panel("Predicted Ratings", predicted, cfg)
	if err != nil {
		return err
	}

	width := vg.Length(cfg.WidthInches) * vg.Inch
	height := vg.Length(cfg.HeightInches) * vg.Inch
	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1, Cols: 2,
		PadX:   vg.Millimeter * 6,
		PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 2,
		PadLeft: vg.Millimeter * 2, PadRight: vg.Millimeter * 2,
	}
	canvases := plot.Align([][]*plot.Plot{{left, right}}, tiles, dc)
	left.Draw(canvases[0][0])
	right.Draw(canvases[0][1])

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// panel builds one stacked-area chart: each category is a polygon between
// the running totals below and including it.
func panel(title string, s *Shares, cfg config.PlotConfig) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Year"
	p.Y.Min, p.Y.Max = 0, 1
	p.X.Min = float64(s.Years[0])
	p.X.Max = float64(s.Years[len(s.Years)-1])
	if p.X.Max == p.X.Min {
		p.X.Min -= 0.5
		p.X.Max += 0.5
	}
	p.X.Tick.Marker = yearTicks{start: cfg.MinYear, step: 2}

	grid := plotter.NewGrid()
	grid.Vertical.Color = nil
	grid.Horizontal.Color = color.Gray{Y: 0xd3}
	grid.Horizontal.Width = vg.Points(0.7)
	grid.Horizontal.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	p.Add(grid)

	lower := make([]float64, len(s.Years))
	polys := make([]*plotter.Polygon, len(s.Labels))
	for c := range s.Labels {
		pts := make(plotter.XYs, 0, 2*len(s.Years))
		upper := make([]float64, len(s.Years))
		for y := range s.Years {
			upper[y] = lower[y] + s.Props[y][c]
			pts = append(pts, plotter.XY{X: float64(s.Years[y]), Y: upper[y]})
		}
		for y := len(s.Years) - 1; y >= 0; y-- {
			pts = append(pts, plotter.XY{X: float64(s.Years[y]), Y: lower[y]})
		}
		poly, err := plotter.NewPolygon(pts)
		if err != nil {
			return nil, fmt.Errorf("%s: class %s: %w", title, s.Labels[c], err)
		}
		poly.Color = colorFor(s.Labels[c], c)
		poly.LineStyle.Width = 0
		p.Add(poly)
		polys[c] = poly
		lower = upper
	}
	// Highest rating on top, matching the stacking order.
	for c := len(polys) - 1; c >= 0; c-- {
		p.Legend.Add(s.Labels[c], polys[c])
	}
	p.Legend.Top = true

	if cfg.MarkerYear != 0 {
		marker, err := plotter.NewLine(plotter.XYs{
			{X: float64(cfg.MarkerYear), Y: 0},
			{X: float64(cfg.MarkerYear), Y: 1},
		})
		if err != nil {
			return nil, err
		}
		marker.LineStyle.Color = color.Gray{Y: 0x80}
		marker.LineStyle.Width = vg.Points(1)
		marker.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(marker)
	}
	return p, nil
}

// yearTicks labels every step-th year starting at start.
type yearTicks struct {
	start, step int
}

func (yt yearTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	first := yt.start
	for float64(first) < min {
		first += yt.step
	}
	for yr := first; float64(yr) <= max; yr++ {
		label := ""
		if (yr-yt.start)%yt.step == 0 {
			label = strconv.Itoa(yr)
		}
		ticks = append(ticks, plot.Tick{Value: float64(yr), Label: label})
	}
	return ticks
}
