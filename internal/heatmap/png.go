// Package heatmap renders a probability grid as a PNG (gonum/plot) or an
// interactive HTML page (go-echarts). Row 0 is drawn at the top.
package heatmap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrEmpty is returned for a grid with no cells.
var ErrEmpty = errors.New("empty probability grid")

// cellSize is the rendered size of one grid cell.
const cellSize = 1.2 * vg.Inch

// probabilityGrid adapts a row-major probability grid to plotter.GridXYZ.
// Plot rows are flipped so that grid row 0 is the top row.
type probabilityGrid struct {
	p    [][]float64
	rows int
	cols int
}

func newProbabilityGrid(p [][]float64) (probabilityGrid, error) {
	if len(p) == 0 || len(p[0]) == 0 {
		return probabilityGrid{}, ErrEmpty
	}
	cols := len(p[0])
	for r, row := range p {
		if len(row) != cols {
			return probabilityGrid{}, fmt.Errorf("row %d has %d columns, want %d", r, len(row), cols)
		}
	}
	return probabilityGrid{p: p, rows: len(p), cols: cols}, nil
}

func (g probabilityGrid) Dims() (c, r int)   { return g.cols, g.rows }
func (g probabilityGrid) Z(c, r int) float64 { return g.p[g.rows-1-r][c] }
func (g probabilityGrid) X(c int) float64    { return float64(c) }
func (g probabilityGrid) Y(r int) float64    { return float64(r) }

func (g probabilityGrid) max() float64 {
	m := 0.0
	for _, row := range g.p {
		m = max(m, floats.Max(row))
	}
	return m
}

// Plot builds the heat map plot with a probability label in every cell.
func Plot(title string, p [][]float64) (*plot.Plot, error) {
	g, err := newProbabilityGrid(p)
	if err != nil {
		return nil, err
	}

	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "column"
	pl.Y.Label.Text = "row"

	hm := plotter.NewHeatMap(g, palette.Heat(12, 1))
	hm.Min = 0
	hm.Max = g.max()
	if hm.Max <= 0 {
		hm.Max = 1
	}
	pl.Add(hm)

	var xys plotter.XYs
	var labels []string
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(g.rows - 1 - r)})
			labels = append(labels, strconv.FormatFloat(p[r][c], 'f', 3, 64))
		}
	}
	lbl, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("failed to create labels: %w", err)
	}
	pl.Add(lbl)

	var colTicks, rowTicks []plot.Tick
	for c := 0; c < g.cols; c++ {
		colTicks = append(colTicks, plot.Tick{Value: float64(c), Label: strconv.Itoa(c)})
	}
	for r := 0; r < g.rows; r++ {
		rowTicks = append(rowTicks, plot.Tick{Value: float64(g.rows - 1 - r), Label: strconv.Itoa(r)})
	}
	pl.X.Tick.Marker = plot.ConstantTicks(colTicks)
	pl.Y.Tick.Marker = plot.ConstantTicks(rowTicks)
	pl.X.Min, pl.X.Max = -0.5, float64(g.cols)-0.5
	pl.Y.Min, pl.Y.Max = -0.5, float64(g.rows)-0.5

	return pl, nil
}

func canvasSize(p [][]float64) (vg.Length, vg.Length) {
	return vg.Length(len(p[0]))*cellSize + vg.Inch, vg.Length(len(p))*cellSize + vg.Inch
}

// WritePNG renders the heat map as PNG to w.
func WritePNG(w io.Writer, title string, p [][]float64) error {
	pl, err := Plot(title, p)
	if err != nil {
		return err
	}
	width, height := canvasSize(p)
	wt, err := pl.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders the heat map to a PNG file at path.
func SavePNG(path, title string, p [][]float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePNG(f, title, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
