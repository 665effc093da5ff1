package heatmap

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Chart builds an interactive heat map of p.
func Chart(title string, p [][]float64) (*charts.HeatMap, error) {
	g, err := newProbabilityGrid(p)
	if err != nil {
		return nil, err
	}

	xs := make([]string, g.cols)
	for c := range xs {
		xs[c] = strconv.Itoa(c)
	}
	// category y axes run bottom to top
	ys := make([]string, g.rows)
	for r := range ys {
		ys[g.rows-1-r] = strconv.Itoa(r)
	}

	data := make([]opts.HeatMapData, 0, g.rows*g.cols)
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			data = append(data, opts.HeatMapData{
				Name:  fmt.Sprintf("(%d, %d)", r, c),
				Value: [3]interface{}{c, g.rows - 1 - r, p[r][c]},
			})
		}
	}

	maxP := g.max()
	if maxP <= 0 {
		maxP = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%dx%d cells", g.rows, g.cols)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "column", Data: xs, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "row", Data: ys, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxP),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xs)
	hm.AddSeries("probability", data, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{@[2]}"}))
	return hm, nil
}

// WriteHTML renders the heat map page to w.
func WriteHTML(w io.Writer, title string, p [][]float64) error {
	hm, err := Chart(title, p)
	if err != nil {
		return err
	}
	return hm.Render(w)
}

// SaveHTML renders the heat map page to a file at path.
func SaveHTML(path, title string, p [][]float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, title, p); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Handler serves the current probabilities returned by snapshot as an HTML
// heat map. A nil snapshot means no search is running.
func Handler(title string, snapshot func() [][]float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := snapshot()
		if p == nil {
			http.Error(w, "no belief state yet", http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := WriteHTML(&buf, title, p); err != nil {
			http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}
