package app

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"tao-supply-stats/internal/normalize"
)

const (
	chartColumns = 2
	chartRows    = 3
)

// ErrTooFewPoints is returned when a chart cannot be drawn from the dataset.
var ErrTooFewPoints = errors.New("at least two observations are required to render a chart")

var (
	colorBlue   = drawing.Color{R: 31, G: 119, B: 180, A: 255}
	colorRed    = drawing.Color{R: 214, G: 39, B: 40, A: 255}
	colorGreen  = drawing.Color{R: 44, G: 160, B: 44, A: 255}
	colorOrange = drawing.Color{R: 255, G: 127, B: 14, A: 255}
	colorPurple = drawing.Color{R: 148, G: 103, B: 189, A: 255}
)

type chartColumn struct {
	x         []time.Time
	issued    []float64
	staked    []float64
	circ      []float64
	stakedPct []float64
	accounts  []float64
	holders   []float64
}

func columnsOf(observations []normalize.Observation) chartColumn {
	c := chartColumn{
		x:         make([]time.Time, len(observations)),
		issued:    make([]float64, len(observations)),
		staked:    make([]float64, len(observations)),
		circ:      make([]float64, len(observations)),
		stakedPct: make([]float64, len(observations)),
		accounts:  make([]float64, len(observations)),
		holders:   make([]float64, len(observations)),
	}
	for i, o := range observations {
		c.x[i] = o.Timestamp.UTC()
		c.issued[i] = o.IssuedTAO.InexactFloat64()
		c.staked[i] = o.StakedTAO.InexactFloat64()
		c.circ[i] = o.CirculatingTAO.InexactFloat64()
		c.stakedPct[i] = o.StakedPercentage.InexactFloat64()
		c.accounts[i] = float64(o.Accounts)
		c.holders[i] = float64(o.BalanceHolders)
	}
	return c
}

// RenderChart draws the six analysis panels into a single PNG at path.
func RenderChart(path string, observations []normalize.Observation, width, height int) error {
	if len(observations) < 2 || observations[0].Timestamp.Equal(observations[len(observations)-1].Timestamp) {
		return ErrTooFewPoints
	}
	if width <= 0 {
		width = 1800
	}
	if height <= 0 {
		height = 1500
	}

	cols := columnsOf(observations)
	cellW, cellH := width/chartColumns, height/chartRows

	panels := []chart.Chart{
		stakedVsSupplyPanel(cols),
		stakedTotalPanel(cols),
		stakedTrendPanel(cols),
		supplyGrowthPanel(cols),
		networkGrowthPanel(cols),
		movingAveragePanel(cols),
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cellW*chartColumns, cellH*chartRows))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	for i, panel := range panels {
		panel.Width, panel.Height = cellW, cellH
		img, err := renderPanel(panel)
		if err != nil {
			return fmt.Errorf("render panel %q: %w", panel.Title, err)
		}
		origin := image.Pt((i%chartColumns)*cellW, (i/chartColumns)*cellH)
		draw.Draw(canvas, image.Rectangle{Min: origin, Max: origin.Add(img.Bounds().Size())}, img, img.Bounds().Min, draw.Over)
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return fmt.Errorf("encode chart: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func renderPanel(panel chart.Chart) (image.Image, error) {
	panel.Elements = []chart.Renderable{chart.Legend(&panel)}
	collector := &chart.ImageWriter{}
	if err := panel.Render(chart.PNG, collector); err != nil {
		return nil, err
	}
	return collector.Image()
}

func basePanel(title, yName string, ys ...[]float64) chart.Chart {
	return chart.Chart{
		Title: title,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           yName,
			Range:          paddedRange(ys...),
			ValueFormatter: compactFormatter,
		},
	}
}

func stakedVsSupplyPanel(c chartColumn) chart.Chart {
	graph := basePanel("Staked Percentage vs Current Supply", "Staked %", c.stakedPct)
	graph.YAxisSecondary = chart.YAxis{
		Name:           "Supply (TAO)",
		Range:          paddedRange(c.issued),
		ValueFormatter: compactFormatter,
	}
	graph.Series = []chart.Series{
		line("Staked %", c.x, c.stakedPct, colorBlue),
		chart.TimeSeries{
			Name:    "Current supply",
			XValues: c.x,
			YValues: c.issued,
			YAxis:   chart.YAxisSecondary,
			Style:   chart.Style{StrokeColor: colorRed, StrokeWidth: 2},
		},
	}
	return graph
}

func stakedTotalPanel(c chartColumn) chart.Chart {
	graph := basePanel("Total TAO Staked", "TAO", c.staked)
	graph.Series = []chart.Series{line("Staked TAO", c.x, c.staked, colorGreen)}
	return graph
}

func stakedTrendPanel(c chartColumn) chart.Chart {
	avg := mean(c.stakedPct)
	graph := basePanel("Staking Percentage Trend", "Staked %", c.stakedPct)
	graph.Series = []chart.Series{
		line("Staked %", c.x, c.stakedPct, colorPurple),
		chart.TimeSeries{
			Name:    fmt.Sprintf("Average %.2f%%", avg),
			XValues: []time.Time{c.x[0], c.x[len(c.x)-1]},
			YValues: []float64{avg, avg},
			Style:   chart.Style{StrokeColor: colorRed, StrokeWidth: 1.5, StrokeDashArray: []float64{5, 5}},
		},
	}
	return graph
}

func supplyGrowthPanel(c chartColumn) chart.Chart {
	graph := basePanel("Supply Growth", "TAO", c.issued, c.circ)
	graph.Series = []chart.Series{
		line("Current supply", c.x, c.issued, colorOrange),
		line("Circulating", c.x, c.circ, colorBlue),
	}
	return graph
}

func networkGrowthPanel(c chartColumn) chart.Chart {
	graph := basePanel("Network Growth: Accounts & Balance Holders", "Count", c.accounts, c.holders)
	graph.Series = []chart.Series{
		line("Accounts", c.x, c.accounts, colorBlue),
		line("Balance holders", c.x, c.holders, colorRed),
	}
	return graph
}

func movingAveragePanel(c chartColumn) chart.Chart {
	graph := basePanel("Staking Percentage with Moving Averages", "Staked %", c.stakedPct)
	graph.Series = []chart.Series{
		chart.TimeSeries{
			Name:    "Daily",
			XValues: c.x,
			YValues: c.stakedPct,
			Style:   chart.Style{StrokeColor: colorBlue.WithAlpha(90), StrokeWidth: 1},
		},
	}
	for _, w := range []struct {
		window int
		color  drawing.Color
	}{{7, colorRed}, {30, colorGreen}} {
		x, y := centeredMovingAverage(c.x, c.stakedPct, w.window)
		if len(x) < 2 {
			continue
		}
		graph.Series = append(graph.Series, line(fmt.Sprintf("%d-point average", w.window), x, y, w.color))
	}
	return graph
}

func line(name string, x []time.Time, y []float64, stroke drawing.Color) chart.TimeSeries {
	return chart.TimeSeries{
		Name:    name,
		XValues: x,
		YValues: y,
		Style:   chart.Style{StrokeColor: stroke, StrokeWidth: 2},
	}
}

// centeredMovingAverage keeps only points whose full window fits in the series.
func centeredMovingAverage(x []time.Time, y []float64, window int) ([]time.Time, []float64) {
	if window <= 0 || len(y) < window {
		return nil, nil
	}
	var (
		outX []time.Time
		outY []float64
		sum  float64
	)
	for i := 0; i < window; i++ {
		sum += y[i]
	}
	for lo := 0; lo+window <= len(y); lo++ {
		if lo > 0 {
			sum += y[lo+window-1] - y[lo-1]
		}
		outX = append(outX, x[lo+window/2])
		outY = append(outY, sum/float64(window))
	}
	return outX, outY
}

// paddedRange spans all values with a margin; flat data gets a unit margin.
func paddedRange(ys ...[]float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, y := range ys {
		for _, v := range y {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return &chart.ContinuousRange{Min: 0, Max: 1}
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.05, 1)
	}
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func compactFormatter(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	switch abs := math.Abs(f); {
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", f/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", f/1e3)
	default:
		return fmt.Sprintf("%.2f", f)
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
