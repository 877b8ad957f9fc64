package records

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"buildingrecon/internal/models"
)

// Chart file names written by Render.
const (
	ErrorsChart     = "errors.png"
	ShapesChart     = "shapes.png"
	AlgorithmsChart = "algorithms.png"
)

var (
	green = color.RGBA{R: 0, G: 128, B: 0, A: 191}
	blue  = color.RGBA{R: 0, G: 0, B: 255, A: 191}
	red   = color.RGBA{R: 255, G: 0, B: 0, A: 191}
)

// Render writes the error, shape count and algorithm charts for recs into
// outputDir and returns the paths written.
func Render(recs []models.Record, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	errHist := ErrorHistogram(recs)
	shapeHist := ShapeHistogram(recs)
	algos, _ := AlgorithmCounts(recs)

	algoValues := make(plotter.Values, len(algos))
	algoLabels := make([]string, len(algos))
	for i, a := range algos {
		algoValues[i] = float64(a.Count)
		algoLabels[i] = a.Name
	}

	charts := []struct {
		file   string
		xLabel string
		values plotter.Values
		labels []string
		fill   color.Color
	}{
		{ErrorsChart, "Error (1-IoU)", plotter.Values(errHist.Counts), errHist.Labels(), green},
		{ShapesChart, "#Primitive shapes", plotter.Values(shapeHist.Counts), shapeHist.Labels(), blue},
		{AlgorithmsChart, "Selected algorithm", algoValues, algoLabels, red},
	}

	var written []string
	for _, c := range charts {
		path := filepath.Join(outputDir, c.file)
		if err := saveBarChart(path, c.xLabel, c.values, c.labels, c.fill); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func saveBarChart(path, xLabel string, values plotter.Values, labels []string, fill color.Color) error {
	p := plot.New()
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Buildings"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(28))
	if err != nil {
		return fmt.Errorf("bar chart %s: %w", filepath.Base(path), err)
	}
	bars.Color = fill
	bars.LineStyle.Width = vg.Points(1.2)
	bars.LineStyle.Color = color.Black

	p.Add(bars)
	p.NominalX(labels...)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}
