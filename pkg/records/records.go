// Package records reads the per-building result records written after a
// reconstruction run and summarizes them as histograms and charts.
//
// A record file holds one line per building:
//
//	<error> <shapeCount> <algorithmId>
//
// where error is 1 - IoU of the simplified building.
package records

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"buildingrecon/internal/models"
)

// Histogram bounds used for the result charts.
const (
	HistogramBins = 10

	MaxError      = 1.0
	MaxShapeCount = 300.0
)

// ReadFile parses the record file at path.
func ReadFile(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads whitespace-delimited records. Blank lines are skipped.
func Parse(r io.Reader) ([]models.Record, error) {
	var out []models.Record
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", line, len(fields))
		}

		errVal, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: error value: %w", line, err)
		}
		shapes, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: shape count: %w", line, err)
		}
		algo, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: algorithm: %w", line, err)
		}

		out = append(out, models.Record{Error: errVal, ShapeCount: shapes, Algorithm: algo})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Histogram is a fixed-width histogram over [Edges[0], Edges[len-1]].
type Histogram struct {
	Edges  []float64
	Counts []float64

	// Ignored counts values outside the range
	Ignored int
}

// NewHistogram bins values into n equal bins over [lo, hi]. Values equal to
// hi fall into the last bin; values outside the range are ignored.
func NewHistogram(values []float64, n int, lo, hi float64) Histogram {
	h := Histogram{
		Edges:  floats.Span(make([]float64, n+1), lo, hi),
		Counts: make([]float64, n),
	}

	var inside []float64
	atTop := 0
	for _, v := range values {
		switch {
		case v == hi:
			atTop++
		case v >= lo && v < hi:
			inside = append(inside, v)
		default:
			h.Ignored++
		}
	}

	if len(inside) > 0 {
		sort.Float64s(inside)
		stat.Histogram(h.Counts, h.Edges, inside, nil)
	}
	h.Counts[n-1] += float64(atTop)

	return h
}

// Total is the number of values that were binned.
func (h Histogram) Total() int {
	return int(floats.Sum(h.Counts))
}

// Labels names each bin by its lower and upper edge.
func (h Histogram) Labels() []string {
	labels := make([]string, len(h.Counts))
	for i := range h.Counts {
		labels[i] = strconv.FormatFloat(h.Edges[i], 'g', 3, 64) + "-" + strconv.FormatFloat(h.Edges[i+1], 'g', 3, 64)
	}
	return labels
}

// ErrorHistogram bins record errors over [0, 1].
func ErrorHistogram(recs []models.Record) Histogram {
	values := make([]float64, len(recs))
	for i, r := range recs {
		values[i] = r.Error
	}
	return NewHistogram(values, HistogramBins, 0, MaxError)
}

// ShapeHistogram bins primitive shape counts over [0, 300].
func ShapeHistogram(recs []models.Record) Histogram {
	values := make([]float64, len(recs))
	for i, r := range recs {
		values[i] = float64(r.ShapeCount)
	}
	return NewHistogram(values, HistogramBins, 0, MaxShapeCount)
}

// AlgorithmCount is how often one simplification algorithm was selected.
type AlgorithmCount struct {
	Name  string
	ID    int
	Count int
}

// algorithmCategories are the selections the tool can report.
var algorithmCategories = []AlgorithmCount{
	{Name: "DP", ID: 2},
	{Name: "RA", ID: 3},
	{Name: "Curve", ID: 4},
}

// AlgorithmCounts counts the selected algorithm per record in the fixed
// order DP, RA, Curve. Any other id is returned as ignored.
func AlgorithmCounts(recs []models.Record) ([]AlgorithmCount, int) {
	counts := make([]AlgorithmCount, len(algorithmCategories))
	copy(counts, algorithmCategories)

	ignored := 0
	for _, r := range recs {
		found := false
		for i := range counts {
			if counts[i].ID == r.Algorithm {
				counts[i].Count++
				found = true
				break
			}
		}
		if !found {
			ignored++
		}
	}
	return counts, ignored
}
