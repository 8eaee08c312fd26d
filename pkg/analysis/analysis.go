// Package analysis derives secondary quantities from an aligned light curve.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// DerivedErrors returns a copy of rows where every row carrying both errors
// gets the combined error sqrt(e1² + e2²). Other rows keep a nil value.
func DerivedErrors(rows []types.MergedRow) []types.MergedRow {
	out := types.CloneRows(rows)
	for i := range out {
		r := &out[i]
		if r.Error1 == nil || r.Error2 == nil {
			r.DerivedError = nil
			continue
		}
		r.DerivedError = types.Float(math.Hypot(*r.Error1, *r.Error2))
	}
	return out
}

// Point is one sample of a derived series
type Point struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Err float64 `json:"err"`
}

// Difference returns source1 - source2 for every row carrying both values.
// Err is the combined error when both errors are present, otherwise 0.
func Difference(rows []types.MergedRow) []Point {
	var pts []Point
	for _, r := range rows {
		if !r.Matched() {
			continue
		}
		p := Point{X: r.Timestamp, Y: *r.Source1 - *r.Source2}
		if r.Error1 != nil && r.Error2 != nil {
			p.Err = math.Hypot(*r.Error1, *r.Error2)
		}
		pts = append(pts, p)
	}
	return pts
}

// SourceSummary holds descriptive statistics of one source column
type SourceSummary struct {
	Count        int     `json:"count"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"stddev"`
	WeightedMean float64 `json:"weighted_mean"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
}

// Summary holds descriptive statistics of a merged table
type Summary struct {
	Rows      int           `json:"rows"`
	Matched   int           `json:"matched"`
	Start     float64       `json:"start"`
	End       float64       `json:"end"`
	Source1   SourceSummary `json:"source1"`
	Source2   SourceSummary `json:"source2"`
	DiffMean  float64       `json:"diff_mean"`
	DiffStdev float64       `json:"diff_stddev"`
}

// Summarize computes descriptive statistics over rows
func Summarize(rows []types.MergedRow) Summary {
	s := Summary{Rows: len(rows)}
	if len(rows) == 0 {
		return s
	}

	s.Start, s.End = rows[0].Timestamp, rows[0].Timestamp
	var v1, w1, v2, w2 []float64
	for _, r := range rows {
		s.Start = math.Min(s.Start, r.Timestamp)
		s.End = math.Max(s.End, r.Timestamp)
		if r.Matched() {
			s.Matched++
		}
		if r.Source1 != nil {
			v1 = append(v1, *r.Source1)
			w1 = append(w1, inverseVariance(r.Error1))
		}
		if r.Source2 != nil {
			v2 = append(v2, *r.Source2)
			w2 = append(w2, inverseVariance(r.Error2))
		}
	}
	s.Source1 = summarizeColumn(v1, w1)
	s.Source2 = summarizeColumn(v2, w2)

	diff := Difference(rows)
	if len(diff) > 0 {
		ys := make([]float64, len(diff))
		for i, p := range diff {
			ys[i] = p.Y
		}
		s.DiffMean, s.DiffStdev = stat.MeanStdDev(ys, nil)
		if len(ys) < 2 {
			s.DiffStdev = 0
		}
	}
	return s
}

func summarizeColumn(values, weights []float64) SourceSummary {
	if len(values) == 0 {
		return SourceSummary{}
	}
	out := SourceSummary{
		Count: len(values),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	out.Mean, out.StdDev = stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		out.StdDev = 0
	}
	out.WeightedMean = out.Mean
	if floats.Sum(weights) > 0 && !containsInf(weights) {
		out.WeightedMean = stat.Mean(values, weights)
	}
	return out
}

// inverseVariance weighs a sample by 1/σ². Missing errors weigh 1.
func inverseVariance(sigma *float64) float64 {
	if sigma == nil {
		return 1
	}
	if *sigma == 0 {
		return math.Inf(1)
	}
	return 1 / (*sigma * *sigma)
}

func containsInf(xs []float64) bool {
	for _, x := range xs {
		if math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
