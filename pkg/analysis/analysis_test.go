package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/lightcurve/pkg/types"
)

func f(v float64) *float64 { return types.Float(v) }

func TestDerivedErrors(t *testing.T) {
	rows := []types.MergedRow{
		{Timestamp: 1, Source1: f(10), Source2: f(11), Error1: f(0.3), Error2: f(0.4)},
		{Timestamp: 2, Source2: f(20), Error2: f(0.2)},
	}

	out := DerivedErrors(rows)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].DerivedError)
	assert.InDelta(t, 0.5, *out[0].DerivedError, 1e-12)
	assert.Nil(t, out[1].DerivedError)

	// input untouched
	assert.Nil(t, rows[0].DerivedError)
}

func TestDifference(t *testing.T) {
	rows := []types.MergedRow{
		{Timestamp: 1, Source1: f(10), Source2: f(11), Error1: f(0.3), Error2: f(0.4)},
		{Timestamp: 2, Source1: f(5)},
		{Timestamp: 3, Source1: f(7), Source2: f(4)},
	}

	pts := Difference(rows)
	require.Len(t, pts, 2)
	assert.Equal(t, 1.0, pts[0].X)
	assert.InDelta(t, -1.0, pts[0].Y, 1e-12)
	assert.InDelta(t, 0.5, pts[0].Err, 1e-12)
	assert.Equal(t, Point{X: 3, Y: 3}, pts[1])
}

func TestSummarize(t *testing.T) {
	rows := []types.MergedRow{
		{Timestamp: 1, Source1: f(10), Source2: f(12), Error1: f(1), Error2: f(1)},
		{Timestamp: 2, Source1: f(20), Error1: f(1)},
		{Timestamp: 3, Source2: f(14), Error2: f(1)},
	}

	s := Summarize(rows)
	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, 1, s.Matched)
	assert.Equal(t, 1.0, s.Start)
	assert.Equal(t, 3.0, s.End)
	assert.Equal(t, 2, s.Source1.Count)
	assert.InDelta(t, 15, s.Source1.Mean, 1e-12)
	assert.InDelta(t, 15, s.Source1.WeightedMean, 1e-12)
	assert.Equal(t, 10.0, s.Source1.Min)
	assert.Equal(t, 20.0, s.Source1.Max)
	assert.InDelta(t, 13, s.Source2.Mean, 1e-12)
	assert.InDelta(t, -2, s.DiffMean, 1e-12)
	assert.Zero(t, s.DiffStdev)
}

func TestSummarizeWeightedMean(t *testing.T) {
	rows := []types.MergedRow{
		{Timestamp: 1, Source1: f(10), Error1: f(1)},
		{Timestamp: 2, Source1: f(20), Error1: f(0.5)},
	}
	// weights 1 and 4
	assert.InDelta(t, 18, Summarize(rows).Source1.WeightedMean, 1e-12)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}
