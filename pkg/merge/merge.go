// Package merge aligns two sorted observation series on a shared timestamp axis.
package merge

import (
	"math"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// Tolerance is the absolute timestamp distance below which two samples are
// treated as simultaneous.
const Tolerance = 1e-8

// Merge performs an ordered outer join of a and b by timestamp.
//
// Both series must already be sorted ascending; Merge does not re-sort.
// Matched rows take the timestamp of a. Duplicate timestamps inside one
// series are compared positionally and never collapsed.
func Merge(a, b types.SourceSeries) []types.MergedRow {
	sa, sb := a.Samples, b.Samples
	rows := make([]types.MergedRow, 0, len(sa)+len(sb))

	i, j := 0, 0
	for i < len(sa) && j < len(sb) {
		ta, tb := sa[i].Timestamp, sb[j].Timestamp
		switch {
		case math.Abs(ta-tb) < Tolerance:
			rows = append(rows, matchedRow(sa[i], sb[j]))
			i++
			j++
		case ta < tb:
			rows = append(rows, firstOnly(sa[i]))
			i++
		default:
			rows = append(rows, secondOnly(sb[j]))
			j++
		}
	}

	for ; i < len(sa); i++ {
		rows = append(rows, firstOnly(sa[i]))
	}
	for ; j < len(sb); j++ {
		rows = append(rows, secondOnly(sb[j]))
	}

	return rows
}

// Stats summarises a merge result
type Stats struct {
	Rows        int `json:"rows"`
	Matched     int `json:"matched"`
	FirstOnly   int `json:"first_only"`
	SecondOnly  int `json:"second_only"`
	EmptyValues int `json:"empty_values"`
}

// Summarize counts how rows are distributed between the two sources
func Summarize(rows []types.MergedRow) Stats {
	st := Stats{Rows: len(rows)}
	for _, r := range rows {
		switch {
		case r.Source1 != nil && r.Source2 != nil:
			st.Matched++
		case r.Source1 != nil:
			st.FirstOnly++
		case r.Source2 != nil:
			st.SecondOnly++
		default:
			st.EmptyValues++
		}
	}
	return st
}

func matchedRow(a, b types.RawSample) types.MergedRow {
	return types.MergedRow{
		Timestamp: a.Timestamp,
		Source1:   types.Float(a.Value),
		Source2:   types.Float(b.Value),
		Error1:    types.Float(a.Error),
		Error2:    types.Float(b.Error),
	}
}

func firstOnly(a types.RawSample) types.MergedRow {
	return types.MergedRow{
		Timestamp: a.Timestamp,
		Source1:   types.Float(a.Value),
		Error1:    types.Float(a.Error),
	}
}

func secondOnly(b types.RawSample) types.MergedRow {
	return types.MergedRow{
		Timestamp: b.Timestamp,
		Source2:   types.Float(b.Value),
		Error2:    types.Float(b.Error),
	}
}
