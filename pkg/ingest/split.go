package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// SplitSources partitions samples into the first two sources of order and
// sorts each side ascending by timestamp. The sort is stable, so samples
// with equal timestamps keep their file order.
func SplitSources(samples []types.RawSample, order []types.SourceID) (types.SourceSeries, types.SourceSeries, error) {
	if len(order) < 2 {
		return types.SourceSeries{}, types.SourceSeries{}, NewInsufficientSourcesError(len(order))
	}

	a := types.SourceSeries{ID: order[0], Samples: []types.RawSample{}}
	b := types.SourceSeries{ID: order[1], Samples: []types.RawSample{}}

	for _, s := range samples {
		switch s.ID {
		case a.ID:
			a.Samples = append(a.Samples, s)
		case b.ID:
			b.Samples = append(b.Samples, s)
		}
	}

	byTimestamp := func(x, y types.RawSample) int {
		switch {
		case x.Timestamp < y.Timestamp:
			return -1
		case x.Timestamp > y.Timestamp:
			return 1
		}
		return 0
	}
	slices.SortStableFunc(a.Samples, byTimestamp)
	slices.SortStableFunc(b.Samples, byTimestamp)

	return a, b, nil
}

// Report describes what happened to one upload
type Report struct {
	Sources  []types.SourceID `json:"sources"`
	Rows     map[string]int   `json:"rows"`
	Dropped  int              `json:"dropped"`
	Ignored  []types.SourceID `json:"ignored,omitempty"`
	Warnings []Warning        `json:"warnings,omitempty"`
}

// Upload holds the two series produced from one CSV upload
type Upload struct {
	First  types.SourceSeries
	Second types.SourceSeries
	Report Report
}

// Prepare parses CSV text and splits it into two sorted series ready to merge
func Prepare(r io.Reader, opts *CSVOptions) (*Upload, error) {
	parsed, err := Parse(r, opts)
	if err != nil {
		return nil, err
	}

	first, second, err := SplitSources(parsed.Samples, parsed.Sources)
	if err != nil {
		return nil, err
	}

	up := &Upload{
		First:  first,
		Second: second,
		Report: Report{
			Sources: []types.SourceID{first.ID, second.ID},
			Rows: map[string]int{
				string(first.ID):  first.Len(),
				string(second.ID): second.Len(),
			},
			Dropped: parsed.Dropped,
		},
	}

	if len(parsed.Sources) > 2 {
		up.Report.Ignored = append([]types.SourceID(nil), parsed.Sources[2:]...)
		up.Report.Warnings = append(up.Report.Warnings, Warning{
			Kind:    KindExtraSources,
			Message: fmt.Sprintf("%d additional source(s) ignored", len(parsed.Sources)-2),
		})
	}

	for _, s := range []types.SourceSeries{first, second} {
		if s.Len() == 0 {
			up.Report.Warnings = append(up.Report.Warnings, Warning{
				Kind:    KindNoValidRows,
				Source:  string(s.ID),
				Message: "source has no numerically valid rows",
			})
		}
	}

	if parsed.Dropped > 0 || len(up.Report.Warnings) > 0 {
		slog.Debug("upload parsed with findings",
			"dropped", parsed.Dropped,
			"warnings", len(up.Report.Warnings))
	}

	return up, nil
}
