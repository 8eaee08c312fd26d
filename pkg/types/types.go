package types

import "time"

// SourceID identifies one observing source (telescope, instrument, reduction) in an upload
type SourceID string

// RawSample represents a single parsed observation
type RawSample struct {
	ID        SourceID `json:"id"`
	Timestamp float64  `json:"mjd"`
	Value     float64  `json:"mag"`
	Error     float64  `json:"mag_error"`
}

// SourceSeries represents the samples of one source, sorted ascending by timestamp
type SourceSeries struct {
	ID      SourceID
	Samples []RawSample
}

// Len returns the number of samples in the series
func (s SourceSeries) Len() int {
	return len(s.Samples)
}

// MergedRow represents one row of the aligned table. Nil means null.
type MergedRow struct {
	Timestamp    float64  `json:"jd"`
	Source1      *float64 `json:"source1"`
	Source2      *float64 `json:"source2"`
	Error1       *float64 `json:"error1"`
	Error2       *float64 `json:"error2"`
	DerivedError *float64 `json:"errorMSE"`
}

// Matched reports whether the row carries a value from both sources
func (r MergedRow) Matched() bool {
	return r.Source1 != nil && r.Source2 != nil
}

// Clone returns a deep copy of the row
func (r MergedRow) Clone() MergedRow {
	return MergedRow{
		Timestamp:    r.Timestamp,
		Source1:      cloneFloat(r.Source1),
		Source2:      cloneFloat(r.Source2),
		Error1:       cloneFloat(r.Error1),
		Error2:       cloneFloat(r.Error2),
		DerivedError: cloneFloat(r.DerivedError),
	}
}

// CloneRows returns a deep copy of rows. A nil slice stays nil.
func CloneRows(rows []MergedRow) []MergedRow {
	if rows == nil {
		return nil
	}
	out := make([]MergedRow, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ChartInfo holds the presentation labels of the light curve chart
type ChartInfo struct {
	Title      string   `json:"title"`
	XAxisLabel string   `json:"xAxisLabel"`
	YAxisLabel string   `json:"yAxisLabel"`
	DataLabels []string `json:"dataLabels"`
}

// Dataset is a persisted merge result
type Dataset struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Sources   []SourceID  `json:"sources"`
	CreatedAt time.Time   `json:"created_at"`
	Rows      []MergedRow `json:"rows"`
}

// DatasetInfo describes a persisted dataset without its rows
type DatasetInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Sources   []SourceID `json:"sources"`
	CreatedAt time.Time  `json:"created_at"`
	RowCount  int        `json:"row_count"`
}

// Info returns the dataset description
func (d *Dataset) Info() DatasetInfo {
	return DatasetInfo{
		ID:        d.ID,
		Name:      d.Name,
		Sources:   append([]SourceID(nil), d.Sources...),
		CreatedAt: d.CreatedAt,
		RowCount:  len(d.Rows),
	}
}
