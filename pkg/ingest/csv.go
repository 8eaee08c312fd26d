// Package ingest turns uploaded CSV text into two sorted source series.
package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// CSVOptions holds options for CSV parsing.
type CSVOptions struct {
	IDColumn        string // Column holding the source id (default: "id")
	TimestampColumn string // Column holding the Julian date (default: "mjd")
	ValueColumn     string // Column holding the magnitude (default: "mag")
	ErrorColumn     string // Column holding the magnitude error (default: "mag_error")
	Delimiter       rune   // Field delimiter (default: ',')
}

// DefaultCSVOptions returns default options for CSV parsing.
func DefaultCSVOptions() *CSVOptions {
	return &CSVOptions{
		IDColumn:        "id",
		TimestampColumn: "mjd",
		ValueColumn:     "mag",
		ErrorColumn:     "mag_error",
		Delimiter:       ',',
	}
}

// ParseResult holds the outcome of parsing one upload
type ParseResult struct {
	// Samples are the numerically valid rows in file order.
	Samples []types.RawSample
	// Sources lists every distinct id in order of first appearance,
	// including ids whose rows were all dropped.
	Sources []types.SourceID
	// Dropped counts rows discarded as malformed.
	Dropped int
}

// Parse reads CSV text with a header row. Rows whose numeric fields do not
// parse to finite numbers are dropped and counted, never reported as errors.
func Parse(r io.Reader, opts *CSVOptions) (*ParseResult, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewMissingColumnError(opts.IDColumn)
		}
		return nil, NewMalformedInputError(err)
	}

	idIdx, tsIdx, valIdx, errIdx, err := columnIndices(header, opts)
	if err != nil {
		return nil, err
	}
	width := max(idIdx, tsIdx, valIdx, errIdx) + 1

	res := &ParseResult{}
	seen := make(map[types.SourceID]bool)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewMalformedInputError(err)
		}

		if len(record) < width {
			res.Dropped++
			continue
		}

		id := types.SourceID(strings.TrimSpace(record[idIdx]))
		if id == "" {
			res.Dropped++
			continue
		}
		if !seen[id] {
			seen[id] = true
			res.Sources = append(res.Sources, id)
		}

		ts, ok1 := parseFinite(record[tsIdx])
		val, ok2 := parseFinite(record[valIdx])
		sigma, ok3 := parseFinite(record[errIdx])
		if !ok1 || !ok2 || !ok3 {
			res.Dropped++
			continue
		}

		res.Samples = append(res.Samples, types.RawSample{
			ID:        id,
			Timestamp: ts,
			Value:     val,
			Error:     sigma,
		})
	}

	return res, nil
}

// columnIndices locates the required columns, matching case-insensitively
func columnIndices(header []string, opts *CSVOptions) (id, ts, val, sigma int, err error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.Trim(h, "\"\ufeff")))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	find := func(name, fallback string) (int, error) {
		if name == "" {
			name = fallback
		}
		i, ok := index[strings.ToLower(name)]
		if !ok {
			return -1, NewMissingColumnError(name)
		}
		return i, nil
	}

	if id, err = find(opts.IDColumn, "id"); err != nil {
		return
	}
	if ts, err = find(opts.TimestampColumn, "mjd"); err != nil {
		return
	}
	if val, err = find(opts.ValueColumn, "mag"); err != nil {
		return
	}
	sigma, err = find(opts.ErrorColumn, "mag_error")
	return
}

// parseFinite parses a float and rejects NaN and infinities
func parseFinite(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
