// Package table adapts the aligned light curve to an editable grid.
package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// Columns are the grid headers in display order
var Columns = []string{"Julian Date", "Source 1", "Source 2", "Error 1", "Error 2"}

// DisplayDigits is the number of decimals shown in the grid
const DisplayDigits = 2

// LimitPrecision returns a display copy with every value rounded to digits
// decimals. Nil stays nil and the derived error is left out of the grid.
func LimitPrecision(rows []types.MergedRow, digits int) []types.MergedRow {
	out := make([]types.MergedRow, len(rows))
	for i, r := range rows {
		out[i] = types.MergedRow{
			Timestamp: round(r.Timestamp, digits),
			Source1:   roundPtr(r.Source1, digits),
			Source2:   roundPtr(r.Source2, digits),
			Error1:    roundPtr(r.Error1, digits),
			Error2:    roundPtr(r.Error2, digits),
		}
	}
	return out
}

// Cells formats rows as grid text; nil values become empty cells
func Cells(rows []types.MergedRow, digits int) [][]string {
	rows = LimitPrecision(rows, digits)
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			strconv.FormatFloat(r.Timestamp, 'f', digits, 64),
			formatPtr(r.Source1, digits),
			formatPtr(r.Source2, digits),
			formatPtr(r.Error1, digits),
			formatPtr(r.Error2, digits),
		}
	}
	return out
}

// CellError reports a grid cell that is not a number
type CellError struct {
	Row    int
	Column string
	Value  string
}

func (e *CellError) Error() string {
	return fmt.Sprintf("row %d, column %q: %q is not a number", e.Row+1, e.Column, e.Value)
}

// FromGrid parses edited grid cells back into rows. Blank cells are null;
// a blank Julian Date becomes 0, matching an inserted empty row.
func FromGrid(cells [][]string) ([]types.MergedRow, error) {
	rows := make([]types.MergedRow, len(cells))
	for i, line := range cells {
		values := make([]*float64, len(Columns))
		for c := range Columns {
			if c >= len(line) {
				continue
			}
			s := strings.TrimSpace(line[c])
			if s == "" {
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &CellError{Row: i, Column: Columns[c], Value: line[c]}
			}
			values[c] = &v
		}

		if values[0] != nil {
			rows[i].Timestamp = *values[0]
		}
		rows[i].Source1 = values[1]
		rows[i].Source2 = values[2]
		rows[i].Error1 = values[3]
		rows[i].Error2 = values[4]
	}
	return rows, nil
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

func roundPtr(v *float64, digits int) *float64 {
	if v == nil {
		return nil
	}
	return types.Float(round(*v, digits))
}

func formatPtr(v *float64, digits int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', digits, 64)
}
