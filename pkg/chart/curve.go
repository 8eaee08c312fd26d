package chart

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// MaxDatasets is the number of y columns a curve chart accepts
const MaxDatasets = 4

// ErrNoDatasets is returned for a curve chart without y columns
var ErrNoDatasets = errors.New("curve chart needs at least one dataset")

// CurveDataset is one y column of a curve chart. Nil entries are gaps.
type CurveDataset struct {
	Label  string     `json:"label"`
	Y      []*float64 `json:"y"`
	Hidden bool       `json:"hidden"`
}

// CurveChart is a generic x/y chart with up to four datasets sharing one x axis
type CurveChart struct {
	Title      string         `json:"title"`
	XAxisLabel string         `json:"xAxisLabel"`
	YAxisLabel string         `json:"yAxisLabel"`
	FlipY      bool           `json:"flipY"`
	X          []float64      `json:"x"`
	Datasets   []CurveDataset `json:"datasets"`
}

// Validate checks dataset count and column lengths
func (c *CurveChart) Validate() error {
	if len(c.Datasets) == 0 {
		return ErrNoDatasets
	}
	if len(c.Datasets) > MaxDatasets {
		return fmt.Errorf("curve chart supports at most %d datasets, got %d", MaxDatasets, len(c.Datasets))
	}
	for i, ds := range c.Datasets {
		if len(ds.Y) != len(c.X) {
			return fmt.Errorf("dataset %d has %d values for %d x values", i+1, len(ds.Y), len(c.X))
		}
	}
	return nil
}

// SetVisible shows or hides the dataset with the given label
func (c *CurveChart) SetVisible(label string, visible bool) bool {
	for i := range c.Datasets {
		if c.Datasets[i].Label == label {
			c.Datasets[i].Hidden = !visible
			return true
		}
	}
	return false
}

// RenderHTML writes the curve chart as an interactive ECharts page
func (c *CurveChart) RenderHTML(w io.Writer, o HTMLOptions) error {
	if err := c.Validate(); err != nil {
		return err
	}

	line := newValueLine(c.Title, c.XAxisLabel, c.YAxisLabel, c.FlipY, o)

	selected := make(map[string]bool, len(c.Datasets))
	for i, ds := range c.Datasets {
		label := ds.Label
		if label == "" {
			label = fmt.Sprintf("y%d", i+1)
		}
		selected[label] = !ds.Hidden

		data := make([]opts.LineData, 0, len(c.X))
		for k, x := range c.X {
			if ds.Y[k] == nil {
				continue
			}
			data = append(data, opts.LineData{Value: []interface{}{x, *ds.Y[k]}})
		}
		line.AddSeries(label, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}

	line.SetGlobalOptions(charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px", Selected: selected}))

	return line.Render(w)
}

// ParseCurveCSV reads a curve chart from CSV text whose header is x followed
// by one to four dataset labels. Blank or non-numeric y cells become gaps;
// rows with an unusable x are skipped.
func ParseCurveCSV(r io.Reader) (*CurveChart, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, ErrNoDatasets
	}
	if len(header)-1 > MaxDatasets {
		return nil, fmt.Errorf("curve chart supports at most %d datasets, got %d", MaxDatasets, len(header)-1)
	}

	c := &CurveChart{XAxisLabel: strings.TrimSpace(header[0])}
	for _, h := range header[1:] {
		c.Datasets = append(c.Datasets, CurveDataset{Label: strings.TrimSpace(h)})
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		x, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			continue
		}
		c.X = append(c.X, x)
		for i := range c.Datasets {
			var y *float64
			if i+1 < len(record) {
				if v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64); err == nil {
					y = &v
				}
			}
			c.Datasets[i].Y = append(c.Datasets[i].Y, y)
		}
	}

	return c, nil
}
