package chart

import (
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/vjranagit/lightcurve/pkg/analysis"
	"github.com/vjranagit/lightcurve/pkg/types"
)

// HTMLOptions controls the interactive page
type HTMLOptions struct {
	Width      string
	Height     string
	AssetsHost string
}

// DefaultHTMLOptions returns options for a full-width page
func DefaultHTMLOptions() HTMLOptions {
	return HTMLOptions{Width: "100%", Height: "640px"}
}

// RenderHTML writes the light curve as an interactive ECharts page
func RenderHTML(w io.Writer, rows []types.MergedRow, info types.ChartInfo, o HTMLOptions) error {
	info = WithDefaults(info)

	s1 := make([]opts.LineData, 0, len(rows))
	s2 := make([]opts.LineData, 0, len(rows))
	for _, r := range rows {
		if r.Source1 != nil {
			s1 = append(s1, opts.LineData{Value: []interface{}{r.Timestamp, *r.Source1}})
		}
		if r.Source2 != nil {
			s2 = append(s2, opts.LineData{Value: []interface{}{r.Timestamp, *r.Source2}})
		}
	}

	diff := analysis.Difference(rows)
	d := make([]opts.LineData, len(diff))
	for i, p := range diff {
		d[i] = opts.LineData{Value: []interface{}{p.X, p.Y}}
	}

	line := newValueLine(info.Title, info.XAxisLabel, info.YAxisLabel, true, o)
	series := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), ConnectNulls: opts.Bool(true)})
	line.AddSeries(info.DataLabels[0], s1, series)
	line.AddSeries(info.DataLabels[1], s2, series)
	line.AddSeries(info.DataLabels[2], d, series)

	return line.Render(w)
}

// newValueLine builds a line chart over numeric x, optionally flipping y
func newValueLine(title, xLabel, yLabel string, flipY bool, o HTMLOptions) *charts.Line {
	if o.Width == "" || o.Height == "" {
		def := DefaultHTMLOptions()
		if o.Width == "" {
			o.Width = def.Width
		}
		if o.Height == "" {
			o.Height = def.Height
		}
	}

	initOpts := opts.Initialization{PageTitle: title, Width: o.Width, Height: o.Height}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: xLabel, NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yLabel, NameLocation: "middle", NameGap: 40, Scale: opts.Bool(true), Inverse: opts.Bool(flipY)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside", XAxisIndex: []int{0}}),
	)
	return line
}
