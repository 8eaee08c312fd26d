package chart

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"gonum.org/v1/plot"
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/vjranagit/lightcurve/pkg/analysis"
	"github.com/vjranagit/lightcurve/pkg/types"
)

// ErrBadSize is returned for non-positive image dimensions
var ErrBadSize = errors.New("image width and height must be positive")

var seriesColors = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
}

// errorPoints pairs positions with symmetric error bars
type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// PlotLightCurve draws both sources with error bars and their difference.
// Magnitudes grow fainter upward, so the Y axis is inverted.
func PlotLightCurve(rows []types.MergedRow, info types.ChartInfo, wPx, hPx float64) (image.Image, error) {
	if wPx <= 0 || hPx <= 0 {
		return nil, ErrBadSize
	}
	info = WithDefaults(info)

	p := plot.New()
	styleFonts(p)

	p.Title.Text = info.Title
	p.X.Label.Text = info.XAxisLabel
	p.Y.Label.Text = info.YAxisLabel
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Y.Tick.Marker = plot.DefaultTicks{}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	s1, s2 := sourcePoints(rows)
	for i, pts := range []errorPoints{s1, s2} {
		if len(pts.XYs) == 0 {
			continue
		}
		if err := addErrorSeries(p, pts, info.DataLabels[i], seriesColors[i]); err != nil {
			return nil, err
		}
	}

	diff := analysis.Difference(rows)
	if len(diff) > 0 {
		xys := make(plotter.XYs, len(diff))
		for i, d := range diff {
			xys[i].X, xys[i].Y = d.X, d.Y
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = seriesColors[2]
		line.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
		p.Add(line)
		p.Legend.Add(info.DataLabels[2], line)
	}

	// Render to image
	const dpi = 96
	width := vg.Length(wPx) * vg.Inch / dpi
	height := vg.Length(hPx) * vg.Inch / dpi

	c := vgimg.New(width, height)
	dc := vgdraw.New(c)
	p.Draw(dc)

	return c.Image(), nil
}

// RenderPNG writes the light curve as PNG to w
func RenderPNG(w io.Writer, rows []types.MergedRow, info types.ChartInfo, wPx, hPx float64) error {
	img, err := PlotLightCurve(rows, info, wPx, hPx)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SavePNG creates filename and writes the light curve to it
func SavePNG(filename string, rows []types.MergedRow, info types.ChartInfo, wPx, hPx float64) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return RenderPNG(f, rows, info, wPx, hPx)
}

func addErrorSeries(p *plot.Plot, pts errorPoints, label string, c color.RGBA) error {
	scatter, err := plotter.NewScatter(pts.XYs)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Color = c
	scatter.GlyphStyle.Radius = vg.Points(2)
	scatter.GlyphStyle.Shape = vgdraw.CircleGlyph{}

	bars, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return err
	}
	bars.LineStyle.Color = c
	bars.CapWidth = vg.Points(3)

	p.Add(bars, scatter)
	p.Legend.Add(label, scatter)
	return nil
}

// sourcePoints extracts each source column with its error; a missing error draws no bar
func sourcePoints(rows []types.MergedRow) (errorPoints, errorPoints) {
	var s1, s2 errorPoints
	for _, r := range rows {
		if r.Source1 != nil {
			appendPoint(&s1, r.Timestamp, *r.Source1, r.Error1)
		}
		if r.Source2 != nil {
			appendPoint(&s2, r.Timestamp, *r.Source2, r.Error2)
		}
	}
	return s1, s2
}

func appendPoint(pts *errorPoints, x, y float64, sigma *float64) {
	pts.XYs = append(pts.XYs, plotter.XY{X: x, Y: y})
	e := 0.0
	if sigma != nil {
		e = *sigma
	}
	if e < 0 {
		e = -e
	}
	pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{Low: e, High: e})
}

func styleFonts(p *plot.Plot) {
	p.Title.TextStyle.Font.Typeface = "Liberation"
	p.Title.TextStyle.Font.Variant = "Sans"
	p.Title.TextStyle.Font.Size = vg.Points(12)

	p.X.Label.TextStyle.Font.Typeface = "Liberation"
	p.X.Label.TextStyle.Font.Variant = "Sans"
	p.X.Label.TextStyle.Font.Size = vg.Points(11)

	p.Y.Label.TextStyle.Font.Typeface = "Liberation"
	p.Y.Label.TextStyle.Font.Variant = "Sans"
	p.Y.Label.TextStyle.Font.Size = vg.Points(11)

	p.X.Tick.Label.Font.Typeface = "Liberation"
	p.X.Tick.Label.Font.Variant = "Sans"
	p.X.Tick.Label.Font.Size = vg.Points(9)

	p.Y.Tick.Label.Font.Typeface = "Liberation"
	p.Y.Tick.Label.Font.Variant = "Sans"
	p.Y.Tick.Label.Font.Size = vg.Points(9)
}
