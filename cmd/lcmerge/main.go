// Command lcmerge aligns the two sources of a light-curve CSV offline and
// writes the merged table as CSV.
package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/vjranagit/lightcurve/internal/config"
	"github.com/vjranagit/lightcurve/internal/logging"
	"github.com/vjranagit/lightcurve/pkg/analysis"
	"github.com/vjranagit/lightcurve/pkg/chart"
	"github.com/vjranagit/lightcurve/pkg/ingest"
	"github.com/vjranagit/lightcurve/pkg/merge"
	"github.com/vjranagit/lightcurve/pkg/types"
)

type options struct {
	configFile string
	output     string
	png        string
	html       string
	derived    bool
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var o options
	flags := pflag.NewFlagSet("lcmerge", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lcmerge [flags] [file.csv]\n\nReads stdin when no file is given.\n\n")
		flags.PrintDefaults()
	}
	flags.StringVarP(&o.configFile, "config", "c", "", "path to config file")
	flags.StringVarP(&o.output, "output", "o", "", "write merged CSV here instead of stdout")
	flags.StringVar(&o.png, "png", "", "also render the chart to this PNG file")
	flags.StringVar(&o.html, "html", "", "also render the chart to this HTML file")
	flags.BoolVar(&o.derived, "derived", false, "add the combined error column")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("chart-info", "", "JSON5 file with chart title and labels")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(o.configFile, flags)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	in := stdin
	if flags.NArg() > 0 && flags.Arg(0) != "-" {
		f, err := os.Open(flags.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	up, err := ingest.Prepare(in, cfg.ToCSVOptions())
	if err != nil {
		return err
	}
	for _, w := range up.Report.Warnings {
		slog.Warn(w.Message, "kind", w.Kind, "source", w.Source)
	}

	rows := merge.Merge(up.First, up.Second)
	stats := merge.Summarize(rows)
	slog.Info("merged",
		"first", up.First.ID,
		"second", up.Second.ID,
		"rows", stats.Rows,
		"matched", stats.Matched,
		"dropped", up.Report.Dropped)

	if o.derived {
		rows = analysis.DerivedErrors(rows)
	}

	out := stdout
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := writeCSV(out, rows, o.derived); err != nil {
		return err
	}

	if o.png == "" && o.html == "" {
		return nil
	}

	info := chart.DefaultInfo()
	if cfg.Chart.InfoFile != "" {
		if info, err = chart.LoadInfo(cfg.Chart.InfoFile); err != nil {
			return err
		}
	}
	if o.png != "" {
		if err := chart.SavePNG(o.png, rows, info, float64(cfg.Chart.Width), float64(cfg.Chart.Height)); err != nil {
			return err
		}
	}
	if o.html != "" {
		f, err := os.Create(o.html)
		if err != nil {
			return err
		}
		defer f.Close()
		html := chart.DefaultHTMLOptions()
		html.AssetsHost = cfg.Chart.AssetsHost
		if err := chart.RenderHTML(f, rows, info, html); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w io.Writer, rows []types.MergedRow, derived bool) error {
	cw := csv.NewWriter(w)
	header := []string{"jd", "source1", "source2", "error1", "error2"}
	if derived {
		header = append(header, "errorMSE")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			strconv.FormatFloat(r.Timestamp, 'f', -1, 64),
			format(r.Source1),
			format(r.Source2),
			format(r.Error1),
			format(r.Error2),
		}
		if derived {
			record = append(record, format(r.DerivedError))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func format(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
