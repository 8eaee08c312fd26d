// Command lcctl drives a running lightcurve server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vjranagit/lightcurve/pkg/client"
)

const usage = `Usage: lcctl [flags] <command> [args]

Commands:
  upload <file.csv>    merge and publish a CSV file
  data                 print the current table
  summary              print statistics for the current table
  reset                discard edits since the last upload
  chart <out.png>      save the rendered chart
  datasets             list stored uploads
  load <id>            publish a stored upload
  health               print server status

Flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("lcctl", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	server := flags.StringP("server", "s", envOr("LIGHTCURVE_SERVER", "http://localhost:8080"), "server base URL")
	timeout := flags.Duration("timeout", 30*time.Second, "request timeout")
	width := flags.Int("width", 960, "chart width in pixels")
	height := flags.Int("height", 540, "chart height in pixels")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errUsage
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := client.New(*server)
	defer c.Close()

	cmd, rest := flags.Arg(0), flags.Args()[1:]
	switch cmd {
	case "upload":
		if len(rest) != 1 {
			return fmt.Errorf("%w: upload needs a file", errUsage)
		}
		f, err := os.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close()
		resp, err := c.Upload(ctx, filepath.Base(rest[0]), f)
		if err != nil {
			return err
		}
		return printJSON(stdout, resp)

	case "data":
		resp, err := c.Data(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, resp)

	case "summary":
		resp, err := c.Analysis(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, resp.Summary)

	case "reset":
		version, err := c.Reset(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "reset to version %d\n", version)
		return nil

	case "chart":
		if len(rest) != 1 {
			return fmt.Errorf("%w: chart needs an output file", errUsage)
		}
		png, err := c.ChartPNG(ctx, *width, *height)
		if err != nil {
			return err
		}
		return os.WriteFile(rest[0], png, 0o644)

	case "datasets":
		infos, err := c.Datasets(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, infos)

	case "load":
		if len(rest) != 1 {
			return fmt.Errorf("%w: load needs a dataset id", errUsage)
		}
		version, err := c.LoadDataset(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "loaded %s as version %d\n", rest[0], version)
		return nil

	case "health":
		resp, err := c.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, resp)
	}

	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
