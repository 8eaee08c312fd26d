package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vjranagit/lightcurve/internal/config"
	"github.com/vjranagit/lightcurve/internal/logging"
	"github.com/vjranagit/lightcurve/pkg/api"
	"github.com/vjranagit/lightcurve/pkg/chart"
	"github.com/vjranagit/lightcurve/pkg/storage"
	"github.com/vjranagit/lightcurve/pkg/store"
)

const (
	version = "0.3.0"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("lightcurve", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "path to config file")
	flags.StringP("listen", "l", "", "listen address")
	flags.StringP("data", "d", "", "storage directory")
	flags.Bool("in-memory", false, "keep stored datasets in memory only")
	flags.Bool("no-storage", false, "disable dataset storage and the write-ahead log")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("chart-info", "", "JSON5 file with chart title and labels")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("lightcurve v%s\n", version)
		return nil
	}

	// Load configuration
	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	slog.Info("configuration loaded",
		"version", version,
		"listen", cfg.Server.ListenAddr,
		"storage", cfg.Storage.Enabled,
		"path", cfg.Storage.Path,
		"in_memory", cfg.Storage.InMemory,
		"retention_days", cfg.Storage.RetentionDays,
		"compression_level", cfg.Storage.CompressionLevel)

	info := chart.DefaultInfo()
	if cfg.Chart.InfoFile != "" {
		if info, err = chart.LoadInfo(cfg.Chart.InfoFile); err != nil {
			return err
		}
	}
	storeOpts := []store.Option{store.WithChartInfo(info)}

	// Initialize storage
	var persist storage.Storage
	if cfg.Storage.Enabled {
		backend, err := storage.NewStorage(cfg.ToStorageConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		persist = storage.NewCachedStorage(backend, cfg.Storage.CacheSize, cfg.Storage.CacheTTL)
		defer persist.Close()
		slog.Info("storage engine initialized")
	}

	// Recover the last table before opening a fresh log
	var (
		recovered store.Snapshot
		found     bool
		wal       *storage.WAL
	)
	if cfg.Storage.Enabled && cfg.Storage.EnableWAL && !cfg.Storage.InMemory {
		recovered, found, err = storage.LatestSnapshot(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to replay WAL: %w", err)
		}
		wal, err = storage.NewWAL(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open WAL: %w", err)
		}
		defer wal.Close()
		storeOpts = append(storeOpts, store.WithJournal(wal))
	}

	st := store.New(storeOpts...)
	if found {
		st.Restore(recovered)
		if err := wal.Append(recovered); err != nil {
			slog.Warn("failed to carry recovered table into new WAL", "error", err)
		}
	}

	html := chart.DefaultHTMLOptions()
	html.AssetsHost = cfg.Chart.AssetsHost

	// Create API server
	server := api.NewServer(cfg.Server.ListenAddr, st, api.Options{
		Storage:        persist,
		CSV:            cfg.ToCSVOptions(),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		UploadRate:     cfg.Server.UploadRate,
		UploadBurst:    cfg.Server.UploadBurst,
		ChartWidth:     cfg.Chart.Width,
		ChartHeight:    cfg.Chart.Height,
		HTML:           html,
		Timeout:        cfg.Server.Timeout,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", cfg.Server.ListenAddr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped", "version", st.Version())
	return nil
}
