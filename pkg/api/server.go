package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vjranagit/lightcurve/pkg/chart"
	"github.com/vjranagit/lightcurve/pkg/ingest"
	"github.com/vjranagit/lightcurve/pkg/storage"
	"github.com/vjranagit/lightcurve/pkg/store"
)

// Options configures the API server
type Options struct {
	// Storage persists uploads; nil disables the dataset endpoints.
	Storage        storage.Storage
	CSV            *ingest.CSVOptions
	MaxUploadBytes int64
	// UploadRate is uploads per second; zero means unlimited.
	UploadRate  float64
	UploadBurst int
	ChartWidth  int
	ChartHeight int
	HTML        chart.HTMLOptions
	Timeout     time.Duration
}

// Server implements the HTTP API server
type Server struct {
	store   *store.Store
	storage storage.Storage
	opts    Options
	limiter *rate.Limiter
	charts  *chartCache
	addr    string
	server  *http.Server
}

// NewServer creates a new API server over st
func NewServer(addr string, st *store.Store, opts Options) *Server {
	if opts.CSV == nil {
		opts.CSV = ingest.DefaultCSVOptions()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.ChartWidth <= 0 {
		opts.ChartWidth = 960
	}
	if opts.ChartHeight <= 0 {
		opts.ChartHeight = 540
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	if opts.UploadRate > 0 {
		limit = rate.Limit(opts.UploadRate)
	}
	burst := opts.UploadBurst
	if burst < 1 {
		burst = 1
	}

	return &Server{
		store:   st,
		storage: opts.Storage,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		charts:  newChartCache(st),
		addr:    addr,
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register handlers
	mux.HandleFunc("POST /api/v1/upload", s.handleUpload)
	mux.HandleFunc("GET /api/v1/data", s.handleGetData)
	mux.HandleFunc("PUT /api/v1/data", s.handlePutData)
	mux.HandleFunc("POST /api/v1/rows", s.handleAddRows)
	mux.HandleFunc("DELETE /api/v1/rows", s.handleRemoveRows)
	mux.HandleFunc("POST /api/v1/reset", s.handleReset)
	mux.HandleFunc("GET /api/v1/chart-info", s.handleGetChartInfo)
	mux.HandleFunc("PUT /api/v1/chart-info", s.handlePutChartInfo)
	mux.HandleFunc("GET /api/v1/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /api/v1/chart.png", s.handleChartPNG)
	mux.HandleFunc("GET /api/v1/chart.html", s.handleChartHTML)
	mux.HandleFunc("POST /api/v1/curve", s.handleCurve)
	mux.HandleFunc("GET /api/v1/datasets", s.handleListDatasets)
	mux.HandleFunc("GET /api/v1/datasets/{id}", s.handleGetDataset)
	mux.HandleFunc("DELETE /api/v1/datasets/{id}", s.handleDeleteDataset)
	mux.HandleFunc("POST /api/v1/datasets/{id}/load", s.handleLoadDataset)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.Timeout,
		WriteTimeout: s.opts.Timeout,
	}

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server and detaches it from the store
func (s *Server) Stop(ctx context.Context) error {
	s.charts.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
