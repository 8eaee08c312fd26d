package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vjranagit/lightcurve/pkg/analysis"
	"github.com/vjranagit/lightcurve/pkg/chart"
	"github.com/vjranagit/lightcurve/pkg/ingest"
	"github.com/vjranagit/lightcurve/pkg/merge"
	"github.com/vjranagit/lightcurve/pkg/storage"
	"github.com/vjranagit/lightcurve/pkg/store"
	"github.com/vjranagit/lightcurve/pkg/table"
	"github.com/vjranagit/lightcurve/pkg/types"
)

// UploadResponse is returned by a successful upload
type UploadResponse struct {
	Version   uint64        `json:"version"`
	Stats     merge.Stats   `json:"stats"`
	Report    ingest.Report `json:"report"`
	DatasetID string        `json:"dataset_id,omitempty"`
}

// DataResponse carries the current table
type DataResponse struct {
	Version uint64            `json:"version"`
	Rows    []types.MergedRow `json:"rows,omitempty"`
	Columns []string          `json:"columns,omitempty"`
	Cells   [][]string        `json:"cells,omitempty"`
}

// DataRequest replaces the table with either typed rows or grid cells
type DataRequest struct {
	Rows  []types.MergedRow `json:"rows"`
	Cells [][]string        `json:"cells"`
}

// AnalysisResponse carries the derived errors and statistics for the table
type AnalysisResponse struct {
	Version    uint64            `json:"version"`
	Summary    analysis.Summary  `json:"summary"`
	Rows       []types.MergedRow `json:"rows"`
	Difference []analysis.Point  `json:"difference"`
}

// HealthResponse reports server state
type HealthResponse struct {
	Status    string              `json:"status"`
	Version   uint64              `json:"version"`
	Rows      int                 `json:"rows"`
	Observers int                 `json:"observers"`
	Charts    int                 `json:"cached_charts"`
	Cache     *storage.CacheStats `json:"cache,omitempty"`
	// CacheHitRate is the dataset cache hit percentage
	CacheHitRate float64 `json:"cache_hit_rate,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "upload rate exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	body, name, err := uploadBody(r)
	if err != nil {
		uploadError(w, err)
		return
	}
	defer body.Close()

	up, err := ingest.Prepare(body, s.opts.CSV)
	if err != nil {
		uploadError(w, err)
		return
	}

	rows := merge.Merge(up.First, up.Second)
	snap := s.store.Publish(rows)

	resp := UploadResponse{
		Version: snap.Version,
		Stats:   merge.Summarize(rows),
		Report:  up.Report,
	}

	if s.storage != nil {
		ds := &types.Dataset{
			ID:        uuid.New().String(),
			Name:      name,
			Sources:   up.Report.Sources,
			CreatedAt: time.Now().UTC(),
			Rows:      rows,
		}
		if err := s.storage.Save(r.Context(), ds); err != nil {
			slog.Error("failed to persist upload", "name", name, "error", err)
		} else {
			resp.DatasetID = ds.ID
		}
	}

	slog.Info("upload merged",
		"name", name,
		"rows", resp.Stats.Rows,
		"matched", resp.Stats.Matched,
		"version", snap.Version)

	writeJSON(w, http.StatusOK, resp)
}

func uploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": verr.Error(),
			"kind":  string(verr.Kind),
		})
		return
	}
	badRequest(w, err.Error())
}

// uploadBody returns the CSV stream from a multipart "file" field or the raw body
func uploadBody(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("reading form file: %w", err)
		}
		return file, filepath.Base(header.Filename), nil
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.csv"
	}
	return r.Body, name, nil
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	resp := DataResponse{Version: snap.Version}

	if r.URL.Query().Get("format") == "grid" {
		resp.Columns = table.Columns
		resp.Cells = table.Cells(snap.Rows, table.DisplayDigits)
	} else {
		resp.Rows = snap.Rows
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutData(w http.ResponseWriter, r *http.Request) {
	var req DataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	rows := req.Rows
	if req.Cells != nil {
		var err error
		rows, err = table.FromGrid(req.Cells)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	snap := s.store.SetData(rows)
	writeJSON(w, http.StatusOK, DataResponse{Version: snap.Version})
}

func (s *Server) handleAddRows(w http.ResponseWriter, r *http.Request) {
	index, amount, err := rowParams(r, -1)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	s.editRows(w, func() (store.Snapshot, error) { return s.store.AddRow(index, amount) })
}

func (s *Server) handleRemoveRows(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("index") {
		badRequest(w, "index is required")
		return
	}
	index, amount, err := rowParams(r, 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	s.editRows(w, func() (store.Snapshot, error) { return s.store.RemoveRow(index, amount) })
}

func (s *Server) editRows(w http.ResponseWriter, edit func() (store.Snapshot, error)) {
	snap, err := edit()
	if err != nil {
		if errors.Is(err, store.ErrIndexOutOfRange) {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Version: snap.Version})
}

func rowParams(r *http.Request, defaultIndex int) (index, amount int, err error) {
	index, amount = defaultIndex, 1
	q := r.URL.Query()
	if v := q.Get("index"); v != "" {
		if index, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("invalid index %q", v)
		}
	}
	if v := q.Get("amount"); v != "" {
		if amount, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("invalid amount %q", v)
		}
	}
	return index, amount, nil
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	snap := s.store.ResetData()
	writeJSON(w, http.StatusOK, DataResponse{Version: snap.Version})
}

func (s *Server) handleGetChartInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ChartInfo())
}

func (s *Server) handlePutChartInfo(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	info, err := chart.ParseInfo(data)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	s.store.SetChartInfo(info)
	writeJSON(w, http.StatusOK, s.store.ChartInfo())
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, AnalysisResponse{
		Version:    snap.Version,
		Summary:    analysis.Summarize(snap.Rows),
		Rows:       analysis.DerivedErrors(snap.Rows),
		Difference: analysis.Difference(snap.Rows),
	})
}

func (s *Server) handleChartPNG(w http.ResponseWriter, r *http.Request) {
	width, height := s.opts.ChartWidth, s.opts.ChartHeight
	q := r.URL.Query()
	if v := q.Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, fmt.Sprintf("invalid width %q", v))
			return
		}
		width = n
	}
	if v := q.Get("height"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, fmt.Sprintf("invalid height %q", v))
			return
		}
		height = n
	}

	data, err := s.charts.PNG(width, height)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleChartHTML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chart.RenderHTML(w, s.store.Data(), s.store.ChartInfo(), s.opts.HTML); err != nil {
		slog.Error("failed to render chart", "error", err)
	}
}

// handleCurve renders a multi-series chart from a CSV body whose first
// column is X. Query: title, x_label, y_label, flip_y, hide (repeatable).
func (s *Server) handleCurve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	c, err := chart.ParseCurveCSV(r.Body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	q := r.URL.Query()
	if v := q.Get("title"); v != "" {
		c.Title = v
	}
	if v := q.Get("x_label"); v != "" {
		c.XAxisLabel = v
	}
	if v := q.Get("y_label"); v != "" {
		c.YAxisLabel = v
	}
	if v := q.Get("flip_y"); v != "" {
		flip, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid flip_y %q", v))
			return
		}
		c.FlipY = flip
	}
	for _, label := range q["hide"] {
		if !c.SetVisible(label, false) {
			badRequest(w, fmt.Sprintf("unknown dataset %q", label))
			return
		}
	}
	if err := c.Validate(); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.RenderHTML(w, s.opts.HTML); err != nil {
		slog.Error("failed to render curve", "error", err)
	}
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}

	var (
		infos []types.DatasetInfo
		err   error
	)
	if source := r.URL.Query().Get("source"); source != "" {
		infos, err = s.storage.FindBySource(r.Context(), types.SourceID(source))
	} else {
		infos, err = s.storage.List(r.Context())
	}
	if err != nil {
		internalError(w, err.Error())
		return
	}
	if infos == nil {
		infos = []types.DatasetInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.storage.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(w, fmt.Sprintf("dataset %s not found", id))
			return
		}
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadDataset publishes a stored dataset as the current table
func (s *Server) handleLoadDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	snap := s.store.Publish(ds.Rows)
	slog.Info("dataset loaded", "id", ds.ID, "rows", len(ds.Rows), "version", snap.Version)
	writeJSON(w, http.StatusOK, DataResponse{Version: snap.Version})
}

func (s *Server) loadDataset(w http.ResponseWriter, r *http.Request) (*types.Dataset, bool) {
	if !s.requireStorage(w) {
		return nil, false
	}
	id := r.PathValue("id")
	ds, err := s.storage.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(w, fmt.Sprintf("dataset %s not found", id))
			return nil, false
		}
		internalError(w, err.Error())
		return nil, false
	}
	return ds, true
}

func (s *Server) requireStorage(w http.ResponseWriter) bool {
	if s.storage == nil {
		writeJSONError(w, http.StatusNotImplemented, "storage is disabled")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	resp := HealthResponse{
		Status:    "healthy",
		Version:   snap.Version,
		Rows:      len(snap.Rows),
		Observers: s.store.ObserverCount(),
		Charts:    s.charts.size(),
	}
	if cs, ok := s.storage.(*storage.CachedStorage); ok {
		stats := cs.CacheStats()
		resp.Cache = &stats
		resp.CacheHitRate = cs.CacheHitRate()
	}
	writeJSON(w, http.StatusOK, resp)
}
