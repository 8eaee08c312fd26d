package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/lightcurve/pkg/chart"
	"github.com/vjranagit/lightcurve/pkg/storage"
	"github.com/vjranagit/lightcurve/pkg/store"
	"github.com/vjranagit/lightcurve/pkg/types"
)

const uploadCSV = `id,mjd,mag,mag_error
A,1.0,10,0.1
B,1.0,11,0.2
A,2.0,12,0.1
B,3.0,13,0.2
`

func newTestServer(t *testing.T, opts Options) (*Server, *store.Store) {
	t.Helper()
	st := store.New(store.WithChartInfo(chart.DefaultInfo()))
	srv := NewServer(":0", st, opts)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv, st
}

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	backend, err := storage.NewStorage(&storage.Config{InMemory: true, CompressionLevel: 1})
	require.NoError(t, err)
	cached := storage.NewCachedStorage(backend, 4, 0)
	t.Cleanup(func() { _ = cached.Close() })
	return cached
}

func do(t *testing.T, h http.Handler, method, target string, body []byte, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUploadMergesAndPublishes(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/upload?name=obs.csv", []byte(uploadCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[UploadResponse](t, rec)
	assert.Equal(t, uint64(1), resp.Version)
	assert.Equal(t, 3, resp.Stats.Rows)
	assert.Equal(t, 1, resp.Stats.Matched)
	assert.Equal(t, []types.SourceID{"A", "B"}, resp.Report.Sources)
	assert.Empty(t, resp.DatasetID)

	rows := st.Data()
	require.Len(t, rows, 3)
	assert.Equal(t, 1.0, rows[0].Timestamp)
	assert.Equal(t, 10.0, *rows[0].Source1)
	assert.Equal(t, 11.0, *rows[0].Source2)
	assert.Nil(t, rows[1].Source2)
	assert.Nil(t, rows[2].Source1)
}

func TestUploadMultipart(t *testing.T) {
	srv, st := newTestServer(t, Options{Storage: newTestStorage(t)})
	h := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "night-1.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(uploadCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := do(t, h, http.MethodPost, "/api/v1/upload", buf.Bytes(), "Content-Type", mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[UploadResponse](t, rec)
	require.NotEmpty(t, resp.DatasetID)
	assert.Equal(t, 3, st.Len())

	rec = do(t, h, http.MethodGet, "/api/v1/datasets/"+resp.DatasetID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ds := decode[types.Dataset](t, rec)
	assert.Equal(t, "night-1.csv", ds.Name)
	assert.Len(t, ds.Rows, 3)
}

func TestUploadValidationErrors(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	h := srv.Handler()

	tests := []struct {
		name string
		body string
		kind string
	}{
		{"single source", "id,mjd,mag,mag_error\nA,1,10,0.1\n", "insufficient_sources"},
		{"missing column", "id,mjd,mag\nA,1,10\nB,1,11\n", "missing_column"},
		{"empty", "", "missing_column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte(tt.body))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			body := decode[map[string]string](t, rec)
			assert.Equal(t, tt.kind, body["kind"])
		})
	}

	assert.Zero(t, st.Version(), "failed uploads must not replace the table")
}

func TestUploadRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, Options{UploadRate: 0.001, UploadBurst: 1})
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte(uploadCSV))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/upload", []byte(uploadCSV))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxUploadBytes: 16})
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/upload", []byte(uploadCSV))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDataRoundTrip(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	h := srv.Handler()

	st.Publish([]types.MergedRow{
		{Timestamp: 1.0, Source1: types.Float(10.123), Error1: types.Float(0.1)},
	})

	rec := do(t, h, http.MethodGet, "/api/v1/data?format=grid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	grid := decode[DataResponse](t, rec)
	assert.Equal(t, uint64(1), grid.Version)
	require.Len(t, grid.Cells, 1)
	assert.Equal(t, "10.12", grid.Cells[0][1])
	assert.Equal(t, "", grid.Cells[0][2])

	edited := DataRequest{Cells: [][]string{{"1.00", "9.5", "9.7", "0.10", ""}}}
	body, _ := json.Marshal(edited)
	rec = do(t, h, http.MethodPut, "/api/v1/data", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rows := st.Data()
	require.Len(t, rows, 1)
	assert.Equal(t, 9.7, *rows[0].Source2)
	assert.Nil(t, rows[0].Error2)

	rec = do(t, h, http.MethodPut, "/api/v1/data", []byte(`{"cells":[["x"]]}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/v1/data", []byte(`{"rows":[{"jd":2,"source1":1}]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, st.Data()[0].Timestamp)

	rec = do(t, h, http.MethodPut, "/api/v1/data", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRowEditsAndReset(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte(uploadCSV))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/rows?index=0&amount=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, st.Len())

	rec = do(t, h, http.MethodPost, "/api/v1/rows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, st.Len())

	rec = do(t, h, http.MethodDelete, "/api/v1/rows?index=0&amount=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, st.Len())

	rec = do(t, h, http.MethodDelete, "/api/v1/rows?index=40", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/rows", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/rows?amount=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, st.Len())
}

func TestChartInfo(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/chart-info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chart.DefaultInfo(), decode[types.ChartInfo](t, rec))

	rec = do(t, h, http.MethodPut, "/api/v1/chart-info", []byte(`{title: 'PSR B1919+21', /* labels */ dataLabels: ['ZTF', 'ATLAS',],}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	info := st.ChartInfo()
	assert.Equal(t, "PSR B1919+21", info.Title)
	assert.Equal(t, []string{"ZTF", "ATLAS", chart.DifferenceLabel}, info.DataLabels)

	rec = do(t, h, http.MethodPut, "/api/v1/chart-info", []byte(`{title:`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysis(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	st.Publish([]types.MergedRow{
		{Timestamp: 1, Source1: types.Float(10), Source2: types.Float(11), Error1: types.Float(3), Error2: types.Float(4)},
		{Timestamp: 2, Source1: types.Float(12), Error1: types.Float(0.1)},
	})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[AnalysisResponse](t, rec)
	assert.Equal(t, 2, resp.Summary.Rows)
	assert.Equal(t, 1, resp.Summary.Matched)
	require.Len(t, resp.Rows, 2)
	require.NotNil(t, resp.Rows[0].DerivedError)
	assert.InDelta(t, 5.0, *resp.Rows[0].DerivedError, 1e-12)
	require.Len(t, resp.Difference, 1)
	assert.Equal(t, -1.0, resp.Difference[0].Y)

	assert.Nil(t, st.Data()[0].DerivedError, "analysis must not modify the table")
}

func TestChartPNGCachedUntilReplace(t *testing.T) {
	srv, st := newTestServer(t, Options{ChartWidth: 320, ChartHeight: 200})
	h := srv.Handler()
	st.Publish([]types.MergedRow{
		{Timestamp: 1, Source1: types.Float(10), Source2: types.Float(11), Error1: types.Float(0.1), Error2: types.Float(0.1)},
		{Timestamp: 2, Source1: types.Float(10.5), Error1: types.Float(0.1)},
	})

	rec := do(t, h, http.MethodGet, "/api/v1/chart.png", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
	assert.Equal(t, 1, srv.charts.size())

	st.SetData(st.Data())
	assert.Zero(t, srv.charts.size())

	rec = do(t, h, http.MethodGet, "/api/v1/chart.png?width=100&height=80", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.charts.size())

	st.SetChartInfo(chart.DefaultInfo())
	assert.Zero(t, srv.charts.size())

	rec = do(t, h, http.MethodGet, "/api/v1/chart.png?width=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChartPNGNotCachedWhenLabelsChangeMidRender(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	st.Publish([]types.MergedRow{{Timestamp: 1, Source1: types.Float(10)}})

	renderPNG := srv.charts.render
	var titles []string
	srv.charts.render = func(w io.Writer, rows []types.MergedRow, info types.ChartInfo, wPx, hPx float64) error {
		titles = append(titles, info.Title)
		if len(titles) == 1 {
			relabeled := chart.DefaultInfo()
			relabeled.Title = "Relabeled"
			st.SetChartInfo(relabeled)
		}
		return renderPNG(w, rows, info, wPx, hPx)
	}

	_, err := srv.charts.PNG(200, 120)
	require.NoError(t, err)
	assert.Zero(t, srv.charts.size(), "a render overtaken by a label change must not be cached")

	_, err = srv.charts.PNG(200, 120)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.charts.size())
	assert.Equal(t, []string{"Pulsar Light Curve", "Relabeled"}, titles)

	_, err = srv.charts.PNG(200, 120)
	require.NoError(t, err)
	assert.Len(t, titles, 2, "current render should be served from cache")
}

func TestChartHTML(t *testing.T) {
	srv, st := newTestServer(t, Options{HTML: chart.DefaultHTMLOptions()})
	st.Publish([]types.MergedRow{{Timestamp: 1, Source1: types.Float(10)}})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/chart.html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Pulsar Light Curve")
}

func TestCurve(t *testing.T) {
	srv, _ := newTestServer(t, Options{HTML: chart.DefaultHTMLOptions()})
	h := srv.Handler()
	body := []byte("phase,data,model\n0.0,1.0,1.1\n0.5,2.0,\n1.0,1.5,1.4\n")

	rec := do(t, h, http.MethodPost, "/api/v1/curve?title=Folded&flip_y=true&hide=model", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Folded")
	assert.Contains(t, rec.Body.String(), `"model":false`)

	rec = do(t, h, http.MethodPost, "/api/v1/curve?hide=nope", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/curve", []byte("phase\n0.0\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDatasets(t *testing.T) {
	srv, st := newTestServer(t, Options{Storage: newTestStorage(t)})
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/upload", []byte(uploadCSV))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[UploadResponse](t, rec).DatasetID

	rec = do(t, h, http.MethodGet, "/api/v1/datasets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	infos := decode[[]types.DatasetInfo](t, rec)
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
	assert.Equal(t, 3, infos[0].RowCount)

	rec = do(t, h, http.MethodGet, "/api/v1/datasets?source=B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.DatasetInfo](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/v1/datasets?source=C", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]types.DatasetInfo](t, rec))

	st.SetData(nil)
	rec = do(t, h, http.MethodPost, "/api/v1/datasets/"+id+"/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, st.Len())

	rec = do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	require.NotNil(t, health.Cache)
	assert.Equal(t, 1, health.Cache.Size)
	assert.Equal(t, 100.0, health.CacheHitRate)

	rec = do(t, h, http.MethodDelete, "/api/v1/datasets/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/datasets/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/datasets/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDatasetsWithoutStorage(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/datasets", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthAndStop(t *testing.T) {
	srv, st := newTestServer(t, Options{})

	rec := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Observers)
	assert.Nil(t, health.Cache)

	require.NoError(t, srv.Stop(context.Background()))
	assert.Zero(t, st.ObserverCount())
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/upload", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.True(t, strings.Contains(rec.Header().Get("Allow"), http.MethodPost))
}
