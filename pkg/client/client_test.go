package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/lightcurve/pkg/api"
	"github.com/vjranagit/lightcurve/pkg/chart"
	"github.com/vjranagit/lightcurve/pkg/store"
)

const uploadCSV = `id,mjd,mag,mag_error
A,1.0,10,0.3
B,1.0,11,0.4
A,2.0,12,0.1
`

func newTestClient(t *testing.T) (*Client, *store.Store) {
	t.Helper()
	st := store.New(store.WithChartInfo(chart.DefaultInfo()))
	srv := api.NewServer(":0", st, api.Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop(context.Background())
	})

	c := New(ts.URL, WithRetry(0, 10*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })
	return c, st
}

func TestUploadAndFetch(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()

	up, err := c.Upload(ctx, "night.csv", strings.NewReader(uploadCSV))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), up.Version)
	assert.Equal(t, 2, up.Stats.Rows)
	assert.Equal(t, 1, up.Stats.Matched)

	data, err := c.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Data(), data.Rows)

	summary, err := c.Analysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Summary.Matched)
	require.NotNil(t, summary.Rows[0].DerivedError)
	assert.InDelta(t, 0.5, *summary.Rows[0].DerivedError, 1e-12)

	version, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Rows)
}

func TestChartPNG(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Upload(ctx, "night.csv", strings.NewReader(uploadCSV))
	require.NoError(t, err)

	png, err := c.ChartPNG(ctx, 200, 120)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestUploadValidationError(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Upload(context.Background(), "bad.csv", strings.NewReader("id,mjd,mag,mag_error\nA,1,1,1\n"))
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "insufficient_sources", apiErr.Kind)
}

func TestDatasetsDisabled(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Datasets(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotImplemented, apiErr.StatusCode)
	assert.Equal(t, "storage is disabled", apiErr.Message)
}

func TestRetryCondition(t *testing.T) {
	assert.True(t, retryCondition(nil, errors.New("connection refused")))
}
