package api

import (
	"bytes"
	"io"
	"sync"

	"github.com/vjranagit/lightcurve/pkg/chart"
	"github.com/vjranagit/lightcurve/pkg/store"
	"github.com/vjranagit/lightcurve/pkg/types"
)

type pngKey struct {
	width, height int
}

// chartCache keeps rendered PNGs for the current table. It observes the
// store and drops every render when the rows or labels change.
type chartCache struct {
	store  *store.Store
	render func(w io.Writer, rows []types.MergedRow, info types.ChartInfo, wPx, hPx float64) error

	mu      sync.Mutex
	renders map[pngKey][]byte
	// generation counts invalidations; a render only caches if none happened meanwhile
	generation uint64
	hits       uint64

	subs []*store.Subscription
}

func newChartCache(st *store.Store) *chartCache {
	c := &chartCache{
		store:   st,
		render:  chart.RenderPNG,
		renders: make(map[pngKey][]byte),
	}
	c.subs = append(c.subs,
		st.OnReplace(func(store.Snapshot) { c.invalidate() }),
		st.OnChartInfo(func(types.ChartInfo) { c.invalidate() }),
	)
	return c
}

// PNG returns the encoded chart at the given size, rendering it on a miss
func (c *chartCache) PNG(width, height int) ([]byte, error) {
	key := pngKey{width, height}

	c.mu.Lock()
	if data, ok := c.renders[key]; ok {
		c.hits++
		c.mu.Unlock()
		return data, nil
	}
	gen := c.generation
	c.mu.Unlock()

	rows, info := c.store.Data(), c.store.ChartInfo()
	var buf bytes.Buffer
	if err := c.render(&buf, rows, info, float64(width), float64(height)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Rows or labels may have changed while rendering; only cache a current view.
	if c.generation == gen {
		c.renders[key] = buf.Bytes()
	}
	return buf.Bytes(), nil
}

func (c *chartCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	clear(c.renders)
}

func (c *chartCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.renders)
}

// Close detaches the cache from the store
func (c *chartCache) Close() {
	for _, sub := range c.subs {
		sub.Unregister()
	}
}
