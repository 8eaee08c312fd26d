package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// DatasetCache implements an LRU cache of loaded datasets
type DatasetCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lru      *list.List
}

// cacheEntry represents a cached dataset
type cacheEntry struct {
	key       string
	dataset   *types.Dataset
	timestamp time.Time
	element   *list.Element
}

// NewDatasetCache creates a new dataset cache
func NewDatasetCache(capacity int, ttl time.Duration) *DatasetCache {
	if capacity < 1 {
		capacity = 1
	}
	return &DatasetCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// Get retrieves a copy of a cached dataset
func (dc *DatasetCache) Get(id string) (*types.Dataset, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, exists := dc.cache[id]
	if !exists {
		return nil, false
	}

	// Check if entry has expired
	if dc.expired(entry) {
		dc.removeLocked(id)
		return nil, false
	}

	// Move to front of LRU list (most recently used)
	dc.lru.MoveToFront(entry.element)

	return copyDataset(entry.dataset), true
}

// Put stores a copy of a dataset in the cache
func (dc *DatasetCache) Put(ds *types.Dataset) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	key := ds.ID
	stored := copyDataset(ds)

	// Check if entry already exists
	if entry, exists := dc.cache[key]; exists {
		entry.dataset = stored
		entry.timestamp = time.Now()
		dc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       key,
		dataset:   stored,
		timestamp: time.Now(),
	}

	entry.element = dc.lru.PushFront(entry)
	dc.cache[key] = entry

	// Evict oldest entry if cache is full
	if dc.lru.Len() > dc.capacity {
		oldest := dc.lru.Back()
		if oldest != nil {
			dc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

// Invalidate removes one dataset from the cache
func (dc *DatasetCache) Invalidate(id string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.removeLocked(id)
}

// removeLocked removes an entry from the cache (must hold lock)
func (dc *DatasetCache) removeLocked(key string) {
	if entry, exists := dc.cache[key]; exists {
		dc.lru.Remove(entry.element)
		delete(dc.cache, key)
	}
}

func (dc *DatasetCache) expired(entry *cacheEntry) bool {
	return dc.ttl > 0 && time.Since(entry.timestamp) > dc.ttl
}

// Clear clears all cache entries
func (dc *DatasetCache) Clear() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.cache = make(map[string]*cacheEntry)
	dc.lru = list.New()
}

// Size returns the current cache size
func (dc *DatasetCache) Size() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.cache)
}

// Stats returns cache statistics
func (dc *DatasetCache) Stats() CacheStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	expired := 0
	for _, entry := range dc.cache {
		if dc.expired(entry) {
			expired++
		}
	}

	return CacheStats{
		Size:     len(dc.cache),
		Capacity: dc.capacity,
		Expired:  expired,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Expired  int    `json:"expired"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

func copyDataset(ds *types.Dataset) *types.Dataset {
	out := *ds
	out.Sources = append([]types.SourceID(nil), ds.Sources...)
	out.Rows = types.CloneRows(ds.Rows)
	return &out
}

// CachedStorage wraps a storage with a dataset cache
type CachedStorage struct {
	storage Storage
	cache   *DatasetCache
	hits    uint64
	misses  uint64
	mu      sync.Mutex
}

// NewCachedStorage creates a cached storage wrapper
func NewCachedStorage(storage Storage, cacheCapacity int, cacheTTL time.Duration) *CachedStorage {
	return &CachedStorage{
		storage: storage,
		cache:   NewDatasetCache(cacheCapacity, cacheTTL),
	}
}

// Save writes through and refreshes the cached copy
func (cs *CachedStorage) Save(ctx context.Context, ds *types.Dataset) error {
	cs.cache.Invalidate(ds.ID)
	if err := cs.storage.Save(ctx, ds); err != nil {
		return err
	}
	cs.cache.Put(ds)
	return nil
}

// Load checks the cache before reading storage
func (cs *CachedStorage) Load(ctx context.Context, id string) (*types.Dataset, error) {
	if ds, ok := cs.cache.Get(id); ok {
		cs.mu.Lock()
		cs.hits++
		cs.mu.Unlock()
		return ds, nil
	}

	cs.mu.Lock()
	cs.misses++
	cs.mu.Unlock()

	ds, err := cs.storage.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	cs.cache.Put(ds)
	return ds, nil
}

// List passes through to underlying storage
func (cs *CachedStorage) List(ctx context.Context) ([]types.DatasetInfo, error) {
	return cs.storage.List(ctx)
}

// FindBySource passes through to underlying storage
func (cs *CachedStorage) FindBySource(ctx context.Context, source types.SourceID) ([]types.DatasetInfo, error) {
	return cs.storage.FindBySource(ctx, source)
}

// Delete removes the dataset from storage and cache
func (cs *CachedStorage) Delete(ctx context.Context, id string) error {
	cs.cache.Invalidate(id)
	return cs.storage.Delete(ctx, id)
}

// Close closes the underlying storage
func (cs *CachedStorage) Close() error {
	cs.cache.Clear()
	return cs.storage.Close()
}

// CacheStats returns cache statistics including hit and miss counts
func (cs *CachedStorage) CacheStats() CacheStats {
	stats := cs.cache.Stats()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	stats.Hits = cs.hits
	stats.Misses = cs.misses
	return stats
}

// CacheHitRate returns the cache hit rate as a percentage
func (cs *CachedStorage) CacheHitRate() float64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	total := cs.hits + cs.misses
	if total == 0 {
		return 0.0
	}

	return float64(cs.hits) / float64(total) * 100.0
}
