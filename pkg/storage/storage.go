package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/lightcurve/pkg/types"
)

// ErrNotFound is returned when a dataset does not exist
var ErrNotFound = errors.New("dataset not found")

// Storage interface defines the contract for persisted merge results
type Storage interface {
	// Save writes a dataset, replacing any dataset with the same ID
	Save(ctx context.Context, ds *types.Dataset) error

	// Load reads a dataset with its rows
	Load(ctx context.Context, id string) (*types.Dataset, error)

	// List returns all datasets, newest first
	List(ctx context.Context) ([]types.DatasetInfo, error)

	// FindBySource returns the datasets that include source
	FindBySource(ctx context.Context, source types.SourceID) ([]types.DatasetInfo, error)

	// Delete removes a dataset
	Delete(ctx context.Context, id string) error

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	InMemory         bool
	RetentionDays    int
	CompressionLevel int
	EnableWAL        bool
	CacheSize        int
	CacheTTL         time.Duration
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    0,
		CompressionLevel: 3,
		EnableWAL:        true,
		CacheSize:        16,
		CacheTTL:         10 * time.Minute,
	}
}

const (
	metaPrefix = "meta/"
	dataPrefix = "data/"
)

// badgerStorage implements Storage using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	// ttl expires stored datasets; zero keeps them forever
	ttl time.Duration
	mu  sync.RWMutex
}

// NewStorage creates a new storage instance
func NewStorage(cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// Initialize BadgerDB
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	}
	opts.Logger = badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	// Create compressor
	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
		ttl:        time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}

	if err := s.rebuildIndex(); err != nil {
		compressor.Close()
		db.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}
	slog.Debug("storage opened",
		"datasets", s.index.DatasetCount(),
		"sources", len(s.index.Sources()),
		"in_memory", cfg.InMemory)

	return s, nil
}

// blockPayload is the stored form of a dataset's rows
type blockPayload struct {
	Count        int
	Timestamps   []byte
	Source1      []byte
	Source2      []byte
	Error1       []byte
	Error2       []byte
	DerivedError []byte
}

// Save implements Storage.Save
func (s *badgerStorage) Save(ctx context.Context, ds *types.Dataset) error {
	if ds == nil || ds.ID == "" {
		return fmt.Errorf("dataset id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.encodeRows(ds.Rows)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	info := ds.Info()
	metaBytes, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(s.entry(metaKey(ds.ID), metaBytes)); err != nil {
			return err
		}
		return txn.SetEntry(s.entry(dataKey(ds.ID), payloadBytes))
	})
	if err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}

	s.index.Add(info)
	return nil
}

// entry builds a badger entry, expiring it when retention is configured
func (s *badgerStorage) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	return e
}

// encodeRows splits rows into compressed columns
func (s *badgerStorage) encodeRows(rows []types.MergedRow) (*blockPayload, error) {
	n := len(rows)
	ts := make([]float64, n)
	cols := [5][]*float64{}
	for i := range cols {
		cols[i] = make([]*float64, n)
	}
	for i, r := range rows {
		ts[i] = r.Timestamp
		cols[0][i] = r.Source1
		cols[1][i] = r.Source2
		cols[2][i] = r.Error1
		cols[3][i] = r.Error2
		cols[4][i] = r.DerivedError
	}

	payload := &blockPayload{Count: n}
	var err error
	if payload.Timestamps, err = s.compressor.CompressValues(ts); err != nil {
		return nil, fmt.Errorf("timestamps: %w", err)
	}
	targets := []*[]byte{&payload.Source1, &payload.Source2, &payload.Error1, &payload.Error2, &payload.DerivedError}
	for i, col := range cols {
		if *targets[i], err = s.compressor.CompressColumn(col); err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}
	return payload, nil
}

// decodeRows rebuilds rows from compressed columns
func (s *badgerStorage) decodeRows(payload *blockPayload) ([]types.MergedRow, error) {
	n := payload.Count
	rows := make([]types.MergedRow, n)
	if n == 0 {
		return rows, nil
	}

	ts, err := s.compressor.DecompressValues(payload.Timestamps, n)
	if err != nil {
		return nil, fmt.Errorf("timestamps: %w", err)
	}

	sources := [][]byte{payload.Source1, payload.Source2, payload.Error1, payload.Error2, payload.DerivedError}
	cols := make([][]*float64, len(sources))
	for i, data := range sources {
		if cols[i], err = s.compressor.DecompressColumn(data, n); err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}

	for i := range rows {
		rows[i] = types.MergedRow{
			Timestamp:    ts[i],
			Source1:      cols[0][i],
			Source2:      cols[1][i],
			Error1:       cols[2][i],
			Error2:       cols[3][i],
			DerivedError: cols[4][i],
		}
	}
	return rows, nil
}

// Load implements Storage.Load
func (s *badgerStorage) Load(ctx context.Context, id string) (*types.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var info types.DatasetInfo
	var payload blockPayload
	err := s.db.View(func(txn *badger.Txn) error {
		if err := readJSON(txn, metaKey(id), &info); err != nil {
			return err
		}
		return readJSON(txn, dataKey(id), &payload)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	rows, err := s.decodeRows(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}

	return &types.Dataset{
		ID:        info.ID,
		Name:      info.Name,
		Sources:   info.Sources,
		CreatedAt: info.CreatedAt,
		Rows:      rows,
	}, nil
}

// List implements Storage.List
func (s *badgerStorage) List(ctx context.Context) ([]types.DatasetInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := s.scanMeta()
	if err != nil {
		return nil, err
	}
	sortNewestFirst(infos)
	return infos, nil
}

// FindBySource implements Storage.FindBySource. Datasets whose entries have
// expired are dropped from the index on the way.
func (s *badgerStorage) FindBySource(ctx context.Context, source types.SourceID) ([]types.DatasetInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.DatasetInfo
	var expired []string
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range s.index.FindDatasets(source) {
			_, err := txn.Get(metaKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				expired = append(expired, id)
				continue
			}
			if err != nil {
				return err
			}
			if info, ok := s.index.Get(id); ok {
				out = append(out, info)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check datasets: %w", err)
	}

	for _, id := range expired {
		s.index.Remove(id)
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete implements Storage.Delete
func (s *badgerStorage) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		return txn.Delete(dataKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}

	s.index.Remove(id)
	return nil
}

// Close implements Storage.Close
func (s *badgerStorage) Close() error {
	s.compressor.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebuildIndex loads every dataset description into the in-memory index
func (s *badgerStorage) rebuildIndex() error {
	infos, err := s.scanMeta()
	if err != nil {
		return err
	}
	s.index.Clear()
	for _, info := range infos {
		s.index.Add(info)
	}
	return nil
}

// scanMeta reads all dataset descriptions
func (s *badgerStorage) scanMeta() ([]types.DatasetInfo, error) {
	var infos []types.DatasetInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info types.DatasetInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func readJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func metaKey(id string) []byte {
	return []byte(metaPrefix + id)
}

func dataKey(id string) []byte {
	return []byte(dataPrefix + id)
}

func sortNewestFirst(infos []types.DatasetInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
}
