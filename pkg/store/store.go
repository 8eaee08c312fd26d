// Package store owns the current aligned table and notifies observers when it
// is replaced.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// ErrIndexOutOfRange is returned by row edits addressing a row that does not exist
var ErrIndexOutOfRange = errors.New("row index out of range")

// Cause describes why the table was replaced
type Cause string

const (
	// CauseUpload marks a replacement by a fresh merge result
	CauseUpload Cause = "upload"
	// CauseEdit marks a write-back from the grid
	CauseEdit Cause = "edit"
	// CauseAddRow marks inserted rows
	CauseAddRow Cause = "add_row"
	// CauseRemoveRow marks removed rows
	CauseRemoveRow Cause = "remove_row"
	// CauseReset marks a restore of the last upload
	CauseReset Cause = "reset"
	// CauseRestore marks state recovered from a journal at startup
	CauseRestore Cause = "restore"
)

// Snapshot is an immutable view of the table handed to observers.
// Observers must not modify Rows.
type Snapshot struct {
	Version uint64
	Cause   Cause
	Rows    []types.MergedRow
}

// Journal records every replacement so state survives a restart
type Journal interface {
	Append(snap Snapshot) error
}

// Option configures a Store
type Option func(*Store)

// WithJournal appends every replacement to j
func WithJournal(j Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// WithChartInfo sets the initial chart labels
func WithChartInfo(info types.ChartInfo) Option {
	return func(s *Store) {
		s.info = cloneInfo(info)
	}
}

// Store holds the current table. Writes are serialised; observers are
// called synchronously after the write lock is released, in registration order.
// Observers must not write to the store from inside a callback.
type Store struct {
	mu       sync.RWMutex
	rows     []types.MergedRow
	pristine []types.MergedRow
	version  uint64
	info     types.ChartInfo
	journal  Journal

	// notify serialises observer delivery so snapshots arrive in version order
	notify sync.Mutex

	obsMu         sync.Mutex
	nextID        uint64
	rowObservers  []rowObserver
	infoObservers []infoObserver
}

type rowObserver struct {
	id uint64
	fn func(Snapshot)
}

type infoObserver struct {
	id uint64
	fn func(types.ChartInfo)
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		rows: []types.MergedRow{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish replaces the table with a fresh merge result and remembers it as
// the state ResetData returns to.
func (s *Store) Publish(rows []types.MergedRow) Snapshot {
	return s.replace(CauseUpload, func() ([]types.MergedRow, error) {
		s.pristine = types.CloneRows(rows)
		return nonNil(types.CloneRows(rows)), nil
	})
}

// SetData replaces the table without touching the upload baseline.
// This is the grid write-back path; no merge is involved.
func (s *Store) SetData(rows []types.MergedRow) Snapshot {
	return s.replace(CauseEdit, func() ([]types.MergedRow, error) {
		return nonNil(types.CloneRows(rows)), nil
	})
}

// Restore installs recovered state, used once at startup
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	s.rows = nonNil(types.CloneRows(snap.Rows))
	s.pristine = types.CloneRows(snap.Rows)
	s.version = snap.Version
	s.mu.Unlock()

	slog.Info("store restored", "version", snap.Version, "rows", len(snap.Rows))
}

// AddRow inserts amount empty rows before index. An index of -1 appends.
func (s *Store) AddRow(index, amount int) (Snapshot, error) {
	return s.tryReplace(CauseAddRow, func() ([]types.MergedRow, error) {
		if amount < 1 {
			return nil, fmt.Errorf("amount must be positive, got %d", amount)
		}
		if index == -1 {
			index = len(s.rows)
		}
		if index < 0 || index > len(s.rows) {
			return nil, fmt.Errorf("add at %d of %d rows: %w", index, len(s.rows), ErrIndexOutOfRange)
		}

		out := make([]types.MergedRow, 0, len(s.rows)+amount)
		out = append(out, types.CloneRows(s.rows[:index])...)
		out = append(out, make([]types.MergedRow, amount)...)
		out = append(out, types.CloneRows(s.rows[index:])...)
		return out, nil
	})
}

// RemoveRow removes up to amount rows starting at index
func (s *Store) RemoveRow(index, amount int) (Snapshot, error) {
	return s.tryReplace(CauseRemoveRow, func() ([]types.MergedRow, error) {
		if amount < 1 {
			return nil, fmt.Errorf("amount must be positive, got %d", amount)
		}
		if index < 0 || index >= len(s.rows) {
			return nil, fmt.Errorf("remove at %d of %d rows: %w", index, len(s.rows), ErrIndexOutOfRange)
		}

		end := min(index+amount, len(s.rows))
		out := make([]types.MergedRow, 0, len(s.rows)-(end-index))
		out = append(out, types.CloneRows(s.rows[:index])...)
		out = append(out, types.CloneRows(s.rows[end:])...)
		return out, nil
	})
}

// ResetData discards edits and restores the last published upload
func (s *Store) ResetData() Snapshot {
	return s.replace(CauseReset, func() ([]types.MergedRow, error) {
		return nonNil(types.CloneRows(s.pristine)), nil
	})
}

// Data returns a copy of the current table
func (s *Store) Data() []types.MergedRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.CloneRows(s.rows)
}

// Snapshot returns a copy of the current table with its version
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Version: s.version, Rows: types.CloneRows(s.rows)}
}

// Len returns the number of rows
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Version returns a counter incremented by every replacement
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) replace(cause Cause, build func() ([]types.MergedRow, error)) Snapshot {
	snap, _ := s.tryReplace(cause, build)
	return snap
}

// tryReplace builds the new table under the write lock, then delivers it
func (s *Store) tryReplace(cause Cause, build func() ([]types.MergedRow, error)) (Snapshot, error) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	rows, err := build()
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	s.rows = rows
	s.version++
	snap := Snapshot{Version: s.version, Cause: cause, Rows: rows}
	journal := s.journal
	s.mu.Unlock()

	if journal != nil {
		if err := journal.Append(snap); err != nil {
			slog.Error("journal append failed", "version", snap.Version, "error", err)
		}
	}

	slog.Debug("table replaced", "cause", cause, "version", snap.Version, "rows", len(rows))

	for _, o := range s.currentRowObservers() {
		// Each observer gets its own copy so one cannot affect another.
		o.fn(Snapshot{Version: snap.Version, Cause: snap.Cause, Rows: types.CloneRows(rows)})
	}

	return Snapshot{Version: snap.Version, Cause: snap.Cause, Rows: types.CloneRows(rows)}, nil
}

func nonNil(rows []types.MergedRow) []types.MergedRow {
	if rows == nil {
		return []types.MergedRow{}
	}
	return rows
}
