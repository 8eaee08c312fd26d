package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vjranagit/lightcurve/pkg/store"
	"github.com/vjranagit/lightcurve/pkg/types"
)

// WAL journals every table replacement so the current table survives a restart
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Version   uint64            `json:"version"`
	Cause     store.Cause       `json:"cause"`
	Rows      []types.MergedRow `json:"rows"`
}

const walFlushInterval = 1 * time.Second

// NewWAL creates a new Write-Ahead Log
func NewWAL(dataPath string) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	// Open or create WAL file
	filename := filepath.Join(walPath, fmt.Sprintf("wal-%020d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		path:   walPath,
		file:   file,
		writer: bufio.NewWriter(file),
	}

	// Start auto-flush timer
	wal.flushTimer = time.AfterFunc(walFlushInterval, wal.autoFlush)

	return wal, nil
}

// Append appends a table snapshot to the WAL; it implements store.Journal
func (w *WAL) Append(snap store.Snapshot) error {
	entry := WALEntry{
		Timestamp: time.Now(),
		Version:   snap.Version,
		Cause:     snap.Cause,
		Rows:      snap.Rows,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAL is closed")
	}

	// Write entry with newline
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	return nil
}

// autoFlush periodically flushes the WAL
func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if err := w.flushLocked(); err != nil {
		slog.Warn("WAL auto-flush failed", "error", err)
	}
	w.flushTimer.Reset(walFlushInterval)
}

// Close closes the WAL. Closing twice is a no-op.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}

	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true

	return w.file.Close()
}

// ReplayWAL replays WAL entries in write order and removes the replayed files.
// A torn final line, left by a crash mid-write, ends replay of that file.
func ReplayWAL(dataPath string, handler func(store.Snapshot) error) error {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No WAL to replay
		}
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}

		filename := filepath.Join(walPath, entry.Name())
		if err := replayWALFile(filename, handler); err != nil {
			return fmt.Errorf("failed to replay %s: %w", filename, err)
		}

		// Remove replayed WAL file
		if err := os.Remove(filename); err != nil {
			slog.Warn("failed to remove replayed WAL file", "file", filename, "error", err)
		}
	}

	return nil
}

// LatestSnapshot replays the WAL and returns the most recent table, if any
func LatestSnapshot(dataPath string) (store.Snapshot, bool, error) {
	var latest store.Snapshot
	found := false
	err := ReplayWAL(dataPath, func(snap store.Snapshot) error {
		if !found || snap.Version >= latest.Version {
			latest = snap
			found = true
		}
		return nil
	})
	return latest, found, err
}

// replayWALFile replays a single WAL file
func replayWALFile(filename string, handler func(store.Snapshot) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024*1024)
	for scanner.Scan() {
		var entry WALEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			slog.Warn("stopping WAL replay at unreadable entry", "file", filename, "error", err)
			break
		}

		snap := store.Snapshot{
			Version: entry.Version,
			Cause:   entry.Cause,
			Rows:    entry.Rows,
		}

		if err := handler(snap); err != nil {
			return fmt.Errorf("failed to replay entry: %w", err)
		}
	}

	return scanner.Err()
}
