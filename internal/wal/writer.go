package wal

import (
	"fmt"
	"os"
	"sync"
)

// SyncMode determines when appends are synced to disk
type SyncMode int

const (
	// SyncAlways fsyncs after every append
	SyncAlways SyncMode = iota
	// SyncNone leaves flushing to the OS; a crash may lose acknowledged writes
	SyncNone
)

func (m SyncMode) String() string {
	switch m {
	case SyncAlways:
		return "always"
	case SyncNone:
		return "none"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// DefaultLimits matches the store's default key and value size limits
var DefaultLimits = Limits{
	MaxKeySize:   64 << 10,
	MaxValueSize: 64 << 20,
}

// WALWriter defines the interface for WAL operations
type WALWriter interface {
	Append(rec *Record) error
	Sync() error
	Size() int64
	Close() error
}

// FileWAL implements WALWriter on a single append-only file
type FileWAL struct {
	file     *os.File
	size     int64
	syncMode SyncMode
	mu       sync.Mutex
	buf      []byte
}

// OpenFileWAL opens path for appending. Anything past validOffset is a
// torn record left by a crash and is truncated away so new records start
// on a record boundary.
func OpenFileWAL(path string, validOffset int64, syncMode SyncMode) (*FileWAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() > validOffset {
		if err := file.Truncate(validOffset); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to truncate torn tail: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, err
		}
	} else if info.Size() < validOffset {
		file.Close()
		return nil, fmt.Errorf("log is %d bytes, expected at least %d", info.Size(), validOffset)
	}

	return &FileWAL{
		file:     file,
		size:     validOffset,
		syncMode: syncMode,
	}, nil
}

// Append writes rec in a single write and, in SyncAlways mode, fsyncs it.
// On failure the file is truncated back to its last committed size so a
// partial record never sits in front of later ones.
func (w *FileWAL) Append(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = rec.AppendEncoded(w.buf[:0])
	if _, err := w.file.Write(w.buf); err != nil {
		w.rollback()
		return err
	}

	if w.syncMode == SyncAlways {
		if err := w.file.Sync(); err != nil {
			w.rollback()
			return err
		}
	}

	w.size += int64(len(w.buf))
	return nil
}

func (w *FileWAL) rollback() {
	// best effort; replay tolerates a torn tail if this fails too
	_ = w.file.Truncate(w.size)
}

// Sync ensures all written data is on disk
func (w *FileWAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Sync()
}

// Size returns the committed length of the log in bytes
func (w *FileWAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.size
}

// Close closes the WAL file without syncing it; call Sync first to make
// SyncNone appends durable
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}
