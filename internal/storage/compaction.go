package storage

import (
	"bufio"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	kvErr "github.com/sajjad-MoBe/kvlog/internal/errors"
	"github.com/sajjad-MoBe/kvlog/internal/wal"
)

// Compact rewrites the log so it holds exactly one put record per live key.
// The new log is written to a temp file next to the old one, fsynced and
// renamed over it, so a crash at any point leaves a complete log behind.
func (s *Store) Compact() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return kvErr.New(kvErr.ErrorTypeClosed, "store is closed", nil)
	}

	size, err := s.writeCompacted()
	if err != nil {
		s.metrics.ErrorCount++
		return kvErr.New(kvErr.ErrorTypeIO, "failed to write compacted log", err)
	}

	// the old handle points at the replaced inode from here on
	old := s.wal
	w, err := wal.OpenFileWAL(s.path, size, s.config.SyncMode)
	if err != nil {
		_ = old.Close()
		s.closed = true
		s.index = nil
		s.metrics.ErrorCount++
		return kvErr.New(kvErr.ErrorTypeIO, "failed to reopen compacted log, store closed", err)
	}
	if err := old.Close(); err != nil {
		s.metrics.ErrorCount++
	}
	s.wal = w

	s.metrics.LogSize = size
	s.metrics.CompactionCount++
	s.metrics.LastCompaction = time.Now()
	return nil
}

// writeCompacted atomically replaces the log with the live index in key
// order and returns the new log size
func (s *Store) writeCompacted() (int64, error) {
	pending, err := newPendingLog(s.path)
	if err != nil {
		return 0, err
	}
	// no-op after a successful replace
	defer pending.Cleanup()

	bw := bufio.NewWriterSize(pending, 64*1024)
	var size int64
	var buf []byte
	for _, key := range s.sortedKeys() {
		rec := wal.Record{Op: wal.OpPut, Key: []byte(key), Value: s.index[key]}
		buf = rec.AppendEncoded(buf[:0])
		if _, err := bw.Write(buf); err != nil {
			return 0, err
		}
		size += int64(len(buf))
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, err
	}
	// the rename already happened; a failed directory sync is not reported
	_ = syncDir(filepath.Dir(s.path))
	return size, nil
}

// newPendingLog creates the temp file a compacted log is written to. It
// lives next to path so the rename stays in one directory and a leftover
// copy is found by removeStaleTemps.
func newPendingLog(path string) (*renameio.PendingFile, error) {
	return renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(0644),
	)
}

// syncDir makes a rename in dir durable
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
