package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	kvErr "github.com/sajjad-MoBe/kvlog/internal/errors"
	"github.com/sajjad-MoBe/kvlog/internal/wal"
)

// StorageEngine defines the interface for the key-value store
type StorageEngine interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
	Delete(key string) (bool, error)
	Compact() error
	Close() error
}

var _ StorageEngine = (*Store)(nil)

// StorageMetrics tracks storage engine metrics
type StorageMetrics struct {
	TotalKeys       int64
	LiveBytes       int64 // Sum of key and value lengths of live entries
	LogSize         int64
	ReplayedRecords int64
	TornBytes       int64 // Bytes dropped from an incomplete trailing record at open
	ReadCount       int64
	WriteCount      int64
	DeleteCount     int64
	ErrorCount      int64
	CompactionCount int64
	LastCompaction  time.Time
}

// Store is a key-value store backed by a single append-only log file.
// Every mutation is appended and synced before the in-memory index changes.
type Store struct {
	path    string
	config  Config
	index   map[string][]byte
	wal     wal.WALWriter
	metrics StorageMetrics
	reads   atomic.Int64 // Get runs under the read lock
	closed  bool
	mutex   sync.RWMutex
}

// Open opens the store at path with DefaultConfig, creating the file if needed
func Open(path string) (*Store, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig opens the store at path and replays its log into memory.
// A torn trailing record is dropped and truncated from the file; any other
// malformed record fails the open with ErrorTypeCorrupt.
func OpenWithConfig(path string, config Config) (*Store, error) {
	config = config.withDefaults()

	s := &Store{
		path:   path,
		config: config,
		index:  make(map[string][]byte),
	}

	removeStaleTemps(path)

	res, err := s.replay()
	if err != nil {
		return nil, err
	}

	w, err := wal.OpenFileWAL(path, res.ValidOffset, config.SyncMode)
	if err != nil {
		return nil, kvErr.New(kvErr.ErrorTypeIO, "failed to open log for append", err)
	}
	s.wal = w

	s.metrics.ReplayedRecords = int64(res.Records)
	s.metrics.TornBytes = res.TornBytes
	s.metrics.LogSize = res.ValidOffset
	return s, nil
}

func (s *Store) replay() (wal.ReplayResult, error) {
	file, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return wal.ReplayResult{}, kvErr.New(kvErr.ErrorTypeIO, "failed to open log", err)
	}
	defer file.Close()

	return wal.Replay(file, s.config.limits(), func(rec *wal.Record) error {
		s.apply(rec)
		return nil
	})
}

// apply folds a record into the index and live-size accounting
func (s *Store) apply(rec *wal.Record) {
	key := string(rec.Key)
	if old, ok := s.index[key]; ok {
		s.metrics.LiveBytes -= int64(len(key) + len(old))
		s.metrics.TotalKeys--
	}

	switch rec.Op {
	case wal.OpPut:
		s.index[key] = rec.Value
		s.metrics.LiveBytes += int64(len(key) + len(rec.Value))
		s.metrics.TotalKeys++
	case wal.OpDelete:
		delete(s.index, key)
	}
}

// Get retrieves a copy of the value for key
func (s *Store) Get(key string) ([]byte, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	s.reads.Add(1)

	value, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return append([]byte{}, value...), true
}

// Put stores value for key once the record is durably appended
func (s *Store) Put(key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.checkWritable(key); err != nil {
		return err
	}
	if len(value) > s.config.MaxValueSize {
		s.metrics.ErrorCount++
		return kvErr.Newf(kvErr.ErrorTypeInvalidValue, nil, "value is %d bytes, limit is %d", len(value), s.config.MaxValueSize)
	}

	rec := &wal.Record{
		Op:    wal.OpPut,
		Key:   []byte(key),
		Value: append([]byte{}, value...),
	}
	if err := s.wal.Append(rec); err != nil {
		s.metrics.ErrorCount++
		return kvErr.New(kvErr.ErrorTypeIO, "failed to append put record", err)
	}

	s.apply(rec)
	s.metrics.LogSize = s.wal.Size()
	s.metrics.WriteCount++
	return nil
}

// Delete removes key once the tombstone is durably appended and reports
// whether the key existed. A tombstone is written even for absent keys.
func (s *Store) Delete(key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.checkWritable(key); err != nil {
		return false, err
	}

	rec := &wal.Record{Op: wal.OpDelete, Key: []byte(key)}
	if err := s.wal.Append(rec); err != nil {
		s.metrics.ErrorCount++
		return false, kvErr.New(kvErr.ErrorTypeIO, "failed to append delete record", err)
	}

	_, existed := s.index[key]
	s.apply(rec)
	s.metrics.LogSize = s.wal.Size()
	s.metrics.DeleteCount++
	return existed, nil
}

// checkWritable validates key and the store state. Callers hold the write lock.
func (s *Store) checkWritable(key string) error {
	if s.closed {
		return kvErr.New(kvErr.ErrorTypeClosed, "store is closed", nil)
	}
	if len(key) == 0 {
		s.metrics.ErrorCount++
		return kvErr.New(kvErr.ErrorTypeInvalidKey, "key must not be empty", nil)
	}
	if len(key) > s.config.MaxKeySize {
		s.metrics.ErrorCount++
		return kvErr.Newf(kvErr.ErrorTypeInvalidKey, nil, "key is %d bytes, limit is %d", len(key), s.config.MaxKeySize)
	}
	return nil
}

// Len returns the number of live keys
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.index)
}

// Keys returns the live keys in sorted order
func (s *Store) Keys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sortedKeys()
}

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetAll returns a copy of every live key-value pair
func (s *Store) GetAll() map[string][]byte {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make(map[string][]byte, len(s.index))
	for k, v := range s.index {
		result[k] = append([]byte{}, v...)
	}
	return result
}

// Path returns the log file path
func (s *Store) Path() string {
	return s.path
}

// GetMetrics returns the current storage metrics
func (s *Store) GetMetrics() *StorageMetrics {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	m := s.metrics
	m.ReadCount = s.reads.Load()
	return &m
}

// Close syncs and closes the log. Calling Close again is a no-op.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.index = nil

	errSync := s.wal.Sync()
	if err := s.wal.Close(); err != nil {
		return kvErr.New(kvErr.ErrorTypeIO, "failed to close log", err)
	}
	if errSync != nil {
		return kvErr.New(kvErr.ErrorTypeIO, "failed to sync log", errSync)
	}
	return nil
}

// removeStaleTemps deletes compaction temp files left by a crash. Temp
// files are named "." + the log name + a random decimal suffix.
func removeStaleTemps(path string) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isStaleTemp(e.Name(), base) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
}

func isStaleTemp(name, base string) bool {
	suffix, ok := strings.CutPrefix(name, "."+base)
	if !ok || suffix == "" {
		return false
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
