package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sajjad-MoBe/kvlog/internal/storage"
)

// Engine is the part of storage.Store the instrumented wrapper drives
type Engine interface {
	storage.StorageEngine
	GetMetrics() *storage.StorageMetrics
}

// InstrumentedStore wraps an Engine with spans and Prometheus metrics
type InstrumentedStore struct {
	engine    Engine
	metrics   *Metrics
	tracer    *Tracer
	sessionID string
}

// Instrument wraps engine; the storage gauges are populated immediately
func Instrument(engine Engine, metrics *Metrics, tracer *Tracer) *InstrumentedStore {
	s := &InstrumentedStore{
		engine:    engine,
		metrics:   metrics,
		tracer:    tracer,
		sessionID: uuid.Must(uuid.NewV7()).String(),
	}
	metrics.UpdateStorageMetrics(engine.GetMetrics())
	return s
}

// SessionID identifies this wrapper's spans
func (s *InstrumentedStore) SessionID() string {
	return s.sessionID
}

func (s *InstrumentedStore) observe(ctx context.Context, operation string, fn func() error, attrs ...attribute.KeyValue) error {
	attrs = append(attrs, attribute.String("kvlog.session_id", s.sessionID))

	start := time.Now()
	err := s.tracer.TraceStorageOperation(ctx, operation, func(context.Context) error {
		return fn()
	}, attrs...)
	s.metrics.RecordStorageMetrics(operation, time.Since(start), err)
	s.metrics.UpdateStorageMetrics(s.engine.GetMetrics())
	return err
}

// Get looks up key
func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var (
		value []byte
		found bool
	)
	_ = s.observe(ctx, "get", func() error {
		value, found = s.engine.Get(key)
		return nil
	}, attribute.Int("kvlog.key_size", len(key)))
	return value, found
}

// Put stores value under key
func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte) error {
	return s.observe(ctx, "put", func() error {
		return s.engine.Put(key, value)
	}, attribute.Int("kvlog.key_size", len(key)), attribute.Int("kvlog.value_size", len(value)))
}

// Delete removes key and reports whether it existed
func (s *InstrumentedStore) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := s.observe(ctx, "delete", func() error {
		var err error
		existed, err = s.engine.Delete(key)
		return err
	}, attribute.Int("kvlog.key_size", len(key)))
	return existed, err
}

// Compact rewrites the log down to the live keys
func (s *InstrumentedStore) Compact(ctx context.Context) error {
	return s.observe(ctx, "compact", s.engine.Compact)
}

// Close closes the underlying engine
func (s *InstrumentedStore) Close(ctx context.Context) error {
	return s.observe(ctx, "close", s.engine.Close)
}

// Stats returns the engine's current storage metrics
func (s *InstrumentedStore) Stats() *storage.StorageMetrics {
	return s.engine.GetMetrics()
}
