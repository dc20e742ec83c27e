package telemetry

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	kvErr "github.com/sajjad-MoBe/kvlog/internal/errors"
	"github.com/sajjad-MoBe/kvlog/internal/storage"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Get(key string) ([]byte, bool) {
	args := m.Called(key)
	value, _ := args.Get(0).([]byte)
	return value, args.Bool(1)
}

func (m *mockEngine) Put(key string, value []byte) error {
	args := m.Called(key, value)
	return args.Error(0)
}

func (m *mockEngine) Delete(key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func (m *mockEngine) Compact() error {
	return m.Called().Error(0)
}

func (m *mockEngine) Close() error {
	return m.Called().Error(0)
}

func (m *mockEngine) GetMetrics() *storage.StorageMetrics {
	return m.Called().Get(0).(*storage.StorageMetrics)
}

func setupInstrumented(t *testing.T) (*InstrumentedStore, *mockEngine, *Metrics, *tracetest.SpanRecorder) {
	engine := new(mockEngine)
	engine.On("GetMetrics").Return(&storage.StorageMetrics{TotalKeys: 3, LiveBytes: 30, LogSize: 99})

	recorder := tracetest.NewSpanRecorder()
	tracer := NewTracer("kvlog-test", sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	metrics := NewMetrics()
	return Instrument(engine, metrics, tracer), engine, metrics, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInstrumentPopulatesGauges(t *testing.T) {
	_, _, metrics, _ := setupInstrumented(t)

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.storageKeys))
	assert.Equal(t, float64(30), testutil.ToFloat64(metrics.storageSize))
	assert.Equal(t, float64(99), testutil.ToFloat64(metrics.logSize))
}

func TestInstrumentedPut(t *testing.T) {
	store, engine, metrics, recorder := setupInstrumented(t)
	engine.On("Put", "k", []byte("value")).Return(nil)

	require.NoError(t, store.Put(context.Background(), "k", []byte("value")))
	engine.AssertExpectations(t)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationTotal.WithLabelValues("put", "ok")))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "storage.put", spans[0].Name())
	size, ok := spanAttr(spans[0], "kvlog.value_size")
	require.True(t, ok)
	assert.Equal(t, int64(5), size.AsInt64())
	session, ok := spanAttr(spans[0], "kvlog.session_id")
	require.True(t, ok)
	assert.Equal(t, store.SessionID(), session.AsString())
}

func TestInstrumentedPutError(t *testing.T) {
	store, engine, metrics, recorder := setupInstrumented(t)
	engine.On("Put", "", []byte("v")).Return(kvErr.New(kvErr.ErrorTypeInvalidKey, "key must not be empty", nil))

	err := store.Put(context.Background(), "", []byte("v"))
	assert.True(t, kvErr.IsInvalidKey(err))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationTotal.WithLabelValues("put", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationErrors.WithLabelValues("put", "INVALID_KEY")))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestInstrumentedGetAndDelete(t *testing.T) {
	store, engine, metrics, recorder := setupInstrumented(t)
	engine.On("Get", "a").Return([]byte("1"), true)
	engine.On("Get", "b").Return(nil, false)
	engine.On("Delete", "a").Return(true, nil)

	value, ok := store.Get(context.Background(), "a")
	assert.True(t, ok)
	assert.Equal(t, "1", string(value))

	_, ok = store.Get(context.Background(), "b")
	assert.False(t, ok)

	existed, err := store.Delete(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, existed)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.operationTotal.WithLabelValues("get", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationTotal.WithLabelValues("delete", "ok")))
	assert.Len(t, recorder.Ended(), 3)
}

func TestInstrumentedCompactAndClose(t *testing.T) {
	store, engine, _, recorder := setupInstrumented(t)
	engine.On("Compact").Return(nil)
	engine.On("Close").Return(nil)

	require.NoError(t, store.Compact(context.Background()))
	require.NoError(t, store.Close(context.Background()))
	engine.AssertExpectations(t)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "storage.compact", spans[0].Name())
	assert.Equal(t, "storage.close", spans[1].Name())
}

func TestInstrumentedRealStore(t *testing.T) {
	engine, err := storage.Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)

	metrics := NewMetrics()
	store := Instrument(engine, metrics, NewTracer("kvlog-test"))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "b", []byte("22")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.storageKeys))
	assert.Equal(t, float64(len("a1")+len("b22")), testutil.ToFloat64(metrics.storageSize))

	require.NoError(t, store.Close(ctx))
}

func TestMetricsWriteText(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordStorageMetrics("put", 10*time.Millisecond, nil)
	metrics.UpdateStorageMetrics(&storage.StorageMetrics{TotalKeys: 7})

	var buf bytes.Buffer
	require.NoError(t, metrics.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, `kvlog_operations_total{operation="put",result="ok"} 1`)
	assert.Contains(t, out, "kvlog_keys 7")
	assert.Contains(t, out, "# TYPE kvlog_operation_duration_seconds histogram")
}

func TestErrorLabel(t *testing.T) {
	assert.Equal(t, "CORRUPT", errorLabel(kvErr.New(kvErr.ErrorTypeCorrupt, "x", nil)))
	assert.Equal(t, "UNKNOWN", errorLabel(assert.AnError))
}

func TestWriterTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer, err := NewWriterTracer("kvlog-test", &buf)
	require.NoError(t, err)

	err = tracer.TraceStorageOperation(context.Background(), "get", func(context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, tracer.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "storage.get")
}
