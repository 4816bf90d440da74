package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"arbibot/internal/core"

	"github.com/stretchr/testify/assert"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func newTestPool() *WorkerPool {
	return NewWorkerPool(PoolConfig{
		Name:        "test",
		MaxWorkers:  4,
		MaxCapacity: 16,
	}, &noopLogger{})
}

func TestWorkerPool_RunAll(t *testing.T) {
	pool := newTestPool()
	defer pool.Stop()

	var count int32
	tasks := make([]func(ctx context.Context) error, 8)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}
	}

	assert.NoError(t, pool.RunAll(context.Background(), tasks))
	assert.Equal(t, int32(8), atomic.LoadInt32(&count))
}

func TestWorkerPool_RunAllReturnsFirstError(t *testing.T) {
	pool := newTestPool()
	defer pool.Stop()

	boom := errors.New("candles unavailable")
	tasks := []func(ctx context.Context) error{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	}

	err := pool.RunAll(context.Background(), tasks)
	assert.ErrorIs(t, err, boom)
}

func TestWorkerPool_RunAllCancelsRemaining(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "serial", MaxWorkers: 1, MaxCapacity: 4}, &noopLogger{})
	defer pool.Stop()

	boom := errors.New("preload failed")
	var uncancelled atomic.Bool
	tasks := []func(ctx context.Context) error{
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			if ctx.Err() == nil {
				uncancelled.Store(true)
			}
			return nil
		},
	}

	assert.ErrorIs(t, pool.RunAll(context.Background(), tasks), boom)
	assert.False(t, uncancelled.Load(), "tasks after the first error are skipped or see a cancelled context")
}

func BenchmarkWorkerPool_RunAll(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "BenchmarkPool",
		MaxWorkers:  10,
		MaxCapacity: 1000,
	}, &noopLogger{})
	defer pool.Stop()

	var counter int64
	tasks := make([]func(ctx context.Context) error, 16)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt64(&counter, 1)
			return nil
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.RunAll(context.Background(), tasks)
	}
}
