package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsJobsConcurrently(t *testing.T) {
	var running, peak int32
	pool := NewWorkerPool(3, func(ctx context.Context, job *WorkerJob) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		if job.Pair == "bad" {
			return errors.New("failed")
		}
		return nil
	}, nil)
	require.NoError(t, pool.Start())
	assert.Error(t, pool.Start())

	var wg sync.WaitGroup
	var failures int32
	for _, pair := range []string{"a", "b", "c", "d", "e", "bad"} {
		wg.Add(1)
		pool.Submit(context.Background(), &WorkerJob{Pair: pair}, func(err error) {
			if err != nil {
				atomic.AddInt32(&failures, 1)
			}
			wg.Done()
		})
	}
	wg.Wait()
	require.NoError(t, pool.Stop(context.Background()))

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, int32(1), failures)

	stats := pool.GetStats()
	assert.Equal(t, int64(5), stats.CompletedJobs)
	assert.Equal(t, int64(1), stats.FailedJobs)
	assert.Zero(t, stats.QueuedJobs)
	assert.Greater(t, stats.AvgJobDuration, time.Duration(0))
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, func(ctx context.Context, job *WorkerJob) error { return nil }, nil)
	require.NoError(t, pool.Start())
	require.NoError(t, pool.Stop(context.Background()))
	assert.Error(t, pool.Stop(context.Background()))

	var got error
	pool.Submit(context.Background(), &WorkerJob{Pair: "a"}, func(err error) { got = err })
	assert.ErrorIs(t, got, ErrPoolStopped)
}

func TestWorkerPool_CanceledJobContext(t *testing.T) {
	var ran int32
	pool := NewWorkerPool(1, func(ctx context.Context, job *WorkerJob) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}, nil)
	require.NoError(t, pool.Start())
	defer pool.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	pool.Submit(ctx, &WorkerJob{Pair: "a"}, func(err error) { done <- err })
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&ran))
}
