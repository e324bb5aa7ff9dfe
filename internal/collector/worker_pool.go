package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolStopped is passed to callbacks of jobs that were not run because the
// pool was stopped.
var ErrPoolStopped = errors.New("worker pool is stopped")

// WorkerJob represents one pair to download.
type WorkerJob struct {
	Pair  string
	Start time.Time
	End   time.Time
}

// JobFunc executes a WorkerJob.
type JobFunc func(ctx context.Context, job *WorkerJob) error

// WorkerPoolStats provides worker pool performance metrics
type WorkerPoolStats struct {
	ActiveWorkers  int
	QueuedJobs     int
	CompletedJobs  int64
	FailedJobs     int64
	AvgJobDuration time.Duration
}

// WorkerPool runs jobs on a fixed number of workers.
type WorkerPool struct {
	workerCount int
	execute     JobFunc
	logger      *slog.Logger

	jobQueue chan *jobWrapper
	quit     chan struct{}
	wg       sync.WaitGroup

	isStarted     int32
	activeWorkers int32
	queuedJobs    int32
	completedJobs int64
	failedJobs    int64
	totalJobTime  int64 // nanoseconds
}

// jobWrapper wraps a job with its callback
type jobWrapper struct {
	job      *WorkerJob
	callback func(error)
	ctx      context.Context
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount int, execute JobFunc, logger *slog.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		workerCount: workerCount,
		execute:     execute,
		logger:      logger,
		jobQueue:    make(chan *jobWrapper, workerCount*2),
		quit:        make(chan struct{}),
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 0, 1) {
		return fmt.Errorf("worker pool is already started")
	}

	wp.logger.Debug("starting worker pool", "worker_count", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.work(i + 1)
	}
	return nil
}

// Stop signals the workers to exit once their current job is done and waits
// for them. Jobs still queued get ErrPoolStopped.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 1, 2) {
		return fmt.Errorf("worker pool is not started")
	}
	close(wp.quit)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		wp.logger.Warn("worker pool stop timed out")
		return ctx.Err()
	}

	for {
		select {
		case w := <-wp.jobQueue:
			atomic.AddInt32(&wp.queuedJobs, -1)
			w.finish(ErrPoolStopped)
		default:
			return nil
		}
	}
}

// Submit queues a job. callback is called exactly once with the job's result.
func (wp *WorkerPool) Submit(ctx context.Context, job *WorkerJob, callback func(error)) {
	wrapper := &jobWrapper{job: job, callback: callback, ctx: ctx}

	if atomic.LoadInt32(&wp.isStarted) != 1 {
		wrapper.finish(ErrPoolStopped)
		return
	}

	atomic.AddInt32(&wp.queuedJobs, 1)
	select {
	case wp.jobQueue <- wrapper:
	case <-wp.quit:
		atomic.AddInt32(&wp.queuedJobs, -1)
		wrapper.finish(ErrPoolStopped)
	case <-ctx.Done():
		atomic.AddInt32(&wp.queuedJobs, -1)
		wrapper.finish(ctx.Err())
	}
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() *WorkerPoolStats {
	var avg time.Duration
	jobs := atomic.LoadInt64(&wp.completedJobs) + atomic.LoadInt64(&wp.failedJobs)
	if jobs > 0 {
		avg = time.Duration(atomic.LoadInt64(&wp.totalJobTime) / jobs)
	}

	return &WorkerPoolStats{
		ActiveWorkers:  int(atomic.LoadInt32(&wp.activeWorkers)),
		QueuedJobs:     int(atomic.LoadInt32(&wp.queuedJobs)),
		CompletedJobs:  atomic.LoadInt64(&wp.completedJobs),
		FailedJobs:     atomic.LoadInt64(&wp.failedJobs),
		AvgJobDuration: avg,
	}
}

func (wp *WorkerPool) work(id int) {
	defer wp.wg.Done()

	for {
		// quit wins over queued work
		select {
		case <-wp.quit:
			return
		default:
		}

		select {
		case w := <-wp.jobQueue:
			atomic.AddInt32(&wp.queuedJobs, -1)
			wp.process(id, w)
		case <-wp.quit:
			return
		}
	}
}

func (wp *WorkerPool) process(id int, w *jobWrapper) {
	atomic.AddInt32(&wp.activeWorkers, 1)
	defer atomic.AddInt32(&wp.activeWorkers, -1)

	start := time.Now()
	var err error
	if ctxErr := w.ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		err = wp.execute(w.ctx, w.job)
	}

	duration := time.Since(start)
	atomic.AddInt64(&wp.totalJobTime, duration.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&wp.failedJobs, 1)
		wp.logger.Debug("job failed", "worker_id", id, "pair", w.job.Pair, "error", err, "duration", duration)
	} else {
		atomic.AddInt64(&wp.completedJobs, 1)
		wp.logger.Debug("job completed", "worker_id", id, "pair", w.job.Pair, "duration", duration)
	}
	w.finish(err)
}

func (w *jobWrapper) finish(err error) {
	if w.callback != nil {
		w.callback(err)
	}
}
