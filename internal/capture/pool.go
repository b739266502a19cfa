package capture

import (
	"context"
	"sync"
	"time"

	"tokscraper/pkg/logger"
)

// Job is a single body read. Item travels with the job untouched.
type Job[T any] struct {
	ID   string
	Item T
	Read func(ctx context.Context) ([]byte, error)
}

// Result is the outcome of a body read
type Result[T any] struct {
	Job      Job[T]
	Body     []byte
	Error    error
	Duration time.Duration
}

// Pool runs body reads on a fixed set of workers so the event loop never
// waits on the browser
type Pool[T any] struct {
	numWorkers  int
	readTimeout time.Duration
	jobQueue    chan Job[T]
	resultQueue chan Result[T]
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      logger.Logger

	stopOnce sync.Once
}

// NewPool creates a pool with numWorkers workers and a queue twice that size
func NewPool[T any](numWorkers int, readTimeout time.Duration, log logger.Logger) *Pool[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool[T]{
		numWorkers:  numWorkers,
		readTimeout: readTimeout,
		jobQueue:    make(chan Job[T], numWorkers*2),
		resultQueue: make(chan Result[T], numWorkers*2),
		ctx:         ctx,
		cancel:      cancel,
		logger:      log,
	}
}

// Start launches the workers
func (p *Pool[T]) Start() {
	p.logger.DebugWithFields("Starting capture pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains queued reads, then closes Results
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobQueue)
		p.wg.Wait()
		close(p.resultQueue)
		p.cancel()
		p.logger.Debug("Capture pool stopped")
	})
}

// Abort cancels in-flight reads and stops the pool
func (p *Pool[T]) Abort() {
	p.cancel()
	p.Stop()
}

// TrySubmit queues a job without blocking; false means the queue is full
func (p *Pool[T]) TrySubmit(job Job[T]) bool {
	select {
	case p.jobQueue <- job:
		return true
	default:
		return false
	}
}

// Results returns the channel of completed reads
func (p *Pool[T]) Results() <-chan Result[T] {
	return p.resultQueue
}

// Read performs a job on the calling goroutine with the pool's timeout
func (p *Pool[T]) Read(ctx context.Context, job Job[T]) Result[T] {
	start := time.Now()
	if p.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.readTimeout)
		defer cancel()
	}
	body, err := job.Read(ctx)
	return Result[T]{Job: job, Body: body, Error: err, Duration: time.Since(start)}
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		result := p.Read(p.ctx, job)
		if result.Error != nil {
			p.logger.DebugWithFields("Worker failed to read body", map[string]interface{}{
				"worker_id":  id,
				"request_id": job.ID,
				"error":      result.Error.Error(),
			})
		}

		select {
		case p.resultQueue <- result:
		case <-p.ctx.Done():
			return
		}
	}
}
