package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/limiter"
	"imgrelay/pkg/logger"
)

// ErrClosed is returned by Submit after Close
var ErrClosed = errors.New("dispatcher is closed")

// Job represents a single fetch task
type Job struct {
	Index int
	URL   string
	Host  string
}

// Result represents the outcome of a fetch job
type Result struct {
	Job      Job
	Fetch    fetch.Result
	Duration time.Duration
}

// Resolver fetches one URL. fetch.Strategy implements it.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) fetch.Result
}

// Dispatcher runs every submitted job in its own goroutine, admitted through
// a Limiters set, and delivers exactly one Result per job.
type Dispatcher struct {
	ctx      context.Context
	resolver Resolver
	limiters *limiter.Limiters
	results  chan Result
	wg       sync.WaitGroup
	logger   logger.Logger

	mu       sync.Mutex
	closed   bool
	inFlight int
}

// NewDispatcher creates a dispatcher. expected sizes the result buffer; when
// it covers every job, workers never block on delivery.
func NewDispatcher(
	ctx context.Context,
	resolver Resolver,
	limiters *limiter.Limiters,
	expected int,
	log logger.Logger,
) *Dispatcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if expected < 0 {
		expected = 0
	}

	return &Dispatcher{
		ctx:      ctx,
		resolver: resolver,
		limiters: limiters,
		results:  make(chan Result, expected),
		logger:   log,
	}
}

// Submit schedules a job
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if job.Host == "" {
		job.Host = limiter.HostKey(job.URL)
	}

	d.inFlight++
	d.wg.Add(1)
	go d.run(job)

	d.logger.DebugWithFields("Job submitted", map[string]interface{}{
		"index": job.Index,
		"host":  job.Host,
	})
	return nil
}

// Close stops accepting jobs. Results is closed once every submitted job
// has delivered its result.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	go func() {
		d.wg.Wait()
		close(d.results)
	}()
}

// Results returns the result channel for consuming fetch results
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// InFlight returns the number of submitted jobs that have not delivered a result
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

func (d *Dispatcher) run(job Job) {
	defer d.wg.Done()
	start := time.Now()

	var res fetch.Result
	err := d.limiters.Schedule(d.ctx, job.Host, func(ctx context.Context) error {
		res = d.resolver.Resolve(ctx, job.URL)
		return nil
	})
	if err != nil {
		res = failedResult(err)
		d.logger.WarnWithFields("Job not completed", map[string]interface{}{
			"index": job.Index,
			"host":  job.Host,
			"error": err.Error(),
		})
	}

	d.mu.Lock()
	d.inFlight--
	d.mu.Unlock()

	d.results <- Result{Job: job, Fetch: res, Duration: time.Since(start)}
}

func failedResult(err error) fetch.Result {
	var perr *limiter.PanicError
	switch {
	case errors.As(err, &perr):
		err = errs.New(errs.ErrorTypeUnknown, 0, "%v", perr)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		err = errs.New(errs.ErrorTypeTimeout, 0, "not started: %v", err)
	default:
		err = fmt.Errorf("job failed: %w", err)
	}
	return fetch.Result{Err: err}
}
