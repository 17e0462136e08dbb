// Package dispatcher implements the Operation Dispatcher: the inbound
// entry point that parses a wire request, validates it, acquires the
// appropriate lock, runs the operation through the coordinator, releases
// the lock, and replies.
//
// The worker pool is grounded on internal/core/processing's
// AsyncWebhookProcessor (bounded job queue, fixed worker count, graceful
// Stop with timeout, queue-depth metric), repurposed so each job is one
// inbound TC operation rather than a batch of alerts. Per-session rate
// limiting is grounded on internal/api/middleware's token-bucket
// RateLimiter built on golang.org/x/time/rate.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/unc-platform/tc-core/internal/lock"
	"github.com/unc-platform/tc-core/internal/metrics"
	"github.com/unc-platform/tc-core/internal/operation"
)

// Runner executes one validated operation under a held lock and returns its
// final status. The coordinator (internal/coordinator) implements this.
type Runner interface {
	Run(ctx context.Context, req operation.Request) (operation.Response, error)
}

// Job is one inbound operation queued for dispatch.
type Job struct {
	Request operation.Request
	Reply   chan<- JobResult
}

// JobResult carries the outcome of a dispatched Job back to its submitter.
type JobResult struct {
	Response operation.Response
	Err      error
}

// Config configures a Dispatcher.
type Config struct {
	Workers   int // default 10
	QueueSize int // default 1000
	RateLimit float64
	RateBurst int
	Timeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Dispatcher owns the bounded worker pool and per-session rate limiter
// gating access to the Lock Manager and Runner.
type Dispatcher struct {
	runner  Runner
	locks   *lock.Manager
	metrics *metrics.Coordinator
	logger  *slog.Logger
	config  Config

	jobQueue chan Job
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	running bool

	limiterMu sync.Mutex
	limiters  map[uint32]*rate.Limiter
}

// New constructs a Dispatcher bound to runner and locks. metrics/logger may
// be nil; sane defaults are substituted.
func New(runner Runner, locks *lock.Manager, m *metrics.Coordinator, logger *slog.Logger, config Config) *Dispatcher {
	config.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewCoordinator()
	}
	return &Dispatcher{
		runner:   runner,
		locks:    locks,
		metrics:  m,
		logger:   logger,
		config:   config,
		jobQueue: make(chan Job, config.QueueSize),
		stopCh:   make(chan struct{}),
		limiters: make(map[uint32]*rate.Limiter),
	}
}

// Start launches the worker pool. Safe to call once; a second call returns
// an error.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher: already running")
	}
	d.running = true

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.logger.Info("dispatcher started", "workers", d.config.Workers, "queue_size", d.config.QueueSize)
	return nil
}

// Stop drains and closes the worker pool, waiting up to config.Timeout for
// in-flight jobs to finish.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher: not running")
	}
	d.running = false
	d.mu.Unlock()

	// Closing the queue first lets workers drain what is already queued;
	// stopCh is closed only on return.
	close(d.jobQueue)
	defer close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
		return nil
	case <-time.After(d.config.Timeout):
		d.logger.Warn("dispatcher stop timed out; in-flight operations may be abandoned")
		return fmt.Errorf("dispatcher: stop timeout after %s", d.config.Timeout)
	}
}

// Submit enqueues req and blocks until the corresponding job completes or
// ctx is cancelled. It is the synchronous-looking facade callers use; the
// queue/worker split is purely an internal concurrency control.
func (d *Dispatcher) Submit(ctx context.Context, req operation.Request) (operation.Response, error) {
	d.mu.RLock()
	if !d.running {
		d.mu.RUnlock()
		return operation.Response{}, fmt.Errorf("dispatcher: not running")
	}
	d.mu.RUnlock()

	if err := req.Validate(); err != nil {
		return operation.Response{}, err
	}

	if !d.limiterFor(req.SessionID).Allow() {
		return operation.Response{}, operation.New(operation.ErrSystemBusy, "rate limit exceeded for session")
	}

	// §4.6 step 4: acquire exclusion via LM, release on every exit path.
	release, err := d.acquireExclusion(ctx, req)
	if err != nil {
		return operation.Response{}, err
	}
	defer release()

	reply := make(chan JobResult, 1)
	select {
	case d.jobQueue <- Job{Request: req, Reply: reply}:
		d.metrics.QueueDepth.Set(float64(len(d.jobQueue)))
	case <-ctx.Done():
		return operation.Response{}, ctx.Err()
	default:
		return operation.Response{}, operation.New(operation.ErrSystemBusy, fmt.Sprintf("dispatcher queue full (capacity %d)", d.config.QueueSize))
	}

	select {
	case result := <-reply:
		return result.Response, result.Err
	case <-ctx.Done():
		return operation.Response{}, ctx.Err()
	}
}

// acquireExclusion implements §4.6 step 4. Read-family operations and Audit
// acquire a fresh Read session for the duration of the call. Config-scoped
// operations (Commit, Save, ClearStartup, AbortCandidate, Setup,
// SetupComplete) assume the session already holds Config from a prior
// acquire() call and only validates that configID still matches — the
// Lock Manager's acquire/release pair brackets a whole commit/audit
// session, not each individual RPC within it. The returned func always
// releases whatever was acquired, even on a later panic (release-on-all-
// paths, §8 invariant 7).
func (d *Dispatcher) acquireExclusion(ctx context.Context, req operation.Request) (release func(), err error) {
	if d.locks == nil {
		return func() {}, nil
	}

	if isConfigScoped(req.OpType) {
		if !d.locks.Validate(req.SessionID, req.ConfigID) {
			return nil, operation.New(operation.ErrInvalidConfigID, "session does not hold the presented config id")
		}
		return func() {}, nil
	}

	configID, acquireErr := d.locks.Acquire(ctx, req.SessionID, lock.OpClassRead, uint64(time.Now().Unix()))
	if acquireErr != nil {
		return nil, mapDenial(acquireErr)
	}
	_ = configID
	released := false
	return func() {
		if released {
			return
		}
		released = true
		_ = d.locks.Release(ctx, req.SessionID, lock.OpClassRead, 0)
	}, nil
}

func isConfigScoped(kind operation.Kind) bool {
	switch kind {
	case operation.KindCommit, operation.KindSave, operation.KindClearStartup,
		operation.KindAbortCandidate, operation.KindSetup, operation.KindSetupComplete:
		return true
	default:
		return false
	}
}

// mapDenial translates a *lock.DeniedError into the taxonomy §4.6 step 4
// requires callers see (SystemBusy, AlreadyConfiguring, InvalidConfigId).
func mapDenial(err error) error {
	var denied *lock.DeniedError
	if !errors.As(err, &denied) {
		return operation.New(operation.ErrGeneric, err.Error())
	}
	switch denied.Reason {
	case lock.DenyAlreadyConfiguring:
		return operation.New(operation.ErrAlreadyConfiguring, "config session already held")
	default:
		return operation.New(operation.ErrSystemBusy, "exclusion denied")
	}
}

func (d *Dispatcher) limiterFor(session uint32) *rate.Limiter {
	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()

	limiter, ok := d.limiters[session]
	if !ok {
		limit := rate.Limit(d.config.RateLimit)
		if limit <= 0 {
			limit = rate.Inf
		}
		limiter = rate.NewLimiter(limit, d.config.RateBurst)
		d.limiters[session] = limiter
	}
	return limiter
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.metrics.ActiveWorkers.Inc()
	defer d.metrics.ActiveWorkers.Dec()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case job, ok := <-d.jobQueue:
			if !ok {
				return
			}
			d.metrics.QueueDepth.Set(float64(len(d.jobQueue)))
			d.process(ctx, job)
		}
	}
}

// process runs one job end to end: validate is already done at Submit
// time, so this is dispatch/run, with panic recovery guaranteeing the
// reply channel always receives something so Submit never hangs (§8
// invariant 7's release-on-all-paths applies transitively: the lock taken
// in Submit is released by Submit's deferred release once the reply,
// including a recovered panic, arrives).
func (d *Dispatcher) process(ctx context.Context, job Job) {
	opCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	result := JobResult{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("dispatcher: operation panicked: %v", r)
				d.logger.Error("operation panic recovered", "panic", r)
			}
		}()
		result.Response, result.Err = d.runner.Run(opCtx, job.Request)
	}()

	job.Reply <- result
}
