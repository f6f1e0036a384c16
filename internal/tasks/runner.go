// Package tasks runs background work such as V2 syncs and REMS publishes
// and keeps a queryable history of it.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/segmentio/ksuid"

	"metax/internal/core"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// Func is the unit of work executed by a task.
type Func func(ctx context.Context) error

// Task records one execution of a Func.
type Task struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Group        string         `json:"group,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	Enqueued     time.Time      `json:"enqueued"`
	Started      *time.Time     `json:"started,omitempty"`
	Stopped      *time.Time     `json:"stopped,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	Result       string         `json:"result,omitempty"`
	AttemptCount int            `json:"attempt_count"`

	fn Func
}

// Done reports whether the task has stopped.
func (t Task) Done() bool { return t.Stopped != nil }

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l logging.Logger) Option { return func(r *Runner) { r.log = logging.OrNop(l) } }

// WithClock overrides the task timestamps.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.nowFn = now } }

// WithMetrics reports task outcomes under the task name.
func WithMetrics(m core.MetricsRecorder) Option { return func(r *Runner) { r.metrics = m } }

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithBackground toggles background execution. When disabled every task
// runs inline in the submitting goroutine.
func WithBackground(enabled bool) Option { return func(r *Runner) { r.background = enabled } }

// WithAttempts sets how many times a failing task is tried.
func WithAttempts(n uint, delay time.Duration) Option {
	return func(r *Runner) {
		if n > 0 {
			r.attempts = n
		}
		r.delay = delay
	}
}

// WithHistory bounds the number of finished tasks kept.
func WithHistory(n int) Option { return func(r *Runner) { r.history = n } }

// Runner executes tasks on a pool of workers.
type Runner struct {
	log        logging.Logger
	metrics    core.MetricsRecorder
	nowFn      func() time.Time
	workers    int
	background bool
	attempts   uint
	delay      time.Duration
	history    int

	queue chan *Task
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner constructs a runner. Call Start to begin processing.
func NewRunner(opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		log:        logging.Nop(),
		nowFn:      func() time.Time { return time.Now().UTC() },
		workers:    2,
		background: true,
		attempts:   1,
		history:    1000,
		queue:      make(chan *Task, 64),
		tasks:      make(map[string]*Task),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Background reports whether tasks run on workers.
func (r *Runner) Background() bool { return r.background }

// Start launches the workers.
func (r *Runner) Start() {
	if !r.background {
		return
	}
	for range r.workers {
		r.wg.Add(1)
		go r.loop()
	}
}

// Stop signals the workers to halt and waits for running tasks.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case t := <-r.queue:
			r.execute(r.ctx, t)
		}
	}
}

// Run submits fn under name and does not wait for it. Its signature matches
// the dispatch hooks of the sync services.
func (r *Runner) Run(name string, fn func(ctx context.Context) error) {
	if _, err := r.Submit(r.ctx, name, "", nil, fn); err != nil {
		r.log.Warnw("task not submitted", "task", name, "error", err)
	}
}

// ErrStopped is returned when submitting to a stopped runner.
var ErrStopped = errors.New("task runner stopped")

// Submit queues a task. Without background execution the task runs before
// Submit returns and the returned Task holds its outcome.
func (r *Runner) Submit(ctx context.Context, name, group string, args map[string]any, fn Func) (Task, error) {
	t := &Task{
		ID:       ksuid.New().String(),
		Name:     name,
		Group:    group,
		Args:     args,
		Enqueued: r.nowFn(),
		fn:       fn,
	}
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)
	r.mu.Unlock()

	if !r.background {
		r.execute(ctx, t)
		return r.snapshot(t), nil
	}
	if r.ctx.Err() != nil {
		r.finish(t, ErrStopped)
		return r.snapshot(t), ErrStopped
	}
	select {
	case r.queue <- t:
		return r.snapshot(t), nil
	case <-ctx.Done():
		r.finish(t, fmt.Errorf("not queued: %w", ctx.Err()))
		return r.snapshot(t), ctx.Err()
	case <-r.ctx.Done():
		r.finish(t, ErrStopped)
		return r.snapshot(t), ErrStopped
	}
}

func (r *Runner) execute(ctx context.Context, t *Task) {
	started := r.nowFn()
	r.mu.Lock()
	t.Started = &started
	r.mu.Unlock()

	err := retry.Do(func() error {
		r.mu.Lock()
		t.AttemptCount++
		r.mu.Unlock()
		return run(ctx, t.fn)
	},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var verr *domain.ValidationError
			return retry.IsRecoverable(err) && !errors.As(err, &verr)
		}),
	)
	r.finish(t, err)
	if r.metrics != nil {
		r.metrics.Observe(ctx, "task."+t.Name, err == nil, r.nowFn().Sub(started))
	}
	if err != nil {
		r.log.Errorw("task failed", "task", t.Name, "id", t.ID, "attempts", t.AttemptCount, "error", err)
		return
	}
	r.log.Debugw("task finished", "task", t.Name, "id", t.ID)
}

// run calls fn and turns a panic into an error so a worker survives it.
func run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = retry.Unrecoverable(fmt.Errorf("task panicked: %v", p))
		}
	}()
	return fn(ctx)
}

func (r *Runner) finish(t *Task, err error) {
	stopped := r.nowFn()
	success := err == nil
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Stopped = &stopped
	t.Success = &success
	if err != nil {
		t.Result = err.Error()
	}
	t.fn = nil
	r.prune()
}

// prune drops the oldest finished tasks beyond the history bound.
// Callers hold mu.
func (r *Runner) prune() {
	if r.history <= 0 {
		return
	}
	finished := 0
	for _, id := range r.order {
		if r.tasks[id].Done() {
			finished++
		}
	}
	if finished <= r.history {
		return
	}
	drop := finished - r.history
	kept := r.order[:0]
	for _, id := range r.order {
		if drop > 0 && r.tasks[id].Done() {
			delete(r.tasks, id)
			drop--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *Runner) snapshot(t *Task) Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := *t
	out.fn = nil
	return out
}

// Get returns a task by id.
func (r *Runner) Get(id string) (Task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return Task{}, domain.NotFoundError{Entity: "task", ID: id}
	}
	return r.snapshot(t), nil
}

// Query filters List results.
type Query struct {
	Name    string
	Group   string
	Success *bool
	// Ordering is one of started, -started, stopped, -stopped. The default
	// is submission order.
	Ordering string
}

// List returns the tasks matching q.
func (r *Runner) List(q Query) ([]Task, error) {
	r.mu.RLock()
	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		t := *r.tasks[id]
		t.fn = nil
		if q.Name != "" && t.Name != q.Name {
			continue
		}
		if q.Group != "" && t.Group != q.Group {
			continue
		}
		if q.Success != nil && (t.Success == nil || *t.Success != *q.Success) {
			continue
		}
		out = append(out, t)
	}
	r.mu.RUnlock()

	var key func(Task) *time.Time
	switch q.Ordering {
	case "":
		return out, nil
	case "started", "-started":
		key = func(t Task) *time.Time { return t.Started }
	case "stopped", "-stopped":
		key = func(t Task) *time.Time { return t.Stopped }
	default:
		return nil, domain.NewValidationError("ordering", fmt.Sprintf("Invalid ordering %q.", q.Ordering))
	}
	desc := q.Ordering[0] == '-'
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		switch {
		case a == nil || b == nil:
			// Unset times sort last in both directions.
			return a != nil
		case desc:
			return a.After(*b)
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}
