package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	"metax/internal/logging"
)

// never is a schedule that does not fire before year 9999.
type never struct{}

func (never) Next(time.Time) time.Time { return time.Unix(253_370_764_800, 0) }

// ParseSchedule parses a standard cron expression or descriptor such as
// "@every 15m". An empty expression or "@never" yields a schedule that
// never fires.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "@never" {
		return never{}, nil
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return s, nil
}

type job struct {
	name     string
	schedule cron.Schedule
	fn       Func
	running  atomic.Bool
}

// Scheduler submits periodic jobs to a Runner.
type Scheduler struct {
	runner *Runner
	log    logging.Logger
	now    func() time.Time
	jobs   []*job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a scheduler submitting to runner.
func NewScheduler(runner *Runner, log logging.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		log:    logging.OrNop(log).Named("cron"),
		now:    time.Now,
	}
}

// Add registers fn to run on expr. Jobs are added before Start.
func (s *Scheduler) Add(expr, name string, fn Func) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	s.jobs = append(s.jobs, &job{name: name, schedule: sched, fn: fn})
	return nil
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Stop halts the scheduler. Submitted tasks keep running on the runner.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	last := s.now()
	for {
		next := j.schedule.Next(last)
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		last = next
		s.trigger(ctx, j)
	}
}

// trigger submits j unless its previous run is still in progress.
func (s *Scheduler) trigger(ctx context.Context, j *job) bool {
	if !j.running.CompareAndSwap(false, true) {
		s.log.Infow("skipping scheduled job, previous run in progress", "job", j.name)
		return false
	}
	_, err := s.runner.Submit(ctx, j.name, "cron", nil, func(ctx context.Context) error {
		defer j.running.Store(false)
		return j.fn(ctx)
	})
	if err != nil {
		j.running.Store(false)
		s.log.Warnw("scheduled job not submitted", "job", j.name, "error", err)
		return false
	}
	return true
}

// RunNow triggers the named job immediately.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	for _, j := range s.jobs {
		if j.name == name {
			return s.trigger(ctx, j)
		}
	}
	return false
}
