package decay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/lazypower/mnemo/internal/errs"
)

// Task decays one namespace. since is the namespace's previous cycle time
// (zero on the first run), now is the cycle's reference time.
type Task interface {
	Name() string
	DecayNamespace(ctx context.Context, namespace string, since, now time.Time) (Report, error)
}

// Namespaces supplies the namespaces to visit and persists per-namespace
// cycle times so a restart resumes where it left off.
type Namespaces interface {
	Names(ctx context.Context) ([]string, error)
	LastDecay(ctx context.Context, namespace string) (time.Time, error)
	MarkDecayed(ctx context.Context, namespace string, at time.Time) error
}

// Stats are cumulative scheduler counters.
type Stats struct {
	Cycles       int               `json:"cycles"`
	FailedCycles int               `json:"failed_cycles"`
	Examined     int               `json:"examined"`
	Decayed      int               `json:"decayed"`
	Failed       int               `json:"failed"`
	LastRun      time.Time         `json:"last_run"`
	LastError    string            `json:"last_error,omitempty"`
	PerNamespace map[string]Report `json:"per_namespace"`
}

// Scheduler runs decay cycles on a fixed interval or a cron schedule.
type Scheduler struct {
	namespaces Namespaces
	tasks      []Task
	interval   time.Duration
	schedule   string
	now        func() time.Time

	runMu sync.Mutex // one cycle at a time

	mu    sync.Mutex
	stats Stats

	lifeMu sync.Mutex // guards stopCh and done
	stopCh chan struct{}
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval runs a cycle every d.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithSchedule runs a cycle on each tick of a cron expression. It takes
// precedence over WithInterval.
func WithSchedule(expr string) Option {
	return func(s *Scheduler) { s.schedule = expr }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler over the given namespaces and tasks.
func NewScheduler(ns Namespaces, tasks []Task, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		namespaces: ns,
		tasks:      tasks,
		interval:   time.Hour,
		now:        time.Now,
		stats:      Stats{PerNamespace: map[string]Report{}},
	}
	for _, o := range opts {
		o(s)
	}
	if s.schedule != "" && !gronx.New().IsValid(s.schedule) {
		return nil, errs.Validation("invalid decay schedule %q", s.schedule)
	}
	if s.schedule == "" && s.interval <= 0 {
		return nil, errs.Validation("decay interval must be positive")
	}
	return s, nil
}

// RunCycle performs one pass over every namespace. The returned error is
// non-nil only when the namespace list itself could not be read; per
// namespace failures are reported in Stats.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.now()
	var total Report

	names, err := s.namespaces.Names(ctx)
	if err != nil {
		err = errs.Decay(fmt.Errorf("list namespaces: %w", err))
		s.record(now, total, nil, err)
		return total, err
	}

	per := make(map[string]Report, len(names))
	var firstErr error
	for _, ns := range names {
		if ctx.Err() != nil {
			break
		}
		since, err := s.namespaces.LastDecay(ctx, ns)
		if err != nil {
			log.Printf("decay: %s: last run: %v", ns, err)
			firstErr = keepFirst(firstErr, errs.Decay(err))
			continue
		}

		var nsReport Report
		nsFailed := false
		for _, task := range s.tasks {
			r, err := task.DecayNamespace(ctx, ns, since, now)
			nsReport.Add(r)
			if err != nil {
				nsFailed = true
				log.Printf("decay: %s: %s: %v", ns, task.Name(), err)
				firstErr = keepFirst(firstErr, errs.Decay(err))
			}
		}
		if nsReport.Failed > 0 {
			log.Printf("decay: %s: %d records failed", ns, nsReport.Failed)
		}
		if !nsFailed {
			if err := s.namespaces.MarkDecayed(ctx, ns, now); err != nil {
				log.Printf("decay: %s: mark decayed: %v", ns, err)
				firstErr = keepFirst(firstErr, errs.Decay(err))
			}
		}
		per[ns] = nsReport
		total.Add(nsReport)
	}

	if total.Decayed > 0 {
		log.Printf("decay: updated %d records across %d namespaces", total.Decayed, len(names))
	}
	s.record(now, total, per, firstErr)
	return total, nil
}

func keepFirst(cur, next error) error {
	if cur != nil {
		return cur
	}
	return next
}

func (s *Scheduler) record(at time.Time, r Report, per map[string]Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Cycles++
	s.stats.LastRun = at
	s.stats.Examined += r.Examined
	s.stats.Decayed += r.Decayed
	s.stats.Failed += r.Failed
	for ns, nr := range per {
		s.stats.PerNamespace[ns] = nr
	}
	if err != nil {
		s.stats.FailedCycles++
		s.stats.LastError = err.Error()
	}
}

// Stats returns a copy of the cumulative counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.PerNamespace = make(map[string]Report, len(s.stats.PerNamespace))
	for k, v := range s.stats.PerNamespace {
		out.PerNamespace[k] = v
	}
	return out
}

// next returns how long to wait before the following cycle.
func (s *Scheduler) next(from time.Time) time.Duration {
	if s.schedule == "" {
		return s.interval
	}
	t, err := gronx.NextTickAfter(s.schedule, from, false)
	if err != nil {
		log.Printf("decay: schedule %q: %v, falling back to %v", s.schedule, err, s.interval)
		return s.interval
	}
	return t.Sub(from)
}

// Start runs one cycle immediately and then keeps running cycles in the
// background until Stop is called or ctx is done. Starting a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done

	if _, err := s.RunCycle(ctx); err != nil {
		log.Printf("decay error: %v", err)
	}

	go func() {
		defer close(done)
		for {
			timer := time.NewTimer(s.next(time.Now()))
			select {
			case <-timer.C:
				if _, err := s.RunCycle(ctx); err != nil {
					log.Printf("decay error: %v", err)
				}
			case <-stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

// Stop shuts down the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.done
	s.stopCh = nil
}
