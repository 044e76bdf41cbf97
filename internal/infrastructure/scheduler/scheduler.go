// Package scheduler runs the ranking service's periodic background jobs:
// refreshing standings from the remote source and redelivering parked
// events.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of periodic work.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context is cancelled when the scheduler stops.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult describes one execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Manual      bool
	Error       error
}

// Success reports whether the run returned no error.
func (r JobResult) Success() bool { return r.Error == nil }

// Metrics receives one observation per finished run.
type Metrics interface {
	ObserveJob(name string, d time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveJob(string, time.Duration, error) {}

var (
	ErrNilJob           = errors.New("job cannot be nil")
	ErrNilSchedule      = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists = errors.New("job already exists")
	ErrJobNotFound      = errors.New("job not found")
	ErrJobRunning       = errors.New("job is already running")
	ErrAlreadyRunning   = errors.New("scheduler is already running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler runs registered jobs when their schedule is due. A job never
// overlaps itself: a tick that finds it still running skips it.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running bool
	wg      sync.WaitGroup

	clock       timeutil.Clock
	tick        time.Duration
	runOnStart  bool
	historySize int
	history     []JobResult
	metrics     Metrics
	logger      *slog.Logger
	onJobError  func(JobResult)
}

type scheduledJob struct {
	job       Job
	schedule  Schedule
	enabled   bool
	busy      bool
	lastRun   time.Time
	nextRun   time.Time
	runCount  int64
	failCount int64
	last      *JobResult
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c timeutil.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTick sets how often due jobs are checked. Default one second.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithRunOnStart makes every enabled job run once as soon as Run starts.
func WithRunOnStart(v bool) Option {
	return func(s *Scheduler) { s.runOnStart = v }
}

// WithHistorySize bounds the kept run history. Default 100.
func WithHistorySize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithMetrics records each run.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// OnJobError sets a callback invoked after every failed run.
func OnJobError(fn func(JobResult)) Option {
	return func(s *Scheduler) { s.onJobError = fn }
}

// New creates an idle scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:        make(map[string]*scheduledJob),
		clock:       timeutil.System,
		tick:        time.Second,
		historySize: 100,
		metrics:     nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger).With(logger.Component("scheduler"))
	return s
}

// Register adds a job with its schedule.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{
		job:      job,
		schedule: schedule,
		enabled:  true,
		nextRun:  schedule.Next(s.clock.Now()),
	}
	s.jobs[name] = sj

	s.logger.Info("job registered",
		slog.String("job", name),
		slog.String("schedule", schedule.String()),
		slog.Time("next_run", sj.nextRun),
	)
	return nil
}

// SetEnabled enables or disables a job. Enabling reschedules it from now.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if enabled && !sj.enabled {
		sj.nextRun = sj.schedule.Next(s.clock.Now())
	}
	sj.enabled = enabled
	return nil
}

// Run checks for due jobs every tick until ctx is cancelled, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	count := len(s.jobs)
	if s.runOnStart {
		now := s.clock.Now()
		for _, sj := range s.jobs {
			sj.nextRun = now
		}
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", slog.Int("jobs", count), slog.Duration("tick", s.tick))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.RunDue(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue starts every enabled job whose next run is not after now, each in
// its own goroutine. It returns the names started.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*scheduledJob
	for _, sj := range s.jobs {
		if !sj.enabled || sj.nextRun.IsZero() || sj.nextRun.After(now) {
			continue
		}
		if sj.busy {
			s.logger.Warn("job still running, skipping tick", slog.String("job", sj.job.Name()))
			sj.nextRun = sj.schedule.Next(now)
			continue
		}
		sj.busy = true
		sj.nextRun = sj.schedule.Next(now)
		due = append(due, sj)
	}
	s.mu.Unlock()

	names := make([]string, 0, len(due))
	for _, sj := range due {
		names = append(names, sj.job.Name())
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.execute(ctx, sj, false)
		}(sj)
	}
	slices.Sort(names)
	return names
}

// RunNow runs a job synchronously, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if sj.busy {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	sj.busy = true
	s.mu.Unlock()

	result := s.execute(ctx, sj, true)
	return result, result.Error
}

// Wait blocks until every job started by RunDue has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, manual bool) JobResult {
	name := sj.job.Name()
	started := s.clock.Now()

	err := safeRun(ctx, sj.job)
	completed := s.clock.Now()

	result := JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Manual:      manual,
		Error:       err,
	}
	s.metrics.ObserveJob(name, result.Duration, err)

	s.mu.Lock()
	sj.busy = false
	sj.lastRun = started
	sj.runCount++
	if err != nil {
		sj.failCount++
	}
	sj.last = &result
	s.history = append(s.history, result)
	if over := len(s.history) - s.historySize; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", slog.String("job", name), logger.Latency(result.Duration), logger.Err(err))
		if s.onJobError != nil {
			s.onJobError(result)
		}
	} else {
		s.logger.Debug("job completed", slog.String("job", name), logger.Latency(result.Duration))
	}
	return result
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Enabled     bool
	Running     bool
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns every registered job ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Schedule:    sj.schedule.String(),
			Enabled:     sj.enabled,
			Running:     sj.busy,
			LastRun:     sj.lastRun,
			NextRun:     sj.nextRun,
			RunCount:    sj.runCount,
			FailCount:   sj.failCount,
			LastResult:  sj.last,
		})
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return cmp.Compare(a.Name, b.Name) })
	return infos
}

// History returns up to limit of the most recent results, oldest first.
// A non-positive limit returns everything kept.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return slices.Clone(s.history[len(s.history)-limit:])
}
