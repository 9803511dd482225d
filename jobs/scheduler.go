// Package jobs runs the periodic maintenance tasks: the low-stock scan, the
// cart expiry sweep and the daily sales report.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
)

// Job is a named task with a cron schedule. Run returns a summary that is
// kept in the run log.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (any, error)
}

type Scheduler struct {
	cron   *cron.Cron
	log    *RunLog
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]*sync.Mutex
	ctx     context.Context
}

func NewScheduler(log *RunLog, logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		logger:  logger,
		jobs:    make(map[string]Job),
		running: make(map[string]*sync.Mutex),
		ctx:     context.Background(),
	}
}

// Register adds a job. A job with an empty schedule can only be run on demand.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if job.Schedule != "" {
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			s.execute(s.baseContext(), job, TriggerSchedule)
		}); err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
	}
	s.jobs[job.Name] = job
	s.running[job.Name] = &sync.Mutex{}
	return nil
}

// Start begins running scheduled jobs with ctx as their parent context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Strings("jobs", s.Names()))
}

// Stop stops scheduling and waits up to the deadline of ctx for running jobs.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stopped with jobs still running")
	}
}

// RunOnce runs a job now and waits for it to finish.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (Run, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	id, err := s.execute(ctx, job, TriggerManual)
	if errors.Is(err, ErrJobRunning) {
		return Run{}, err
	}
	run, _ := s.log.Get(id)
	return run, err
}

func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Runs() []Run {
	return s.log.List()
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) execute(ctx context.Context, job Job, trigger string) (uuid.UUID, error) {
	s.mu.Lock()
	lock := s.running[job.Name]
	s.mu.Unlock()

	if !lock.TryLock() {
		s.logger.Warn("Skipping job run, previous run still in progress", zap.String("job", job.Name), zap.String("trigger", trigger))
		return uuid.Nil, ErrJobRunning
	}
	defer lock.Unlock()

	id := s.log.Start(job.Name, trigger)
	started := time.Now()
	s.logger.Info("Job started", zap.String("job", job.Name), zap.String("trigger", trigger))

	result, err := job.Run(ctx)
	s.log.Finish(id, result, err)

	if err != nil {
		s.logger.Error("Job failed", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return id, err
	}
	s.logger.Info("Job completed", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(started)), zap.Any("result", result))
	return id, nil
}

// cronLogger routes cron's own messages to zap. Its per-tick info messages
// are demoted to debug.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
