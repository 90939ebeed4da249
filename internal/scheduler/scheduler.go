// Package scheduler runs the recurring pipeline jobs. Timing comes from a
// cron runner; mutual exclusion across process instances comes from the
// store's run lease, so the same binary can be deployed more than once
// without double-processing.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/internal/store"
)

// JobFunc is one scheduled job invocation. It returns how many items it
// processed; the count lands in the JobRun row.
type JobFunc func(ctx context.Context) (processed int, err error)

type job struct {
	id      string
	every   time.Duration
	handler JobFunc
	paused  atomic.Bool
	running atomic.Bool
}

// Scheduler owns the cron entries and the per-job run bookkeeping.
type Scheduler struct {
	store    store.Store
	cron     *cron.Cron
	leaseTTL time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Scheduler backed by the given store. leaseTTL bounds how long
// a crashed instance can hold a job's run lease.
func New(st store.Store, leaseTTL time.Duration) *Scheduler {
	return &Scheduler{
		store:    st,
		cron:     cron.New(),
		leaseTTL: leaseTTL,
		log:      zap.L().With(zap.String("component", "scheduler")),
		jobs:     make(map[string]*job),
	}
}

// Register adds a recurring job. Must be called before Start.
func (s *Scheduler) Register(id string, every time.Duration, handler JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return eris.Errorf("scheduler: job already registered: %s", id)
	}

	j := &job{id: id, every: every, handler: handler}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", every), func() {
		s.invoke(j)
	}); err != nil {
		return eris.Wrapf(err, "scheduler: add job %s", id)
	}
	s.jobs[id] = j
	s.log.Info("job registered", zap.String("job", id), zap.Duration("every", every))
	return nil
}

// Pause stops a job from being invoked until Resume. In-flight runs finish.
func (s *Scheduler) Pause(id string) error {
	j, err := s.get(id)
	if err != nil {
		return err
	}
	j.paused.Store(true)
	s.log.Info("job paused", zap.String("job", id))
	return nil
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(id string) error {
	j, err := s.get(id)
	if err != nil {
		return err
	}
	j.paused.Store(false)
	s.log.Info("job resumed", zap.String("job", id))
	return nil
}

// RunOnce invokes a registered job immediately, subject to the same run
// lease as scheduled invocations. Used by the CLI.
func (s *Scheduler) RunOnce(ctx context.Context, id string) error {
	j, err := s.get(id)
	if err != nil {
		return err
	}
	return s.execute(ctx, j)
}

// Start begins scheduling. ctx is the base context handed to every job.
func (s *Scheduler) Start(ctx context.Context) {
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts scheduling and waits up to timeout for in-flight jobs. Jobs
// still running after the timeout get their context canceled and are
// reported as abandoned; their stale leases will be reaped by TTL.
func (s *Scheduler) Stop(timeout time.Duration) error {
	stopCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-time.After(timeout):
		if s.cancel != nil {
			s.cancel()
		}
		var abandoned []string
		s.mu.Lock()
		for id, j := range s.jobs {
			if j.running.Load() {
				abandoned = append(abandoned, id)
			}
		}
		s.mu.Unlock()
		s.log.Warn("scheduler stop timed out", zap.Strings("abandoned", abandoned))
		return eris.Errorf("scheduler: %d jobs still running after %s", len(abandoned), timeout)
	}
}

func (s *Scheduler) get(id string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, eris.Errorf("scheduler: unknown job: %s", id)
	}
	return j, nil
}

func (s *Scheduler) invoke(j *job) {
	if j.paused.Load() {
		return
	}
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.execute(ctx, j); err != nil {
		s.log.Error("job run failed", zap.String("job", j.id), zap.Error(err))
	}
}

// execute acquires the run lease, runs the handler with panic recovery, and
// closes the JobRun row.
func (s *Scheduler) execute(ctx context.Context, j *job) error {
	// Cheap local short-circuit; the DB lease is the real guard.
	if !j.running.CompareAndSwap(false, true) {
		s.log.Debug("job still running locally, skipping", zap.String("job", j.id))
		return nil
	}
	defer j.running.Store(false)

	run, err := s.store.StartJobRun(ctx, j.id, s.leaseTTL)
	if err != nil {
		return eris.Wrapf(err, "scheduler: start run %s", j.id)
	}
	if run == nil {
		s.log.Debug("run lease held elsewhere, skipping", zap.String("job", j.id))
		return nil
	}

	s.wg.Add(1)
	defer s.wg.Done()

	started := time.Now()
	processed, err := s.runHandler(ctx, j)

	status := model.RunStatusSuccess
	errMsg := ""
	if err != nil {
		status = model.RunStatusFailed
		errMsg = err.Error()
	}
	if finErr := s.store.FinishJobRun(ctx, run.ID, status, processed, errMsg); finErr != nil {
		s.log.Error("finish run failed", zap.String("job", j.id), zap.Error(finErr))
	}

	s.log.Info("job run finished",
		zap.String("job", j.id),
		zap.String("status", string(status)),
		zap.Int("processed", processed),
		zap.Duration("took", time.Since(started)),
	)
	return err
}

func (s *Scheduler) runHandler(ctx context.Context, j *job) (processed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scheduler: job %s panicked: %v", j.id, r)
		}
	}()
	return j.handler(ctx)
}
