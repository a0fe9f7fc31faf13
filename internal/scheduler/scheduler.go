package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aiva/internal/logger"
)

// Scheduler fires registered jobs on their cron schedules. A job never
// overlaps itself: a tick that arrives while the previous run is still in
// flight is skipped.
type Scheduler struct {
	jobs   []*Job
	logger *logger.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(logger *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Add(job *Job) {
	s.jobs = append(s.jobs, job)
}

func (s *Scheduler) Jobs() []*Job {
	return s.jobs
}

// Start launches one loop per job and returns immediately.
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		s.logger.Info("Scheduling job", job.Name, "with cron", job.Expr)
		s.wg.Add(1)
		go s.loop(job)
	}
}

// Stop cancels pending ticks and in-flight runs, then waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(job *Job) {
	defer s.wg.Done()

	for {
		now := s.now()
		next, err := job.NextRun(now)
		if err != nil {
			s.logger.Error("Stopping job:", err)
			return
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Trigger(job)
			}()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Trigger runs the job synchronously unless a run is already in flight, in
// which case it returns false without running.
func (s *Scheduler) Trigger(job *Job) bool {
	if !job.running.CompareAndSwap(false, true) {
		s.logger.Warn("Skipping job", job.Name, "previous run still in progress")
		return false
	}
	defer job.running.Store(false)

	started := s.now()
	job.lastRun.Store(&started)

	ctx := s.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	err := s.run(ctx, job)
	elapsed := time.Since(started)
	if err != nil {
		s.logger.Error("Job", job.Name, "failed after", elapsed.String(), ":", err)
	} else {
		s.logger.Debug("Job", job.Name, "completed in", elapsed.String())
	}
	return true
}

func (s *Scheduler) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}
