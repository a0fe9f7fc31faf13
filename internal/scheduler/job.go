package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
)

// Job is one named task fired on a cron expression.
type Job struct {
	Name    string
	Expr    string
	Timeout time.Duration
	Run     func(ctx context.Context) error

	running atomic.Bool
	lastRun atomic.Pointer[time.Time]
}

func NewJob(name, expr string, timeout time.Duration, run func(ctx context.Context) error) (*Job, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression for job %s: %s", name, expr)
	}
	if run == nil {
		return nil, fmt.Errorf("job %s has no run function", name)
	}
	return &Job{Name: name, Expr: expr, Timeout: timeout, Run: run}, nil
}

// NextRun returns the first tick strictly after ref.
func (j *Job) NextRun(ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(j.Expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute next run for job %s: %w", j.Name, err)
	}
	return next, nil
}

// Running reports whether a run of this job is in flight.
func (j *Job) Running() bool {
	return j.running.Load()
}

// LastRun is the start time of the most recent run, or nil.
func (j *Job) LastRun() *time.Time {
	return j.lastRun.Load()
}
