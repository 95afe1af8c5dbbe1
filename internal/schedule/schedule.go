// Package schedule runs a job on a cron expression, one invocation at a time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kebairia/xbauto/internal/logger"
)

// ErrInvalidSchedule is returned for an expression the parser rejects.
var ErrInvalidSchedule = errors.New("invalid cron schedule")

// Job is one scheduled invocation.
type Job func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runner triggers a job on a five field cron expression evaluated in UTC.
// A tick that arrives while the previous invocation still runs is skipped.
type Runner struct {
	expr     string
	schedule cron.Schedule
	log      logger.Logger
}

// New parses expr. Descriptors such as "@daily" or "@every 1h" are accepted.
func New(expr string, log logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.Nop()
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return &Runner{expr: expr, schedule: sched, log: log}, nil
}

// Next returns the first activation after t.
func (r *Runner) Next(t time.Time) time.Time {
	return r.schedule.Next(t.UTC())
}

// Run blocks until ctx is cancelled, invoking job on every activation. On
// return any running invocation has finished.
func (r *Runner) Run(ctx context.Context, job Job) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{r.log}),
		cron.WithChain(
			cron.Recover(cronLogger{r.log}),
			cron.SkipIfStillRunning(cronLogger{r.log}),
		),
	)
	c.Schedule(r.schedule, cron.FuncJob(func() {
		start := time.Now()
		r.log.Info("scheduled run started", "schedule", r.expr)
		if err := job(ctx); err != nil {
			r.log.Error("scheduled run failed", "schedule", r.expr, "error", err.Error())
			return
		}
		r.log.Info("scheduled run completed",
			"schedule", r.expr,
			"duration", time.Since(start).String(),
		)
	}))

	r.log.Info("scheduler started",
		"schedule", r.expr,
		"next", r.Next(time.Now()).Format(time.RFC3339),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("scheduler stopped", "schedule", r.expr)
	return nil
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
