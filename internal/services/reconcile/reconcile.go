// Package reconcile runs the startup catch-up sequence. A restart can
// land mid-day with raids past their expiry, quests unposted, or a world
// event unannounced; the runner replays the day's obligations against
// executors that are all idempotent, so a clean restart changes nothing.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "tinglebot/pkg/logx"
)

// Member is one independent unit of the fan-out phase.
type Member struct {
	Name string
	Run  func(ctx context.Context, now time.Time) error
}

// Tasks wires the runner to the executors. Priority runs first and its
// failure fails the whole reconciliation. WorldEvent runs second. Members
// then run concurrently, each behind its own error boundary.
type Tasks struct {
	Priority   Member
	WorldEvent Member
	Members    []Member
}

type Runner struct {
	tasks Tasks
	log   logx.Logger
}

func NewRunner(tasks Tasks, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{tasks: tasks, log: log}
}

// Run executes the three phases. Only the priority phase can fail the
// reconciliation; everything after it is caught, logged and counted.
func (r *Runner) Run(ctx context.Context, now time.Time) error {
	started := time.Now()
	r.log.Info("reconciliation started")

	if p := r.tasks.Priority; p.Run != nil {
		if err := p.Run(ctx, now); err != nil {
			return fmt.Errorf("reconcile %s: %w", p.Name, err)
		}
		r.log.Info("priority sweep done", logx.String("task", p.Name))
	}

	if w := r.tasks.WorldEvent; w.Run != nil {
		if err := r.protect(ctx, now, w); err != nil {
			r.log.Error("world event reconciliation failed", logx.String("task", w.Name), logx.Err(err))
		}
	}

	failed := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, m := range r.tasks.Members {
		if m.Run == nil {
			continue
		}
		wg.Add(1)
		go func(m Member) {
			defer wg.Done()
			if err := r.protect(ctx, now, m); err != nil {
				r.log.Error("reconciliation member failed", logx.String("task", m.Name), logx.Err(err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	r.log.Info("reconciliation finished",
		logx.Int("members", len(r.tasks.Members)),
		logx.Int("failed", failed),
		logx.Duration("elapsed", time.Since(started)))
	return nil
}

// protect converts a member panic into an error so one sweep cannot take
// the others down with it.
func (r *Runner) protect(ctx context.Context, now time.Time, m Member) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return m.Run(ctx, now)
}
