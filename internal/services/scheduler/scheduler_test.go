package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "tinglebot/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(Config{Timezone: "UTC", HistorySize: 16}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Timezone: "Hyrule/Castle"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	if err := s.AddCron("bad", "not a spec", JobOptions{}, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestAddCronAppliesJobTimezone(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	err := s.AddCron("weather-post", "0 8 * * *", JobOptions{Timezone: "America/New_York"},
		func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(snap.Jobs))
	}
	if !strings.HasPrefix(snap.Jobs[0].Spec, "CRON_TZ=America/New_York ") {
		t.Fatalf("spec missing CRON_TZ prefix: %q", snap.Jobs[0].Spec)
	}
}

func TestRunJobSwallowsErrorsAndPanics(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	s.runJob(&jobDef{name: "boom"}, func(context.Context) error {
		panic("kaboom")
	})
	s.runJob(&jobDef{name: "fail"}, func(context.Context) error {
		return errors.New("store unavailable")
	})
	s.runJob(&jobDef{name: "ok"}, func(context.Context) error { return nil })

	h := s.Snapshot().History
	if len(h) != 3 {
		t.Fatalf("expected 3 history items, got %d", len(h))
	}
	if !strings.Contains(h[0].Error, "kaboom") {
		t.Fatalf("panic not captured: %+v", h[0])
	}
	if h[1].Error != "store unavailable" {
		t.Fatalf("error not captured: %+v", h[1])
	}
	if h[2].Error != "" {
		t.Fatalf("ok firing recorded error: %+v", h[2])
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	d := &jobDef{name: "slow", opt: JobOptions{Overlap: OverlapSkip}}
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runJob(d, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	// Second firing while the first is still running: must be dropped.
	done := make(chan struct{})
	go func() {
		s.runJob(d, func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("skipped firing should return immediately")
	}

	close(release)
	wg.Wait()

	if got := len(s.Snapshot().History); got != 1 {
		t.Fatalf("expected 1 completed firing, got %d", got)
	}
}

func TestOverlapAllow(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	d := &jobDef{name: "sweep", opt: JobOptions{Overlap: OverlapAllow}}
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runJob(d, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	s.runJob(d, func(context.Context) error { return nil })
	close(release)
	wg.Wait()

	if got := len(s.Snapshot().History); got != 2 {
		t.Fatalf("expected 2 completed firings, got %d", got)
	}
}
