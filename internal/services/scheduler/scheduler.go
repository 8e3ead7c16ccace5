package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "tinglebot/pkg/logx"
)

type Config struct {
	Timezone       string // IANA TZ for jobs without their own, e.g. "America/New_York"
	HistorySize    int
	DefaultTimeout time.Duration
}

// OverlapPolicy decides what happens when a firing triggers while the
// previous firing of the same job is still running.
type OverlapPolicy int

const (
	// OverlapSkip drops the new firing. Default: safest for handlers
	// that are not written to interleave with themselves.
	OverlapSkip OverlapPolicy = iota
	// OverlapAllow lets firings interleave. Only for handlers whose
	// writes are conditional (idempotent sweeps).
	OverlapAllow
)

type JobOptions struct {
	Timezone string // overrides Config.Timezone for this job
	Overlap  OverlapPolicy
	Timeout  time.Duration // 0 uses Config.DefaultTimeout
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type jobDef struct {
	name    string
	spec    string
	entryID cron.EntryID
	opt     JobOptions

	mu      sync.Mutex
	running bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef

	started bool

	runCtx    context.Context
	runCancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
		}
		loc = l
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Service{
		log:    log,
		cfg:    cfg,
		loc:    loc,
		parser: parser,
	}
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	return s, nil
}

func (s *Service) Location() *time.Location { return s.loc }

// AddCron registers a job. Safe before and after Start.
// A per-job timezone is carried in the spec via cron's CRON_TZ prefix.
func (s *Service) AddCron(name, spec string, opt JobOptions, handler func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler stopped")
	}
	if tz := strings.TrimSpace(opt.Timezone); tz != "" && !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("job %s timezone %q: %w", name, tz, err)
		}
		spec = "CRON_TZ=" + tz + " " + spec
	}
	if opt.Timeout <= 0 {
		opt.Timeout = s.cfg.DefaultTimeout
	}

	d := &jobDef{name: name, spec: spec, opt: opt}
	id, err := s.c.AddFunc(spec, func() { s.runJob(d, handler) })
	if err != nil {
		return fmt.Errorf("job %s spec %q: %w", name, spec, err)
	}
	d.entryID = id
	s.defs = append(s.defs, d)
	return nil
}

// AddInterval registers a fixed-interval sweep job.
func (s *Service) AddInterval(name string, every time.Duration, opt JobOptions, handler func(ctx context.Context) error) error {
	return s.AddCron(name, fmt.Sprintf("@every %s", every), opt, handler)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.c == nil {
		return
	}
	s.started = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Int("jobs", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.started = false
	s.mu.Unlock()

	if c != nil {
		// Wait for in-flight firings; they are not cancellable mid-run.
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}

// runJob is the failure boundary around a single firing. Nothing escapes:
// panics are recovered, errors logged and swallowed.
func (s *Service) runJob(d *jobDef, handler func(ctx context.Context) error) {
	if d.opt.Overlap == OverlapSkip {
		d.mu.Lock()
		if d.running {
			d.mu.Unlock()
			s.log.Debug("firing skipped; previous still running", logx.String("job", d.name))
			return
		}
		d.running = true
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
		}()
	}

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if d.opt.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.opt.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked",
					logx.String("job", d.name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		return handler(ctx)
	}()

	item := HistoryItem{Name: d.name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", d.name), logx.Err(err), logx.Duration("took", item.Duration))
	} else {
		s.log.Debug("job ok", logx.String("job", d.name), logx.Duration("took", item.Duration))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
