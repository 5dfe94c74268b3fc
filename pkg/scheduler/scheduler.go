// Package scheduler drives periodic check cycles and the daily digest.
package scheduler

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"blog-monitor/pkg/alert"
	"blog-monitor/pkg/ingest"
)

// ErrCycleRunning is returned by RunNow while another cycle is in progress.
var ErrCycleRunning = errors.New("a check cycle is already running")

// Runner runs one check cycle
type Runner interface {
	CheckAll(ctx context.Context, sourceID *int64) ingest.CycleResult
}

// DigestSender sends the digest of posts discovered since a point in time.
type DigestSender interface {
	SendDigest(ctx context.Context, since time.Time) error
}

// Config controls scheduling and retry behaviour
type Config struct {
	// Spec is a cron expression or descriptor, e.g. "@every 6h".
	Spec           string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DigestSpec schedules the digest. Empty disables it.
	DigestSpec string
}

// DefaultConfig checks every six hours and sends the digest at midnight UTC.
func DefaultConfig() Config {
	return Config{
		Spec:           "@every 6h",
		MaxAttempts:    3,
		InitialBackoff: time.Minute,
		MaxBackoff:     30 * time.Minute,
		DigestSpec:     "0 0 * * *",
	}
}

// Result is the summary of the last finished cycle
type Result struct {
	RunID          string    `json:"run_id"`
	Success        bool      `json:"success"`
	FinishedAt     time.Time `json:"finished_at"`
	SourcesChecked int       `json:"sources_checked"`
	NewPostsFound  int       `json:"new_posts_found"`
	PostsAdded     int       `json:"posts_added"`
	SourceErrors   int       `json:"source_errors"`
	Disabled       int       `json:"sources_disabled"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
}

// Status is a point-in-time view of the scheduler
type Status struct {
	Running    bool       `json:"scheduler_running"`
	InProgress bool       `json:"check_in_progress"`
	LastCheck  *time.Time `json:"last_check_time"`
	LastResult *Result    `json:"last_check_result"`
	NextCheck  *time.Time `json:"next_check_time"`
}

// Scheduler runs check cycles on a cron schedule
type Scheduler struct {
	cfg     Config
	runner  Runner
	alerter alert.Alerter
	digest  DigestSender
	logger  *zap.Logger

	cron    *cron.Cron
	checkID cron.EntryID

	cycle sync.Mutex

	mu         sync.RWMutex
	running    bool
	inProgress bool
	lastCheck  time.Time
	lastResult *Result
	lastDigest time.Time
	cancel     context.CancelFunc
	baseCtx    context.Context
}

// New creates a scheduler. digest may be nil.
func New(cfg Config, runner Runner, alerter alert.Alerter, digest DigestSender, logger *zap.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Spec == "" {
		cfg.Spec = def.Spec
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))
	if alerter == nil {
		alerter = alert.NewLog(logger)
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		alerter: alerter,
		digest:  digest,
		logger:  logger,
		baseCtx: context.Background(),
	}
}

// Start registers the jobs and starts the cron loop. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	clog := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	id, err := c.AddFunc(s.cfg.Spec, func() { s.scheduledCheck() })
	if err != nil {
		return fmt.Errorf("invalid check schedule %q: %w", s.cfg.Spec, err)
	}
	if s.digest != nil && s.cfg.DigestSpec != "" {
		if _, err := c.AddFunc(s.cfg.DigestSpec, func() { s.sendDigest() }); err != nil {
			return fmt.Errorf("invalid digest schedule %q: %w", s.cfg.DigestSpec, err)
		}
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron = c
	s.checkID = id
	s.running = true
	c.Start()

	s.logger.Info("Scheduler started",
		zap.String("spec", s.cfg.Spec),
		zap.Bool("digest", s.digest != nil && s.cfg.DigestSpec != ""))
	return nil
}

// Stop halts the cron loop, cancels a running cycle and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a check cycle immediately, with the same retry and alert
// handling as a scheduled run.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	if !s.cycle.TryLock() {
		return Result{}, ErrCycleRunning
	}
	defer s.cycle.Unlock()
	return s.runWithRetry(ctx), nil
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Running: s.running, InProgress: s.inProgress}
	if !s.lastCheck.IsZero() {
		t := s.lastCheck
		st.LastCheck = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		st.LastResult = &r
	}
	if s.running && s.cron != nil {
		if next := s.cron.Entry(s.checkID).Next; !next.IsZero() {
			st.NextCheck = &next
		}
	}
	return st
}

func (s *Scheduler) scheduledCheck() {
	if !s.cycle.TryLock() {
		s.logger.Warn("Skipping scheduled check, previous cycle still running")
		return
	}
	defer s.cycle.Unlock()

	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	s.runWithRetry(ctx)
}

func (s *Scheduler) runWithRetry(ctx context.Context) Result {
	s.setInProgress(true)
	defer s.setInProgress(false)

	var (
		last     ingest.CycleResult
		attempts int
	)
	op := func() error {
		attempts++
		last = s.runner.CheckAll(ctx, nil)
		if last.Err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(last.Err) {
			return backoff.Permanent(last.Err)
		}
		return last.Err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.logger.Warn("Check cycle failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})

	res := summarize(last, attempts)
	s.mu.Lock()
	s.lastCheck = last.FinishedAt
	if s.lastCheck.IsZero() {
		s.lastCheck = time.Now().UTC()
	}
	s.lastResult = &res
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Check cycle failed", zap.Int("attempts", attempts), zap.Error(err))
		if ctx.Err() == nil {
			a := alert.CheckFailed(err, attempts, "Waiting for next scheduled run")
			if aerr := s.alerter.Send(context.WithoutCancel(ctx), a); aerr != nil {
				s.logger.Error("Failed to send alert", zap.Error(aerr))
			}
		}
	}
	return res
}

func (s *Scheduler) sendDigest() {
	s.mu.RLock()
	ctx, since := s.baseCtx, s.lastDigest
	s.mu.RUnlock()

	now := time.Now().UTC()
	if since.IsZero() {
		since = now.Add(-24 * time.Hour)
	}
	if err := s.digest.SendDigest(ctx, since); err != nil {
		s.logger.Error("Digest failed", zap.Error(err))
		if aerr := s.alerter.Send(context.WithoutCancel(ctx), alert.DigestFailed(err)); aerr != nil {
			s.logger.Error("Failed to send alert", zap.Error(aerr))
		}
		return
	}
	s.mu.Lock()
	s.lastDigest = now
	s.mu.Unlock()
	s.logger.Info("Digest sent", zap.Time("since", since))
}

func (s *Scheduler) setInProgress(v bool) {
	s.mu.Lock()
	s.inProgress = v
	s.mu.Unlock()
}

func summarize(c ingest.CycleResult, attempts int) Result {
	r := Result{
		RunID:          c.RunID,
		Success:        c.Err == nil,
		FinishedAt:     c.FinishedAt,
		SourcesChecked: len(c.Sources),
		NewPostsFound:  c.Totals.NewPostsFound,
		PostsAdded:     c.Totals.PostsSaved,
		SourceErrors:   c.Failed,
		Disabled:       c.Disabled,
		Attempts:       attempts,
	}
	if c.Err != nil {
		r.Error = c.Err.Error()
	}
	return r
}

// IsTransient reports whether err looks like a connection or timeout
// failure worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
