// Package scheduler runs user cycles on a fixed interval and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/hh-autopilot/internal/apply"
	"github.com/spigell/hh-autopilot/internal/filtering"
	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/metrics"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/scoring"
	"github.com/spigell/hh-autopilot/internal/store"
)

const (
	defaultInterval       = time.Hour
	defaultConcurrency    = 4
	defaultCycleTimeout   = 10 * time.Minute
	defaultMaxSubmissions = 20
	defaultMinResults     = 20
	markTimeout           = 5 * time.Second
)

// ErrHalted is returned for cycles requested after a fatal storage error.
var ErrHalted = errors.New("scheduler halted")

type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, status model.UserStatus) ([]*model.User, error)
}

type TokenSource interface {
	AcquireValidToken(ctx context.Context, userID string) (string, error)
}

type ProfileLoader interface {
	Load(ctx context.Context, userID string) (*model.ResumeProfile, error)
}

type PostingSearcher interface {
	Collect(ctx context.Context, token string, features *model.FeatureSet, base headhunter.SearchParams, minResults int) ([]model.Posting, error)
}

// ReauthMarker remembers users whose credentials were rejected.
type ReauthMarker interface {
	RequireReauth(ctx context.Context, userID string) error
}

type Submitter interface {
	Submit(ctx context.Context, req apply.Request) (apply.Result, error)
}

// Deps are the collaborators of a cycle.
type Deps struct {
	Users     UserStore
	Tokens    TokenSource
	Profiles  ProfileLoader
	Search    PostingSearcher
	Scorer    *scoring.Scorer
	Submitter Submitter

	// Filters must be validated before they are handed over.
	Filters      []filtering.Filter
	Ledger       filtering.SentChecker
	Negotiations filtering.NegotiationLister
	// Reauth is optional; without it a rejected user is only skipped.
	Reauth ReauthMarker
}

type Options struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	// CycleTimeout bounds one user cycle end to end.
	CycleTimeout time.Duration `mapstructure:"cycle-timeout"`
	// MaxSubmissions caps new responses per cycle.
	MaxSubmissions int  `mapstructure:"max-submissions"`
	RunOnStart     bool `mapstructure:"run-on-start"`

	// MinResults stops search escalation once that many postings are collected.
	MinResults int
	// Search is the base query every cycle starts from.
	Search headhunter.SearchParams
}

type Scheduler struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	cron    *cron.Cron
	running atomic.Bool

	mu     sync.Mutex
	cycles map[string]map[string]context.CancelFunc
	// slots bounds scheduled and manual cycles together.
	slots chan struct{}

	halted   atomic.Bool
	haltOnce sync.Once
	fatal    chan error

	now func() time.Time
}

func New(deps Deps, opts Options, log *zap.Logger, m *metrics.Metrics) (*Scheduler, error) {
	switch {
	case deps.Users == nil, deps.Tokens == nil, deps.Profiles == nil, deps.Search == nil,
		deps.Scorer == nil, deps.Submitter == nil, deps.Ledger == nil:
		return nil, errors.New("scheduler dependencies are incomplete")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = defaultCycleTimeout
	}
	if opts.MaxSubmissions <= 0 {
		opts.MaxSubmissions = defaultMaxSubmissions
	}
	if opts.MinResults <= 0 {
		opts.MinResults = defaultMinResults
	}

	return &Scheduler{
		deps:    deps,
		opts:    opts,
		logger:  logger.WithFields(log),
		metrics: m,
		cycles:  make(map[string]map[string]context.CancelFunc),
		slots:   make(chan struct{}, opts.Concurrency),
		fatal:   make(chan error, 1),
		now:     time.Now,
	}, nil
}

// Start registers the periodic pass. Passes never overlap: a tick that finds the previous pass running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	cronLogger := newCronLogger(s.logger)
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	spec := fmt.Sprintf("@every %s", s.opts.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("spec", spec),
		zap.Int("concurrency", s.opts.Concurrency),
	)

	if s.opts.RunOnStart {
		go s.tick(ctx)
	}

	return nil
}

// Stop stops the ticks and returns a context done when the running pass finished.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// Fatal delivers the error that halted the scheduler. Only storage unavailability does.
func (s *Scheduler) Fatal() <-chan error {
	return s.fatal
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("previous pass is still running, skipping")
		return
	}
	defer s.running.Store(false)

	reports, err := s.RunAll(ctx)
	if err != nil {
		s.logger.Error("pass failed", zap.Error(err))
		return
	}

	summary := Summarize(reports)
	s.logger.Info("pass finished",
		zap.Int("users", len(reports)),
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("submitted", summary.Submitted),
	)
}

// RunAll runs one cycle for every active user with at most Concurrency cycles in flight.
// Errors of a single user never abort the pass; only a fatal storage error does.
func (s *Scheduler) RunAll(ctx context.Context) ([]*Report, error) {
	if s.halted.Load() {
		return nil, ErrHalted
	}

	users, err := s.deps.Users.ListUsers(ctx, model.UserActive)
	if err != nil {
		err = fmt.Errorf("list active users: %w", err)
		if errors.Is(err, store.ErrUnavailable) {
			s.halt(err)
		}
		return nil, err
	}

	s.logger.Info("starting pass", zap.Int("users", len(users)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	reports := make([]*Report, len(users))
	for i, user := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			report, err := s.RunCycle(gctx, user.ID, TriggerScheduled)
			reports[i] = report
			return err
		})
	}

	err = g.Wait()

	done := make([]*Report, 0, len(reports))
	for _, r := range reports {
		if r != nil {
			done = append(done, r)
		}
	}

	return done, err
}

// CancelUser stops every in-flight cycle of the user. Committed records and sent responses stay.
func (s *Scheduler) CancelUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, cancel := range s.cycles[userID] {
		cancel()
		cancelled++
	}

	if cancelled > 0 {
		s.logger.Info("cancelled in-flight cycles",
			zap.String(logger.FieldUser, userID),
			zap.Int("cycles", cancelled),
		)
	}

	return cancelled
}

func (s *Scheduler) register(userID, cycleID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cycles[userID] == nil {
		s.cycles[userID] = make(map[string]context.CancelFunc)
	}
	s.cycles[userID][cycleID] = cancel
}

func (s *Scheduler) unregister(userID, cycleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cycles[userID], cycleID)
	if len(s.cycles[userID]) == 0 {
		delete(s.cycles, userID)
	}
}

func (s *Scheduler) halt(err error) {
	s.haltOnce.Do(func() {
		s.halted.Store(true)
		s.logger.Error("storage is unavailable, halting the scheduler", zap.Error(err))
		s.fatal <- err
	})
}
