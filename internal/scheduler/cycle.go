package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/apply"
	"github.com/spigell/hh-autopilot/internal/fetcher"
	"github.com/spigell/hh-autopilot/internal/filtering"
	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/ledger"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/oauth"
	"github.com/spigell/hh-autopilot/internal/resume"
	"github.com/spigell/hh-autopilot/internal/store"
)

// State is a stage of a user cycle.
type State string

const (
	StateIdle          State = "idle"
	StateFetchingToken State = "fetching_token"
	StateFetching      State = "fetching"
	StateScoring       State = "scoring"
	StateSubmitting    State = "submitting"
	StateSkipped       State = "skipped"
)

// Trigger tells what started a cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Skip reasons.
const (
	ReasonUnknownUser    = "unknown_user"
	ReasonInactive       = "user_inactive"
	ReasonReauthRequired = "reauth_required"
	ReasonTokenFailure   = "token_unavailable"
	ReasonNoResume       = "no_resume"
	ReasonNoHHResume     = "no_hh_resume"
	ReasonFetchFailed    = "fetch_failed"
	ReasonFilterFailed   = "filter_failed"
	ReasonFailed         = "failed"
	ReasonCancelled      = "cancelled"
	ReasonStorage        = "storage_unavailable"
)

// Report describes one finished cycle.
type Report struct {
	UserID  string
	CycleID string
	Trigger Trigger
	// States are the stages the cycle went through, ending with Idle or Skipped.
	States []State
	Reason string

	Fetched   int
	Eligible  int
	Qualified int
	// Submitted counts new responses accepted by hh.ru.
	Submitted int
	// AlreadyApplied counts postings hh.ru or the ledger reported as handled before.
	AlreadyApplied int
	Failed         int
	// LimitReached is set when hh.ru refused further responses for the day.
	LimitReached bool

	StartedAt time.Time
	Duration  time.Duration
}

// State returns the final state of the cycle.
func (r *Report) State() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

func (r *Report) enter(state State) {
	r.States = append(r.States, state)
}

func (r *Report) skip(reason string) {
	r.Reason = reason
	r.enter(StateSkipped)
}

// Summary aggregates the reports of a pass.
type Summary struct {
	Completed int
	Skipped   int
	Submitted int
}

func Summarize(reports []*Report) Summary {
	var s Summary
	for _, r := range reports {
		if r.State() == StateSkipped {
			s.Skipped++
		} else {
			s.Completed++
		}
		s.Submitted += r.Submitted
	}
	return s
}

// Trigger runs an out-of-band cycle for one user. It composes with scheduled cycles through the token
// single-flight and the ledger; no cycle-level lock is taken. Manual cycles wait for the same
// concurrency slots as scheduled ones.
func (s *Scheduler) Trigger(ctx context.Context, userID string) (*Report, error) {
	return s.RunCycle(ctx, userID, TriggerManual)
}

// RunCycle runs fetch, filter, score and submit for one user. Per-user failures end the cycle as Skipped
// and are not returned; the error is non-nil only for a fatal storage failure or a halted scheduler.
func (s *Scheduler) RunCycle(ctx context.Context, userID string, trigger Trigger) (*Report, error) {
	if s.halted.Load() {
		return nil, ErrHalted
	}

	report := &Report{
		UserID:    userID,
		CycleID:   uuid.NewString(),
		Trigger:   trigger,
		States:    []State{StateIdle},
		StartedAt: s.now(),
	}
	log := logger.WithCycle(s.logger, userID, report.CycleID).With(zap.String("trigger", string(trigger)))

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		log.Info("cycle cancelled while waiting for a slot", zap.Error(ctx.Err()))
		report.skip(ReasonCancelled)
		report.Duration = s.now().Sub(report.StartedAt)
		s.metrics.CycleFinished(s.metricState(report), report.Duration)
		return report, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	s.register(userID, report.CycleID, cancel)
	defer func() {
		s.unregister(userID, report.CycleID)
		cancel()
	}()

	log.Info("cycle started")
	err := s.cycle(ctx, log, report)

	if err != nil {
		report.skip(ReasonStorage)
	}
	report.Duration = s.now().Sub(report.StartedAt)
	s.metrics.CycleFinished(s.metricState(report), report.Duration)

	if err != nil {
		s.halt(err)
		return report, err
	}

	log.Info("cycle finished",
		zap.String("state", string(report.State())),
		zap.String("reason", report.Reason),
		zap.Int("fetched", report.Fetched),
		zap.Int("eligible", report.Eligible),
		zap.Int("qualified", report.Qualified),
		zap.Int("submitted", report.Submitted),
		zap.Int("already_applied", report.AlreadyApplied),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

func (s *Scheduler) metricState(r *Report) string {
	if r.State() == StateIdle {
		return "completed"
	}
	if r.Reason == "" {
		return string(StateSkipped)
	}
	return r.Reason
}

// cycle walks the state machine. It returns an error only when storage is unavailable.
func (s *Scheduler) cycle(ctx context.Context, log *zap.Logger, report *Report) error {
	userID := report.UserID

	user, err := s.deps.Users.GetUser(ctx, userID)
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return err
	case errors.Is(err, store.ErrNotFound):
		report.skip(ReasonUnknownUser)
		return nil
	case err != nil:
		return s.interrupted(ctx, log, report, ReasonFailed, err)
	case user.Status == model.UserReauth:
		log.Info("user must authorize again, skipping")
		report.skip(ReasonReauthRequired)
		return nil
	case !user.Active():
		log.Info("user is not active, skipping", zap.String("status", string(user.Status)))
		report.skip(ReasonInactive)
		return nil
	}

	report.enter(StateFetchingToken)
	token, err := s.deps.Tokens.AcquireValidToken(ctx, userID)
	if err != nil {
		return s.tokenFailed(ctx, log, report, err)
	}

	profile, err := s.deps.Profiles.Load(ctx, userID)
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return err
	case errors.Is(err, resume.ErrNoResume):
		log.Info("user has no resume, skipping")
		report.skip(ReasonNoResume)
		return nil
	case err != nil:
		return s.interrupted(ctx, log, report, ReasonFailed, err)
	}

	report.enter(StateFetching)
	postings, err := s.deps.Search.Collect(ctx, token, profile.Features, s.opts.Search, s.opts.MinResults)
	report.Fetched = len(postings)
	if err != nil {
		if errors.Is(err, headhunter.ErrUnauthorized) {
			log.Warn("hh.ru rejected the access token", zap.Error(err))
			report.skip(ReasonReauthRequired)
			return s.requireReauth(ctx, log, userID)
		}
		if len(postings) == 0 || ctx.Err() != nil {
			return s.interrupted(ctx, log, report, ReasonFetchFailed, err)
		}
		log.Warn("search ended early, continuing with partial results",
			zap.Bool("transient", fetcher.IsTransient(err)),
			zap.Int("postings", len(postings)),
			zap.Error(err),
		)
	}

	eligible, err := filtering.Run(ctx, filtering.Deps{
		UserID:       userID,
		Token:        token,
		Logger:       log,
		Ledger:       s.deps.Ledger,
		Negotiations: s.deps.Negotiations,
	}, s.deps.Filters, postings)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return err
		}
		if ctx.Err() != nil {
			return s.interrupted(ctx, log, report, ReasonFilterFailed, err)
		}
		log.Warn("filtering failed", zap.Error(err))
		report.skip(ReasonFilterFailed)
		return nil
	}
	report.Eligible = len(eligible)

	report.enter(StateScoring)
	ranked := s.deps.Scorer.Rank(profile.Features, eligible)
	report.Qualified = len(ranked)
	if len(ranked) > 0 {
		log.Info("postings qualified",
			zap.Int("qualified", len(ranked)),
			zap.Float64("threshold", s.deps.Scorer.Threshold()),
			zap.Float64("top_score", ranked[0].Score),
		)
	}

	report.enter(StateSubmitting)
	if err := s.submitAll(ctx, log, report, user, profile, ranked); err != nil {
		return err
	}

	if report.State() != StateSkipped {
		report.enter(StateIdle)
	}
	return nil
}

// submitAll responds to ranked postings in order until the cap, the daily limit or a cancellation.
func (s *Scheduler) submitAll(ctx context.Context, log *zap.Logger, report *Report, user *model.User, profile *model.ResumeProfile, ranked []model.ScoredPosting) error {
	for _, posting := range ranked {
		if report.Submitted >= s.opts.MaxSubmissions {
			log.Info("submission cap reached", zap.Int("max_submissions", s.opts.MaxSubmissions))
			return nil
		}
		if ctx.Err() != nil {
			return s.interrupted(ctx, log, report, ReasonFailed, ctx.Err())
		}

		// Pause and revoke must hold even when no cancellation signal reached this process.
		current, err := s.deps.Users.GetUser(ctx, user.ID)
		switch {
		case errors.Is(err, store.ErrUnavailable):
			return err
		case err != nil:
			return s.interrupted(ctx, log, report, ReasonFailed, err)
		case !current.Active():
			log.Info("user became inactive, stopping submissions", zap.String("status", string(current.Status)))
			report.skip(ReasonInactive)
			return nil
		}

		token, err := s.deps.Tokens.AcquireValidToken(ctx, user.ID)
		if err != nil {
			return s.tokenFailed(ctx, log, report, err)
		}

		result, err := s.deps.Submitter.Submit(ctx, apply.Request{
			User:    current,
			Token:   token,
			Resume:  profile,
			Posting: posting,
		})
		switch {
		case err == nil:
		case errors.Is(err, store.ErrUnavailable):
			return err
		case errors.Is(err, apply.ErrLimitExceeded):
			log.Warn("hh.ru negotiation limit reached, stopping submissions")
			report.LimitReached = true
			return nil
		case errors.Is(err, apply.ErrNoResume):
			log.Warn("user has no hh.ru resume, run the authorization again")
			report.skip(ReasonNoHHResume)
			return nil
		case ctx.Err() != nil:
			return s.interrupted(ctx, log, report, ReasonFailed, err)
		default:
			report.Failed++
			log.Warn("posting left for the next cycle",
				zap.String(logger.FieldVacancy, posting.ID),
				zap.Error(err),
			)
			continue
		}

		switch {
		case result.Submitted():
			report.Submitted++
		case result.Applied == headhunter.ApplyAlreadyApplied, result.Outcome == ledger.AlreadySent:
			report.AlreadyApplied++
		}
	}

	return nil
}

func (s *Scheduler) tokenFailed(ctx context.Context, log *zap.Logger, report *Report, err error) error {
	var transient *oauth.TransientAuthError
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return err
	case errors.Is(err, oauth.ErrReauthRequired):
		log.Warn("re-authentication required, skipping user", zap.Error(err))
		report.skip(ReasonReauthRequired)
		return s.requireReauth(ctx, log, report.UserID)
	case errors.As(err, &transient):
		log.Warn("token is temporarily unavailable, skipping user", zap.Error(err))
		report.skip(ReasonTokenFailure)
		return nil
	default:
		return s.interrupted(ctx, log, report, ReasonTokenFailure, err)
	}
}

// requireReauth persists the re-authentication signal. Only storage unavailability is returned.
func (s *Scheduler) requireReauth(ctx context.Context, log *zap.Logger, userID string) error {
	if s.deps.Reauth == nil {
		return nil
	}

	// The cycle context may already be cancelled; the marker must still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	err := s.deps.Reauth.RequireReauth(ctx, userID)
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if err != nil {
		log.Warn("marking user for re-authentication failed", zap.Error(err))
	}
	return nil
}

// interrupted ends the cycle as Skipped: cancelled when ctx is done, with reason otherwise.
func (s *Scheduler) interrupted(ctx context.Context, log *zap.Logger, report *Report, reason string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}

	if ctx.Err() != nil {
		log.Info("cycle cancelled", zap.Error(context.Cause(ctx)))
		report.skip(ReasonCancelled)
		return nil
	}

	log.Warn("cycle failed", zap.String("reason", reason), zap.Error(err))
	report.skip(reason)
	return nil
}
