// Package apply turns a qualifying posting into a sent application and a ledger record.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spigell/hh-autopilot/internal/ai"
	"github.com/spigell/hh-autopilot/internal/fetcher"
	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/ledger"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/metrics"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/utils"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultLetterTimeout = 60 * time.Second

	limitExceeded = "limit_exceeded"
)

var (
	// ErrGeneration means no letter was produced. Nothing was submitted.
	ErrGeneration = errors.New("letter generation failed")
	// ErrSubmission means hh.ru did not accept the response. Nothing was recorded.
	ErrSubmission = errors.New("submission failed")
	// ErrNoResume is returned for users without an hh.ru resume to respond with.
	ErrNoResume = errors.New("user has no hh.ru resume")
	// ErrLimitExceeded is the hh.ru daily negotiation limit. Further submissions in the cycle are pointless.
	ErrLimitExceeded = errors.New("negotiation limit exceeded")
)

// Board is the negotiation side of the job board.
type Board interface {
	GetVacancy(ctx context.Context, token, id string) (*headhunter.Vacancy, error)
	Apply(ctx context.Context, token, resumeID, vacancyID, message string) (headhunter.ApplyResult, error)
}

type Recorder interface {
	RecordIfNew(ctx context.Context, userID, vacancyID string, meta ledger.Metadata) (ledger.Outcome, error)
	Sent(ctx context.Context, userID string, vacancyIDs []string) (map[string]bool, error)
}

type Options struct {
	// Timeout bounds the vacancy lookup, the submission and the record commit.
	Timeout       time.Duration `mapstructure:"timeout"`
	LetterTimeout time.Duration `mapstructure:"letter-timeout"`
}

// Request is one posting to respond to.
type Request struct {
	User    *model.User
	Token   string
	Resume  *model.ResumeProfile
	Posting model.ScoredPosting
}

type Result struct {
	VacancyID string
	// Applied is zero when the posting was already recorded or a concurrent call sent the response.
	Applied headhunter.ApplyResult
	Outcome ledger.Outcome
}

// Submitted reports whether hh.ru accepted a new response in this call.
func (r Result) Submitted() bool {
	return r.Applied == headhunter.ApplySent && r.Outcome == ledger.Recorded
}

type Coordinator struct {
	board   Board
	letters ai.LetterWriter
	ledger  Recorder
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	flights singleflight.Group
	now     func() time.Time
}

func New(board Board, letters ai.LetterWriter, l Recorder, opts Options, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.LetterTimeout <= 0 {
		opts.LetterTimeout = defaultLetterTimeout
	}

	return &Coordinator{
		board:   board,
		letters: letters,
		ledger:  l,
		opts:    opts,
		logger:  logger.WithFields(log),
		metrics: m,
		now:     time.Now,
	}
}

// Submit writes a letter, sends the response and records it. The record is created only after hh.ru
// accepted the response or reported an earlier one. Concurrent calls for the same user and posting in
// this process share a single submission.
func (c *Coordinator) Submit(ctx context.Context, req Request) (Result, error) {
	if req.User == nil || req.User.ResumeID == "" {
		return Result{}, ErrNoResume
	}

	key := req.User.ID + "/" + req.Posting.ID
	leader := false
	v, err, _ := c.flights.Do(key, func() (any, error) {
		leader = true
		return c.submit(ctx, req)
	})

	result := v.(Result)
	if !leader && err == nil {
		// The response belongs to the call that ran it.
		c.logger.Debug("joined a running submission",
			zap.String(logger.FieldUser, req.User.ID),
			zap.String(logger.FieldVacancy, req.Posting.ID),
		)
		result.Applied = 0
		result.Outcome = ledger.AlreadySent
	}

	return result, err
}

func (c *Coordinator) submit(ctx context.Context, req Request) (Result, error) {
	posting := req.Posting
	userID := req.User.ID
	log := c.logger.With(
		zap.String(logger.FieldUser, userID),
		zap.String(logger.FieldVacancy, posting.ID),
	)
	result := Result{VacancyID: posting.ID}

	sent, err := c.ledger.Sent(ctx, userID, []string{posting.ID})
	if err != nil {
		return result, err
	}
	if sent[posting.ID] {
		log.Info("vacancy already processed, skipping")
		result.Outcome = ledger.AlreadySent
		return result, nil
	}

	letter, err := c.writeLetter(ctx, log, req)
	if err != nil {
		c.metrics.Submission("generation_failed")
		return result, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	applyCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	applied, err := c.board.Apply(applyCtx, req.Token, req.User.ResumeID, posting.ID, letter)
	cancel()
	if err != nil {
		var apiErr *headhunter.APIError
		if errors.As(err, &apiErr) && apiErr.HasError("negotiations", limitExceeded) {
			c.metrics.Submission(limitExceeded)
			return result, fmt.Errorf("%w: %w", ErrLimitExceeded, err)
		}

		c.metrics.Submission("submit_failed")
		log.Warn("submission failed, vacancy stays eligible", zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	result.Applied = applied

	// hh.ru already holds the response; the record must follow even if the cycle is being cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
	defer cancel()

	outcome, err := c.ledger.RecordIfNew(recordCtx, userID, posting.ID, ledger.Metadata{
		VacancyName:    posting.Title,
		EmployerName:   posting.Employer,
		Score:          posting.Score,
		AlreadyApplied: applied == headhunter.ApplyAlreadyApplied,
	})
	if err != nil {
		return result, err
	}
	result.Outcome = outcome

	c.metrics.Submission(applied.String())
	log.Info("responded to vacancy",
		zap.String("vacancy_name", posting.Title),
		zap.String("employer", posting.Employer),
		zap.Float64("score", posting.Score),
		zap.Stringer("result", applied),
		zap.Stringer("ledger", outcome),
	)

	return result, nil
}

func (c *Coordinator) writeLetter(ctx context.Context, log *zap.Logger, req Request) (string, error) {
	posting := req.Posting
	description := c.description(ctx, log, req.Token, &posting.Posting)

	letterCtx, cancel := context.WithTimeout(ctx, c.opts.LetterTimeout)
	defer cancel()

	position := ""
	resumeText := ""
	if req.Resume != nil {
		resumeText = req.Resume.Text
		if req.Resume.Features != nil {
			position = req.Resume.Features.Position
		}
	}

	letter, err := c.letters.WriteLetter(letterCtx, ai.LetterRequest{
		ResumeText:  resumeText,
		Position:    position,
		VacancyName: posting.Title,
		Employer:    posting.Employer,
		Description: description,
		Locale:      req.User.Locale,
	})
	if err != nil {
		log.Warn("letter generation failed, vacancy stays eligible", zap.Error(err))
		return "", err
	}

	log.Debug("letter generated", zap.String("letter", utils.TruncateForLog(letter, 200)))
	return letter, nil
}

// description returns the full vacancy text when hh.ru gives it. Search pages only carry a snippet.
func (c *Coordinator) description(ctx context.Context, log *zap.Logger, token string, p *model.Posting) string {
	lookupCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	full, err := c.board.GetVacancy(lookupCtx, token, p.ID)
	if err != nil || full == nil {
		log.Debug("fetching detailed vacancy failed", zap.Error(err))
		return p.Description
	}

	detailed, err := fetcher.Normalize(full, c.now())
	if err != nil || detailed.Description == "" {
		return p.Description
	}
	return detailed.Description
}
