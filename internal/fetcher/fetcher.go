// Package fetcher pages through hh.ru search results and normalizes them into postings.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/metrics"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/utils"
)

const (
	defaultMaxPages    = 5
	defaultPageTimeout = 15 * time.Second
)

// ErrValidation marks a search item that cannot be turned into a posting. Such items are skipped.
var ErrValidation = errors.New("invalid vacancy")

// TransientFetchError reports a page that could not be fetched within the retry budget.
// Pages yielded before it stay valid; a new search can resume from Page.
type TransientFetchError struct {
	Page int
	Err  error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// Searcher is the search side of the job board.
type Searcher interface {
	SearchPage(ctx context.Context, token string, params *headhunter.SearchParams, page int) (*headhunter.VacancyPage, error)
}

type Options struct {
	// MaxPages bounds how many pages one search may read.
	MaxPages    int           `mapstructure:"max-pages"`
	PageTimeout time.Duration `mapstructure:"timeout"`
	Backoff     utils.Backoff `mapstructure:"backoff"`
}

// Query is one search with a restart cursor.
type Query struct {
	Params headhunter.SearchParams
	// StartPage is the 0-based page to begin with.
	StartPage int
}

// Page is one page of normalized postings.
type Page struct {
	Number   int
	Postings []model.Posting
	// Skipped counts items dropped as invalid.
	Skipped int
	Found   int
	Last    bool
}

type Fetcher struct {
	client  Searcher
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

func New(client Searcher, opts Options, log *zap.Logger, m *metrics.Metrics) *Fetcher {
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageTimeout
	}

	return &Fetcher{
		client:  client,
		opts:    opts,
		logger:  logger.WithFields(log),
		metrics: m,
		wait:    utils.WaitFor,
		now:     time.Now,
	}
}

// Search returns the pages of q lazily, starting at q.StartPage. A page is requested only when the consumer asks for it.
// The sequence ends after the last page, after MaxPages pages, or right after yielding an error.
func (f *Fetcher) Search(ctx context.Context, token string, q Query) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		params := q.Params

		for page := q.StartPage; page < q.StartPage+f.opts.MaxPages; page++ {
			result, err := f.fetchPage(ctx, token, &params, page)
			if err != nil {
				yield(nil, err)
				return
			}

			normalized := f.normalizePage(result)
			if !yield(normalized, nil) {
				return
			}
			if normalized.Last {
				return
			}
		}
	}
}

// fetchPage requests one page, retrying the same page after rate limit and temporary answers.
func (f *Fetcher) fetchPage(ctx context.Context, token string, params *headhunter.SearchParams, page int) (*headhunter.VacancyPage, error) {
	var lastErr error

	for attempt := 0; attempt <= f.opts.Backoff.Retries; attempt++ {
		if attempt > 0 {
			delay := f.opts.Backoff.Delay(attempt - 1)

			var apiErr *headhunter.APIError
			if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > delay {
				delay = apiErr.RetryAfter
				if f.opts.Backoff.Max > 0 && delay > f.opts.Backoff.Max {
					delay = f.opts.Backoff.Max
				}
			}

			f.logger.Warn("retrying search page",
				zap.Int("page", page),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			f.metrics.FetchRetried()

			if err := f.wait(ctx, delay); err != nil {
				return nil, err
			}
		}

		pageCtx, cancel := context.WithTimeout(ctx, f.opts.PageTimeout)
		result, err := f.client.SearchPage(pageCtx, token, params, page)
		cancel()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, fmt.Errorf("search page %d: %w", page, err)
		}

		lastErr = err
	}

	return nil, &TransientFetchError{Page: page, Err: lastErr}
}

// retryable reports rate limits, 5xx answers and transport failures.
func retryable(err error) bool {
	var apiErr *headhunter.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

func (f *Fetcher) normalizePage(result *headhunter.VacancyPage) *Page {
	fetchedAt := f.now()

	page := &Page{
		Number:   result.Page,
		Postings: make([]model.Posting, 0, len(result.Items)),
		Found:    result.Found,
		Last:     result.Last(),
	}

	for _, item := range result.Invalid {
		page.Skipped++
		f.logger.Warn("skipping malformed search item",
			zap.Int("page", result.Page),
			zap.Int("index", item.Index),
			zap.Error(fmt.Errorf("%w: %v", ErrValidation, item.Err)),
		)
	}

	for _, v := range result.Items {
		posting, err := Normalize(v, fetchedAt)
		if err != nil {
			page.Skipped++
			f.logger.Warn("skipping vacancy", zap.String("id", v.ID), zap.Error(err))
			continue
		}
		page.Postings = append(page.Postings, posting)
	}

	return page
}
