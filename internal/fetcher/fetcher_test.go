package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/utils"
)

type answer struct {
	page *headhunter.VacancyPage
	err  error
}

type fakeSearcher struct {
	mu      sync.Mutex
	pages   int
	answers map[int][]answer
	calls   map[int]int
	queries []string
}

func newFakeSearcher(pages int) *fakeSearcher {
	return &fakeSearcher{pages: pages, answers: make(map[int][]answer), calls: make(map[int]int)}
}

func (s *fakeSearcher) SearchPage(_ context.Context, _ string, params *headhunter.SearchParams, page int) (*headhunter.VacancyPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[page]++
	s.queries = append(s.queries, params.Text)

	if queue := s.answers[page]; len(queue) > 0 {
		next := queue[0]
		s.answers[page] = queue[1:]
		if next.err != nil {
			return nil, next.err
		}
		if next.page != nil {
			return next.page, nil
		}
	}

	return vacancyPage(page, s.pages, fmt.Sprintf("p%d-a", page), fmt.Sprintf("p%d-b", page)), nil
}

func vacancyPage(page, pages int, ids ...string) *headhunter.VacancyPage {
	items := make([]*headhunter.Vacancy, 0, len(ids))
	for _, id := range ids {
		items = append(items, &headhunter.Vacancy{ID: id, Name: "Vacancy " + id})
	}
	return &headhunter.VacancyPage{Items: items, Page: page, Pages: pages, Found: pages * len(ids)}
}

func rateLimited() error {
	return &headhunter.APIError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}
}

type recordedWaits struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedWaits) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestFetcher(searcher Searcher, log *zap.Logger) (*Fetcher, *recordedWaits) {
	waits := &recordedWaits{}
	f := New(searcher, Options{
		MaxPages: 10,
		Backoff:  utils.Backoff{Base: time.Second, Max: 8 * time.Second, Retries: 3},
	}, log, nil)
	f.wait = waits.wait
	return f, waits
}

func TestSearchRetriesRateLimitedPage(t *testing.T) {
	searcher := newFakeSearcher(3)
	searcher.answers[2] = []answer{{err: rateLimited()}, {err: rateLimited()}}

	f, waits := newTestFetcher(searcher, zap.NewNop())

	var ids []string
	for page, err := range f.Search(context.Background(), "token", Query{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, p := range page.Postings {
			ids = append(ids, p.ID)
		}
	}

	if len(ids) != 6 || ids[4] != "p2-a" || ids[5] != "p2-b" {
		t.Fatalf("expected all postings of three pages, got %v", ids)
	}
	if searcher.calls[2] != 3 {
		t.Fatalf("expected page 2 to be requested three times, got %d", searcher.calls[2])
	}
	if len(waits.delays) != 2 {
		t.Fatalf("expected two backoff delays, got %v", waits.delays)
	}
	if waits.delays[0] != time.Second || waits.delays[1] != 2*time.Second {
		t.Fatalf("expected exponential delays, got %v", waits.delays)
	}
}

func TestSearchHonorsRetryAfter(t *testing.T) {
	searcher := newFakeSearcher(1)
	searcher.answers[0] = []answer{{err: &headhunter.APIError{
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: 5 * time.Second,
	}}}

	f, waits := newTestFetcher(searcher, zap.NewNop())
	for _, err := range f.Search(context.Background(), "token", Query{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(waits.delays) != 1 || waits.delays[0] != 5*time.Second {
		t.Fatalf("expected the server delay, got %v", waits.delays)
	}
}

func TestSearchExhaustedRetriesKeepsEarlierPages(t *testing.T) {
	searcher := newFakeSearcher(4)
	searcher.answers[1] = []answer{{err: rateLimited()}, {err: rateLimited()}, {err: rateLimited()}, {err: rateLimited()}}

	f, waits := newTestFetcher(searcher, zap.NewNop())

	var pages []int
	var fetchErr *TransientFetchError
	for page, err := range f.Search(context.Background(), "token", Query{}) {
		if err != nil {
			if !errors.As(err, &fetchErr) {
				t.Fatalf("expected TransientFetchError, got %v", err)
			}
			break
		}
		pages = append(pages, page.Number)
	}

	if fetchErr == nil || fetchErr.Page != 1 {
		t.Fatalf("expected failure on page 1, got %v", fetchErr)
	}
	if !errors.Is(fetchErr, headhunter.ErrRateLimited) {
		t.Fatalf("expected the rate limit cause to be kept")
	}
	if len(pages) != 1 || pages[0] != 0 {
		t.Fatalf("expected page 0 to be yielded before the failure, got %v", pages)
	}
	if len(waits.delays) != 3 {
		t.Fatalf("expected one delay per retry, got %v", waits.delays)
	}

	// The search restarts from the failed page once the job board recovers.
	var resumed []int
	for page, err := range f.Search(context.Background(), "token", Query{StartPage: fetchErr.Page}) {
		if err != nil {
			t.Fatalf("unexpected error after restart: %v", err)
		}
		resumed = append(resumed, page.Number)
	}
	if len(resumed) != 3 || resumed[0] != 1 || resumed[2] != 3 {
		t.Fatalf("expected pages 1..3 after restart, got %v", resumed)
	}
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	searcher := newFakeSearcher(2)
	searcher.answers[0] = []answer{{err: &headhunter.APIError{StatusCode: http.StatusForbidden, Status: "403 Forbidden"}}}

	f, waits := newTestFetcher(searcher, zap.NewNop())

	for _, err := range f.Search(context.Background(), "token", Query{}) {
		if err == nil {
			t.Fatalf("expected an error")
		}
		var fetchErr *TransientFetchError
		if errors.As(err, &fetchErr) {
			t.Fatalf("client errors are not transient: %v", err)
		}
	}

	if len(waits.delays) != 0 || searcher.calls[0] != 1 {
		t.Fatalf("expected a single attempt, got %d calls and %v", searcher.calls[0], waits.delays)
	}
}

func TestSearchIsLazy(t *testing.T) {
	searcher := newFakeSearcher(5)
	f, _ := newTestFetcher(searcher, zap.NewNop())

	for page, err := range f.Search(context.Background(), "token", Query{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if page.Number == 1 {
			break
		}
	}

	if searcher.calls[2] != 0 {
		t.Fatalf("page 2 must not be requested after the consumer stopped")
	}
}

func TestSearchStopsAtMaxPages(t *testing.T) {
	searcher := newFakeSearcher(50)
	f, _ := newTestFetcher(searcher, zap.NewNop())
	f.opts.MaxPages = 2

	count := 0
	for _, err := range f.Search(context.Background(), "token", Query{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 pages, got %d", count)
	}
}

func TestSearchCancelledDuringBackoff(t *testing.T) {
	searcher := newFakeSearcher(1)
	searcher.answers[0] = []answer{{err: rateLimited()}}

	ctx, cancel := context.WithCancel(context.Background())
	f, _ := newTestFetcher(searcher, zap.NewNop())
	f.wait = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	for _, err := range f.Search(ctx, "token", Query{}) {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	}
}

func TestSearchSkipsInvalidItems(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	searcher := newFakeSearcher(1)
	page := vacancyPage(0, 1, "ok")
	page.Items = append(page.Items, &headhunter.Vacancy{ID: "nameless"})
	page.Invalid = []headhunter.InvalidItem{{Index: 2, Err: errors.New("expected a map")}}
	searcher.answers[0] = []answer{{page: page}}

	f, _ := newTestFetcher(searcher, zap.New(core))

	for got, err := range f.Search(context.Background(), "token", Query{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got.Postings) != 1 || got.Postings[0].ID != "ok" {
			t.Fatalf("expected only the valid posting, got %+v", got.Postings)
		}
		if got.Skipped != 2 {
			t.Fatalf("expected 2 skipped items, got %d", got.Skipped)
		}
	}

	if logs.Len() != 2 {
		t.Fatalf("expected a warning per skipped item, got %d", logs.Len())
	}
}
