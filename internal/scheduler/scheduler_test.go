package scheduler

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/ai"
	"github.com/spigell/hh-autopilot/internal/apply"
	"github.com/spigell/hh-autopilot/internal/filtering"
	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/ledger"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/oauth"
	"github.com/spigell/hh-autopilot/internal/resume"
	"github.com/spigell/hh-autopilot/internal/scoring"
	"github.com/spigell/hh-autopilot/internal/store"
	"github.com/spigell/hh-autopilot/internal/store/memory"
	"github.com/spigell/hh-autopilot/internal/users"
)

type fakeTokens struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

func (f *fakeTokens) AcquireValidToken(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID]++
	if err := f.errs[userID]; err != nil {
		return "", err
	}
	return "token-" + userID, nil
}

type fakeSearch struct {
	postings []model.Posting
	err      error
	// hook runs before the postings are returned.
	hook func(ctx context.Context) error
}

func (f *fakeSearch) Collect(ctx context.Context, _ string, _ *model.FeatureSet, _ headhunter.SearchParams, _ int) ([]model.Posting, error) {
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	return slices.Clone(f.postings), f.err
}

type fakeBoard struct {
	mu       sync.Mutex
	applied  map[string]bool
	calls    atomic.Int32
	applyErr error
}

func (b *fakeBoard) GetVacancy(context.Context, string, string) (*headhunter.Vacancy, error) {
	return nil, errors.New("not needed")
}

func (b *fakeBoard) Apply(_ context.Context, _, resumeID, vacancyID, _ string) (headhunter.ApplyResult, error) {
	b.calls.Add(1)
	if b.applyErr != nil {
		return 0, b.applyErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := resumeID + "/" + vacancyID
	if b.applied[key] {
		return headhunter.ApplyAlreadyApplied, nil
	}
	b.applied[key] = true
	return headhunter.ApplySent, nil
}

type fakeLetters struct{}

func (fakeLetters) WriteLetter(context.Context, ai.LetterRequest) (string, error) {
	return "Hello", nil
}

// unavailableUsers fails every lookup as if the database went away.
type unavailableUsers struct{}

func (unavailableUsers) GetUser(context.Context, string) (*model.User, error) {
	return nil, store.ErrUnavailable
}

func (unavailableUsers) ListUsers(context.Context, model.UserStatus) ([]*model.User, error) {
	return nil, store.ErrUnavailable
}

type env struct {
	store  *memory.Store
	ledger *ledger.Ledger
	tokens *fakeTokens
	search *fakeSearch
	board  *fakeBoard
	sched  *Scheduler
}

var (
	postingA = model.Posting{ID: "a", Title: "Data engineer", KeySkills: []string{"Python", "SQL", "AWS"}}
	postingB = model.Posting{ID: "b", Title: "Backend engineer", KeySkills: []string{"Java", "Go"}}
)

func newEnv(t *testing.T, opts Options, userIDs ...string) *env {
	t.Helper()
	ctx := context.Background()

	s := memory.New()
	for _, id := range userIDs {
		if _, err := s.EnsureUser(ctx, &model.User{ID: id, Status: model.UserActive, ResumeID: "resume-" + id}); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
		seedProfile(t, s, id)
	}

	scorer, err := scoring.New(scoring.Config{Weights: scoring.DefaultWeights(), Threshold: scoring.DefaultThreshold})
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}

	filters := filtering.Default()
	if err := filtering.Validate(&filtering.Config{SkipAppliedHistory: true}, filters); err != nil {
		t.Fatalf("filters: %v", err)
	}

	e := &env{
		store:  s,
		ledger: ledger.New(s),
		tokens: &fakeTokens{errs: map[string]error{}, calls: map[string]int{}},
		search: &fakeSearch{postings: []model.Posting{postingA, postingB}},
		board:  &fakeBoard{applied: map[string]bool{}},
	}

	coordinator := apply.New(e.board, fakeLetters{}, e.ledger, apply.Options{}, zap.NewNop(), nil)

	e.sched, err = New(Deps{
		Users:     s,
		Tokens:    e.tokens,
		Profiles:  resume.NewProfiles(s, zap.NewNop()),
		Search:    e.search,
		Scorer:    scorer,
		Submitter: coordinator,
		Filters:   filters,
		Ledger:    e.ledger,
		Reauth:    users.New(s, nil, nil, zap.NewNop()),
	}, opts, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return e
}

// seedProfile stores a resume whose features are already analyzed: skills {python, sql}.
func seedProfile(t *testing.T, s *memory.Store, userID string) {
	t.Helper()
	ctx := context.Background()

	text := "Python developer"
	hash := resume.ContentHash(text)
	if err := s.SaveResume(ctx, userID, text, hash); err != nil {
		t.Fatalf("save resume: %v", err)
	}
	features := &model.FeatureSet{Skills: []string{"python", "sql"}}
	if err := s.SaveFeatures(ctx, userID, hash, features, time.Now()); err != nil {
		t.Fatalf("save features: %v", err)
	}
}

func (e *env) sent(t *testing.T, userID string) int {
	t.Helper()
	n, err := e.store.CountSent(context.Background(), userID)
	if err != nil {
		t.Fatalf("count sent: %v", err)
	}
	return n
}

func TestCycleSubmitsQualifyingPostingsOnly(t *testing.T) {
	e := newEnv(t, Options{}, "u1")

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantStates := []State{StateIdle, StateFetchingToken, StateFetching, StateScoring, StateSubmitting, StateIdle}
	if !slices.Equal(report.States, wantStates) {
		t.Fatalf("expected states %v, got %v", wantStates, report.States)
	}
	if report.Fetched != 2 || report.Eligible != 2 || report.Qualified != 1 || report.Submitted != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	sent, err := e.ledger.Sent(context.Background(), "u1", []string{"a", "b"})
	if err != nil {
		t.Fatalf("sent: %v", err)
	}
	if !sent["a"] || sent["b"] {
		t.Fatalf("expected only posting a to be recorded, got %v", sent)
	}
}

func TestCycleDoesNotResubmitRecordedPosting(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	if _, err := e.ledger.RecordIfNew(context.Background(), "u1", "a", ledger.Metadata{}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Submitted != 0 || e.board.calls.Load() != 0 {
		t.Fatalf("recorded posting must not be submitted again, report %+v", report)
	}
	if report.Eligible != 1 {
		t.Fatalf("expected the recorded posting to be filtered, eligible %d", report.Eligible)
	}
}

func TestConcurrentScheduledAndManualCycles(t *testing.T) {
	e := newEnv(t, Options{Concurrency: 2}, "u1")

	var (
		wg      sync.WaitGroup
		reports []*Report
		mu      sync.Mutex
	)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rs, err := e.sched.RunAll(context.Background())
			if err != nil {
				t.Errorf("run all: %v", err)
			}
			mu.Lock()
			reports = append(reports, rs...)
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			r, err := e.sched.Trigger(context.Background(), "u1")
			if err != nil {
				t.Errorf("trigger: %v", err)
			}
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if got := e.sent(t, "u1"); got != 1 {
		t.Fatalf("expected exactly one record, got %d", got)
	}
	if got := Summarize(reports).Submitted; got != 1 {
		t.Fatalf("expected one new submission across cycles, got %d", got)
	}
}

func TestManualCyclesShareTheConcurrencyBound(t *testing.T) {
	e := newEnv(t, Options{Concurrency: 1}, "u1", "u2")

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		calls    atomic.Int32
	)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	e.search.hook = func(ctx context.Context) error {
		calls.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := e.sched.RunCycle(context.Background(), "u1", TriggerScheduled); err != nil {
			t.Errorf("scheduled cycle: %v", err)
		}
	}()
	<-started

	go func() {
		defer wg.Done()
		if _, err := e.sched.Trigger(context.Background(), "u2"); err != nil {
			t.Errorf("trigger: %v", err)
		}
	}()

	select {
	case <-started:
		t.Fatal("manual cycle must wait for the running one")
	case <-time.After(100 * time.Millisecond):
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one search while the slot is held, got %d", got)
	}

	close(release)
	wg.Wait()

	if peak.Load() != 1 || calls.Load() != 2 {
		t.Fatalf("expected two sequential cycles, got peak %d and %d calls", peak.Load(), calls.Load())
	}
}

func TestTriggerCancelledWhileWaitingForSlot(t *testing.T) {
	e := newEnv(t, Options{Concurrency: 1}, "u1", "u2")

	started := make(chan struct{})
	e.search.hook = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	go func() {
		_, _ = e.sched.Trigger(context.Background(), "u1")
	}()
	<-started
	defer e.sched.CancelUser("u1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := e.sched.Trigger(ctx, "u2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.State() != StateSkipped || report.Reason != ReasonCancelled {
		t.Fatalf("expected a cancelled skip, got %+v", report)
	}
	if e.sent(t, "u2") != 0 {
		t.Fatal("a cycle that never ran must not record anything")
	}
}

func TestReauthSkipsOnlyThatUser(t *testing.T) {
	e := newEnv(t, Options{}, "u1", "u2")
	e.tokens.errs["u1"] = oauth.ErrReauthRequired

	reports, err := e.sched.RunAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(reports))
	}

	byUser := map[string]*Report{}
	for _, r := range reports {
		byUser[r.UserID] = r
	}
	if r := byUser["u1"]; r.State() != StateSkipped || r.Reason != ReasonReauthRequired {
		t.Fatalf("unexpected u1 report: %+v", r)
	}
	if r := byUser["u2"]; r.State() != StateIdle || r.Submitted != 1 {
		t.Fatalf("unexpected u2 report: %+v", r)
	}

	user, err := e.store.GetUser(context.Background(), "u1")
	if err != nil || user.Status != model.UserReauth {
		t.Fatalf("expected u1 to be marked for re-authentication, got %+v (%v)", user, err)
	}
	if u2, _ := e.store.GetUser(context.Background(), "u2"); u2.Status != model.UserActive {
		t.Fatalf("u2 must stay active, got %s", u2.Status)
	}
}

func TestMarkedUserIsSkippedBeforeTokenRefresh(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	e.tokens.errs["u1"] = oauth.ErrReauthRequired

	if _, err := e.sched.Trigger(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delete(e.tokens.errs, "u1")

	reports, err := e.sched.RunAll(context.Background())
	if err != nil || len(reports) != 0 {
		t.Fatalf("marked users must leave the scheduled pass, got %d reports (%v)", len(reports), err)
	}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reason != ReasonReauthRequired {
		t.Fatalf("expected reauth_required, got %q", report.Reason)
	}
	if calls := e.tokens.calls["u1"]; calls != 1 {
		t.Fatalf("the token must not be touched after the marker, got %d calls", calls)
	}

	// A completed handshake activates the user again.
	if err := e.store.SetUserStatus(context.Background(), "u1", model.UserActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if report, _ := e.sched.Trigger(context.Background(), "u1"); report.State() != StateIdle || report.Submitted != 1 {
		t.Fatalf("unexpected report after re-authorization: %+v", report)
	}
}

func TestTransientTokenErrorSkips(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	e.tokens.errs["u1"] = &oauth.TransientAuthError{UserID: "u1", Err: errors.New("timeout")}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reason != ReasonTokenFailure {
		t.Fatalf("unexpected reason %q", report.Reason)
	}
}

func TestPausedUserIsSkipped(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	if err := e.store.SetUserStatus(context.Background(), "u1", model.UserPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reason != ReasonInactive || !slices.Equal(report.States, []State{StateIdle, StateSkipped}) {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestPauseDuringCycleStopsSubmissions(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	e.search.hook = func(ctx context.Context) error {
		return e.store.SetUserStatus(ctx, "u1", model.UserPaused)
	}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reason != ReasonInactive || e.board.calls.Load() != 0 {
		t.Fatalf("expected no submission after pause, report %+v", report)
	}
}

func TestCancelUserStopsCycle(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	started := make(chan struct{})
	e.search.hook = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan *Report, 1)
	go func() {
		r, err := e.sched.Trigger(context.Background(), "u1")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- r
	}()

	<-started
	if n := e.sched.CancelUser("u1"); n != 1 {
		t.Fatalf("expected one cancelled cycle, got %d", n)
	}

	select {
	case r := <-done:
		if r.Reason != ReasonCancelled {
			t.Fatalf("unexpected reason %q", r.Reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not stop")
	}

	if e.sent(t, "u1") != 0 {
		t.Fatalf("cancelled cycle must not record anything")
	}
	if e.sched.CancelUser("u1") != 0 {
		t.Fatalf("finished cycles must leave the registry")
	}
}

func TestSubmissionCap(t *testing.T) {
	e := newEnv(t, Options{MaxSubmissions: 1}, "u1")
	c := postingA
	c.ID = "c"
	e.search.postings = []model.Posting{postingA, c}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Qualified != 2 || report.Submitted != 1 || e.sent(t, "u1") != 1 {
		t.Fatalf("expected the cap to hold, report %+v", report)
	}
}

func TestLimitExceededStopsSubmitting(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	c := postingA
	c.ID = "c"
	e.search.postings = []model.Posting{postingA, c}
	e.board.applyErr = &headhunter.APIError{
		StatusCode: http.StatusForbidden,
		Errors:     []headhunter.ErrorDetail{{Type: "negotiations", Value: "limit_exceeded"}},
	}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.LimitReached || report.State() != StateIdle {
		t.Fatalf("unexpected report: %+v", report)
	}
	if e.board.calls.Load() != 1 || e.sent(t, "u1") != 0 {
		t.Fatalf("expected a single refused call and no records")
	}
}

func TestFetchFailureSkips(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	e.search.postings = nil
	e.search.err = errors.New("page 0: rate limited")

	report, err := e.sched.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reason != ReasonFetchFailed {
		t.Fatalf("unexpected reason %q", report.Reason)
	}
}

func TestStorageUnavailableHalts(t *testing.T) {
	e := newEnv(t, Options{}, "u1")
	e.sched.deps.Users = unavailableUsers{}

	report, err := e.sched.Trigger(context.Background(), "u1")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if report.Reason != ReasonStorage {
		t.Fatalf("unexpected reason %q", report.Reason)
	}

	select {
	case fatal := <-e.sched.Fatal():
		if !errors.Is(fatal, store.ErrUnavailable) {
			t.Fatalf("unexpected fatal error: %v", fatal)
		}
	default:
		t.Fatal("expected a fatal signal")
	}

	if _, err := e.sched.RunAll(context.Background()); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected halted scheduler, got %v", err)
	}
}

func TestStartAndStop(t *testing.T) {
	e := newEnv(t, Options{Interval: time.Hour}, "u1")

	if err := e.sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-e.sched.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
