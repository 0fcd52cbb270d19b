// Package filtering drops postings a cycle must not respond to before they are scored.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/model"
)

// Filter represents a single filtering step applied to postings.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, postings []model.Posting) ([]model.Posting, Step, error)
}

// SentChecker answers which postings already have a ledger record.
type SentChecker interface {
	Sent(ctx context.Context, userID string, vacancyIDs []string) (map[string]bool, error)
}

// NegotiationLister returns the responses the token owner already made on hh.ru.
type NegotiationLister interface {
	GetNegotiations(ctx context.Context, token string) (headhunter.Negotiations, error)
}

// Deps aggregates the per-cycle dependencies shared across all filtering steps.
type Deps struct {
	UserID       string
	Token        string
	Logger       *zap.Logger
	Ledger       SentChecker
	Negotiations NegotiationLister
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	// Employers are hh.ru employer ids to never respond to.
	Employers []string `mapstructure:"exclude-employers"`
	// RedFlags are terms that disqualify a posting when found in its title, employer or description.
	RedFlags []string `mapstructure:"red-flags"`
	// SkipAppliedHistory turns off the negotiations lookup.
	SkipAppliedHistory bool `mapstructure:"skip-applied-history"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// Default returns the steps every cycle runs, in order.
func Default() []Filter {
	return []Filter{
		NewWithTest(),
		NewArchived(),
		NewEmployers(),
		NewRedFlags(),
		NewAlreadySent(),
		NewAppliedHistory(),
	}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Validate checks every enabled step against cfg.
func Validate(cfg *Config, steps []Filter) error {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return nil
}

// Run executes the supplied filters sequentially. Steps must have been validated.
func Run(ctx context.Context, deps Deps, steps []Filter, postings []model.Posting) ([]model.Posting, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			deps.Logger.Debug("filter disabled", zap.String("name", step.Name()))
			continue
		}

		next, info, err := step.Apply(ctx, deps, postings)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		deps.Logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		postings = next
		if len(postings) == 0 {
			break
		}
	}

	return postings, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// exclude keeps the postings drop rejects and returns the ids of the others.
func exclude(postings []model.Posting, drop func(*model.Posting) bool) ([]model.Posting, []string) {
	kept := make([]model.Posting, 0, len(postings))
	var excluded []string
	for i := range postings {
		if drop(&postings[i]) {
			excluded = append(excluded, postings[i].ID)
			continue
		}
		kept = append(kept, postings[i])
	}
	return kept, excluded
}

func stepOf(initial int, kept []model.Posting) Step {
	return Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}
}

func ids(postings []model.Posting) []string {
	out := make([]string, 0, len(postings))
	for _, p := range postings {
		out = append(out, p.ID)
	}
	return out
}
