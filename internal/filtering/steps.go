package filtering

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/model"
)

type withTestFilter struct{}

// NewWithTest creates a filter that removes vacancies requiring tests.
func NewWithTest() Filter {
	return &withTestFilter{}
}

func (f *withTestFilter) Name() string { return "with_test" }

func (f *withTestFilter) Disable(string) {}

func (f *withTestFilter) IsEnabled() bool { return true }

func (f *withTestFilter) Validate(*Config) error { return nil }

func (f *withTestFilter) Apply(_ context.Context, deps Deps, postings []model.Posting) ([]model.Posting, Step, error) {
	initial := len(postings)
	kept, excluded := exclude(postings, func(p *model.Posting) bool { return p.HasTest })
	if len(excluded) > 0 {
		deps.Logger.Info("excluding vacancies with tests. It is impossible to apply them",
			zap.Strings("excluded_vacancies", excluded),
			zap.Int("vacancies_left", len(kept)),
		)
	}

	return kept, stepOf(initial, kept), nil
}

type archivedFilter struct{}

// NewArchived creates a filter that removes vacancies closed by the employer.
func NewArchived() Filter {
	return &archivedFilter{}
}

func (f *archivedFilter) Name() string { return "archived" }

func (f *archivedFilter) Disable(string) {}

func (f *archivedFilter) IsEnabled() bool { return true }

func (f *archivedFilter) Validate(*Config) error { return nil }

func (f *archivedFilter) Apply(_ context.Context, _ Deps, postings []model.Posting) ([]model.Posting, Step, error) {
	initial := len(postings)
	kept, _ := exclude(postings, func(p *model.Posting) bool { return p.Archived })

	return kept, stepOf(initial, kept), nil
}

type employersFilter struct {
	employers map[string]struct{}
}

// NewEmployers creates a filter that removes vacancies by employers configured in the config.
func NewEmployers() Filter {
	return &employersFilter{}
}

func (f *employersFilter) Name() string { return "employers" }

func (f *employersFilter) Disable(string) {}

func (f *employersFilter) IsEnabled() bool { return true }

func (f *employersFilter) Validate(cfg *Config) error {
	f.employers = make(map[string]struct{})
	if cfg == nil {
		return nil
	}
	for _, id := range cfg.Employers {
		if id = strings.TrimSpace(id); id != "" {
			f.employers[id] = struct{}{}
		}
	}
	return nil
}

func (f *employersFilter) Apply(_ context.Context, deps Deps, postings []model.Posting) ([]model.Posting, Step, error) {
	initial := len(postings)
	if len(f.employers) == 0 {
		return postings, stepOf(initial, postings), nil
	}

	kept, excluded := exclude(postings, func(p *model.Posting) bool {
		_, ok := f.employers[p.EmployerID]
		return ok
	})
	if len(excluded) > 0 {
		deps.Logger.Info("excluding vacancies by employers",
			zap.Strings("excluded_vacancies", excluded),
			zap.Int("vacancies_left", len(kept)),
		)
	}

	return kept, stepOf(initial, kept), nil
}

func (f *employersFilter) Status() Status {
	details := map[string]string{}
	if len(f.employers) > 0 {
		details["employers"] = strconv.Itoa(len(f.employers))
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

type redFlagsFilter struct {
	disabled bool
	reason   string
	flags    []string
}

// NewRedFlags creates a filter that removes vacancies mentioning any configured red flag term.
func NewRedFlags() Filter {
	return &redFlagsFilter{}
}

func (f *redFlagsFilter) Name() string { return "red_flags" }

func (f *redFlagsFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *redFlagsFilter) IsEnabled() bool { return !f.disabled }

func (f *redFlagsFilter) Validate(cfg *Config) error {
	f.flags = nil
	if cfg == nil {
		return nil
	}
	for _, flag := range cfg.RedFlags {
		if flag = strings.ToLower(strings.TrimSpace(flag)); flag != "" {
			f.flags = append(f.flags, flag)
		}
	}
	return nil
}

func (f *redFlagsFilter) Apply(_ context.Context, deps Deps, postings []model.Posting) ([]model.Posting, Step, error) {
	initial := len(postings)
	if len(f.flags) == 0 {
		return postings, stepOf(initial, postings), nil
	}

	kept, excluded := exclude(postings, func(p *model.Posting) bool {
		return ContainsRedFlag(p.Title, p.Employer, p.Description, f.flags)
	})
	if len(excluded) > 0 {
		deps.Logger.Info("excluding vacancies with red flags",
			zap.Strings("excluded_vacancies", excluded),
			zap.Int("vacancies_left", len(kept)),
		)
	}

	return kept, stepOf(initial, kept), nil
}

func (f *redFlagsFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"terms": strconv.Itoa(len(f.flags))},
	}
}

// ContainsRedFlag reports whether any term occurs, case-insensitively, in the title, employer or description.
func ContainsRedFlag(title, employer, description string, flags []string) bool {
	if len(flags) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + employer + " " + description)
	for _, flag := range flags {
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

type alreadySentFilter struct{}

// NewAlreadySent creates a filter that removes vacancies the ledger already holds for the user.
func NewAlreadySent() Filter {
	return &alreadySentFilter{}
}

func (f *alreadySentFilter) Name() string { return "already_sent" }

func (f *alreadySentFilter) Disable(string) {}

func (f *alreadySentFilter) IsEnabled() bool { return true }

func (f *alreadySentFilter) Validate(*Config) error { return nil }

func (f *alreadySentFilter) Apply(ctx context.Context, deps Deps, postings []model.Posting) ([]model.Posting, Step, error) {
	initial := len(postings)
	if deps.Ledger == nil {
		return nil, Step{}, errors.New("ledger is required")
	}

	sent, err := deps.Ledger.Sent(ctx, deps.UserID, ids(postings))
	if err != nil {
		return nil, Step{}, err
	}

	kept, _ := exclude(postings, func(p *model.Posting) bool { return sent[p.ID] })
	return kept, stepOf(initial, kept), nil
}

const forceFlagSetMsg = "applied history lookup is turned off"

type appliedHistoryFilter struct {
	ignore bool
}

// NewAppliedHistory creates a filter that removes vacancies found in negotiation history.
// It catches responses made outside this service, which the ledger cannot know about.
func NewAppliedHistory() Filter {
	return &appliedHistoryFilter{}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Disable(string) {}

func (f *appliedHistoryFilter) IsEnabled() bool { return true }

func (f *appliedHistoryFilter) Validate(cfg *Config) error {
	f.ignore = cfg != nil && cfg.SkipAppliedHistory
	return nil
}

func (f *appliedHistoryFilter) Apply(ctx context.Context, deps Deps, postings []model.Posting) ([]model.Posting, Step, error) {
	initial := len(postings)
	if f.ignore || deps.Negotiations == nil {
		deps.Logger.Debug("ignoring already applied vacancies", zap.String("reason", forceFlagSetMsg))
		return postings, stepOf(initial, postings), nil
	}

	negotiations, err := deps.Negotiations.GetNegotiations(ctx, deps.Token)
	if err != nil {
		// The ledger and hh.ru already_applied answers still prevent duplicates.
		deps.Logger.Warn("get my negotiations failed, skipping the step", zap.Error(err))
		return postings, stepOf(initial, postings), nil
	}

	applied := make(map[string]struct{}, len(negotiations))
	for _, id := range negotiations.VacanciesIDs() {
		applied[id] = struct{}{}
	}

	kept, excluded := exclude(postings, func(p *model.Posting) bool {
		_, ok := applied[p.ID]
		return ok
	})
	if len(excluded) > 0 {
		deps.Logger.Info("excluding vacancies based on my negotiations",
			zap.Strings("excluded_vacancies", excluded),
			zap.Int("vacancies_left", len(kept)),
		)
	}

	return kept, stepOf(initial, kept), nil
}

func (f *appliedHistoryFilter) Status() Status {
	details := map[string]string{
		"exclude_applied": strconv.FormatBool(!f.ignore),
	}
	reason := ""
	if f.ignore {
		reason = forceFlagSetMsg
	}
	return Status{Name: f.Name(), Enabled: true, Reason: reason, Details: details}
}
