package fetcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/model"
)

// Mode is how narrowly a search follows the resume.
type Mode string

const (
	// ModeStrict searches by position with experience and salary filters.
	ModeStrict Mode = "strict"
	// ModeRelaxed keeps the text and drops the filters.
	ModeRelaxed Mode = "relaxed"
	// ModeBroad searches by the leading skill only.
	ModeBroad Mode = "broad"

	textSkills = 3
)

// Modes is the escalation order used by Collect.
var Modes = []Mode{ModeStrict, ModeRelaxed, ModeBroad}

// BuildParams derives search parameters for mode from the resume features on top of base.
// It returns false when the features give nothing to search for.
func BuildParams(mode Mode, features *model.FeatureSet, base headhunter.SearchParams) (headhunter.SearchParams, bool) {
	params := base
	if params.OrderBy == "" {
		params.OrderBy = "publication_time"
	}

	text := strings.TrimSpace(base.Text)
	if text == "" {
		text = features.Position
	}
	if text == "" && len(features.Skills) > 0 {
		n := min(len(features.Skills), textSkills)
		text = strings.Join(features.Skills[:n], " OR ")
	}

	switch mode {
	case ModeStrict:
		if params.Experience == "" {
			params.Experience = ExperienceOf(features.Seniority)
		}
		if params.Salary == 0 && features.Salary.Known {
			params.Salary = uint(features.Salary.Amount)
			params.Currency = features.Salary.Currency
		}
	case ModeRelaxed:
		params.Experience = ""
		params.Salary = 0
		params.Currency = ""
		params.OnlyWithSalary = false
	case ModeBroad:
		params.Experience = ""
		params.Salary = 0
		params.Currency = ""
		params.OnlyWithSalary = false
		params.Areas = nil
		if len(features.Skills) > 0 {
			text = features.Skills[0]
		}
	}

	params.Text = text
	return params, text != ""
}

// Collect runs the search modes in order until at least minResults unique postings are gathered.
// On a fetch failure it returns what was collected so far together with the error.
func (f *Fetcher) Collect(ctx context.Context, token string, features *model.FeatureSet, base headhunter.SearchParams, minResults int) ([]model.Posting, error) {
	seen := make(map[string]struct{})
	var postings []model.Posting
	var lastParams *headhunter.SearchParams

	for _, mode := range Modes {
		params, ok := BuildParams(mode, features, base)
		if !ok {
			return postings, fmt.Errorf("%w: resume has neither position nor skills", ErrValidation)
		}
		if lastParams != nil && sameSearch(lastParams, &params) {
			continue
		}
		lastParams = &params

		before := len(postings)
		for page, err := range f.Search(ctx, token, Query{Params: params}) {
			if err != nil {
				return postings, err
			}
			for _, p := range page.Postings {
				if _, dup := seen[p.ID]; dup {
					continue
				}
				seen[p.ID] = struct{}{}
				postings = append(postings, p)
			}
		}

		f.logger.Info("search finished",
			zap.String("mode", string(mode)),
			zap.String("text", params.Text),
			zap.Int("new", len(postings)-before),
			zap.Int("total", len(postings)),
		)

		if len(postings) >= minResults {
			break
		}
	}

	return postings, nil
}

func sameSearch(a, b *headhunter.SearchParams) bool {
	return a.Text == b.Text &&
		a.Experience == b.Experience &&
		a.Salary == b.Salary &&
		a.OnlyWithSalary == b.OnlyWithSalary &&
		slices.Equal(a.Areas, b.Areas)
}

// IsTransient reports whether err is a fetch failure worth retrying in a later cycle.
func IsTransient(err error) bool {
	var fetchErr *TransientFetchError
	return errors.As(err, &fetchErr)
}
