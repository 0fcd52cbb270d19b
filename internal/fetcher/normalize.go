package fetcher

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/model"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// hh.ru experience dictionary ids.
const (
	ExperienceNone      = "noExperience"
	ExperienceUpTo3     = "between1And3"
	ExperienceUpTo6     = "between3And6"
	ExperienceMoreThan6 = "moreThan6"
)

var experienceLevels = map[string]model.Seniority{
	ExperienceNone:      model.SeniorityJunior,
	ExperienceUpTo3:     model.SeniorityMiddle,
	ExperienceUpTo6:     model.SenioritySenior,
	ExperienceMoreThan6: model.SeniorityLead,
}

// SeniorityOf maps an hh.ru experience id onto a seniority level.
func SeniorityOf(experienceID string) model.Seniority {
	return experienceLevels[experienceID]
}

// ExperienceOf is the inverse of SeniorityOf. It returns "" for an unknown level.
func ExperienceOf(s model.Seniority) string {
	for id, level := range experienceLevels {
		if level == s {
			return id
		}
	}
	return ""
}

// Normalize validates a decoded vacancy into a posting. Missing optional fields become unknown.
func Normalize(v *headhunter.Vacancy, fetchedAt time.Time) (model.Posting, error) {
	if v == nil || strings.TrimSpace(v.ID) == "" {
		return model.Posting{}, fmt.Errorf("%w: missing id", ErrValidation)
	}
	if strings.TrimSpace(v.Name) == "" {
		return model.Posting{}, fmt.Errorf("%w: vacancy %s has no name", ErrValidation, v.ID)
	}

	p := model.Posting{
		ID:          v.ID,
		Title:       strings.TrimSpace(v.Name),
		URL:         v.AlternateURL,
		Description: description(v),
		Salary:      salaryRange(v.Salary),
		Location:    location(v),
		HasTest:     v.HasTest,
		Archived:    v.Archived,
		PublishedAt: v.PublishedTime(),
		FetchedAt:   fetchedAt,
	}

	if v.Employer != nil {
		p.Employer = v.Employer.Name
		p.EmployerID = v.Employer.ID
	}
	if v.Experience != nil {
		p.Seniority = SeniorityOf(v.Experience.ID)
	}
	for _, s := range v.KeySkills {
		if name := strings.TrimSpace(s.Name); name != "" {
			p.KeySkills = append(p.KeySkills, name)
		}
	}

	return p, nil
}

// description prefers the full text and falls back to the search snippet.
func description(v *headhunter.Vacancy) string {
	text := v.Description
	if text == "" && v.Snippet != nil {
		text = v.Snippet.Requirement + "\n" + v.Snippet.Responsibility
	}
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(text, " ")))
}

func salaryRange(s *headhunter.Salary) model.SalaryRange {
	if s == nil {
		return model.UnknownSalaryRange
	}

	r := model.SalaryRange{Currency: model.NormalizeCurrency(s.Currency)}
	if s.From != nil && *s.From > 0 {
		r.HasFrom, r.From = true, *s.From
	}
	if s.To != nil && *s.To > 0 {
		r.HasTo, r.To = true, *s.To
	}
	if r.HasFrom && r.HasTo && r.From > r.To {
		r.From, r.To = r.To, r.From
	}
	if !r.Known() {
		return model.UnknownSalaryRange
	}

	return r
}

func location(v *headhunter.Vacancy) model.Location {
	city := ""
	switch {
	case v.Address != nil && v.Address.City != "":
		city = v.Address.City
	case v.Area != nil:
		city = v.Area.Name
	}

	return model.NewLocation(city, v.Remote())
}
