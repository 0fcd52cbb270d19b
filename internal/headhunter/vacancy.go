package headhunter

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	// hh.ru timestamps carry a numeric zone without a colon.
	TimeLayout = "2006-01-02T15:04:05-0700"

	ScheduleRemote = "remote"
)

// IDName is the common {id, name} dictionary reference used across the hh.ru API.
type IDName struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Area struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Salary bounds are pointers: hh.ru sends null for an open bound.
type Salary struct {
	From     *int   `json:"from,omitempty"`
	To       *int   `json:"to,omitempty"`
	Currency string `json:"currency,omitempty"`
	Gross    bool   `json:"gross,omitempty"`
}

type Employer struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	URL          string `json:"url,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	Trusted      bool   `json:"trusted,omitempty"`
}

type Address struct {
	City string `json:"city,omitempty"`
	Raw  string `json:"raw,omitempty"`
}

type Snippet struct {
	Requirement    string `json:"requirement,omitempty"`
	Responsibility string `json:"responsibility,omitempty"`
}

type KeySkill struct {
	Name string `json:"name,omitempty"`
}

type Vacancy struct {
	ID                string     `json:"id,omitempty"`
	Name              string     `json:"name,omitempty"`
	Area              *Area      `json:"area,omitempty"`
	Address           *Address   `json:"address,omitempty"`
	HasTest           bool       `json:"has_test,omitempty"`
	Salary            *Salary    `json:"salary,omitempty"`
	Experience        *IDName    `json:"experience,omitempty"`
	Schedule          *IDName    `json:"schedule,omitempty"`
	WorkFormat        []IDName   `json:"work_format,omitempty"`
	Employment        *IDName    `json:"employment,omitempty"`
	Employer          *Employer  `json:"employer,omitempty"`
	AlternateURL      string     `json:"alternate_url,omitempty"`
	Description       string     `json:"description,omitempty"`
	KeySkills         []KeySkill `json:"key_skills,omitempty"`
	Archived          bool       `json:"archived,omitempty"`
	Snippet           *Snippet   `json:"snippet,omitempty"`
	ProfessionalRoles []IDName   `json:"professional_roles,omitempty"`
	PublishedAt       string     `json:"published_at,omitempty"`
	CreatedAt         string     `json:"created_at,omitempty"`
}

// VacancyPage is one decoded page of search results. Items that could not be decoded are kept in Invalid.
type VacancyPage struct {
	Items   []*Vacancy
	Invalid []InvalidItem
	Found   int
	Page    int
	Pages   int
}

type InvalidItem struct {
	Index int
	Err   error
}

// Last reports whether no page follows this one.
func (p *VacancyPage) Last() bool {
	return p.Page >= p.Pages-1
}

// GetVacancy returns the full vacancy including description and key skills.
func (c *Client) GetVacancy(ctx context.Context, token, id string) (*Vacancy, error) {
	if id == "" {
		return nil, fmt.Errorf("vacancy id is required")
	}

	var vacancy Vacancy
	if err := c.getJSON(ctx, token, fmt.Sprintf("%s/vacancies/%s", c.APIURL, url.PathEscape(id)), nil, &vacancy); err != nil {
		return nil, err
	}

	return &vacancy, nil
}

// PublishedTime parses PublishedAt. The zero time is returned when it is absent or malformed.
func (va *Vacancy) PublishedTime() time.Time {
	for _, layout := range []string{TimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, va.PublishedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Remote reports whether the vacancy allows remote work.
func (va *Vacancy) Remote() bool {
	if va.Schedule != nil && va.Schedule.ID == ScheduleRemote {
		return true
	}
	for _, f := range va.WorkFormat {
		if f.ID == "REMOTE" {
			return true
		}
	}
	return false
}

// decodeVacancies converts loosely typed page items one by one so a malformed item does not spoil the page.
func decodeVacancies(items []Item) ([]*Vacancy, []InvalidItem) {
	vacancies := make([]*Vacancy, 0, len(items))
	var invalid []InvalidItem

	for idx, item := range items {
		var vacancy Vacancy
		cfg := &mapstructure.DecoderConfig{
			Result:           &vacancy,
			TagName:          "json",
			WeaklyTypedInput: true,
		}
		// NewDecoder fails only for a non-pointer result.
		decoder, _ := mapstructure.NewDecoder(cfg)

		if err := decoder.Decode(item); err != nil {
			invalid = append(invalid, InvalidItem{Index: idx, Err: err})
			continue
		}

		if vacancy.ID == "" {
			invalid = append(invalid, InvalidItem{Index: idx, Err: fmt.Errorf("vacancy without id")})
			continue
		}

		vacancies = append(vacancies, &vacancy)
	}

	return vacancies, invalid
}
