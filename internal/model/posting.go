package model

import "time"

// Posting is a normalized job posting fetched during a cycle. It is not persisted.
type Posting struct {
	ID          string
	Title       string
	Employer    string
	EmployerID  string
	Description string
	URL         string
	// KeySkills are the skills listed by the employer, as written.
	KeySkills   []string
	Salary      SalaryRange
	Location    Location
	Seniority   Seniority
	HasTest     bool
	Archived    bool
	PublishedAt time.Time
	FetchedAt   time.Time
}

// Timestamp is the moment used for ranking ties: publication when known, fetch time otherwise.
func (p *Posting) Timestamp() time.Time {
	if !p.PublishedAt.IsZero() {
		return p.PublishedAt
	}
	return p.FetchedAt
}

// Factors are the per-factor sub-scores of a posting, each in [0,1].
type Factors struct {
	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Salary     float64 `json:"salary"`
	Location   float64 `json:"location"`
}

type ScoredPosting struct {
	Posting
	Score   float64
	Factors Factors
}
