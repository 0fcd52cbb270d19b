package model

import (
	"fmt"
	"sort"
	"strings"
)

// Seniority is an ordered experience level. SeniorityUnknown means no signal was found.
type Seniority int

const (
	SeniorityUnknown Seniority = iota
	SeniorityJunior
	SeniorityMiddle
	SenioritySenior
	SeniorityLead
)

var seniorityNames = map[Seniority]string{
	SeniorityUnknown: "unknown",
	SeniorityJunior:  "junior",
	SeniorityMiddle:  "middle",
	SenioritySenior:  "senior",
	SeniorityLead:    "lead",
}

func (s Seniority) Known() bool {
	return s > SeniorityUnknown && s <= SeniorityLead
}

func (s Seniority) String() string {
	if name, ok := seniorityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("seniority(%d)", int(s))
}

func (s Seniority) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Seniority) UnmarshalText(text []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	for level, name := range seniorityNames {
		if name == value {
			*s = level
			return nil
		}
	}
	return fmt.Errorf("unknown seniority %q", value)
}

// Salary is a user's stated expectation. The zero value is unknown.
type Salary struct {
	Known    bool   `json:"known"`
	Amount   int    `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// UnknownSalary is the explicit absence of a salary signal.
var UnknownSalary = Salary{}

func NewSalary(amount int, currency string) Salary {
	if amount <= 0 {
		return UnknownSalary
	}
	return Salary{Known: true, Amount: amount, Currency: NormalizeCurrency(currency)}
}

// SalaryRange is the compensation advertised by a posting. Either bound may be open.
type SalaryRange struct {
	HasFrom  bool   `json:"has_from"`
	From     int    `json:"from,omitempty"`
	HasTo    bool   `json:"has_to"`
	To       int    `json:"to,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// UnknownSalaryRange is a posting without compensation data.
var UnknownSalaryRange = SalaryRange{}

func (r SalaryRange) Known() bool {
	return r.HasFrom || r.HasTo
}

func (r SalaryRange) String() string {
	switch {
	case r.HasFrom && r.HasTo:
		return fmt.Sprintf("%d-%d %s", r.From, r.To, r.Currency)
	case r.HasFrom:
		return fmt.Sprintf("from %d %s", r.From, r.Currency)
	case r.HasTo:
		return fmt.Sprintf("up to %d %s", r.To, r.Currency)
	default:
		return "unknown"
	}
}

// NormalizeCurrency maps hh.ru and free-text currency spellings onto ISO-like codes.
func NormalizeCurrency(c string) string {
	upper := strings.ToUpper(strings.TrimSpace(c))
	switch {
	case upper == "", upper == "RUR", upper == "₽", strings.HasPrefix(upper, "RUB"), strings.HasPrefix(upper, "РУБ"):
		return "RUR"
	case upper == "USD", upper == "$", strings.HasPrefix(upper, "ДОЛЛ"), strings.HasPrefix(upper, "DOLLAR"):
		return "USD"
	case upper == "EUR", upper == "€", strings.HasPrefix(upper, "ЕВРО"), strings.HasPrefix(upper, "EURO"):
		return "EUR"
	default:
		return upper
	}
}

// FeatureSet holds the structured signals derived from a resume.
type FeatureSet struct {
	// Position is the desired job title, used as search text.
	Position  string    `json:"position,omitempty"`
	Skills    []string  `json:"skills"`
	Seniority Seniority `json:"seniority"`
	Salary    Salary    `json:"salary"`
	Location  Location  `json:"location"`
}

// SkillSet returns the skills as a set.
func (f *FeatureSet) SkillSet() map[string]struct{} {
	return SkillSet(f.Skills)
}

func SkillSet(skills []string) map[string]struct{} {
	set := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		set[s] = struct{}{}
	}
	return set
}

// SortedSkills returns the keys of a skill set in stable order.
func SortedSkills(set map[string]struct{}) []string {
	skills := make([]string, 0, len(set))
	for s := range set {
		skills = append(skills, s)
	}
	sort.Strings(skills)
	return skills
}
