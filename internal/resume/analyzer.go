// Package resume turns free-text resumes into the feature sets used for scoring.
package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/spigell/hh-autopilot/internal/model"
)

var (
	// The number must not be the tail of a longer one: "с 2018 года" is a date, not 18 years.
	yearsPattern = regexp.MustCompile(`(?i)(?:^|[^\d.,])(\d{1,2})(?:[.,]\d)?\+?\s*(?:years?|yrs|лет|года|год)(?:$|[^\p{L}])`)

	salaryPattern = regexp.MustCompile(
		`(?i)(?:salary|зарплат\p{L}*|зп|доход|ожидани\p{L}*)[^\d\n]{0,30}(\d[\d\s]{1,9}\d|\d+)\s*(k|к|тыс\.?)?\s*(руб|rub|rur|₽|usd|\$|eur|€)?`,
	)

	locationPattern = regexp.MustCompile(
		`(?im)^\s*(?:city|location|город|местоположение|проживание|проживаю)\s*[:\-–]\s*([^\n,;]+)`,
	)

	positionPattern = regexp.MustCompile(
		`(?im)^\s*(?:desired position|position|title|желаемая должность|должность|позиция)\s*[:\-–]\s*([^\n]+)`,
	)

	remotePattern = regexp.MustCompile(`(?i)\b(?:remote|remotely)\b|удал[её]нн?\p{L}*`)
)

// seniority keywords, checked from the highest level down.
var seniorityKeywords = []struct {
	level    model.Seniority
	keywords []string
}{
	{model.SeniorityLead, []string{"team lead", "teamlead", "tech lead", "techlead", "тимлид", "техлид", "руководитель", "head of", "architect", "архитектор"}},
	{model.SenioritySenior, []string{"senior", "сеньор", "синьор", "ведущий", "старший"}},
	{model.SeniorityMiddle, []string{"middle", "мидл"}},
	{model.SeniorityJunior, []string{"junior", "джуниор", "джун", "младший", "стажер", "стажёр", "intern"}},
}

// Analyze derives the feature set of a resume. It is a pure function of text.
func Analyze(text string) *model.FeatureSet {
	return &model.FeatureSet{
		Position:  position(text),
		Skills:    ExtractSkills(text),
		Seniority: seniority(text),
		Salary:    salary(text),
		Location:  location(text),
	}
}

// ContentHash identifies a resume text for feature caching.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// SeniorityFromYears buckets years of experience: up to 1 junior, up to 3 middle, up to 6 senior, lead above.
func SeniorityFromYears(years int) model.Seniority {
	switch {
	case years < 0:
		return model.SeniorityUnknown
	case years <= 1:
		return model.SeniorityJunior
	case years <= 3:
		return model.SeniorityMiddle
	case years <= 6:
		return model.SenioritySenior
	default:
		return model.SeniorityLead
	}
}

func seniority(text string) model.Seniority {
	lower := strings.ToLower(text)
	for _, group := range seniorityKeywords {
		for _, kw := range group.keywords {
			if containsWord(lower, kw) {
				return group.level
			}
		}
	}

	best := -1
	for _, m := range yearsPattern.FindAllStringSubmatch(text, -1) {
		years, err := strconv.Atoi(m[1])
		if err != nil || years > 50 {
			continue
		}
		if years > best {
			best = years
		}
	}
	if best < 0 {
		return model.SeniorityUnknown
	}

	return SeniorityFromYears(best)
}

func salary(text string) model.Salary {
	m := salaryPattern.FindStringSubmatch(text)
	if m == nil {
		return model.UnknownSalary
	}

	amount, err := strconv.Atoi(strings.Join(strings.Fields(m[1]), ""))
	if err != nil {
		return model.UnknownSalary
	}
	if m[2] != "" {
		amount *= 1000
	}

	return model.NewSalary(amount, m[3])
}

func location(text string) model.Location {
	remote := remotePattern.MatchString(text)

	if m := locationPattern.FindStringSubmatch(text); m != nil {
		city, _, _ := strings.Cut(m[1], "(")
		return model.NewLocation(city, remote)
	}
	if remote {
		return model.RemoteLocation
	}

	return model.UnknownLocation
}

func position(text string) string {
	m := positionPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(m[1], ".;"))
}

// containsWord reports whether kw occurs in s delimited by non-letters.
func containsWord(s, kw string) bool {
	for offset := 0; ; {
		idx := strings.Index(s[offset:], kw)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(kw)
		if boundary(s, start-1) && boundary(s, end) {
			return true
		}
		offset = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	// Multi-byte runes (Cyrillic) are letters; only ASCII punctuation and spaces delimit.
	if c >= 0x80 {
		return false
	}
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
