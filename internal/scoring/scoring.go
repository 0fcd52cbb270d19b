// Package scoring rates postings against a resume feature set.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/resume"
)

const (
	DefaultThreshold = 0.25

	// sameRegionCredit is the location fit of a different city in the same region.
	sameRegionCredit = 0.5
	// maxSeniorityGap is the distance between the lowest and the highest known level.
	maxSeniorityGap = float64(model.SeniorityLead - model.SeniorityJunior)
)

// Weights are the relative importance of the sub-scores. They are normalized by their sum.
type Weights struct {
	Skills     float64 `mapstructure:"skills"`
	Experience float64 `mapstructure:"experience"`
	Salary     float64 `mapstructure:"salary"`
	Location   float64 `mapstructure:"location"`
}

func DefaultWeights() Weights {
	return Weights{Skills: 0.8, Experience: 0.1, Salary: 0.05, Location: 0.05}
}

func (w Weights) Validate() error {
	if w.Skills < 0 || w.Experience < 0 || w.Salary < 0 || w.Location < 0 {
		return errors.New("scoring weights must not be negative")
	}
	if w.sum() <= 0 {
		return errors.New("scoring weights must have a positive sum")
	}
	return nil
}

func (w Weights) sum() float64 {
	return w.Skills + w.Experience + w.Salary + w.Location
}

type Config struct {
	Weights   Weights `mapstructure:"weights"`
	Threshold float64 `mapstructure:"threshold"`
}

// Scorer is immutable after construction and safe for concurrent use.
type Scorer struct {
	weights   Weights
	threshold float64
}

func New(cfg Config) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 || math.IsNaN(cfg.Threshold) {
		return nil, fmt.Errorf("threshold %v is outside [0,1]", cfg.Threshold)
	}

	return &Scorer{weights: cfg.Weights, threshold: cfg.Threshold}, nil
}

func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score rates one posting. The result is deterministic and lies in [0,1].
func (s *Scorer) Score(features *model.FeatureSet, p *model.Posting) model.ScoredPosting {
	factors := model.Factors{
		Skills:     SkillOverlap(features.Skills, PostingSkills(p)),
		Experience: ExperienceFit(features.Seniority, p.Seniority),
		Salary:     SalaryFit(features.Salary, p.Salary),
		Location:   LocationFit(features.Location, p.Location),
	}

	return model.ScoredPosting{
		Posting: *p,
		Score:   s.Combine(factors),
		Factors: factors,
	}
}

// Combine is the weighted mean of the factors. It is non-decreasing in every factor.
func (s *Scorer) Combine(f model.Factors) float64 {
	total := s.weights.Skills*f.Skills +
		s.weights.Experience*f.Experience +
		s.weights.Salary*f.Salary +
		s.weights.Location*f.Location

	return clamp(total / s.weights.sum())
}

// Qualifies reports whether the score reaches the threshold. The boundary is inclusive.
func (s *Scorer) Qualifies(sp model.ScoredPosting) bool {
	return sp.Score >= s.threshold
}

// Rank scores all postings and returns the qualifying ones in processing order.
func (s *Scorer) Rank(features *model.FeatureSet, postings []model.Posting) []model.ScoredPosting {
	ranked := make([]model.ScoredPosting, 0, len(postings))
	for i := range postings {
		sp := s.Score(features, &postings[i])
		if s.Qualifies(sp) {
			ranked = append(ranked, sp)
		}
	}

	Sort(ranked)
	return ranked
}

// Sort orders by descending score, then by earliest timestamp, then by id.
func Sort(scored []model.ScoredPosting) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := &scored[i], &scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ta, tb := a.Timestamp(), b.Timestamp()
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.ID < b.ID
	})
}

// PostingSkills collects the canonical skills of a posting from its key skills, title and description.
func PostingSkills(p *model.Posting) []string {
	set := make(map[string]struct{})
	for _, s := range p.KeySkills {
		if name := resume.CanonicalSkill(s); name != "" {
			set[name] = struct{}{}
		}
	}
	for _, s := range resume.ExtractSkills(p.Title + "\n" + p.Description) {
		set[s] = struct{}{}
	}
	return model.SortedSkills(set)
}

// SkillOverlap is the Jaccard similarity of two skill sets. An empty resume set scores 0.
func SkillOverlap(resumeSkills, postingSkills []string) float64 {
	a := model.SkillSet(resumeSkills)
	b := model.SkillSet(postingSkills)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	common := 0
	for s := range a {
		if _, ok := b[s]; ok {
			common++
		}
	}

	return float64(common) / float64(len(a)+len(b)-common)
}

// ExperienceFit decreases linearly with the distance between levels. Unknown on either side is neutral.
func ExperienceFit(resumeLevel, postingLevel model.Seniority) float64 {
	if !resumeLevel.Known() || !postingLevel.Known() {
		return 1
	}

	gap := math.Abs(float64(resumeLevel - postingLevel))
	return clamp(1 - gap/maxSeniorityGap)
}

// SalaryFit is 1 when the posting can pay the expectation. Above the upper bound it falls with the relative shortfall.
// Unknown values and different currencies are neutral.
func SalaryFit(expected model.Salary, offered model.SalaryRange) float64 {
	if !expected.Known || !offered.Known() {
		return 1
	}
	if !strings.EqualFold(expected.Currency, offered.Currency) {
		return 1
	}
	if !offered.HasTo || expected.Amount <= offered.To {
		return 1
	}

	shortfall := float64(expected.Amount-offered.To) / float64(expected.Amount)
	return clamp(1 - shortfall)
}

// LocationFit is 1 for a remote posting or the same city, partial for the same region and 0 otherwise.
// Unknown on either side is neutral.
func LocationFit(preferred, offered model.Location) float64 {
	if !preferred.Known || !offered.Known {
		return 1
	}
	if offered.Remote {
		return 1
	}
	if preferred.City == "" {
		// Remote-only preference against an office posting.
		return 0
	}
	if preferred.City == offered.City {
		return 1
	}
	if preferred.Region != "" && preferred.Region == offered.Region {
		return sameRegionCredit
	}
	return 0
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
