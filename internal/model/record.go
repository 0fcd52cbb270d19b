package model

import "time"

// SentRecord marks a posting as processed for a user. One per (UserID, VacancyID), never updated.
type SentRecord struct {
	UserID       string
	VacancyID    string
	VacancyName  string
	EmployerName string
	Score        float64
	// AlreadyApplied is set when the job board reported an earlier application.
	AlreadyApplied bool
	SentAt         time.Time
}

// ResumeProfile is the latest resume of a user with its derived features.
type ResumeProfile struct {
	UserID      string
	Text        string
	ContentHash string
	// Features is nil until the first analysis. FeaturesHash is the content hash it was derived from.
	Features     *FeatureSet
	FeaturesHash string
	AnalyzedAt   time.Time
	UpdatedAt    time.Time
}

// Stale reports whether the features must be recomputed.
func (p *ResumeProfile) Stale() bool {
	return p.Features == nil || p.FeaturesHash != p.ContentHash
}
