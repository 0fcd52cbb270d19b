package resume

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/store"
)

var (
	ErrNoResume    = errors.New("no resume uploaded")
	ErrEmptyResume = errors.New("resume text is empty")
)

// ProfileStore persists the latest resume of every user.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*model.ResumeProfile, error)
	SaveResume(ctx context.Context, userID, text, hash string) error
	SaveFeatures(ctx context.Context, userID, hash string, features *model.FeatureSet, analyzedAt time.Time) error
}

// Profiles keeps resume features in sync with the resume text.
type Profiles struct {
	store  ProfileStore
	logger *zap.Logger
	now    func() time.Time
}

func NewProfiles(s ProfileStore, log *zap.Logger) *Profiles {
	return &Profiles{
		store:  s,
		logger: logger.WithFields(log),
		now:    time.Now,
	}
}

// Import stores text as the user's latest resume. It reports false when the text did not change.
func (p *Profiles) Import(ctx context.Context, userID, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, ErrEmptyResume
	}
	hash := ContentHash(text)

	current, err := p.store.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load resume: %w", err)
	case current.ContentHash == hash:
		return false, nil
	}

	if err := p.store.SaveResume(ctx, userID, text, hash); err != nil {
		return false, fmt.Errorf("save resume: %w", err)
	}

	p.logger.Info("resume updated",
		zap.String(logger.FieldUser, userID),
		zap.String("hash", hash[:12]),
		zap.Int("length", len(text)),
	)

	return true, nil
}

// Load returns the user's profile with up to date features, analyzing the text again when it changed.
func (p *Profiles) Load(ctx context.Context, userID string) (*model.ResumeProfile, error) {
	profile, err := p.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w for user %s", ErrNoResume, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load resume: %w", err)
	}

	if !profile.Stale() {
		return profile, nil
	}

	features := Analyze(profile.Text)
	analyzedAt := p.now()
	if err := p.store.SaveFeatures(ctx, userID, profile.ContentHash, features, analyzedAt); err != nil {
		return nil, fmt.Errorf("save features: %w", err)
	}

	p.logger.Info("resume analyzed",
		zap.String(logger.FieldUser, userID),
		zap.String("position", features.Position),
		zap.Strings("skills", features.Skills),
		zap.Stringer("seniority", features.Seniority),
	)

	profile.Features = features
	profile.FeaturesHash = profile.ContentHash
	profile.AnalyzedAt = analyzedAt

	return profile, nil
}
