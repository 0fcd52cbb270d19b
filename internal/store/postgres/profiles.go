package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spigell/hh-autopilot/internal/model"
)

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.ResumeProfile, error) {
	var (
		p          model.ResumeProfile
		features   []byte
		analyzedAt *time.Time
	)

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, raw_text, content_hash, features, features_hash, analyzed_at, updated_at
		 FROM resume_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.Text, &p.ContentHash, &features, &p.FeaturesHash, &analyzedAt, &p.UpdatedAt)
	if err != nil {
		return nil, classify("get resume profile", err)
	}

	if len(features) > 0 {
		var fs model.FeatureSet
		if err := json.Unmarshal(features, &fs); err != nil {
			// An unreadable cache is recomputed.
			p.FeaturesHash = ""
		} else {
			p.Features = &fs
		}
	}
	if analyzedAt != nil {
		p.AnalyzedAt = *analyzedAt
	}

	return &p, nil
}

// SaveResume stores new resume text. Derived features stay until the next analysis notices the hash change.
func (s *Store) SaveResume(ctx context.Context, userID, text, hash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resume_profiles (user_id, raw_text, content_hash, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   raw_text = EXCLUDED.raw_text,
		   content_hash = EXCLUDED.content_hash,
		   updated_at = now()`,
		userID, text, hash,
	)
	return classify("save resume", err)
}

// SaveFeatures caches features derived from the resume with the given hash. It is a no-op when the text changed since.
func (s *Store) SaveFeatures(ctx context.Context, userID, hash string, features *model.FeatureSet, analyzedAt time.Time) error {
	payload, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE resume_profiles SET features = $3, features_hash = $2, analyzed_at = $4
		 WHERE user_id = $1 AND content_hash = $2`,
		userID, hash, payload, analyzedAt,
	)
	if err != nil {
		return classify("save features", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetProfile(ctx, userID); err != nil {
			return err
		}
	}

	return nil
}
