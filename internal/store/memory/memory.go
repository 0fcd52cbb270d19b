// Package memory is a process-local store with the same contracts as the postgres store.
// It backs tests and local dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/store"
)

type sentKey struct {
	userID    string
	vacancyID string
}

type Store struct {
	mu       sync.RWMutex
	users    map[string]model.User
	tokens   map[string]model.OAuthToken
	profiles map[string]model.ResumeProfile
	sent     map[sentKey]model.SentRecord

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]model.User),
		tokens:   make(map[string]model.OAuthToken),
		profiles: make(map[string]model.ResumeProfile),
		sent:     make(map[sentKey]model.SentRecord),
		now:      time.Now,
	}
}

func (s *Store) EnsureUser(_ context.Context, user *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.ID]; ok {
		return &existing, nil
	}

	u := *user
	if u.Status == "" {
		u.Status = model.UserPaused
	}
	u.CreatedAt = s.now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u

	return &u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context, status model.UserStatus) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		if status != "" && u.Status != status {
			continue
		}
		u := u
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return users, nil
}

func (s *Store) SetUserStatus(_ context.Context, id string, status model.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	u.Status = status
	u.UpdatedAt = s.now()
	s.users[id] = u

	return nil
}

func (s *Store) SetResumeID(_ context.Context, id, resumeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	u.ResumeID = resumeID
	u.UpdatedAt = s.now()
	s.users[id] = u

	return nil
}

func (s *Store) GetToken(_ context.Context, userID string) (*model.OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[userID]
	if !ok {
		return nil, fmt.Errorf("token of %s: %w", userID, store.ErrNotFound)
	}
	return &t, nil
}

func (s *Store) SaveToken(_ context.Context, token *model.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.UserID] = *token
	return nil
}

func (s *Store) ReplaceToken(_ context.Context, old, next *model.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tokens[old.UserID]
	if !ok || current.RefreshToken != old.RefreshToken {
		return store.ErrConflict
	}
	s.tokens[next.UserID] = *next

	return nil
}

func (s *Store) DeleteToken(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[userID]; !ok {
		return fmt.Errorf("token of %s: %w", userID, store.ErrNotFound)
	}
	delete(s.tokens, userID)

	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (*model.ResumeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("resume of %s: %w", userID, store.ErrNotFound)
	}
	if p.Features != nil {
		features := *p.Features
		p.Features = &features
	}
	return &p, nil
}

func (s *Store) SaveResume(_ context.Context, userID, text, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profiles[userID]
	p.UserID = userID
	p.Text = text
	p.ContentHash = hash
	p.UpdatedAt = s.now()
	s.profiles[userID] = p

	return nil
}

func (s *Store) SaveFeatures(_ context.Context, userID, hash string, features *model.FeatureSet, analyzedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return fmt.Errorf("resume of %s: %w", userID, store.ErrNotFound)
	}
	if p.ContentHash != hash {
		// A newer resume arrived while analyzing; its features will be computed on next use.
		return nil
	}

	f := *features
	p.Features = &f
	p.FeaturesHash = hash
	p.AnalyzedAt = analyzedAt
	s.profiles[userID] = p

	return nil
}

func (s *Store) InsertSent(_ context.Context, rec *model.SentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sentKey{userID: rec.UserID, vacancyID: rec.VacancyID}
	if _, ok := s.sent[key]; ok {
		return false, nil
	}
	s.sent[key] = *rec

	return true, nil
}

func (s *Store) SentVacancies(_ context.Context, userID string, vacancyIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := make(map[string]bool)
	for _, id := range vacancyIDs {
		if _, ok := s.sent[sentKey{userID: userID, vacancyID: id}]; ok {
			sent[id] = true
		}
	}

	return sent, nil
}

func (s *Store) CountSent(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for key := range s.sent {
		if key.userID == userID {
			count++
		}
	}

	return count, nil
}

// DeleteUser removes the user with the owned token and resume. Sent records stay.
func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	delete(s.users, id)
	delete(s.tokens, id)
	delete(s.profiles, id)

	return nil
}
