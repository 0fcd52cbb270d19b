// Package users manages the lifecycle of the people the service applies for.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/model"
)

const defaultLocale = "ru"

type Store interface {
	EnsureUser(ctx context.Context, user *model.User) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, status model.UserStatus) ([]*model.User, error)
	SetUserStatus(ctx context.Context, id string, status model.UserStatus) error
	SetResumeID(ctx context.Context, id, resumeID string) error
}

// TokenForgetter drops stored credentials.
type TokenForgetter interface {
	Forget(ctx context.Context, userID string) error
}

// Notifier tells running processes that a user stopped being active.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Event is a status change other processes must react to.
type Event struct {
	UserID string           `json:"user_id"`
	Status model.UserStatus `json:"status"`
}

type Service struct {
	store    Store
	tokens   TokenForgetter
	notifier Notifier
	logger   *zap.Logger
}

// New creates the service. A nil notifier keeps status changes local to the store.
func New(s Store, tokens TokenForgetter, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		store:    s,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger.WithFields(log),
	}
}

// Add registers a user. New users stay paused until the hh.ru authorization completes.
func (s *Service) Add(ctx context.Context, id, locale string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("user id is required")
	}
	if locale == "" {
		locale = defaultLocale
	}

	user, err := s.store.EnsureUser(ctx, &model.User{ID: id, Locale: locale, Status: model.UserPaused})
	if err != nil {
		return nil, fmt.Errorf("add user: %w", err)
	}

	s.logger.Info("user registered", zap.String(logger.FieldUser, id), zap.String("status", string(user.Status)))
	return user, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns users with the status, every user when status is empty.
func (s *Service) List(ctx context.Context, status model.UserStatus) ([]*model.User, error) {
	return s.store.ListUsers(ctx, status)
}

// Authorized stores the resume chosen for negotiations and activates the user.
func (s *Service) Authorized(ctx context.Context, id, resumeID string) error {
	if resumeID != "" {
		if err := s.store.SetResumeID(ctx, id, resumeID); err != nil {
			return fmt.Errorf("set resume: %w", err)
		}
	}
	return s.Activate(ctx, id)
}

func (s *Service) Activate(ctx context.Context, id string) error {
	if err := s.store.SetUserStatus(ctx, id, model.UserActive); err != nil {
		return fmt.Errorf("activate user: %w", err)
	}

	s.logger.Info("user activated", zap.String(logger.FieldUser, id))
	return nil
}

// RequireReauth marks an active user whose credentials hh.ru rejected. Cycles skip the user
// until the authorization handshake activates it again. Paused and revoked users keep their status.
func (s *Service) RequireReauth(ctx context.Context, id string) error {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if !user.Active() {
		return nil
	}

	if err := s.store.SetUserStatus(ctx, id, model.UserReauth); err != nil {
		return fmt.Errorf("mark user for re-authentication: %w", err)
	}

	s.logger.Warn("user must authorize again", zap.String(logger.FieldUser, id))
	return nil
}

// Pause stops cycles for the user. Credentials are kept.
func (s *Service) Pause(ctx context.Context, id string) error {
	if err := s.store.SetUserStatus(ctx, id, model.UserPaused); err != nil {
		return fmt.Errorf("pause user: %w", err)
	}

	s.logger.Info("user paused", zap.String(logger.FieldUser, id))
	s.notify(ctx, Event{UserID: id, Status: model.UserPaused})
	return nil
}

// Revoke stops cycles and drops the credentials. Sent records stay.
func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.store.SetUserStatus(ctx, id, model.UserRevoked); err != nil {
		return fmt.Errorf("revoke user: %w", err)
	}
	if err := s.tokens.Forget(ctx, id); err != nil {
		return fmt.Errorf("forget token: %w", err)
	}

	s.logger.Info("user revoked", zap.String(logger.FieldUser, id))
	s.notify(ctx, Event{UserID: id, Status: model.UserRevoked})
	return nil
}

// notify failures are logged only: cycles re-check the status before every submission.
func (s *Service) notify(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("publishing status change failed",
			zap.String(logger.FieldUser, ev.UserID),
			zap.Error(err),
		)
	}
}
