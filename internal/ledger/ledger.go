// Package ledger is the single gate that decides whether a posting was already processed for a user.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/hh-autopilot/internal/model"
)

// Outcome of RecordIfNew.
type Outcome int

const (
	Recorded Outcome = iota + 1
	AlreadySent
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case AlreadySent:
		return "already_sent"
	default:
		return "unknown"
	}
}

// Store enforces uniqueness of (user, vacancy). InsertSent reports false when the pair already exists.
type Store interface {
	InsertSent(ctx context.Context, rec *model.SentRecord) (bool, error)
	SentVacancies(ctx context.Context, userID string, vacancyIDs []string) (map[string]bool, error)
}

// Metadata is the snapshot stored with a record.
type Metadata struct {
	VacancyName    string
	EmployerName   string
	Score          float64
	AlreadyApplied bool
}

type Ledger struct {
	store Store
	now   func() time.Time
}

func New(s Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// RecordIfNew atomically creates the record for (userID, vacancyID) unless one exists.
// Concurrent callers for the same pair get exactly one Recorded.
func (l *Ledger) RecordIfNew(ctx context.Context, userID, vacancyID string, meta Metadata) (Outcome, error) {
	if userID == "" || vacancyID == "" {
		return 0, errors.New("user and vacancy ids are required")
	}

	inserted, err := l.store.InsertSent(ctx, &model.SentRecord{
		UserID:         userID,
		VacancyID:      vacancyID,
		VacancyName:    meta.VacancyName,
		EmployerName:   meta.EmployerName,
		Score:          meta.Score,
		AlreadyApplied: meta.AlreadyApplied,
		SentAt:         l.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("record %s for %s: %w", vacancyID, userID, err)
	}

	if !inserted {
		return AlreadySent, nil
	}
	return Recorded, nil
}

// Sent returns the subset of vacancyIDs that already have a record. It is a read-only hint for filtering;
// only RecordIfNew is authoritative.
func (l *Ledger) Sent(ctx context.Context, userID string, vacancyIDs []string) (map[string]bool, error) {
	sent, err := l.store.SentVacancies(ctx, userID, vacancyIDs)
	if err != nil {
		return nil, fmt.Errorf("look up sent vacancies of %s: %w", userID, err)
	}
	return sent, nil
}
