// Package ai describes the cover letter collaborator.
package ai

import (
	"context"
	"errors"
)

// ErrEmptyLetter is returned when a provider answers without usable text.
var ErrEmptyLetter = errors.New("generated letter is empty")

// LetterRequest is what a provider needs to write a letter for one posting.
type LetterRequest struct {
	ResumeText  string
	Position    string
	VacancyName string
	Employer    string
	Description string
	// Locale is the language of the letter, "ru" or "en".
	Locale string
}

type LetterWriter interface {
	WriteLetter(ctx context.Context, req LetterRequest) (string, error)
}
