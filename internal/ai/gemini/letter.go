package gemini

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/ai"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/utils"
)

//go:embed letter.md
var letterPrompt string

const (
	defaultMaxLogLength = 200
	// hh.ru rejects negotiation messages longer than this.
	maxLetterLength     = 10000
	maxDescriptionRunes = 6000
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

// Writer produces cover letters with Gemini.
type Writer struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.LetterWriter = (*Writer)(nil)

func NewWriter(generator contentGenerator, log *zap.Logger, maxLogLength int) *Writer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Writer{
		generator: generator,
		logger:    logger.WithFields(log),
		maxLogLen: maxLogLength,
	}
}

func (w *Writer) WriteLetter(ctx context.Context, req ai.LetterRequest) (string, error) {
	if strings.TrimSpace(req.ResumeText) == "" {
		return "", errors.New("resume text is required")
	}
	if strings.TrimSpace(req.VacancyName) == "" {
		return "", errors.New("vacancy name is required")
	}

	system := buildSystemPrompt(req.Locale)
	message := buildMessage(req)

	w.logger.Debug("gemini letter request",
		zap.String("vacancy", req.VacancyName),
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.TruncateForLog(message, w.maxLogLen)),
	)

	raw, err := w.generator.GenerateContent(ctx, system, message)
	if err != nil {
		return "", err
	}

	letter := cleanLetter(raw)

	w.logger.Debug("gemini letter response",
		zap.String("vacancy", req.VacancyName),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(letter, w.maxLogLen)),
	)

	if letter == "" {
		return "", ai.ErrEmptyLetter
	}
	if utf8.RuneCountInString(letter) > maxLetterLength {
		letter = string([]rune(letter)[:maxLetterLength])
	}

	return letter, nil
}

func buildSystemPrompt(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = "ru"
	}
	return strings.ReplaceAll(letterPrompt, "{{LOCALE}}", locale)
}

func buildMessage(req ai.LetterRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Vacancy: %s\n", strings.TrimSpace(req.VacancyName))
	if employer := strings.TrimSpace(req.Employer); employer != "" {
		fmt.Fprintf(&b, "Employer: %s\n", employer)
	}
	if position := strings.TrimSpace(req.Position); position != "" {
		fmt.Fprintf(&b, "Candidate target position: %s\n", position)
	}

	description := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		description = string([]rune(description)[:maxDescriptionRunes])
	}
	if description == "" {
		description = "not provided"
	}
	fmt.Fprintf(&b, "\nVacancy description:\n%s\n", description)
	fmt.Fprintf(&b, "\nResume:\n%s\n", strings.TrimSpace(req.ResumeText))

	return b.String()
}

// cleanLetter drops code fences and surrounding quotes models sometimes add.
func cleanLetter(raw string) string {
	letter := strings.TrimSpace(raw)
	if strings.HasPrefix(letter, "```") {
		letter = strings.TrimPrefix(letter, "```text")
		letter = strings.TrimPrefix(letter, "```")
		if idx := strings.LastIndex(letter, "```"); idx != -1 {
			letter = letter[:idx]
		}
	}
	letter = strings.TrimSpace(letter)
	letter = strings.Trim(letter, "\"«»")
	return strings.TrimSpace(letter)
}
