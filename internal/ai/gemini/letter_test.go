package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/ai"
)

type stubGenerator struct {
	output  string
	err     error
	system  string
	message string
	calls   int
}

func (s *stubGenerator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	s.calls++
	s.system = system
	s.message = message
	return s.output, s.err
}

func letterRequest() ai.LetterRequest {
	return ai.LetterRequest{
		ResumeText:  "Go developer, 5 years of Kubernetes and PostgreSQL",
		Position:    "Backend developer",
		VacancyName: "Senior Go Engineer",
		Employer:    "Acme",
		Description: "We build payment services in Go.",
		Locale:      "en",
	}
}

func TestWriteLetterBuildsPrompt(t *testing.T) {
	gen := &stubGenerator{output: "Hello, I am a good fit."}
	w := NewWriter(gen, zap.NewNop(), 0)

	letter, err := w.WriteLetter(context.Background(), letterRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if letter != "Hello, I am a good fit." {
		t.Fatalf("unexpected letter: %q", letter)
	}

	if !strings.Contains(gen.system, "Locale: en") {
		t.Fatalf("system prompt misses locale: %q", gen.system)
	}
	for _, want := range []string{
		"Vacancy: Senior Go Engineer",
		"Employer: Acme",
		"Candidate target position: Backend developer",
		"We build payment services in Go.",
		"5 years of Kubernetes",
	} {
		if !strings.Contains(gen.message, want) {
			t.Fatalf("message misses %q:\n%s", want, gen.message)
		}
	}
}

func TestWriteLetterDefaultsLocale(t *testing.T) {
	gen := &stubGenerator{output: "Здравствуйте"}
	req := letterRequest()
	req.Locale = ""

	if _, err := NewWriter(gen, zap.NewNop(), 0).WriteLetter(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gen.system, "Locale: ru") {
		t.Fatalf("expected default locale, got %q", gen.system)
	}
}

func TestWriteLetterCleansFences(t *testing.T) {
	gen := &stubGenerator{output: "```text\n\"Dear Acme team, hello.\"\n```"}

	letter, err := NewWriter(gen, zap.NewNop(), 0).WriteLetter(context.Background(), letterRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if letter != "Dear Acme team, hello." {
		t.Fatalf("unexpected letter: %q", letter)
	}
}

func TestWriteLetterEmptyOutput(t *testing.T) {
	gen := &stubGenerator{output: "```\n```"}

	_, err := NewWriter(gen, zap.NewNop(), 0).WriteLetter(context.Background(), letterRequest())
	if !errors.Is(err, ai.ErrEmptyLetter) {
		t.Fatalf("expected ErrEmptyLetter, got %v", err)
	}
}

func TestWriteLetterPropagatesGeneratorError(t *testing.T) {
	boom := errors.New("quota")
	gen := &stubGenerator{err: boom}

	_, err := NewWriter(gen, zap.NewNop(), 0).WriteLetter(context.Background(), letterRequest())
	if !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

func TestWriteLetterRequiresInputs(t *testing.T) {
	gen := &stubGenerator{output: "x"}
	w := NewWriter(gen, zap.NewNop(), 0)

	req := letterRequest()
	req.ResumeText = "  "
	if _, err := w.WriteLetter(context.Background(), req); err == nil {
		t.Fatal("expected error for empty resume")
	}

	req = letterRequest()
	req.VacancyName = ""
	if _, err := w.WriteLetter(context.Background(), req); err == nil {
		t.Fatal("expected error for empty vacancy name")
	}

	if gen.calls != 0 {
		t.Fatalf("generator must not be called, got %d calls", gen.calls)
	}
}

func TestWriteLetterTruncatesLongDescription(t *testing.T) {
	gen := &stubGenerator{output: "ok"}
	req := letterRequest()
	req.Description = strings.Repeat("я", maxDescriptionRunes+500)

	if _, err := NewWriter(gen, zap.NewNop(), 0).WriteLetter(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(gen.message, "я") != maxDescriptionRunes {
		t.Fatalf("description was not truncated")
	}
}
