package resume

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/store/memory"
)

func TestProfilesRecomputeOnHashChange(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	profiles := NewProfiles(st, zap.NewNop())

	analyzedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	profiles.now = func() time.Time { return analyzedAt }

	changed, err := profiles.Import(ctx, "u1", "Python, SQL")
	if err != nil || !changed {
		t.Fatalf("expected first import to change the resume, got %v, %v", changed, err)
	}

	first, err := profiles.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(first.Features.Skills) != 2 {
		t.Fatalf("unexpected skills %v", first.Features.Skills)
	}

	stored, _ := st.GetProfile(ctx, "u1")
	if stored.Stale() || !stored.AnalyzedAt.Equal(analyzedAt) {
		t.Fatalf("expected cached features, got %+v", stored)
	}

	changed, err = profiles.Import(ctx, "u1", "  Python, SQL \n")
	if err != nil || changed {
		t.Fatalf("same text must not count as a change, got %v, %v", changed, err)
	}

	if _, err := profiles.Import(ctx, "u1", "Go, Kafka, Kubernetes"); err != nil {
		t.Fatalf("import: %v", err)
	}
	stored, _ = st.GetProfile(ctx, "u1")
	if !stored.Stale() {
		t.Fatalf("new text must invalidate the cached features")
	}

	second, err := profiles.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"go", "kafka", "kubernetes"}
	for i, skill := range want {
		if second.Features.Skills[i] != skill {
			t.Fatalf("expected %v, got %v", want, second.Features.Skills)
		}
	}
}

func TestProfilesErrors(t *testing.T) {
	ctx := context.Background()
	profiles := NewProfiles(memory.New(), zap.NewNop())

	if _, err := profiles.Load(ctx, "missing"); !errors.Is(err, ErrNoResume) {
		t.Fatalf("expected ErrNoResume, got %v", err)
	}
	if _, err := profiles.Import(ctx, "u1", "   "); !errors.Is(err, ErrEmptyResume) {
		t.Fatalf("expected ErrEmptyResume, got %v", err)
	}
}
