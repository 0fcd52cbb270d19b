package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	fromFile := writeSecret(t, "  from-file\n")
	fromEnvFile := writeSecret(t, "from-env-file\n")
	empty := writeSecret(t, "  \n")

	t.Setenv("TEST_SECRET_FILE", fromEnvFile)
	t.Setenv("TEST_SECRET", "from-env")
	t.Setenv("UNSET_SECRET_FILE", "")
	t.Setenv("UNSET_SECRET", "")

	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr string
	}{
		{
			name: "file wins over value",
			src:  Source{Name: "api key", Value: "inline", File: fromFile, FileEnv: "TEST_SECRET_FILE"},
			want: "from-file",
		},
		{
			name: "inline value",
			src:  Source{Value: " inline ", FileEnv: "TEST_SECRET_FILE", Env: "TEST_SECRET"},
			want: "inline",
		},
		{
			name: "file from environment",
			src:  Source{FileEnv: "TEST_SECRET_FILE", Env: "TEST_SECRET"},
			want: "from-env-file",
		},
		{
			name: "value from environment",
			src:  Source{FileEnv: "UNSET_SECRET_FILE", Env: "TEST_SECRET"},
			want: "from-env",
		},
		{
			name:    "empty file",
			src:     Source{Name: "api key", File: empty},
			wantErr: `api key file "` + empty + `" is empty`,
		},
		{
			name:    "missing file",
			src:     Source{File: filepath.Join(t.TempDir(), "absent")},
			wantErr: "reading secret from file",
		},
		{
			name:    "nothing configured",
			src:     Source{Name: "client secret", FileEnv: "UNSET_SECRET_FILE", Env: "UNSET_SECRET"},
			wantErr: "client secret is not configured (set UNSET_SECRET_FILE or UNSET_SECRET)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
