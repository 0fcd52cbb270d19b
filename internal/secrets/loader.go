package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes how to load a secret value.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret value provided via configuration or flags.
	Value string
	// File points to a file containing the secret value. When set it takes
	// precedence over Value.
	File string
	// FileEnv names an environment variable holding a secret file path. It is
	// consulted only when neither File nor Value is configured.
	FileEnv string
	// Env names an environment variable holding the secret itself. It is the last resort.
	Env string
}

// Load returns the resolved secret value from the provided source. The returned
// secret is always trimmed. An error is returned when no source contains a
// usable secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file == "" && strings.TrimSpace(src.Value) == "" && src.FileEnv != "" {
		file = strings.TrimSpace(os.Getenv(src.FileEnv))
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}

		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" && src.Env != "" {
		secret = strings.TrimSpace(os.Getenv(src.Env))
	}
	if secret == "" {
		return "", fmt.Errorf("%s is not configured%s", name, hint(src))
	}

	return secret, nil
}

func hint(src Source) string {
	var vars []string
	for _, v := range []string{src.FileEnv, src.Env} {
		if v != "" {
			vars = append(vars, v)
		}
	}
	if len(vars) == 0 {
		return ""
	}
	return fmt.Sprintf(" (set %s)", strings.Join(vars, " or "))
}
