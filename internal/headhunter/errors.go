package headhunter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRateLimited matches an APIError with status 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized matches an APIError caused by a missing, expired or revoked access token.
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorDetail is one element of the hh.ru "errors" array.
type ErrorDetail struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// APIError is a non-success answer from hh.ru.
type APIError struct {
	StatusCode int
	Status     string
	Errors     []ErrorDetail
	// OAuthError and Description come from the OAuth token endpoint.
	OAuthError  string
	Description string
	RetryAfter  time.Duration
	Body        string
}

func (e *APIError) Error() string {
	var parts []string
	for _, d := range e.Errors {
		if d.Value != "" {
			parts = append(parts, d.Type+"/"+d.Value)
		} else {
			parts = append(parts, d.Type)
		}
	}
	if e.OAuthError != "" {
		parts = append(parts, e.OAuthError)
	}

	if len(parts) == 0 {
		return fmt.Sprintf("bad status: %s", e.Status)
	}

	return fmt.Sprintf("bad status: %s (%s)", e.Status, strings.Join(parts, ", "))
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.HasError("oauth", "")
	default:
		return false
	}
}

// Temporary reports whether repeating the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// HasError reports whether the response carries an error of the given type.
// An empty value matches any value of that type.
func (e *APIError) HasError(typ, value string) bool {
	for _, d := range e.Errors {
		if d.Type == typ && (value == "" || d.Value == value) {
			return true
		}
	}
	return false
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}

	var payload struct {
		Errors           []ErrorDetail `json:"errors"`
		Error            string        `json:"error"`
		ErrorDescription string        `json:"error_description"`
	}
	// Error bodies are not always JSON; the status is enough then.
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Errors = payload.Errors
		apiErr.OAuthError = payload.Error
		apiErr.Description = payload.ErrorDescription
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && seconds > 0 {
		apiErr.RetryAfter = time.Duration(seconds) * time.Second
	}

	return apiErr
}
