package neshan

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("neshan: API key not configured")
	ErrInvalidArgument = errors.New("neshan: invalid argument")
	ErrUnauthorized    = errors.New("neshan: unauthorized")
	ErrRateLimited     = errors.New("neshan: rate limit exceeded")
	ErrNotFound        = errors.New("neshan: not found")
	ErrMaxRetries      = errors.New("neshan: max retries exceeded")
)

// APIError is a non-2xx answer from the Neshan API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Is maps well-known HTTP statuses onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// GoString mirrors the debug form used in logs.
func (e *APIError) GoString() string {
	return fmt.Sprintf("APIError{status: %d, code: %d, message: %q}", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// parseAPIError builds an APIError from a failed response body.
// Bodies that are not the {"code","message"} envelope become the message verbatim.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// IsTemporary reports whether err is worth retrying.
func IsTemporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return false
}
