package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"healthvoice/pkg/model"
)

// Error is a non-2xx response from the backend
type Error struct {
	Endpoint   string
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: status=%d: %s", e.Endpoint, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: status=%d", e.Endpoint, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return model.ErrRemoteService
}

// Unauthorized reports whether the bearer token was rejected
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// NotFound reports whether the endpoint is missing on the backend
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// parseDetail extracts the FastAPI style {"detail": ...} message. Validation
// errors come back as a list and are kept as raw JSON.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		return strings.TrimSpace(detail)
	}
	return string(payload.Detail)
}
