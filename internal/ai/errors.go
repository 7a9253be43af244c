package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
)

// APIError represents an error from an AI API
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// NewAPIError creates a new API error
func NewAPIError(provider string, statusCode int, message string, err error) *APIError {
	return &APIError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Provider, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping
func (e *APIError) Unwrap() error {
	return e.Err
}

// ValidationError rejects a request before any credential is spent on it.
// Message is safe to show to users.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Classify wraps err in a keypool.Failure so the orchestrator knows
// whether to back off, rotate, wait or give up. It returns nil for nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	return keypool.NewFailure(classify(err), err)
}

func classify(err error) keypool.FailureKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return keypool.FailureOther
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "scheduled break") {
		return keypool.FailureScheduledUnavailable
	}

	switch statusCode(err) {
	case http.StatusTooManyRequests:
		return keypool.FailureRateLimited
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return keypool.FailureInvalidCredential
	}

	// Some OpenAI-compatible backends only report the condition in the body.
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return keypool.FailureRateLimited
	case strings.Contains(msg, "401"), strings.Contains(msg, "400"),
		strings.Contains(msg, "invalid api key"), strings.Contains(msg, "incorrect api key"):
		return keypool.FailureInvalidCredential
	}
	return keypool.FailureOther
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var ourErr *APIError
	if errors.As(err, &ourErr) {
		return ourErr.StatusCode
	}
	return 0
}
