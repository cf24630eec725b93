// Package api is the HTTP client for the presentation backend's chunked
// upload protocol: start a session, check it is still live, send chunks,
// and finalize assembly.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrGone         = errors.New("api: resource gone")
	ErrTooLarge     = errors.New("api: payload too large")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
)

var (
	// ErrSessionGone means the server confirmed the upload session no longer
	// exists (404 or 410 from check-upload).
	ErrSessionGone = errors.New("api: upload session gone")
	// ErrFinalizeIncomplete means finalize found chunks missing server-side.
	ErrFinalizeIncomplete = errors.New("api: upload incomplete")
)

// errorCodeIncomplete is the "code" the backend sends with a 409 from
// finalize when chunks are missing.
const errorCodeIncomplete = "incomplete"

// Error wraps a sentinel with the HTTP status, request ID, and the server's
// message for diagnosis.
type Error struct {
	StatusCode int
	RequestID  string
	Code       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorBody is the FastAPI-style error envelope.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// newError builds an Error from a non-2xx response body.
func newError(status int, requestID string, body []byte) *Error {
	e := &Error{
		StatusCode: status,
		RequestID:  requestID,
		Message:    string(body),
		Err:        classifyStatus(status),
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Detail != "" {
			e.Message = eb.Detail
		}

		e.Code = eb.Code
	}

	if status == http.StatusConflict && e.Code == errorCodeIncomplete {
		e.Err = ErrFinalizeIncomplete
	}

	return e
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether err is an API answer that will not change on
// retry (bad request, auth, missing or expired session, too large).
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrGone) ||
		errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrSessionGone)
}
