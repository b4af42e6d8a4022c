// Package apperr defines the engine's error taxonomy.
package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of engine error.
type Code string

const (
	CaptureAmbiguous      Code = "CAPTURE_AMBIGUOUS"       // low-confidence extraction, routed to triage
	EntityNotFound        Code = "ENTITY_NOT_FOUND"        // 404
	ConflictDetected      Code = "CONFLICT_DETECTED"       // 409, resolved by retry or supersede
	StorageUnavailable    Code = "STORAGE_UNAVAILABLE"     // 503
	SchedulerMissedWindow Code = "SCHEDULER_MISSED_WINDOW" // logged, never surfaced
	InvalidInput          Code = "INVALID_INPUT"           // 400
)

// UnavailableMessage is the only failure text shown to a user.
const UnavailableMessage = "I can't access that information right now"

// Error is a structured engine error.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewCaptureAmbiguous reports an extraction below the confirmation threshold.
func NewCaptureAmbiguous(captureID string, confidence float64, candidates ...string) *Error {
	details := map[string]any{"capture_id": captureID, "confidence": confidence}
	if len(candidates) > 0 {
		details["candidates"] = candidates
	}
	return &Error{
		Code:    CaptureAmbiguous,
		Message: "capture could not be resolved with enough confidence",
		Details: details,
	}
}

// NewEntityNotFound reports a reference to a missing id.
func NewEntityNotFound(kind, id string) *Error {
	return &Error{
		Code:    EntityNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewConflict reports a failed compare-and-set.
func NewConflict(kind, id string) *Error {
	return &Error{
		Code:    ConflictDetected,
		Message: fmt.Sprintf("%s %s was modified concurrently", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewStorageUnavailable wraps an I/O fault from the store.
func NewStorageUnavailable(op string, err error) *Error {
	return &Error{
		Code:    StorageUnavailable,
		Message: op,
		Err:     err,
	}
}

// FromStorage classifies an error returned by the database layer. Engine
// errors and context cancellation pass through; anything else is an I/O
// fault.
func FromStorage(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewStorageUnavailable(op, err)
}

// NewMissedWindow reports scheduler downtime across one or more intervals.
func NewMissedWindow(job string, missed int) *Error {
	return &Error{
		Code:    SchedulerMissedWindow,
		Message: fmt.Sprintf("job %s missed %d window(s)", job, missed),
		Details: map[string]any{"job": job, "missed": missed},
	}
}

// NewInvalidInput reports a rejected caller request.
func NewInvalidInput(msg string) *Error {
	return &Error{
		Code:    InvalidInput,
		Message: msg,
	}
}

// Is checks if err (or anything it wraps) is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of err, or "" for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error to a response status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case EntityNotFound:
		return http.StatusNotFound
	case ConflictDetected:
		return http.StatusConflict
	case InvalidInput:
		return http.StatusBadRequest
	case CaptureAmbiguous:
		return http.StatusAccepted
	case StorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the text a collaborator may show the user. Storage
// faults and unknown failures collapse to UnavailableMessage.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return UnavailableMessage
	}
	switch e.Code {
	case EntityNotFound, InvalidInput, ConflictDetected, CaptureAmbiguous:
		return e.Message
	default:
		return UnavailableMessage
	}
}

// WriteHTTP writes err as a JSON error body with the mapped status code.
func WriteHTTP(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]any{
		"error": UserMessage(err),
		"code":  CodeOf(err),
	})
}
