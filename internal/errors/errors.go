// Package errors defines the API error types used throughout TopicDeck.
package errors

import "fmt"

// APIError represents a TopicDeck API error with a machine-readable code,
// human-readable message, and HTTP status code.
type APIError struct {
	// Code is the error code (e.g., "TopicNotFound", "CapacityExceeded").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 409).
	HTTPStatus int
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("APIError %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Is makes errors.Is match any APIError with the same code, so that
// wrapped sentinels compare by identity of meaning rather than pointer.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Pre-defined errors for the error taxonomy.
var (
	// ErrTopicNotFound is returned when the referenced topic does not exist
	// at the time the operation reads it.
	ErrTopicNotFound = &APIError{
		Code:       "TopicNotFound",
		Message:    "The specified topic does not exist",
		HTTPStatus: 404,
	}

	// ErrUnsupportedType is returned when an uploaded file's MIME type is not
	// in the allowed whitelist. Rejected locally, before any network call.
	ErrUnsupportedType = &APIError{
		Code:       "UnsupportedType",
		Message:    "The file type is not supported",
		HTTPStatus: 415,
	}

	// ErrTooLarge is returned when an uploaded file exceeds the size ceiling.
	// Rejected locally, before any network call.
	ErrTooLarge = &APIError{
		Code:       "TooLarge",
		Message:    "The file exceeds the maximum allowed size",
		HTTPStatus: 413,
	}

	// ErrCapacityExceeded is returned when appending an image would push a
	// topic past its image limit. Surfaced distinctly so the client can
	// explain the limit.
	ErrCapacityExceeded = &APIError{
		Code:       "CapacityExceeded",
		Message:    "The topic has reached its image limit",
		HTTPStatus: 409,
	}

	// ErrStoreUnavailable is returned on transport failure against the
	// document or blob store.
	ErrStoreUnavailable = &APIError{
		Code:       "StoreUnavailable",
		Message:    "The backing store is not available. Please retry.",
		HTTPStatus: 503,
	}

	// ErrConflict is returned when the document store's transaction primitive
	// exhausts its conflict retries. Distinct from validation and not-found.
	ErrConflict = &APIError{
		Code:       "Conflict",
		Message:    "The operation could not be committed due to concurrent modifications",
		HTTPStatus: 409,
	}

	// ErrInvalidArgument is returned when a request argument is invalid
	// (e.g., a reorder index out of range).
	ErrInvalidArgument = &APIError{
		Code:       "InvalidArgument",
		Message:    "Invalid argument",
		HTTPStatus: 400,
	}

	// ErrInternal is returned for unexpected internal failures.
	ErrInternal = &APIError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
