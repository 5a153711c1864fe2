package noticecast

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/agrivoice/noticecast/internal/speech"
)

// Sentinel errors returned by Service operations.
var (
	ErrInvalidInput        = errors.New("noticecast: invalid input")
	ErrDuplicateRegistrant = errors.New("noticecast: phone number already registered")
	ErrNotFound            = errors.New("noticecast: not found")
	ErrNotConfigured       = errors.New("noticecast: not configured")
)

// ValidationError reports a rejected input field. It unwraps to
// ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("noticecast: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrSynthesisFailed is returned by AddNotice when the notice could not be
// voiced.
var ErrSynthesisFailed = speech.ErrSynthesisFailed
