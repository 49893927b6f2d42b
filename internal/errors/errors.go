// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a repository sync or journal entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExhausted is returned when no GitHub API budget remains.
	ErrQuotaExhausted = errors.New("quota_exhausted")
)

// ErrInvalidRepoFormat is returned when a repository name is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// RejectionError is an inbound request the webhook endpoint refuses to process.
// Code is the short classification string shown to the caller.
type RejectionError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Reject builds a RejectionError.
func Reject(status int, code, message string, err error) *RejectionError {
	return &RejectionError{Status: status, Code: code, Message: message, Err: err}
}

// MaxMessageLen bounds error text persisted to the store.
const MaxMessageLen = 500

// Truncate shortens msg to MaxMessageLen runes.
func Truncate(msg string) string {
	if len(msg) <= MaxMessageLen {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= MaxMessageLen {
		return msg
	}
	return string(runes[:MaxMessageLen-3]) + "..."
}
