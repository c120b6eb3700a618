package jobs

import (
	"errors"
	"fmt"
)

// Common errors for the cloud job client.
var (
	// Client errors
	ErrNotConfigured = errors.New("cloud synthesis endpoint is not configured")
	ErrInvalidURL    = errors.New("invalid URL")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrDecoding      = errors.New("failed to decode server response")
	ErrInvalidLocale = errors.New("invalid locale")
	ErrEmptyText     = errors.New("text is required")

	// Job lifecycle errors
	ErrAlreadyPending = errors.New("a job is already pending for this content")
	ErrNotPending     = errors.New("no pending job for this content")
	ErrNoAudio        = errors.New("completed job has no audio URL")

	// Registry errors
	ErrRegistryClosed = errors.New("pending job registry is closed")
)

// ServerError is returned for non-2xx responses other than auth failures.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: status %d", e.Code)
	}
	return fmt.Sprintf("server error: status %d: %s", e.Code, e.Message)
}

// JobFailedError reports a job the server marked as failed.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}
