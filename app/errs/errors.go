// Package errs holds the error taxonomy shared by the orchestration packages.
package errs

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("invalid callback token")
)

// ValidationError means the input was never dispatched or stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DispatchError is a transport or HTTP failure talking to the worker.
type DispatchError struct {
	TaskID     int64
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch of task %d failed with HTTP %d: %v", e.TaskID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dispatch of task %d failed: %v", e.TaskID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// TimeoutError is recorded when a processing task stops reporting progress.
type TimeoutError struct {
	TaskID  int64
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %d timed out: no progress for %s (limit %s)",
		e.TaskID, e.Elapsed.Round(time.Second), e.Limit)
}

// PublicationError is surfaced to the caller instead of publishing with a wrong status.
type PublicationError struct {
	TaskID int64
	Reason string
	Err    error
}

func (e *PublicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("publication of task %d failed: %s: %v", e.TaskID, e.Reason, e.Err)
	}
	return fmt.Sprintf("publication of task %d failed: %s", e.TaskID, e.Reason)
}

func (e *PublicationError) Unwrap() error { return e.Err }

// IngestError aborts a feed run without recording history.
type IngestError struct {
	CampaignID string
	Err        error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("feed ingestion for campaign %s failed: %v", e.CampaignID, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsPublication(err error) bool {
	var p *PublicationError
	return errors.As(err, &p)
}
