// Package tasks is the asynchronous task substrate: a broker holding task
// envelopes until their eligibility time, a pool of workers executing them,
// retry scheduling carried as explicit state on the envelope, group
// completion tracking and dead-letter reporting.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a registered task handler.
type Kind string

// Outcome is the terminal state of one task execution.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// Task is the envelope moved through the broker. Attempt is 1-based and
// counts executions, so Attempt-1 retries have been consumed.
type Task struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	GroupID    string          `json:"group_id,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	EligibleAt time.Time       `json:"eligible_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// NewID returns a fresh task or group handle.
func NewID() string {
	return uuid.NewString()
}

// NewTask builds an envelope eligible immediately.
func NewTask(kind Kind, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := time.Now().UTC()
	return Task{
		ID:         NewID(),
		Kind:       kind,
		Payload:    raw,
		Attempt:    1,
		EnqueuedAt: now,
		EligibleAt: now,
	}, nil
}

// Decode unmarshals the payload. Decode failures are permanent: retrying
// the same bytes cannot succeed.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}

var (
	// ErrUnknownKind is reported when no handler is registered for a task.
	ErrUnknownKind = errors.New("tasks: unknown task kind")
	// ErrUnknownGroup is returned when polling a group that was never registered.
	ErrUnknownGroup = errors.New("tasks: unknown group")
)

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
