package dispatch

import (
	"context"
	"time"

	"crosspost/internal/content"
)

// ErrorKind classifies a failed publish attempt. The split matters because
// retry-worthiness differs: callers decide retry policy from the kind, never
// from the raw error text.
type ErrorKind string

const (
	// ErrAuthExpired: the destination's credential needs re-linking. Not
	// retryable without external action.
	ErrAuthExpired ErrorKind = "auth_expired"
	// ErrRateLimited: platform throttling. Retryable after backoff.
	ErrRateLimited ErrorKind = "rate_limited"
	// ErrTimeout: the call exceeded its budget. Retryable.
	ErrTimeout ErrorKind = "timeout"
	// ErrContentRejected: platform validation failure (media format, length).
	// Not retryable without a content change.
	ErrContentRejected ErrorKind = "content_rejected"
	// ErrUnknown: unclassified transport/platform error. Retryable with caution.
	ErrUnknown ErrorKind = "unknown"
)

// Retryable reports whether a retry could plausibly succeed without external
// action or a content change.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrRateLimited, ErrTimeout, ErrUnknown:
		return true
	}
	return false
}

// Outcome is the result of one publish attempt for one destination.
type Outcome struct {
	DestinationID  content.DestinationID
	Succeeded      bool
	ErrorKind      ErrorKind
	Error          string
	ExternalPostID string
	AttemptedAt    time.Time
}

// Success builds a successful outcome.
func Success(d content.DestinationID, externalID string) Outcome {
	return Outcome{DestinationID: d, Succeeded: true, ExternalPostID: externalID, AttemptedAt: time.Now()}
}

// Failure builds a failed outcome. A zero kind is recorded as ErrUnknown.
func Failure(d content.DestinationID, kind ErrorKind, err error) Outcome {
	if kind == "" {
		kind = ErrUnknown
	}
	o := Outcome{DestinationID: d, Succeeded: false, ErrorKind: kind, AttemptedAt: time.Now()}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// PublishFunc is the dependency-injection boundary to the per-platform
// integrations: one synchronous call publishing effective content to one
// destination. Implementations report failure through the returned Outcome,
// never by panicking.
type PublishFunc func(ctx context.Context, dest content.DestinationID, c content.Content) Outcome
