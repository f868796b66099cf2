package dispatch

import (
	"errors"

	"crosspost/internal/content"
)

var ErrNoOutcomes = errors.New("aggregate requires at least one outcome")

// FailedDestination pairs a destination with why it failed, so a retry can be
// scoped precisely.
type FailedDestination struct {
	DestinationID content.DestinationID
	ErrorKind     ErrorKind
}

// Summary is the user-facing reduction of a dispatch. It is deliberately not
// a boolean: partial success is a first-class, actionable result.
type Summary struct {
	SucceededCount     int
	FailedCount        int
	FailedDestinations []FailedDestination
}

// AllSucceeded reports whether every destination published.
func (s Summary) AllSucceeded() bool { return s.FailedCount == 0 }

// Aggregate reduces per-destination outcomes into the post's next lifecycle
// status and a summary. It is pure: persisting the status is the caller's job.
//
// All succeeded -> Published; all failed -> Failed; mixed -> PartiallyPublished.
func Aggregate(outcomes []Outcome) (content.Status, Summary, error) {
	if len(outcomes) == 0 {
		return "", Summary{}, ErrNoOutcomes
	}
	var sum Summary
	for _, o := range outcomes {
		if o.Succeeded {
			sum.SucceededCount++
			continue
		}
		sum.FailedCount++
		sum.FailedDestinations = append(sum.FailedDestinations, FailedDestination{
			DestinationID: o.DestinationID,
			ErrorKind:     o.ErrorKind,
		})
	}

	switch {
	case sum.FailedCount == 0:
		return content.StatusPublished, sum, nil
	case sum.SucceededCount == 0:
		return content.StatusFailed, sum, nil
	default:
		return content.StatusPartiallyPublished, sum, nil
	}
}
