package content

// Status is the lifecycle state of a post.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusReadyForReview     Status = "ready_for_review"
	StatusScheduled          Status = "scheduled"
	StatusPublishing         Status = "publishing"
	StatusPublished          Status = "published"
	StatusPartiallyPublished Status = "partially_published"
	StatusFailed             Status = "failed"
)

// transitions encodes the post state machine. Terminal states re-enter
// Publishing only through the explicit retry-failed action.
var transitions = map[Status][]Status{
	StatusDraft:              {StatusReadyForReview, StatusScheduled, StatusPublishing},
	StatusReadyForReview:     {StatusDraft, StatusScheduled, StatusPublishing},
	StatusScheduled:          {StatusDraft, StatusPublishing},
	StatusPublishing:         {StatusPublished, StatusPartiallyPublished, StatusFailed},
	StatusPublished:          {},
	StatusPartiallyPublished: {StatusPublishing},
	StatusFailed:             {StatusPublishing},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state of a dispatch.
func (s Status) Terminal() bool {
	switch s {
	case StatusPublished, StatusPartiallyPublished, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
