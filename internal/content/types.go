package content

import (
	"time"
)

// DestinationID identifies one connected external account.
type DestinationID string

// PlatformKind names the external platform a destination belongs to.
// The set is open: integrations register themselves by kind.
type PlatformKind string

const (
	PlatformTelegram PlatformKind = "telegram"
	PlatformSlack    PlatformKind = "slack"
	PlatformDiscord  PlatformKind = "discord"
	PlatformWebhook  PlatformKind = "webhook"
)

// Destination is a connected external account authorized to receive posts.
// Destinations are owned by exactly one tenant and are read-only to this
// package; they come from the directory boundary.
type Destination struct {
	ID          DestinationID
	Platform    PlatformKind
	DisplayName string
	TenantID    string
}

// Content is the full content shape for one publish: what actually goes out
// to a platform.
type Content struct {
	Caption   string
	Hashtags  string
	MediaRefs []string
}

// PartialContent is a per-destination override ("remix") of a post's master
// content. Nil pointer fields inherit from master. MediaRefs inherit as a
// whole unit: nil means "use the master media", an empty non-nil slice means
// "this remix has no media".
type PartialContent struct {
	Caption   *string
	Hashtags  *string
	MediaRefs []string
}

// IsZero reports whether the override overrides nothing.
func (p PartialContent) IsZero() bool {
	return p.Caption == nil && p.Hashtags == nil && p.MediaRefs == nil
}

// Post is the logical unit of content: one master version plus zero or more
// per-destination remixes.
//
// Variants may contain entries for destinations no longer in Targets (kept so
// a restored destination gets its old remix back), but those entries are never
// resolved or dispatched while the destination is untargeted.
type Post struct {
	ID          string
	TenantID    string
	Master      Content
	Variants    map[DestinationID]PartialContent
	Targets     []DestinationID
	Status      Status
	ScheduledAt *time.Time

	// Version guards status writes: it increments on every save and a write
	// carrying a stale version is rejected by the store.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Targeted reports whether d is in the post's current target set.
func (p *Post) Targeted(d DestinationID) bool {
	for _, t := range p.Targets {
		if t == d {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, safe to hand across goroutines.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Master.MediaRefs = append([]string(nil), p.Master.MediaRefs...)
	cp.Targets = append([]DestinationID(nil), p.Targets...)
	if p.ScheduledAt != nil {
		at := *p.ScheduledAt
		cp.ScheduledAt = &at
	}
	if p.Variants != nil {
		cp.Variants = make(map[DestinationID]PartialContent, len(p.Variants))
		for k, v := range p.Variants {
			vv := v
			if v.Caption != nil {
				c := *v.Caption
				vv.Caption = &c
			}
			if v.Hashtags != nil {
				h := *v.Hashtags
				vv.Hashtags = &h
			}
			if v.MediaRefs != nil {
				vv.MediaRefs = append([]string(nil), v.MediaRefs...)
			}
			cp.Variants[k] = vv
		}
	}
	return &cp
}

// Equal reports structural equality of two content values: caption, hashtags
// and the media set (order-insensitive) must all match.
func (c Content) Equal(o Content) bool {
	return c.key() == o.key()
}
