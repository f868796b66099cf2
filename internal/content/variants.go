package content

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotTargeted is returned when content is resolved for a destination
	// outside the post's current target set. Stale variant entries may linger
	// for restore, but they must never flow toward dispatch.
	ErrNotTargeted = errors.New("destination is not targeted by this post")

	ErrEmptyVariant = errors.New("variant overrides nothing")
)

// Resolve computes the effective content for one (post, destination) pair:
// the master content with the destination's remix applied on top. Every field
// of the result is defined; fields the remix leaves unset inherit from master.
// Media inherits as a whole unit, not per-ref.
func Resolve(p *Post, d DestinationID) (Content, error) {
	if !p.Targeted(d) {
		return Content{}, fmt.Errorf("resolve %s for %s: %w", p.ID, d, ErrNotTargeted)
	}
	eff := Content{
		Caption:   p.Master.Caption,
		Hashtags:  p.Master.Hashtags,
		MediaRefs: append([]string(nil), p.Master.MediaRefs...),
	}
	v, ok := p.Variants[d]
	if !ok {
		return eff, nil
	}
	if v.Caption != nil {
		eff.Caption = *v.Caption
	}
	if v.Hashtags != nil {
		eff.Hashtags = *v.Hashtags
	}
	if v.MediaRefs != nil {
		eff.MediaRefs = append([]string(nil), v.MediaRefs...)
	}
	return eff, nil
}

// SetVariant installs or replaces the remix for a destination. Overrides are
// sticky: later edits to the master do not touch fields the remix overrides.
// The destination must currently be targeted; an override that overrides
// nothing is rejected so Variants never accumulates no-op entries.
func SetVariant(p *Post, d DestinationID, v PartialContent) error {
	if !p.Targeted(d) {
		return fmt.Errorf("set variant %s for %s: %w", p.ID, d, ErrNotTargeted)
	}
	if v.IsZero() {
		return ErrEmptyVariant
	}
	if v.MediaRefs != nil {
		if err := validateMediaRefs(v.MediaRefs); err != nil {
			return err
		}
	}
	if p.Variants == nil {
		p.Variants = map[DestinationID]PartialContent{}
	}
	p.Variants[d] = v
	return nil
}

// ResetVariant removes the remix for a destination, reverting it to inherit
// from the current master. Resetting a destination with no remix is a no-op.
func ResetVariant(p *Post, d DestinationID) {
	delete(p.Variants, d)
}

// SetMaster replaces the master content. Destinations with no remix pick the
// change up on the next Resolve; existing remixes keep their overridden fields.
func SetMaster(p *Post, c Content) error {
	if err := validateMediaRefs(c.MediaRefs); err != nil {
		return err
	}
	p.Master = c
	return nil
}

// Retarget replaces the post's target set. Variant entries for removed
// destinations are kept so re-adding the destination restores its remix.
func Retarget(p *Post, targets []DestinationID) {
	seen := make(map[DestinationID]struct{}, len(targets))
	out := targets[:0]
	for _, t := range targets {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	p.Targets = out
}

func validateMediaRefs(refs []string) error {
	for _, r := range refs {
		if strings.TrimSpace(r) == "" {
			return errors.New("media ref must not be blank")
		}
	}
	return nil
}
