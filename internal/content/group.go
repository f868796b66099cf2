package content

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// DispatchGroup is a maximal set of destinations sharing one effective
// content value. Grouping is a storage/transport optimization: the same text
// is persisted and shipped once per group, while dispatch itself still runs
// per destination.
type DispatchGroup struct {
	// Key is a deterministic structural fingerprint of Content. Equal content
	// always yields equal keys; unequal content yields unequal keys short of
	// an fnv64 collision over the canonical encoding, which the grouping
	// itself does not rely on (bucketing uses the full canonical form).
	Key          string
	Content      Content
	Destinations []DestinationID
}

// Group partitions the targeted destinations of a post into dispatch groups
// by effective-content identity.
//
// Every destination in targets appears in exactly one group. Group order
// follows the first destination encountered for each distinct content value,
// and destination order inside a group follows the input, so output is
// deterministic for a given input order. Empty targets yield an empty slice;
// rejecting that is the caller's concern.
func Group(p *Post, targets []DestinationID) ([]DispatchGroup, error) {
	var groups []DispatchGroup
	index := map[string]int{} // canonical content -> groups index

	for _, d := range targets {
		eff, err := Resolve(p, d)
		if err != nil {
			return nil, err
		}
		canon := eff.canonical()
		if i, ok := index[canon]; ok {
			groups[i].Destinations = append(groups[i].Destinations, d)
			continue
		}
		index[canon] = len(groups)
		groups = append(groups, DispatchGroup{
			Key:          eff.key(),
			Content:      eff,
			Destinations: []DestinationID{d},
		})
	}
	return groups, nil
}

// canonical renders content into a collision-free string form: each field is
// length-prefixed so ("a","bc") can never collide with ("ab","c"), and media
// refs are sorted so the media *set* is what matters.
func (c Content) canonical() string {
	var b strings.Builder
	writeLP := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	writeLP(c.Caption)
	writeLP(c.Hashtags)
	refs := append([]string(nil), c.MediaRefs...)
	sort.Strings(refs)
	b.WriteString(strconv.Itoa(len(refs)))
	b.WriteByte(';')
	for _, r := range refs {
		writeLP(r)
	}
	return b.String()
}

// key returns the compact fingerprint persisted on schedule records.
func (c Content) key() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.canonical()))
	return strconv.FormatUint(h.Sum64(), 16)
}

// GroupKey exposes the structural fingerprint for callers outside the
// package (schedule records store it for reconciliation).
func GroupKey(c Content) string { return c.key() }
