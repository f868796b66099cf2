// Package media is the boundary to media storage: it turns opaque media refs
// into durable, publicly fetchable URLs before dispatch. Uploads are not this
// system's job; refs are assumed durable by the time content is resolved.
package media

import (
	"context"
	"fmt"
	"net/url"
)

type Resolver interface {
	// ResolveURLs maps media refs to public URLs, preserving order.
	ResolveURLs(ctx context.Context, refs []string) ([]string, error)
}

// Passthrough treats refs as already-public http(s) URLs and only validates
// them. It is the default when no object-storage frontend is configured.
type Passthrough struct{}

func (Passthrough) ResolveURLs(_ context.Context, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		u, err := url.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("media ref %q: %w", r, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("media ref %q: scheme %q is not publicly fetchable", r, u.Scheme)
		}
		out = append(out, u.String())
	}
	return out, nil
}
