// Package platforms holds the per-platform publish integrations and the
// registry that resolves a destination to the publisher for its platform.
//
// Each integration is small on purpose: credentials in, one synchronous
// publish call out, SDK errors mapped onto the shared ErrorKind taxonomy.
package platforms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
	"crosspost/internal/media"
	logx "crosspost/pkg/logx"
)

// Publisher is one platform integration.
type Publisher interface {
	Kind() content.PlatformKind
	// Publish posts the content to one destination account and returns the
	// platform's id for the created post. Errors should be *Error so the
	// outcome carries a useful kind.
	Publish(ctx context.Context, dest content.Destination, c content.Content) (externalID string, err error)
}

// Directory is the read-only source of connected destination accounts.
// Ownership and credential linking live outside this system.
type Directory interface {
	Destination(ctx context.Context, id content.DestinationID) (content.Destination, error)
}

// Error carries the taxonomy kind alongside the platform error.
type Error struct {
	Kind dispatch.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a classified platform error.
func Errf(kind dispatch.ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify extracts the taxonomy kind from an error.
func Classify(err error) dispatch.ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dispatch.ErrTimeout
	}
	return dispatch.ErrUnknown
}

// Registry maps platform kinds to publishers and turns the whole thing into
// one dispatch.PublishFunc. Per-platform rate limiters keep one throttled
// platform from consuming another's budget.
type Registry struct {
	mu       sync.RWMutex
	pubs     map[content.PlatformKind]Publisher
	limiters map[content.PlatformKind]*rate.Limiter

	dir   Directory
	media media.Resolver
	log   logx.Logger
}

func NewRegistry(dir Directory, resolver media.Resolver, log logx.Logger) *Registry {
	if resolver == nil {
		resolver = media.Passthrough{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		pubs:     map[content.PlatformKind]Publisher{},
		limiters: map[content.PlatformKind]*rate.Limiter{},
		dir:      dir,
		media:    resolver,
		log:      log,
	}
}

// Register installs a publisher. ratePerSec <= 0 disables throttling for the
// platform. Registering the same kind twice replaces the previous publisher.
func (r *Registry) Register(p Publisher, ratePerSec int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs[p.Kind()] = p
	if ratePerSec > 0 {
		r.limiters[p.Kind()] = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	} else {
		delete(r.limiters, p.Kind())
	}
}

// Kinds returns the registered platform kinds.
func (r *Registry) Kinds() []content.PlatformKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]content.PlatformKind, 0, len(r.pubs))
	for k := range r.pubs {
		out = append(out, k)
	}
	return out
}

// PublishFunc adapts the registry to the dispatcher's DI boundary. Every
// failure becomes a classified outcome; nothing escapes as an error.
func (r *Registry) PublishFunc() dispatch.PublishFunc {
	return func(ctx context.Context, destID content.DestinationID, c content.Content) dispatch.Outcome {
		dest, err := r.dir.Destination(ctx, destID)
		if err != nil {
			return dispatch.Failure(destID, dispatch.ErrUnknown, fmt.Errorf("directory lookup: %w", err))
		}

		r.mu.RLock()
		pub, ok := r.pubs[dest.Platform]
		lim := r.limiters[dest.Platform]
		r.mu.RUnlock()
		if !ok {
			return dispatch.Failure(destID, dispatch.ErrUnknown, fmt.Errorf("no publisher for platform %q", dest.Platform))
		}

		urls, err := r.media.ResolveURLs(ctx, c.MediaRefs)
		if err != nil {
			return dispatch.Failure(destID, dispatch.ErrContentRejected, fmt.Errorf("resolve media: %w", err))
		}
		c.MediaRefs = urls

		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return dispatch.Failure(destID, dispatch.ErrTimeout, err)
			}
		}

		extID, err := pub.Publish(ctx, dest, c)
		if err != nil {
			kind := Classify(err)
			r.log.Warn("publish failed",
				logx.String("destination", string(destID)),
				logx.String("platform", string(dest.Platform)),
				logx.String("kind", string(kind)),
				logx.Err(err))
			return dispatch.Failure(destID, kind, err)
		}
		return dispatch.Success(destID, extID)
	}
}

// RenderText joins caption and hashtags the way every shipped integration
// posts them: caption first, hashtags on their own trailing line.
func RenderText(c content.Content) string {
	if c.Hashtags == "" {
		return c.Caption
	}
	if c.Caption == "" {
		return c.Hashtags
	}
	return c.Caption + "\n\n" + c.Hashtags
}
