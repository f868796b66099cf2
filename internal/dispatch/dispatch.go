package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

var (
	ErrEmptyGroup    = errors.New("dispatch group has no destinations")
	ErrDuplicateDest = errors.New("destination appears in more than one group")
)

// Config controls the dispatcher.
type Config struct {
	// CallTimeout is the per-destination publish budget. A call still running
	// when it elapses is abandoned and recorded as ErrTimeout.
	CallTimeout time.Duration
	// RatePerSec throttles publish calls across the whole dispatcher.
	// Zero disables throttling. Platform-specific throttling lives with the
	// platform publishers.
	RatePerSec int
}

const defaultCallTimeout = 30 * time.Second

// Dispatcher fans one publish action out to every destination of a post's
// dispatch groups, concurrently and independently, and collects one Outcome
// per destination.
//
// The dispatcher never retries: retry policy belongs to the caller, which
// knows the ErrorKind taxonomy and the platform.
type Dispatcher struct {
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{cfg: cfg, log: log}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return d
}

// Dispatch runs one publish call per destination across all groups.
//
// Guarantees:
//   - every destination produces exactly one Outcome, failures included;
//   - no call blocks, cancels or delays another; the total wall time is the
//     max of individual call latencies (capped by CallTimeout), not the sum;
//   - a hung call is charged ErrTimeout after its budget and abandoned (the
//     platform call itself is not assumed cancellable).
//
// Only malformed input (empty group, duplicate destination) errors
// synchronously before any call starts.
func (d *Dispatcher) Dispatch(ctx context.Context, groups []content.DispatchGroup, publish PublishFunc) ([]Outcome, error) {
	type call struct {
		dest content.DestinationID
		c    content.Content
	}
	var calls []call
	seen := map[content.DestinationID]struct{}{}
	for _, g := range groups {
		if len(g.Destinations) == 0 {
			return nil, fmt.Errorf("group %s: %w", g.Key, ErrEmptyGroup)
		}
		for _, dest := range g.Destinations {
			if _, dup := seen[dest]; dup {
				return nil, fmt.Errorf("%s: %w", dest, ErrDuplicateDest)
			}
			seen[dest] = struct{}{}
			calls = append(calls, call{dest: dest, c: g.Content})
		}
	}

	start := time.Now()
	outcomes := make([]Outcome, len(calls))
	var wg sync.WaitGroup
	for i, cl := range calls {
		wg.Add(1)
		go func(slot int, cl call) {
			defer wg.Done()
			outcomes[slot] = d.callOne(ctx, cl.dest, cl.c, publish)
		}(i, cl)
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded {
			failed++
		}
	}
	fields := []logx.Field{
		logx.Int("destinations", len(calls)),
		logx.Int("groups", len(groups)),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		d.log.Warn("dispatch finished with failures", fields...)
	} else {
		d.log.Info("dispatch finished", fields...)
	}
	return outcomes, nil
}

// callOne owns a single destination's outcome slot. The publish call runs in
// its own goroutine with a buffered result channel so an abandoned call can
// still complete and exit.
func (d *Dispatcher) callOne(ctx context.Context, dest content.DestinationID, c content.Content, publish PublishFunc) Outcome {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Failure(dest, ErrUnknown, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	resCh := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- Failure(dest, ErrUnknown, fmt.Errorf("publish panic: %v", r))
			}
		}()
		resCh <- publish(callCtx, dest, c)
	}()

	timer := time.NewTimer(d.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case o := <-resCh:
		if o.DestinationID == "" {
			o.DestinationID = dest
		}
		if o.AttemptedAt.IsZero() {
			o.AttemptedAt = time.Now()
		}
		return o
	case <-timer.C:
		d.log.Warn("publish call exceeded budget, abandoning",
			logx.String("destination", string(dest)),
			logx.Duration("budget", d.cfg.CallTimeout))
		return Failure(dest, ErrTimeout, fmt.Errorf("publish exceeded %s budget", d.cfg.CallTimeout))
	case <-ctx.Done():
		return Failure(dest, ErrUnknown, ctx.Err())
	}
}
