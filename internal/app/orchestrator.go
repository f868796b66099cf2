package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
	"crosspost/internal/eventbus"
	"crosspost/internal/observability"
	"crosspost/internal/registry"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

var (
	ErrNoTargets     = errors.New("post has no target destinations")
	ErrBadTransition = errors.New("illegal status transition")
	ErrNotRetryable  = errors.New("post has no failed destinations to retry")
)

// Result is what any presentation layer gets back from a publish: the post's
// new lifecycle status plus the per-destination summary. Partial success is
// never collapsed into a boolean.
type Result struct {
	Status  content.Status
	Summary dispatch.Summary
}

// Orchestrator ties the core together: grouping, scheduling, dispatch and
// aggregation, with per-post write serialization on top of the store's
// optimistic versioning.
type Orchestrator struct {
	store   storage.Store
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	publish dispatch.PublishFunc
	bus     eventbus.Bus
	metrics *observability.Metrics
	log     logx.Logger
	locks   *postLocks
	now     func() time.Time
}

func NewOrchestrator(store storage.Store, reg *registry.Registry, disp *dispatch.Dispatcher,
	publish dispatch.PublishFunc, bus eventbus.Bus, metrics *observability.Metrics, log logx.Logger) *Orchestrator {
	if bus == nil {
		bus = eventbus.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		store:   store,
		reg:     reg,
		disp:    disp,
		publish: publish,
		bus:     bus,
		metrics: metrics,
		log:     log,
		locks:   newPostLocks(),
		now:     time.Now,
	}
}

// Bus exposes the lifecycle event stream to embedders.
func (o *Orchestrator) Bus() eventbus.Bus { return o.bus }

// CreatePost persists a new draft.
func (o *Orchestrator) CreatePost(ctx context.Context, tenantID string, master content.Content, targets []content.DestinationID) (*content.Post, error) {
	p := &content.Post{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Status:   content.StatusDraft,
	}
	if err := content.SetMaster(p, master); err != nil {
		return nil, err
	}
	content.Retarget(p, targets)
	if err := o.store.SavePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePost applies an authoring mutation (master edits, remixes,
// retargeting) under the post lock. Edits are rejected while a dispatch is in
// flight or after a terminal status; edits while Scheduled are fine because
// pending records carry their own snapshot.
func (o *Orchestrator) UpdatePost(ctx context.Context, postID string, mutate func(*content.Post) error) (*content.Post, error) {
	release := o.locks.acquire(postID)
	defer release()

	p, err := o.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p.Status == content.StatusPublishing || p.Status.Terminal() {
		return nil, fmt.Errorf("post %s is %s: %w", postID, p.Status, ErrBadTransition)
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := o.store.SavePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPost returns the current post.
func (o *Orchestrator) GetPost(ctx context.Context, postID string) (*content.Post, error) {
	return o.store.GetPost(ctx, postID)
}

// PublishNow groups the post's targets and dispatches immediately.
func (o *Orchestrator) PublishNow(ctx context.Context, postID string) (*Result, error) {
	release := o.locks.acquire(postID)
	defer release()

	p, err := o.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(p.Targets) == 0 {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNoTargets)
	}
	groups, err := content.Group(p, p.Targets)
	if err != nil {
		return nil, err
	}
	if p.Status == content.StatusScheduled {
		// Publishing now supersedes the pending trigger.
		if _, err := o.reg.CancelForPost(ctx, postID); err != nil {
			return nil, err
		}
	}
	if err := o.transition(ctx, p, content.StatusPublishing); err != nil {
		return nil, err
	}
	return o.dispatchAndSettle(ctx, p, groups)
}

// Schedule groups the post's targets and persists one schedule record per
// group, due at the given time, then moves the post to Scheduled.
func (o *Orchestrator) Schedule(ctx context.Context, postID string, at time.Time) ([]storage.ScheduleRecord, error) {
	release := o.locks.acquire(postID)
	defer release()

	p, err := o.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(p.Targets) == 0 {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNoTargets)
	}
	if !content.CanTransition(p.Status, content.StatusScheduled) {
		return nil, fmt.Errorf("post %s: %s -> %s: %w", postID, p.Status, content.StatusScheduled, ErrBadTransition)
	}
	groups, err := content.Group(p, p.Targets)
	if err != nil {
		return nil, err
	}
	recs, err := o.reg.Schedule(ctx, p, groups, at)
	if err != nil {
		return nil, err
	}

	p.Status = content.StatusScheduled
	p.ScheduledAt = &at
	if err := o.store.SavePost(ctx, p); err != nil {
		return nil, err
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.TypePostScheduled, PostID: p.ID, Data: len(recs)})
	return recs, nil
}

// CancelSchedule withdraws a scheduled post back to draft before its trigger
// fires. Pending records are cancelled; already-claimed records are past the
// point of no return and stay untouched.
func (o *Orchestrator) CancelSchedule(ctx context.Context, postID string) error {
	release := o.locks.acquire(postID)
	defer release()

	p, err := o.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if !content.CanTransition(p.Status, content.StatusDraft) {
		return fmt.Errorf("post %s: %s -> %s: %w", postID, p.Status, content.StatusDraft, ErrBadTransition)
	}
	if _, err := o.reg.CancelForPost(ctx, postID); err != nil {
		return err
	}
	p.Status = content.StatusDraft
	p.ScheduledAt = nil
	if err := o.store.SavePost(ctx, p); err != nil {
		return err
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleCancel, PostID: p.ID})
	return nil
}

// RetryFailed re-enters Publishing scoped to the destinations whose latest
// outcome failed and which the post still targets.
func (o *Orchestrator) RetryFailed(ctx context.Context, postID string) (*Result, error) {
	release := o.locks.acquire(postID)
	defer release()

	p, err := o.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	failed, err := o.failedDestinations(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNotRetryable)
	}
	groups, err := content.Group(p, failed)
	if err != nil {
		return nil, err
	}
	if err := o.transition(ctx, p, content.StatusPublishing); err != nil {
		return nil, err
	}
	return o.dispatchAndSettle(ctx, p, groups)
}

// failedDestinations reads the latest outcome per destination and keeps the
// failed, still-targeted ones, in target order.
func (o *Orchestrator) failedDestinations(ctx context.Context, p *content.Post) ([]content.DestinationID, error) {
	outs, err := o.store.ListOutcomes(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	latest := map[content.DestinationID]dispatch.Outcome{}
	for _, oc := range outs {
		latest[oc.DestinationID] = oc // list is oldest-first; last write wins
	}
	var failed []content.DestinationID
	for _, d := range p.Targets {
		if oc, ok := latest[d]; ok && !oc.Succeeded {
			failed = append(failed, d)
		}
	}
	return failed, nil
}

// RunDue is the poller callback: claim and dispatch everything due at now.
// Records are grouped by post so one post due across several records gets a
// single dispatch and a single aggregate status.
func (o *Orchestrator) RunDue(ctx context.Context, now time.Time) error {
	due, err := o.reg.DueRecords(ctx, now)
	if err != nil {
		return err
	}
	o.metrics.SetPendingRecords(len(due))
	if len(due) == 0 {
		return nil
	}

	byPost := map[string][]storage.ScheduleRecord{}
	var order []string
	for _, rec := range due {
		if _, ok := byPost[rec.PostID]; !ok {
			order = append(order, rec.PostID)
		}
		byPost[rec.PostID] = append(byPost[rec.PostID], rec)
	}

	var firstErr error
	for _, postID := range order {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.triggerPost(ctx, postID, byPost[postID], now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (o *Orchestrator) triggerPost(ctx context.Context, postID string, recs []storage.ScheduleRecord, now time.Time) error {
	release := o.locks.acquire(postID)
	defer release()

	// Claim before dispatch. Records another poller got to first drop out.
	var claimed []storage.ScheduleRecord
	for _, rec := range recs {
		ok, err := o.reg.MarkTriggered(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("claim record %s: %w", rec.ID, err)
		}
		if ok {
			o.metrics.ObserveTriggerLag(now.Sub(rec.RunAt).Seconds())
			claimed = append(claimed, rec)
		}
	}
	if len(claimed) == 0 {
		return nil
	}

	p, err := o.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Post deleted after scheduling; nothing to publish to.
			o.log.Warn("dropping claimed records for missing post", logx.String("post", postID))
			return nil
		}
		return err
	}

	// Dispatch from the records' snapshots, not the live post: content was
	// frozen at schedule time. Destinations no longer targeted are skipped.
	var groups []content.DispatchGroup
	for _, rec := range claimed {
		g := content.DispatchGroup{Key: rec.GroupKey, Content: rec.Content}
		for _, d := range rec.Destinations {
			if p.Targeted(d) {
				g.Destinations = append(g.Destinations, d)
			} else {
				o.log.Info("skipping untargeted destination from schedule record",
					logx.String("post", postID), logx.String("destination", string(d)))
			}
		}
		if len(g.Destinations) > 0 {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		o.log.Warn("claimed records left nothing to dispatch", logx.String("post", postID))
		return nil
	}

	if err := o.transition(ctx, p, content.StatusPublishing); err != nil {
		return err
	}
	_, err = o.dispatchAndSettle(ctx, p, groups)
	return err
}

// transition moves the post (held under its lock) and persists immediately so
// the Publishing state is visible to observers.
func (o *Orchestrator) transition(ctx context.Context, p *content.Post, to content.Status) error {
	if !content.CanTransition(p.Status, to) {
		return fmt.Errorf("post %s: %s -> %s: %w", p.ID, p.Status, to, ErrBadTransition)
	}
	from := p.Status
	p.Status = to
	if to != content.StatusScheduled {
		p.ScheduledAt = nil
	}
	if err := o.store.SavePost(ctx, p); err != nil {
		p.Status = from
		return err
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChanged, PostID: p.ID, Data: string(to)})
	return nil
}

// dispatchAndSettle fans out, aggregates and persists the terminal status.
// Outcomes for a post that vanished or changed hands mid-dispatch are
// discarded: external posts cannot be unpublished, but a stale status must
// never overwrite a newer one.
func (o *Orchestrator) dispatchAndSettle(ctx context.Context, p *content.Post, groups []content.DispatchGroup) (*Result, error) {
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchStarted, PostID: p.ID, Data: len(groups)})
	start := o.now()

	outcomes, err := o.disp.Dispatch(ctx, groups, o.publish)
	if err != nil {
		// Malformed groups are a programming error; roll the status back so
		// the post isn't stranded in Publishing.
		p.Status = content.StatusFailed
		_ = o.store.SavePost(ctx, p)
		return nil, err
	}
	for _, oc := range outcomes {
		o.metrics.ObserveOutcome(oc)
	}

	newStatus, summary, err := dispatch.Aggregate(outcomes)
	if err != nil {
		return nil, err
	}

	if err := o.store.AppendOutcomes(ctx, p.ID, outcomes); err != nil {
		o.log.Error("failed persisting outcomes", logx.String("post", p.ID), logx.Err(err))
	}

	p.Status = newStatus
	if err := o.store.SavePost(ctx, p); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrNotFound) {
			o.log.Warn("discarding dispatch result, post changed or vanished mid-dispatch",
				logx.String("post", p.ID), logx.Err(err))
			return &Result{Status: newStatus, Summary: summary}, nil
		}
		return nil, err
	}

	o.metrics.ObserveDispatch(newStatus)
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchFinished, PostID: p.ID, Data: summary})
	o.log.Info("dispatch settled",
		logx.String("post", p.ID),
		logx.String("status", string(newStatus)),
		logx.Int("succeeded", summary.SucceededCount),
		logx.Int("failed", summary.FailedCount),
		logx.Duration("dur", o.now().Sub(start)))
	return &Result{Status: newStatus, Summary: summary}, nil
}
