package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
	"crosspost/internal/registry"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

// fakePublisher scripts per-destination outcomes and records every call.
type fakePublisher struct {
	mu    sync.Mutex
	fail  map[content.DestinationID]dispatch.ErrorKind
	calls []publishCall
}

type publishCall struct {
	Dest    content.DestinationID
	Caption string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{fail: map[content.DestinationID]dispatch.ErrorKind{}}
}

func (f *fakePublisher) failWith(d content.DestinationID, kind dispatch.ErrorKind) {
	f.mu.Lock()
	f.fail[d] = kind
	f.mu.Unlock()
}

func (f *fakePublisher) succeed(d content.DestinationID) {
	f.mu.Lock()
	delete(f.fail, d)
	f.mu.Unlock()
}

func (f *fakePublisher) publish(_ context.Context, dest content.DestinationID, c content.Content) dispatch.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, publishCall{Dest: dest, Caption: c.Caption})
	kind, bad := f.fail[dest]
	f.mu.Unlock()
	if bad {
		return dispatch.Failure(dest, kind, fmt.Errorf("scripted %s", kind))
	}
	return dispatch.Success(dest, "ext-"+string(dest))
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePublisher) captionsSent() map[content.DestinationID]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[content.DestinationID]string, len(f.calls))
	for _, c := range f.calls {
		out[c.Dest] = c.Caption
	}
	return out
}

func newTestOrchestrator(pub *fakePublisher) (*Orchestrator, storage.Store) {
	store := storage.NewMemory()
	reg := registry.New(store, logx.Nop())
	disp := dispatch.New(dispatch.Config{CallTimeout: time.Second}, logx.Nop())
	orch := NewOrchestrator(store, reg, disp, pub.publish, nil, nil, logx.Nop())
	return orch, store
}

func draftPost(t *testing.T, orch *Orchestrator) *content.Post {
	t.Helper()
	p, err := orch.CreatePost(context.Background(), "t1",
		content.Content{Caption: "Hello", Hashtags: "#announce"},
		[]content.DestinationID{"x", "y", "z"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	return p
}

func remixX(t *testing.T, orch *Orchestrator, postID string) {
	t.Helper()
	_, err := orch.UpdatePost(context.Background(), postID, func(p *content.Post) error {
		hi := "Hi X"
		return content.SetVariant(p, "x", content.PartialContent{Caption: &hi})
	})
	if err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
}

func TestScheduleThenTriggerPartialSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	pub.failWith("x", dispatch.ErrRateLimited)
	orch, store := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	remixX(t, orch, p.ID)

	at := time.Now().Add(time.Hour)
	recs, err := orch.Schedule(ctx, p.ID, at)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	// Two content values, so two records: {x} and {y, z}.
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	got, err := orch.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got.Status != content.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", got.Status)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
		t.Fatalf("scheduled_at = %v, want %s", got.ScheduledAt, at)
	}

	if err := orch.RunDue(ctx, at.Add(time.Second)); err != nil {
		t.Fatalf("RunDue: %v", err)
	}

	got, err = orch.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got.Status != content.StatusPartiallyPublished {
		t.Fatalf("status = %s, want partially_published", got.Status)
	}

	sent := pub.captionsSent()
	if sent["x"] != "Hi X" || sent["y"] != "Hello" || sent["z"] != "Hello" {
		t.Fatalf("captions sent: %v", sent)
	}

	outs, err := store.ListOutcomes(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(outs) != 3 {
		t.Fatalf("persisted %d outcomes, want 3", len(outs))
	}
	for _, o := range outs {
		if o.DestinationID == "x" {
			if o.Succeeded || o.ErrorKind != dispatch.ErrRateLimited {
				t.Fatalf("x outcome: %+v", o)
			}
		} else if !o.Succeeded {
			t.Fatalf("%s outcome: %+v", o.DestinationID, o)
		}
	}
}

func TestRunDueIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	at := time.Now().Add(time.Hour)
	if _, err := orch.Schedule(ctx, p.ID, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := orch.RunDue(ctx, at.Add(time.Second)); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	first := pub.callCount()
	if first != 3 {
		t.Fatalf("first run made %d calls, want 3", first)
	}

	// Claimed records do not fire again.
	if err := orch.RunDue(ctx, at.Add(time.Minute)); err != nil {
		t.Fatalf("second RunDue: %v", err)
	}
	if pub.callCount() != first {
		t.Fatalf("second run re-dispatched: %d calls", pub.callCount())
	}
}

func TestTriggerUsesScheduleTimeSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	at := time.Now().Add(time.Hour)
	if _, err := orch.Schedule(ctx, p.ID, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Master edits while Scheduled are allowed but do not rewrite the
	// pending records' frozen content.
	if _, err := orch.UpdatePost(ctx, p.ID, func(p *content.Post) error {
		return content.SetMaster(p, content.Content{Caption: "edited later", Hashtags: "#announce"})
	}); err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}

	if err := orch.RunDue(ctx, at.Add(time.Second)); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	for d, caption := range pub.captionsSent() {
		if caption != "Hello" {
			t.Fatalf("%s got %q, want the schedule-time snapshot", d, caption)
		}
	}
}

func TestTriggerSkipsRetargetedDestinations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	at := time.Now().Add(time.Hour)
	if _, err := orch.Schedule(ctx, p.ID, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := orch.UpdatePost(ctx, p.ID, func(p *content.Post) error {
		content.Retarget(p, []content.DestinationID{"x", "y"})
		return nil
	}); err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}

	if err := orch.RunDue(ctx, at.Add(time.Second)); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	sent := pub.captionsSent()
	if _, leaked := sent["z"]; leaked {
		t.Fatal("untargeted destination still dispatched")
	}
	if len(sent) != 2 {
		t.Fatalf("dispatched to %v, want x and y only", sent)
	}
}

func TestCancelSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	at := time.Now().Add(time.Hour)
	if _, err := orch.Schedule(ctx, p.ID, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := orch.CancelSchedule(ctx, p.ID); err != nil {
		t.Fatalf("CancelSchedule: %v", err)
	}

	got, err := orch.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got.Status != content.StatusDraft || got.ScheduledAt != nil {
		t.Fatalf("post after cancel: status %s scheduled_at %v", got.Status, got.ScheduledAt)
	}

	if err := orch.RunDue(ctx, at.Add(time.Second)); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if pub.callCount() != 0 {
		t.Fatalf("cancelled schedule still dispatched %d calls", pub.callCount())
	}
}

func TestPublishNowSupersedesSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	at := time.Now().Add(time.Hour)
	if _, err := orch.Schedule(ctx, p.ID, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	res, err := orch.PublishNow(ctx, p.ID)
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if res.Status != content.StatusPublished || res.Summary.SucceededCount != 3 {
		t.Fatalf("result = %+v", res)
	}

	// The pending trigger must not fire a second round later.
	calls := pub.callCount()
	if err := orch.RunDue(ctx, at.Add(time.Second)); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if pub.callCount() != calls {
		t.Fatalf("superseded schedule still dispatched: %d -> %d calls", calls, pub.callCount())
	}
}

func TestPublishNowAllFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	pub.failWith("x", dispatch.ErrAuthExpired)
	pub.failWith("y", dispatch.ErrTimeout)
	pub.failWith("z", dispatch.ErrUnknown)
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	res, err := orch.PublishNow(ctx, p.ID)
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if res.Status != content.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Summary.FailedCount != 3 || len(res.Summary.FailedDestinations) != 3 {
		t.Fatalf("summary = %+v", res.Summary)
	}
}

func TestPublishNowNoTargets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p, err := orch.CreatePost(ctx, "t1", content.Content{Caption: "lonely"}, nil)
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if _, err := orch.PublishNow(ctx, p.ID); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestRetryFailedScopedToFailedDestinations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	pub.failWith("x", dispatch.ErrRateLimited)
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	res, err := orch.PublishNow(ctx, p.ID)
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if res.Status != content.StatusPartiallyPublished {
		t.Fatalf("status = %s, want partially_published", res.Status)
	}
	calls := pub.callCount()

	pub.succeed("x")
	res, err = orch.RetryFailed(ctx, p.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if res.Status != content.StatusPublished || res.Summary.SucceededCount != 1 {
		t.Fatalf("retry result = %+v", res)
	}
	if pub.callCount() != calls+1 {
		t.Fatalf("retry re-published to healthy destinations: %d extra calls", pub.callCount()-calls)
	}

	got, err := orch.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got.Status != content.StatusPublished {
		t.Fatalf("final status = %s, want published", got.Status)
	}
}

func TestRetryFailedNothingToRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	if _, err := orch.PublishNow(ctx, p.ID); err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if _, err := orch.RetryFailed(ctx, p.ID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable, got %v", err)
	}
}

func TestUpdatePostRejectedAfterPublish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	if _, err := orch.PublishNow(ctx, p.ID); err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	_, err := orch.UpdatePost(ctx, p.ID, func(p *content.Post) error {
		return content.SetMaster(p, content.Content{Caption: "too late"})
	})
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestScheduleRejectsTerminalPost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := newFakePublisher()
	orch, _ := newTestOrchestrator(pub)

	p := draftPost(t, orch)
	if _, err := orch.PublishNow(ctx, p.ID); err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if _, err := orch.Schedule(ctx, p.ID, time.Now().Add(time.Hour)); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}
