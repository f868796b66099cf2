package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

func groupsOf(dests ...content.DestinationID) []content.DispatchGroup {
	return []content.DispatchGroup{{
		Key:          "k1",
		Content:      content.Content{Caption: "hello"},
		Destinations: dests,
	}}
}

func TestDispatchOneOutcomePerDestination(t *testing.T) {
	t.Parallel()
	d := New(Config{CallTimeout: time.Second}, logx.Nop())

	publish := func(_ context.Context, dest content.DestinationID, _ content.Content) Outcome {
		if dest == "bad" {
			return Failure(dest, ErrContentRejected, errors.New("too long"))
		}
		return Success(dest, "ext-"+string(dest))
	}

	groups := []content.DispatchGroup{
		{Key: "k1", Content: content.Content{Caption: "a"}, Destinations: []content.DestinationID{"one", "bad"}},
		{Key: "k2", Content: content.Content{Caption: "b"}, Destinations: []content.DestinationID{"two"}},
	}
	outcomes, err := d.Dispatch(context.Background(), groups, publish)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}

	byDest := map[content.DestinationID]Outcome{}
	for _, o := range outcomes {
		byDest[o.DestinationID] = o
	}
	if !byDest["one"].Succeeded || !byDest["two"].Succeeded {
		t.Fatalf("healthy destinations should succeed: %+v", byDest)
	}
	if byDest["bad"].Succeeded || byDest["bad"].ErrorKind != ErrContentRejected {
		t.Fatalf("bad destination outcome: %+v", byDest["bad"])
	}
}

func TestDispatchHungCallDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	const budget = 100 * time.Millisecond
	d := New(Config{CallTimeout: budget}, logx.Nop())

	release := make(chan struct{})
	defer close(release)
	publish := func(_ context.Context, dest content.DestinationID, _ content.Content) Outcome {
		if dest == "hung" {
			<-release // never within the budget
			return Success(dest, "late")
		}
		return Success(dest, "ext")
	}

	start := time.Now()
	outcomes, err := d.Dispatch(context.Background(), groupsOf("fast1", "hung", "fast2"), publish)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// Total wall time is the max of call latencies, not the sum: one hung
	// call costs its budget and nothing more.
	if elapsed > 5*budget {
		t.Fatalf("dispatch took %s, budget is %s", elapsed, budget)
	}

	byDest := map[content.DestinationID]Outcome{}
	for _, o := range outcomes {
		byDest[o.DestinationID] = o
	}
	if !byDest["fast1"].Succeeded || !byDest["fast2"].Succeeded {
		t.Fatalf("fast destinations affected by hung call: %+v", byDest)
	}
	hung := byDest["hung"]
	if hung.Succeeded || hung.ErrorKind != ErrTimeout {
		t.Fatalf("hung destination outcome: %+v", hung)
	}
}

func TestDispatchFailureIsolated(t *testing.T) {
	t.Parallel()
	d := New(Config{CallTimeout: time.Second}, logx.Nop())

	var calls atomic.Int32
	publish := func(_ context.Context, dest content.DestinationID, _ content.Content) Outcome {
		calls.Add(1)
		if dest == "down" {
			return Failure(dest, ErrRateLimited, errors.New("429"))
		}
		return Success(dest, "ext")
	}

	outcomes, err := d.Dispatch(context.Background(), groupsOf("down", "up1", "up2", "up3"), publish)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("made %d calls, want 4", got)
	}
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded {
			succeeded++
		}
	}
	if succeeded != 3 {
		t.Fatalf("%d succeeded, want 3", succeeded)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	t.Parallel()
	d := New(Config{CallTimeout: time.Second}, logx.Nop())

	publish := func(_ context.Context, dest content.DestinationID, _ content.Content) Outcome {
		if dest == "boom" {
			panic("integration bug")
		}
		return Success(dest, "ext")
	}

	outcomes, err := d.Dispatch(context.Background(), groupsOf("boom", "ok"), publish)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	byDest := map[content.DestinationID]Outcome{}
	for _, o := range outcomes {
		byDest[o.DestinationID] = o
	}
	if byDest["boom"].Succeeded || byDest["boom"].ErrorKind != ErrUnknown {
		t.Fatalf("panic outcome: %+v", byDest["boom"])
	}
	if !byDest["ok"].Succeeded {
		t.Fatalf("healthy destination affected by panic: %+v", byDest["ok"])
	}
}

func TestDispatchRejectsMalformedInput(t *testing.T) {
	t.Parallel()
	d := New(Config{}, logx.Nop())
	publish := func(_ context.Context, dest content.DestinationID, _ content.Content) Outcome {
		t.Error("publish must not run for malformed input")
		return Success(dest, "")
	}

	empty := []content.DispatchGroup{{Key: "k", Content: content.Content{Caption: "c"}}}
	if _, err := d.Dispatch(context.Background(), empty, publish); !errors.Is(err, ErrEmptyGroup) {
		t.Fatalf("expected ErrEmptyGroup, got %v", err)
	}

	dup := []content.DispatchGroup{
		{Key: "k1", Content: content.Content{Caption: "a"}, Destinations: []content.DestinationID{"x"}},
		{Key: "k2", Content: content.Content{Caption: "b"}, Destinations: []content.DestinationID{"x"}},
	}
	if _, err := d.Dispatch(context.Background(), dup, publish); !errors.Is(err, ErrDuplicateDest) {
		t.Fatalf("expected ErrDuplicateDest, got %v", err)
	}
}

func TestDispatchPassesEffectiveContent(t *testing.T) {
	t.Parallel()
	d := New(Config{CallTimeout: time.Second}, logx.Nop())

	var mu sync.Mutex
	got := make(map[content.DestinationID]string, 3)
	publish := func(_ context.Context, dest content.DestinationID, c content.Content) Outcome {
		mu.Lock()
		got[dest] = c.Caption
		mu.Unlock()
		return Success(dest, "ext")
	}

	groups := []content.DispatchGroup{
		{Key: "k1", Content: content.Content{Caption: "Hi X"}, Destinations: []content.DestinationID{"x"}},
		{Key: "k2", Content: content.Content{Caption: "Hello"}, Destinations: []content.DestinationID{"y", "z"}},
	}
	if _, err := d.Dispatch(context.Background(), groups, publish); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got["x"] != "Hi X" || got["y"] != "Hello" || got["z"] != "Hello" {
		t.Fatalf("content routed wrong: %v", got)
	}
}
