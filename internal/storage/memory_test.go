package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

func TestSavePostVersioning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	p := &content.Post{ID: "p1", Master: content.Content{Caption: "a"}, Status: content.StatusDraft}
	if err := s.SavePost(ctx, p); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	if p.Version != 1 {
		t.Fatalf("version after create = %d, want 1", p.Version)
	}

	// A stale copy loses against the current version.
	stale := p.Clone()
	p.Master.Caption = "b"
	if err := s.SavePost(ctx, p); err != nil {
		t.Fatalf("second save: %v", err)
	}
	stale.Master.Caption = "lost update"
	if err := s.SavePost(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := s.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got.Master.Caption != "b" || got.Version != 2 {
		t.Fatalf("stored post = caption %q v%d", got.Master.Caption, got.Version)
	}
}

func TestSavePostNewWithNonzeroVersion(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	p := &content.Post{ID: "ghost", Version: 3}
	if err := s.SavePost(context.Background(), p); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestGetPostNotFound(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	if _, err := s.GetPost(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPostReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	p := &content.Post{ID: "p1", Master: content.Content{Caption: "a"}, Targets: []content.DestinationID{"x"}}
	if err := s.SavePost(ctx, p); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	got, err := s.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	got.Master.Caption = "mutated"
	got.Targets[0] = "hijacked"

	again, err := s.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if again.Master.Caption != "a" || again.Targets[0] != "x" {
		t.Fatalf("stored post mutated through a returned copy: %+v", again)
	}
}

func TestListPostsByTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	for _, p := range []*content.Post{
		{ID: "a", TenantID: "t1"},
		{ID: "b", TenantID: "t2"},
		{ID: "c", TenantID: "t1"},
	} {
		if err := s.SavePost(ctx, p); err != nil {
			t.Fatalf("SavePost %s: %v", p.ID, err)
		}
	}

	got, err := s.ListPosts(ctx, "t1")
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("tenant t1 has %d posts, want 2", len(got))
	}
	all, err := s.ListPosts(ctx, "")
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all tenants: %d posts, want 3", len(all))
	}
}

func TestClaimScheduleRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	runAt := time.Now().Add(time.Minute)
	rec := ScheduleRecord{ID: "r1", PostID: "p1", GroupKey: "k", RunAt: runAt, Status: RecordPending}
	if err := s.CreateScheduleRecords(ctx, []ScheduleRecord{rec}); err != nil {
		t.Fatalf("CreateScheduleRecords: %v", err)
	}

	at := time.Now()
	claimed, err := s.ClaimScheduleRecord(ctx, "r1", at)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = s.ClaimScheduleRecord(ctx, "r1", time.Now())
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim must not win")
	}

	recs, err := s.ListScheduleRecords(ctx, "p1")
	if err != nil {
		t.Fatalf("ListScheduleRecords: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != RecordTriggered {
		t.Fatalf("record after claim: %+v", recs)
	}
	if recs[0].TriggeredAt == nil || !recs[0].TriggeredAt.Equal(at) {
		t.Fatalf("triggered_at = %v, want %s", recs[0].TriggeredAt, at)
	}
}

func TestClaimMissingRecord(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	if _, err := s.ClaimScheduleRecord(context.Background(), "nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDueScheduleRecordsOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	base := time.Now()
	recs := []ScheduleRecord{
		{ID: "b", PostID: "p1", RunAt: base.Add(2 * time.Minute), Status: RecordPending},
		{ID: "a", PostID: "p1", RunAt: base.Add(time.Minute), Status: RecordPending},
		{ID: "c", PostID: "p1", RunAt: base.Add(time.Hour), Status: RecordPending},
	}
	if err := s.CreateScheduleRecords(ctx, recs); err != nil {
		t.Fatalf("CreateScheduleRecords: %v", err)
	}

	due, err := s.DueScheduleRecords(ctx, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("DueScheduleRecords: %v", err)
	}
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
		t.Fatalf("due = %+v, want [a b] oldest first", due)
	}
}

func TestOutcomesAppendAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	first := []dispatch.Outcome{dispatch.Success("x", "ext-1")}
	second := []dispatch.Outcome{dispatch.Failure("y", dispatch.ErrRateLimited, errors.New("429"))}
	if err := s.AppendOutcomes(ctx, "p1", first); err != nil {
		t.Fatalf("AppendOutcomes: %v", err)
	}
	if err := s.AppendOutcomes(ctx, "p1", second); err != nil {
		t.Fatalf("AppendOutcomes: %v", err)
	}

	got, err := s.ListOutcomes(ctx, "p1")
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(got))
	}
	if got[0].DestinationID != "x" || got[1].DestinationID != "y" {
		t.Fatalf("outcome order lost: %+v", got)
	}
}
