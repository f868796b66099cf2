// Package registry implements the scheduling contract on top of storage:
// one record per dispatch group, content snapshotted at schedule time,
// idempotent at-least-once triggering.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/content"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

var (
	// ErrPastSchedule rejects a schedule time that is not strictly in the
	// future at creation time. Clock-skew tolerance is the trigger side's
	// concern, not the registry's.
	ErrPastSchedule = errors.New("schedule time must be in the future")

	ErrNoGroups = errors.New("nothing to schedule: no dispatch groups")
)

type Registry struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func New(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log, now: time.Now}
}

// Schedule persists one record per group, due at the given time. Prior
// pending records of the same post are cancelled first, so re-scheduling
// replaces rather than accumulates. Storage failures surface as hard errors;
// scheduling never silently no-ops.
func (r *Registry) Schedule(ctx context.Context, post *content.Post, groups []content.DispatchGroup, at time.Time) ([]storage.ScheduleRecord, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}
	now := r.now()
	if !at.After(now) {
		return nil, fmt.Errorf("%w: %s is not after %s", ErrPastSchedule, at.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	cancelled, err := r.store.CancelScheduleRecords(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel prior records: %w", err)
	}
	if cancelled > 0 {
		r.log.Info("replaced pending schedule records",
			logx.String("post", post.ID), logx.Int("cancelled", cancelled))
	}

	recs := make([]storage.ScheduleRecord, 0, len(groups))
	for _, g := range groups {
		if len(g.Destinations) == 0 {
			return nil, fmt.Errorf("group %s has no destinations", g.Key)
		}
		recs = append(recs, storage.ScheduleRecord{
			ID:       uuid.NewString(),
			PostID:   post.ID,
			GroupKey: g.Key,
			Content: content.Content{
				Caption:   g.Content.Caption,
				Hashtags:  g.Content.Hashtags,
				MediaRefs: append([]string(nil), g.Content.MediaRefs...),
			},
			Destinations: append([]content.DestinationID(nil), g.Destinations...),
			RunAt:        at,
			Status:       storage.RecordPending,
			CreatedAt:    now,
		})
	}
	if err := r.store.CreateScheduleRecords(ctx, recs); err != nil {
		return nil, fmt.Errorf("persist schedule records: %w", err)
	}
	r.log.Info("post scheduled",
		logx.String("post", post.ID),
		logx.Int("records", len(recs)),
		logx.Time("run_at", at))
	return recs, nil
}

// DueRecords returns pending records due at now, oldest first. Already
// triggered records are excluded by the store; one surfacing anyway would be
// a storage bug, so it is dropped loudly here rather than re-dispatched.
func (r *Registry) DueRecords(ctx context.Context, now time.Time) ([]storage.ScheduleRecord, error) {
	recs, err := r.store.DueScheduleRecords(ctx, now)
	if err != nil {
		return nil, err
	}
	due := recs[:0]
	for _, rec := range recs {
		if rec.Status != storage.RecordPending {
			r.log.Error("due query surfaced a non-pending record",
				logx.String("record", rec.ID), logx.String("status", string(rec.Status)))
			continue
		}
		due = append(due, rec)
	}
	return due, nil
}

// MarkTriggered claims a record. Claiming an already-triggered record is a
// no-op returning false, not an error: triggering is at-least-once and
// concurrent pollers may race on the same record.
func (r *Registry) MarkTriggered(ctx context.Context, recordID string) (bool, error) {
	claimed, err := r.store.ClaimScheduleRecord(ctx, recordID, r.now())
	if err != nil {
		return false, err
	}
	if !claimed {
		r.log.Debug("schedule record already claimed", logx.String("record", recordID))
	}
	return claimed, nil
}

// CancelForPost cancels all pending records of a post (schedule withdrawn or
// post going back to draft).
func (r *Registry) CancelForPost(ctx context.Context, postID string) (int, error) {
	return r.store.CancelScheduleRecords(ctx, postID)
}

// RecordsForPost lists every record of a post regardless of status.
func (r *Registry) RecordsForPost(ctx context.Context, postID string) ([]storage.ScheduleRecord, error) {
	return r.store.ListScheduleRecords(ctx, postID)
}
