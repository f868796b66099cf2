package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
	logx "crosspost/pkg/logx"
)

// Store is the persistence boundary for posts, schedule records and dispatch
// outcomes. Implementations must be safe for concurrent use.
type Store interface {
	// SavePost inserts or updates a post. The post's Version must match the
	// stored one (0 for a new post); on success the store bumps it by one and
	// writes the new value back into p. A mismatch returns ErrVersionConflict.
	SavePost(ctx context.Context, p *content.Post) error
	GetPost(ctx context.Context, id string) (*content.Post, error)
	ListPosts(ctx context.Context, tenantID string) ([]*content.Post, error)

	CreateScheduleRecords(ctx context.Context, recs []ScheduleRecord) error
	// DueScheduleRecords returns pending records with RunAt <= now, oldest
	// first. Triggered and cancelled records never resurface.
	DueScheduleRecords(ctx context.Context, now time.Time) ([]ScheduleRecord, error)
	// ClaimScheduleRecord atomically moves a record from pending to
	// triggered. It reports false (no error) when the record was already
	// claimed or cancelled, so at-least-once pollers race safely.
	ClaimScheduleRecord(ctx context.Context, id string, at time.Time) (bool, error)
	// CancelScheduleRecords cancels all pending records of a post and returns
	// how many it touched.
	CancelScheduleRecords(ctx context.Context, postID string) (int, error)
	ListScheduleRecords(ctx context.Context, postID string) ([]ScheduleRecord, error)

	AppendOutcomes(ctx context.Context, postID string, outs []dispatch.Outcome) error
	// ListOutcomes returns all recorded outcomes for a post, oldest attempt
	// first. The latest attempt per destination is what retry scoping reads.
	ListOutcomes(ctx context.Context, postID string) ([]dispatch.Outcome, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
