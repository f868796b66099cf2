package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
	logx "crosspost/pkg/logx"
)

// sqlStore implements Store over database/sql. The sqlite and postgres
// drivers share it; only placeholder syntax and migration bootstrap differ.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
	pg  bool
}

// q rewrites ? placeholders to $n for postgres.
func (s *sqlStore) q(query string) string {
	if !s.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) SavePost(ctx context.Context, p *content.Post) error {
	variants, err := json.Marshal(p.Variants)
	if err != nil {
		return fmt.Errorf("marshal variants: %w", err)
	}
	targets, err := json.Marshal(p.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	media, err := json.Marshal(p.Master.MediaRefs)
	if err != nil {
		return fmt.Errorf("marshal media refs: %w", err)
	}

	now := s.now()
	var scheduledAt any
	if p.ScheduledAt != nil {
		scheduledAt = p.ScheduledAt.UTC().Format(time.RFC3339Nano)
	}

	if p.Version == 0 {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		res, err := s.db.ExecContext(ctx, s.q(
			`INSERT INTO posts(id, tenant_id, caption, hashtags, media_refs, variants, targets, status, scheduled_at, version, created_at, updated_at)
			 VALUES(?,?,?,?,?,?,?,?,?,1,?,?)
			 ON CONFLICT(id) DO NOTHING`),
			p.ID, p.TenantID, p.Master.Caption, p.Master.Hashtags, string(media), string(variants), string(targets),
			string(p.Status), scheduledAt, p.CreatedAt.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("post %s: %w", p.ID, ErrVersionConflict)
		}
		p.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE posts SET caption=?, hashtags=?, media_refs=?, variants=?, targets=?, status=?, scheduled_at=?, version=version+1, updated_at=?
		 WHERE id=? AND version=?`),
		p.Master.Caption, p.Master.Hashtags, string(media), string(variants), string(targets),
		string(p.Status), scheduledAt, now.UTC().Format(time.RFC3339Nano), p.ID, p.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM posts WHERE id=?`), p.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("post %s: %w", p.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("post %s: %w", p.ID, ErrVersionConflict)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *sqlStore) GetPost(ctx context.Context, id string) (*content.Post, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, tenant_id, caption, hashtags, media_refs, variants, targets, status, scheduled_at, version, created_at, updated_at
		 FROM posts WHERE id=?`), id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *sqlStore) ListPosts(ctx context.Context, tenantID string) ([]*content.Post, error) {
	query := `SELECT id, tenant_id, caption, hashtags, media_refs, variants, targets, status, scheduled_at, version, created_at, updated_at
	          FROM posts`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id=?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*content.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (*content.Post, error) {
	var p content.Post
	var media, variants, targets, status string
	var scheduledAt sql.NullString
	var createdAt, updatedAt string
	if err := r.Scan(&p.ID, &p.TenantID, &p.Master.Caption, &p.Master.Hashtags, &media, &variants, &targets,
		&status, &scheduledAt, &p.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(media), &p.Master.MediaRefs); err != nil {
		return nil, fmt.Errorf("post %s: media refs: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(variants), &p.Variants); err != nil {
		return nil, fmt.Errorf("post %s: variants: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(targets), &p.Targets); err != nil {
		return nil, fmt.Errorf("post %s: targets: %w", p.ID, err)
	}
	p.Status = content.Status(status)
	if scheduledAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, scheduledAt.String)
		if err != nil {
			return nil, fmt.Errorf("post %s: scheduled_at: %w", p.ID, err)
		}
		p.ScheduledAt = &at
	}
	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("post %s: created_at: %w", p.ID, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("post %s: updated_at: %w", p.ID, err)
	}
	return &p, nil
}

func (s *sqlStore) CreateScheduleRecords(ctx context.Context, recs []ScheduleRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range recs {
		media, err := json.Marshal(r.Content.MediaRefs)
		if err != nil {
			return fmt.Errorf("marshal media refs: %w", err)
		}
		dests, err := json.Marshal(r.Destinations)
		if err != nil {
			return fmt.Errorf("marshal destinations: %w", err)
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO schedule_records(id, post_id, group_key, caption, hashtags, media_refs, destinations, run_at, status, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`),
			r.ID, r.PostID, r.GroupKey, r.Content.Caption, r.Content.Hashtags, string(media), string(dests),
			r.RunAt.UnixMilli(), string(r.Status), r.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) DueScheduleRecords(ctx context.Context, now time.Time) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, post_id, group_key, caption, hashtags, media_refs, destinations, run_at, status, created_at, triggered_at
		 FROM schedule_records WHERE status=? AND run_at<=? ORDER BY run_at, id`),
		string(RecordPending), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *sqlStore) ClaimScheduleRecord(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE schedule_records SET status=?, triggered_at=? WHERE id=? AND status=?`),
		string(RecordTriggered), at.UTC().Format(time.RFC3339Nano), id, string(RecordPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM schedule_records WHERE id=?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("schedule record %s: %w", id, ErrNotFound)
	}
	return false, err
}

func (s *sqlStore) CancelScheduleRecords(ctx context.Context, postID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE schedule_records SET status=? WHERE post_id=? AND status=?`),
		string(RecordCancelled), postID, string(RecordPending))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqlStore) ListScheduleRecords(ctx context.Context, postID string) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, post_id, group_key, caption, hashtags, media_refs, destinations, run_at, status, created_at, triggered_at
		 FROM schedule_records WHERE post_id=? ORDER BY id`), postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]ScheduleRecord, error) {
	var out []ScheduleRecord
	for rows.Next() {
		var r ScheduleRecord
		var media, dests, status, createdAt string
		var runAt int64
		var triggeredAt sql.NullString
		if err := rows.Scan(&r.ID, &r.PostID, &r.GroupKey, &r.Content.Caption, &r.Content.Hashtags,
			&media, &dests, &runAt, &status, &createdAt, &triggeredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(media), &r.Content.MediaRefs); err != nil {
			return nil, fmt.Errorf("record %s: media refs: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(dests), &r.Destinations); err != nil {
			return nil, fmt.Errorf("record %s: destinations: %w", r.ID, err)
		}
		r.RunAt = time.UnixMilli(runAt)
		r.Status = RecordStatus(status)
		var err error
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("record %s: created_at: %w", r.ID, err)
		}
		if triggeredAt.Valid {
			at, err := time.Parse(time.RFC3339Nano, triggeredAt.String)
			if err != nil {
				return nil, fmt.Errorf("record %s: triggered_at: %w", r.ID, err)
			}
			r.TriggeredAt = &at
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) AppendOutcomes(ctx context.Context, postID string, outs []dispatch.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range outs {
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO dispatch_outcomes(post_id, destination_id, succeeded, error_kind, error, external_post_id, attempted_at)
			 VALUES(?,?,?,?,?,?,?)`),
			postID, string(o.DestinationID), o.Succeeded, nullStr(string(o.ErrorKind)), nullStr(o.Error),
			nullStr(o.ExternalPostID), o.AttemptedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListOutcomes(ctx context.Context, postID string) ([]dispatch.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT destination_id, succeeded, error_kind, error, external_post_id, attempted_at
		 FROM dispatch_outcomes WHERE post_id=? ORDER BY id`), postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dispatch.Outcome
	for rows.Next() {
		var o dispatch.Outcome
		var dest, attemptedAt string
		var kind, errMsg, extID sql.NullString
		if err := rows.Scan(&dest, &o.Succeeded, &kind, &errMsg, &extID, &attemptedAt); err != nil {
			return nil, err
		}
		o.DestinationID = content.DestinationID(dest)
		o.ErrorKind = dispatch.ErrorKind(kind.String)
		o.Error = errMsg.String
		o.ExternalPostID = extID.String
		var err error
		if o.AttemptedAt, err = time.Parse(time.RFC3339Nano, attemptedAt); err != nil {
			return nil, fmt.Errorf("outcome for %s: attempted_at: %w", dest, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
