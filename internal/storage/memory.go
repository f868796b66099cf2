package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

// memoryStore keeps everything in process. It honors the same versioning and
// claim semantics as the SQL drivers so tests exercise the real contracts.
type memoryStore struct {
	mu       sync.Mutex
	posts    map[string]*content.Post
	records  map[string]ScheduleRecord
	outcomes map[string][]dispatch.Outcome
}

func NewMemory() Store {
	return &memoryStore{
		posts:    map[string]*content.Post{},
		records:  map[string]ScheduleRecord{},
		outcomes: map[string][]dispatch.Outcome{},
	}
}

func (m *memoryStore) SavePost(_ context.Context, p *content.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.posts[p.ID]
	switch {
	case !ok && p.Version != 0:
		return fmt.Errorf("post %s: %w", p.ID, ErrVersionConflict)
	case ok && cur.Version != p.Version:
		return fmt.Errorf("post %s: have v%d, got v%d: %w", p.ID, cur.Version, p.Version, ErrVersionConflict)
	}

	p.Version++
	p.UpdatedAt = time.Now()
	if !ok && p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	m.posts[p.ID] = p.Clone()
	return nil
}

func (m *memoryStore) GetPost(_ context.Context, id string) (*content.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *memoryStore) ListPosts(_ context.Context, tenantID string) ([]*content.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*content.Post
	for _, p := range m.posts {
		if tenantID == "" || p.TenantID == tenantID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) CreateScheduleRecords(_ context.Context, recs []ScheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if _, dup := m.records[r.ID]; dup {
			return fmt.Errorf("schedule record %s already exists", r.ID)
		}
	}
	for _, r := range recs {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		m.records[r.ID] = r
	}
	return nil
}

func (m *memoryStore) DueScheduleRecords(_ context.Context, now time.Time) ([]ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []ScheduleRecord
	for _, r := range m.records {
		if r.Status == RecordPending && !r.RunAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].RunAt.Before(due[j].RunAt)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (m *memoryStore) ClaimScheduleRecord(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return false, fmt.Errorf("schedule record %s: %w", id, ErrNotFound)
	}
	if r.Status != RecordPending {
		return false, nil
	}
	r.Status = RecordTriggered
	r.TriggeredAt = &at
	m.records[id] = r
	return true, nil
}

func (m *memoryStore) CancelScheduleRecords(_ context.Context, postID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.records {
		if r.PostID == postID && r.Status == RecordPending {
			r.Status = RecordCancelled
			m.records[id] = r
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ListScheduleRecords(_ context.Context, postID string) ([]ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduleRecord
	for _, r := range m.records {
		if r.PostID == postID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) AppendOutcomes(_ context.Context, postID string, outs []dispatch.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[postID] = append(m.outcomes[postID], outs...)
	return nil
}

func (m *memoryStore) ListOutcomes(_ context.Context, postID string) ([]dispatch.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatch.Outcome(nil), m.outcomes[postID]...), nil
}

func (m *memoryStore) Close() error { return nil }
