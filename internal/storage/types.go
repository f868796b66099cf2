package storage

import (
	"errors"
	"time"

	"crosspost/internal/content"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict rejects a post write carrying a stale version.
	// Callers re-read and decide; blind overwrites of status are never allowed.
	ErrVersionConflict = errors.New("post version conflict")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process store (tests, ephemeral runs)
//   - "sqlite": embedded SQLite database file
//   - "postgres": shared PostgreSQL database (DSN in Path)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RecordStatus is the lifecycle of one schedule record.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordTriggered RecordStatus = "triggered"
	RecordCancelled RecordStatus = "cancelled"
)

// ScheduleRecord is a persisted, time-triggered instruction to dispatch one
// group of destinations with one content snapshot. The snapshot is taken at
// schedule time: later edits to the post do not rewrite a pending record.
// Keep it compact and schema-stable.
type ScheduleRecord struct {
	ID           string
	PostID       string
	GroupKey     string
	Content      content.Content
	Destinations []content.DestinationID
	RunAt        time.Time
	Status       RecordStatus
	CreatedAt    time.Time
	TriggeredAt  *time.Time
}
