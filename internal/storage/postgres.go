package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "crosspost/pkg/logx"
)

// pgSchema mirrors migrations.sql. Timestamps are stored as RFC3339 text and
// run_at as unix millis so the sqlStore implementation is shared verbatim
// between drivers.
const pgSchema = `
CREATE TABLE IF NOT EXISTS posts (
  id           TEXT PRIMARY KEY,
  tenant_id    TEXT NOT NULL DEFAULT '',
  caption      TEXT NOT NULL DEFAULT '',
  hashtags     TEXT NOT NULL DEFAULT '',
  media_refs   TEXT NOT NULL DEFAULT '[]',
  variants     TEXT NOT NULL DEFAULT '{}',
  targets      TEXT NOT NULL DEFAULT '[]',
  status       TEXT NOT NULL,
  scheduled_at TEXT,
  version      BIGINT NOT NULL,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule_records (
  id           TEXT PRIMARY KEY,
  post_id      TEXT NOT NULL,
  group_key    TEXT NOT NULL,
  caption      TEXT NOT NULL DEFAULT '',
  hashtags     TEXT NOT NULL DEFAULT '',
  media_refs   TEXT NOT NULL DEFAULT '[]',
  destinations TEXT NOT NULL DEFAULT '[]',
  run_at       BIGINT NOT NULL,
  status       TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  triggered_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_schedule_due  ON schedule_records(status, run_at);
CREATE INDEX IF NOT EXISTS idx_schedule_post ON schedule_records(post_id);

CREATE TABLE IF NOT EXISTS dispatch_outcomes (
  id               BIGSERIAL PRIMARY KEY,
  post_id          TEXT NOT NULL,
  destination_id   TEXT NOT NULL,
  succeeded        BOOLEAN NOT NULL,
  error_kind       TEXT,
  error            TEXT,
  external_post_id TEXT,
  attempted_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_post ON dispatch_outcomes(post_id, id);
`

type postgresStore struct {
	sqlStore
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &postgresStore{sqlStore{db: db, log: log, now: time.Now, pg: true}}, nil
}
