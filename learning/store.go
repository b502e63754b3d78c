// Package learning records bot activity and reviewer feedback in SQLite and
// derives tuning recommendations from it.
package learning

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quailyquaily/slackdatabot/internal/state"
)

const (
	dbFileName = "learning.db"
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	created_at TEXT NOT NULL,
	message_ts TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	channel_name TEXT NOT NULL DEFAULT '',
	classification TEXT NOT NULL DEFAULT '',
	duration_seconds REAL,
	success INTEGER,
	action TEXT NOT NULL DEFAULT '',
	response_time_seconds REAL,
	payload TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(type, created_at);

CREATE TABLE IF NOT EXISTS feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	message_ts TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	channel_name TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	original_draft TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	edited_text TEXT NOT NULL DEFAULT '',
	rejection_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_feedback_channel ON feedback(channel_id);
`

type Config struct {
	Enabled          bool
	StorageDir       string
	FeedbackTracking bool
}

// Open creates the storage directory and opens learning.db inside it with WAL
// journaling and a busy timeout.
func Open(ctx context.Context, dir string) (*sql.DB, error) {
	dir = state.ExpandHome(dir)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("learning storage dir is required")
	}
	if err := state.EnsureSecureDir(dir); err != nil {
		return nil, fmt.Errorf("learning storage dir: %w", err)
	}
	path := filepath.Join(dir, dbFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// windowStart is midnight UTC of the oldest day included in a days-long window
// ending today.
func windowStart(now time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultStatsDays
	}
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -(days - 1))
}
