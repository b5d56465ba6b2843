// Package sqlitestore provides the SQLite-backed moderation store.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	_ "modernc.org/sqlite"
)

// schema is applied on every Open; all statements are idempotent.
//
// The "at most one active row per natural key" invariants live here as
// partial unique indexes so they hold under concurrent writers, and
// exception rows are cascade-deleted with their parent ban/mute. No layer
// above re-enforces either.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS discussion_bans (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	username    TEXT NOT NULL,
	course_id   TEXT,
	org_key     TEXT,
	scope       TEXT NOT NULL CHECK (scope IN ('course', 'organization')),
	reason      TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 1,
	banned_by   TEXT NOT NULL,
	banned_at   TEXT NOT NULL,
	unbanned_at TEXT,
	unbanned_by TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS unique_active_course_ban
	ON discussion_bans (username, course_id)
	WHERE is_active = 1 AND scope = 'course';

CREATE UNIQUE INDEX IF NOT EXISTS unique_active_org_ban
	ON discussion_bans (username, org_key)
	WHERE is_active = 1 AND scope = 'organization';

CREATE INDEX IF NOT EXISTS idx_bans_user_active   ON discussion_bans (username, is_active);
CREATE INDEX IF NOT EXISTS idx_bans_course_active ON discussion_bans (course_id, is_active);
CREATE INDEX IF NOT EXISTS idx_bans_org_active    ON discussion_bans (org_key, is_active);

CREATE TABLE IF NOT EXISTS discussion_ban_exceptions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ban_id      INTEGER NOT NULL REFERENCES discussion_bans(id) ON DELETE CASCADE,
	course_id   TEXT NOT NULL,
	unbanned_by TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	UNIQUE (ban_id, course_id)
);

CREATE INDEX IF NOT EXISTS idx_ban_exceptions_course ON discussion_ban_exceptions (course_id);

CREATE TABLE IF NOT EXISTS discussion_mutes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	muted_user TEXT NOT NULL,
	muted_by   TEXT NOT NULL,
	course_id  TEXT NOT NULL,
	scope      TEXT NOT NULL CHECK (scope IN ('personal', 'course')),
	reason     TEXT NOT NULL DEFAULT '',
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	unmuted_at TEXT,
	unmuted_by TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS unique_active_personal_mute
	ON discussion_mutes (muted_user, muted_by, course_id)
	WHERE is_active = 1 AND scope = 'personal';

CREATE UNIQUE INDEX IF NOT EXISTS unique_active_course_mute
	ON discussion_mutes (muted_user, course_id)
	WHERE is_active = 1 AND scope = 'course';

CREATE INDEX IF NOT EXISTS idx_mutes_course_active ON discussion_mutes (course_id, is_active);

CREATE TABLE IF NOT EXISTS discussion_mute_exceptions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	mute_id        INTEGER NOT NULL REFERENCES discussion_mutes(id) ON DELETE CASCADE,
	muted_user     TEXT NOT NULL,
	exception_user TEXT NOT NULL,
	course_id      TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	UNIQUE (muted_user, exception_user, course_id)
);

CREATE TABLE IF NOT EXISTS moderation_audit_log (
	id                TEXT PRIMARY KEY,
	action_type       TEXT NOT NULL,
	source            TEXT NOT NULL,
	timestamp         TEXT NOT NULL,
	target_user       TEXT,
	moderator         TEXT,
	course_id         TEXT NOT NULL DEFAULT '',
	scope             TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL DEFAULT '',
	metadata          TEXT NOT NULL DEFAULT '{}',
	body              TEXT NOT NULL DEFAULT '',
	original_author   TEXT NOT NULL DEFAULT '',
	classification    TEXT NOT NULL DEFAULT '',
	classifier_output TEXT NOT NULL DEFAULT '{}',
	confidence_score  REAL,
	reasoning         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_target ON moderation_audit_log (target_user, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_course ON moderation_audit_log (course_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_action ON moderation_audit_log (action_type, timestamp);
`

// Open creates or opens a SQLite database at path and applies the schema.
// The driver is wrapped with otelsql so queries show up in traces.
func Open(ctx context.Context, path string) (*ModerationStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := otelsql.Open("sqlite", path,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc's sqlite driver serializes writes per connection; a single
	// connection avoids SQLITE_BUSY between concurrent transactions.
	db.SetMaxOpenConns(1)

	if err := apply(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &ModerationStore{db: db}, nil
}

func apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
