package store

import "database/sql"

// Schema creates the noticecast tables. Notices are append-only: updates and
// deletes are refused by triggers.
const Schema = `
CREATE TABLE IF NOT EXISTS notices (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    external_id   TEXT NOT NULL DEFAULT '',
    text          TEXT NOT NULL,
    audio         TEXT NOT NULL DEFAULT '',
    source        TEXT NOT NULL CHECK (source IN ('external-feed', 'manual')),
    original_link TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notices_recency ON notices(created_at DESC, seq DESC);

CREATE TRIGGER IF NOT EXISTS notices_no_update BEFORE UPDATE ON notices BEGIN
    SELECT RAISE(ABORT, 'notices are append-only');
END;
CREATE TRIGGER IF NOT EXISTS notices_no_delete BEFORE DELETE ON notices BEGIN
    SELECT RAISE(ABORT, 'notices are append-only');
END;

CREATE TABLE IF NOT EXISTS registrants (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL,
    phone      TEXT NOT NULL UNIQUE,
    locality   TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scrape_cursor (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    last_notice_id TEXT NOT NULL DEFAULT '',
    updated_at     INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO scrape_cursor (id, last_notice_id, updated_at) VALUES (1, '', 0);

CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    status       TEXT NOT NULL,
    result       TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    started_at   INTEGER,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);
`

// ApplySchema creates all tables on db.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
