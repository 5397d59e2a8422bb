package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'player' CHECK (role IN ('gamemaster', 'assistant', 'player')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS actors (
    id                 INTEGER PRIMARY KEY,
    name               TEXT NOT NULL,
    type               TEXT NOT NULL CHECK (type IN ('character', 'npc', 'container')),
    default_permission INTEGER NOT NULL DEFAULT 0 CHECK (default_permission BETWEEN 0 AND 3),
    created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at         DATETIME
);

CREATE TABLE IF NOT EXISTS actor_ownership (
    actor_id INTEGER NOT NULL REFERENCES actors(id),
    user_id  INTEGER NOT NULL REFERENCES users(id),
    level    INTEGER NOT NULL CHECK (level BETWEEN 0 AND 3),
    PRIMARY KEY (actor_id, user_id)
);

CREATE TABLE IF NOT EXISTS items (
    id             INTEGER PRIMARY KEY,
    actor_id       INTEGER NOT NULL REFERENCES actors(id),
    name           TEXT NOT NULL,
    quantity       INTEGER CHECK (quantity IS NULL OR quantity > 0),
    data           TEXT,
    icon           BLOB,
    icon_mime      TEXT,
    recently_added INTEGER NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_actor ON items(actor_id);

CREATE TABLE IF NOT EXISTS item_moves (
    id                  INTEGER PRIMARY KEY,
    item_id             INTEGER NOT NULL,
    new_item_id         INTEGER NOT NULL,
    item_name           TEXT NOT NULL,
    from_actor_id       INTEGER NOT NULL REFERENCES actors(id),
    to_actor_id         INTEGER NOT NULL REFERENCES actors(id),
    quantity            INTEGER NOT NULL CHECK (quantity > 0),
    transfer_request_id TEXT,
    executed_by         INTEGER REFERENCES users(id),
    via_relay           INTEGER NOT NULL DEFAULT 0,
    moved_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transfer_requests (
    id                TEXT PRIMARY KEY,
    source_actor_id   INTEGER NOT NULL REFERENCES actors(id),
    target_actor_id   INTEGER NOT NULL REFERENCES actors(id),
    item_id           INTEGER NOT NULL,
    item_name         TEXT NOT NULL,
    quantity          INTEGER NOT NULL CHECK (quantity > 0),
    has_quantity      INTEGER NOT NULL DEFAULT 0,
    source_user_id    INTEGER NOT NULL REFERENCES users(id),
    status            TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'completed', 'expired', 'failed')),
    stage             TEXT NOT NULL,
    approval_required INTEGER NOT NULL DEFAULT 0,
    timeout_seconds   INTEGER NOT NULL CHECK (timeout_seconds > 0),
    created_at        DATETIME NOT NULL,
    resolved_at       DATETIME,
    resolved_by       INTEGER REFERENCES users(id),
    failure           TEXT
);

CREATE INDEX IF NOT EXISTS idx_transfer_requests_status ON transfer_requests(status);

CREATE TABLE IF NOT EXISTS notices (
    id             INTEGER PRIMARY KEY,
    correlation_id TEXT NOT NULL,
    kind           TEXT NOT NULL,
    title          TEXT NOT NULL,
    body           TEXT NOT NULL,
    actions        TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_notices_correlation ON notices(correlation_id);

CREATE TABLE IF NOT EXISTS notice_recipients (
    notice_id INTEGER NOT NULL REFERENCES notices(id),
    user_id   INTEGER NOT NULL REFERENCES users(id),
    PRIMARY KEY (notice_id, user_id)
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{}

// EnsureSchema creates all tables and indexes if they don't already exist,
// then applies migrations.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}
