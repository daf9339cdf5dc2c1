// Package sqlstore implements the domain repositories on top of a
// pure-Go SQLite driver, owning its own migration SQL as an implementation
// detail (the domain layer specifies repository interfaces, not schema
// DDL).
package sqlstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a single *sql.DB and implements inbound.Repository,
// user.Repository, and trafficlog.Repository.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline, avoid SQLITE_BUSY storms

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS inbounds (
	id TEXT PRIMARY KEY,
	tag TEXT NOT NULL UNIQUE,
	protocol TEXT NOT NULL,
	listen_addr TEXT NOT NULL,
	listen_port INTEGER NOT NULL,
	transport TEXT NOT NULL,
	tls INTEGER NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL,
	settings TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	uuid TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	subscription_token TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	data_limit INTEGER NOT NULL DEFAULT 0,
	upload_used INTEGER NOT NULL DEFAULT 0,
	download_used INTEGER NOT NULL DEFAULT 0,
	expire_date TEXT,
	ip_limit INTEGER NOT NULL DEFAULT 0,
	device_limit INTEGER NOT NULL,
	speed_limit INTEGER NOT NULL,
	enabled INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_inbounds (
	user_id TEXT NOT NULL,
	inbound_id TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	PRIMARY KEY (user_id, inbound_id)
);

CREATE TABLE IF NOT EXISTS group_inbounds (
	group_id TEXT NOT NULL,
	inbound_id TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	PRIMARY KEY (group_id, inbound_id)
);

CREATE TABLE IF NOT EXISTS user_groups (
	user_id TEXT NOT NULL,
	group_id TEXT NOT NULL,
	PRIMARY KEY (user_id, group_id)
);

CREATE TABLE IF NOT EXISTS connection_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	inbound_id TEXT NOT NULL,
	ip TEXT NOT NULL,
	event TEXT NOT NULL DEFAULT 'connect',
	observed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connection_logs_observed_at ON connection_logs(observed_at);

CREATE TABLE IF NOT EXISTS traffic_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	inbound_id TEXT NOT NULL,
	upload_delta INTEGER NOT NULL,
	download_delta INTEGER NOT NULL,
	collected_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traffic_logs_collected_at ON traffic_logs(collected_at);

CREATE TABLE IF NOT EXISTS update_history (
	id TEXT PRIMARY KEY,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	metadata TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_update_history_timestamp ON update_history(timestamp);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}
