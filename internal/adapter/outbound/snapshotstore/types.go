// Package snapshotstore persists point-in-time copies of the on-disk
// config for rollback, retention-bounded and listed newest-first.
package snapshotstore

import "time"

// Snapshot is one retained copy of a prior config, as returned by List and
// Create. RawConfig is set only on the value Create returns; List leaves it
// empty, and Load returns the stored bytes directly.
type Snapshot struct {
	ID         string
	CreatedAt  time.Time
	Reason     string
	ConfigPath string
	RawConfig  []byte
}

// meta is the on-disk shape of a snapshot's <id>.meta.json file.
type meta struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Reason     string    `json:"reason"`
	ConfigPath string    `json:"configPath"`
}
