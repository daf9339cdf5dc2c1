package onlinetracker

import "time"

// State classifies a user's derived online status.
type State string

const (
	StateOnline  State = "online"
	StateIdle    State = "idle"
	StateOffline State = "offline"
)

// HeartbeatEntry is the derived per-user online record synthesized from
// connection logs, traffic logs, and device tracker state.
type HeartbeatEntry struct {
	UserID           string
	UUID             string
	State            State
	Online           bool
	CurrentInboundID string
	ActiveInbounds   []string
	OnlineWindowMs   int64
	LastActionAt     time.Time
	// LiveUpload/LiveDownload are live absolute counters queried via C1 for
	// online users only; zero for offline/idle users or on query failure.
	LiveUpload   uint64
	LiveDownload uint64
}
