// Package trafficlog contains the append-only connection and traffic
// ledger entities populated by the stats collector (C5) and read by the
// online tracker (C7) and session stream (C8).
package trafficlog

import (
	"context"
	"time"
)

// EventType distinguishes a connect from a disconnect log entry; the online
// tracker (C7) needs both to derive "open connect" state.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
)

// ConnectionLog records a single observed connection event for a user on an
// inbound, used to derive online/offline status.
type ConnectionLog struct {
	ID         string
	UserID     string
	InboundID  string
	IP         string
	Event      EventType
	ObservedAt time.Time
}

// TrafficLog records a monotonic traffic delta attributed to a user on an
// inbound for one collection tick.
type TrafficLog struct {
	ID         string
	UserID     string
	InboundID  string
	UploadDelta   int64
	DownloadDelta int64
	CollectedAt time.Time
}

// Repository persists connection and traffic log entries and answers the
// aggregate queries the online tracker and session stream need.
type Repository interface {
	AppendConnection(ctx context.Context, entry ConnectionLog) error
	AppendTraffic(ctx context.Context, entry TrafficLog) error

	// RecentConnections returns every connection event observed since the
	// given time, newest first. Aggregation (latest connect/disconnect per
	// user, per inbound) is the online tracker's job, not the store's.
	RecentConnections(ctx context.Context, since time.Time) ([]ConnectionLog, error)

	// TrafficSince sums traffic deltas per user observed since the given time.
	TrafficSince(ctx context.Context, since time.Time) (map[string]TrafficTotals, error)

	// RecentTraffic returns every traffic log row observed since the given
	// time, newest first, for callers that need per-entry timestamps (e.g.
	// "is the newest traffic log younger than trafficTtl").
	RecentTraffic(ctx context.Context, since time.Time) ([]TrafficLog, error)
}

// TrafficTotals is a per-user aggregate of upload/download bytes.
type TrafficTotals struct {
	Upload   int64
	Download int64
}
