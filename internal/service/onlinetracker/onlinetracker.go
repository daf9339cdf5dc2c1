// Package onlinetracker implements the online tracker (C7): a
// single-flight-refreshed cache of per-user heartbeat state, merged from
// connection logs, traffic logs, and the device tracker (C6).
package onlinetracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/one-ui/control-plane/internal/adapter/outbound/stattransport"
	"github.com/one-ui/control-plane/internal/domain/device"
	"github.com/one-ui/control-plane/internal/domain/trafficlog"
	"github.com/one-ui/control-plane/internal/domain/user"
)

// ProjectionFunc loads the active users the tracker should classify.
type ProjectionFunc func(ctx context.Context) ([]user.User, error)

// Config holds the TTLs governing classification, defaulted and floored per
// spec.
type Config struct {
	RefreshInterval time.Duration // default 5s, floor 1s
	TTL             time.Duration // default 60s: active-inbound / live-counter window
	IdleTTL         time.Duration // default 75s: open-connect window
	DeviceTTL       time.Duration // default 60s, clamped to [TTL, IdleTTL]
}

func (c Config) normalized() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Second
	}
	if c.RefreshInterval < time.Second {
		c.RefreshInterval = time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 60 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 75 * time.Second
	}
	if c.DeviceTTL <= 0 {
		c.DeviceTTL = 60 * time.Second
	}
	if c.DeviceTTL < c.TTL {
		c.DeviceTTL = c.TTL
	}
	if c.DeviceTTL > c.IdleTTL {
		c.DeviceTTL = c.IdleTTL
	}
	return c
}

func (c Config) trafficTTL() time.Duration {
	cap5m := 5 * time.Minute
	idle := c.IdleTTL
	if idle > cap5m {
		idle = cap5m
	}
	if c.TTL > idle {
		return c.TTL
	}
	return idle
}

func (c Config) lookback() time.Duration {
	min15 := 15 * time.Minute
	ttl4 := c.TTL * 4
	if ttl4 > min15 {
		return ttl4
	}
	return min15
}

// Tracker implements C7.
type Tracker struct {
	cfg Config

	traffic    trafficlog.Repository
	devices    *device.Tracker
	querier    *stattransport.Querier
	projection ProjectionFunc
	logger     *slog.Logger

	mu          sync.Mutex
	cache       map[string]HeartbeatEntry // keyed by user uuid
	byUserID    map[string]string         // userID -> uuid
	lastRefresh time.Time
	inflight    chan struct{}
}

// New builds a Tracker. devices may be nil if device-based admission is not
// configured; querier may be nil to skip the live-counter enrichment step.
func New(cfg Config, traffic trafficlog.Repository, devices *device.Tracker, querier *stattransport.Querier, projection ProjectionFunc, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:        cfg.normalized(),
		traffic:    traffic,
		devices:    devices,
		querier:    querier,
		projection: projection,
		logger:     logger,
		cache:      make(map[string]HeartbeatEntry),
		byUserID:   make(map[string]string),
	}
}

// ensureFresh refreshes the cache if it is empty or older than
// RefreshInterval, coalescing concurrent callers onto a single refresh.
func (t *Tracker) ensureFresh(ctx context.Context) error {
	t.mu.Lock()
	if !t.lastRefresh.IsZero() && time.Since(t.lastRefresh) < t.cfg.RefreshInterval {
		t.mu.Unlock()
		return nil
	}
	if t.inflight != nil {
		ch := t.inflight
		t.mu.Unlock()
		<-ch
		return nil
	}
	ch := make(chan struct{})
	t.inflight = ch
	t.mu.Unlock()

	err := t.refresh(ctx)

	t.mu.Lock()
	t.inflight = nil
	if err == nil {
		t.lastRefresh = time.Now()
	}
	t.mu.Unlock()
	close(ch)
	return err
}

func (t *Tracker) refresh(ctx context.Context) error {
	users, err := t.projection(ctx)
	if err != nil {
		return fmt.Errorf("onlinetracker: load projection: %w", err)
	}

	since := time.Now().Add(-t.cfg.lookback())
	conns, err := t.traffic.RecentConnections(ctx, since)
	if err != nil {
		return fmt.Errorf("onlinetracker: load connection logs: %w", err)
	}
	trafficLogs, err := t.traffic.RecentTraffic(ctx, since)
	if err != nil {
		return fmt.Errorf("onlinetracker: load traffic logs: %w", err)
	}

	connsByUser := make(map[string][]trafficlog.ConnectionLog)
	for _, c := range conns {
		connsByUser[c.UserID] = append(connsByUser[c.UserID], c)
	}
	newestTrafficByUser := make(map[string]time.Time)
	for _, tl := range trafficLogs {
		if tl.CollectedAt.After(newestTrafficByUser[tl.UserID]) {
			newestTrafficByUser[tl.UserID] = tl.CollectedAt
		}
	}

	now := time.Now()
	newCache := make(map[string]HeartbeatEntry, len(users))
	newIndex := make(map[string]string, len(users))

	for _, u := range users {
		entry := t.classify(ctx, u, connsByUser[u.ID], newestTrafficByUser[u.ID], now)
		newCache[u.UUID] = entry
		newIndex[u.ID] = u.UUID
	}

	t.mu.Lock()
	t.cache = newCache
	t.byUserID = newIndex
	t.mu.Unlock()
	return nil
}

func (t *Tracker) classify(ctx context.Context, u user.User, conns []trafficlog.ConnectionLog, newestTraffic time.Time, now time.Time) HeartbeatEntry {
	activeInboundSet := make(map[string]bool)
	var newestConnect, newestDisconnect time.Time
	var newestConnectInbound string

	for _, c := range conns {
		switch c.Event {
		case trafficlog.EventDisconnect:
			if c.ObservedAt.After(newestDisconnect) {
				newestDisconnect = c.ObservedAt
			}
		default: // connect (default for legacy rows without an explicit event)
			if now.Sub(c.ObservedAt) < t.cfg.TTL {
				activeInboundSet[c.InboundID] = true
			}
			if c.ObservedAt.After(newestConnect) {
				newestConnect = c.ObservedAt
				newestConnectInbound = c.InboundID
			}
		}
	}

	var activeDevices []device.Record
	if t.devices != nil {
		activeDevices = t.devices.ActiveWithin(u.ID, t.cfg.DeviceTTL)
	}

	trafficActive := !newestTraffic.IsZero() && now.Sub(newestTraffic) < t.cfg.trafficTTL()
	openConnect := !newestConnect.IsZero() && now.Sub(newestConnect) < t.cfg.IdleTTL && newestConnect.After(newestDisconnect)

	online := len(activeInboundSet) > 0 || len(activeDevices) > 0 || trafficActive || openConnect

	state := StateOffline
	lastAction := newestConnect
	switch {
	case online:
		state = StateOnline
	case !newestConnect.IsZero():
		state = StateIdle
	}

	var windowMs int64
	switch {
	case trafficActive:
		windowMs = t.cfg.trafficTTL().Milliseconds()
	case len(activeInboundSet) > 0:
		windowMs = t.cfg.TTL.Milliseconds()
	case openConnect:
		windowMs = t.cfg.IdleTTL.Milliseconds()
	case len(activeDevices) > 0:
		windowMs = t.cfg.DeviceTTL.Milliseconds()
	default:
		windowMs = t.cfg.IdleTTL.Milliseconds()
	}

	inbounds := make([]string, 0, len(activeInboundSet))
	for id := range activeInboundSet {
		inbounds = append(inbounds, id)
	}

	entry := HeartbeatEntry{
		UserID:           u.ID,
		UUID:             u.UUID,
		State:            state,
		Online:           online,
		CurrentInboundID: newestConnectInbound,
		ActiveInbounds:   inbounds,
		OnlineWindowMs:   windowMs,
		LastActionAt:     lastAction,
	}

	if online && t.querier != nil {
		up, down := t.queryLiveCounters(ctx, u)
		entry.LiveUpload = up
		entry.LiveDownload = down
	}

	return entry
}

// queryLiveCounters degrades gracefully to zero on any failure: this is a
// read path for UI presentation, not a mutating operation.
func (t *Tracker) queryLiveCounters(ctx context.Context, u user.User) (uint64, uint64) {
	key := u.Email
	if key == "" {
		key = u.UUID
	}
	if key == "" {
		return 0, 0
	}
	up, err := t.querier.QueryStat(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>uplink", key), false)
	if err != nil {
		t.logger.Debug("onlinetracker: live uplink query failed", "user_id", u.ID, "error", err)
		return 0, 0
	}
	down, err := t.querier.QueryStat(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>downlink", key), false)
	if err != nil {
		t.logger.Debug("onlinetracker: live downlink query failed", "user_id", u.ID, "error", err)
		return up.Value, 0
	}
	return up.Value, down.Value
}

// GetHeartbeatByUuid ensures freshness, then returns the heartbeat for a
// single user uuid.
func (t *Tracker) GetHeartbeatByUuid(ctx context.Context, uuid string) (HeartbeatEntry, bool, error) {
	if err := t.ensureFresh(ctx); err != nil {
		return HeartbeatEntry{}, false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[uuid]
	return entry, ok, nil
}

// GetHeartbeatMapByUserId ensures freshness, then returns the heartbeats for
// the given user ids, keyed by user id.
func (t *Tracker) GetHeartbeatMapByUserId(ctx context.Context, ids []string) (map[string]HeartbeatEntry, error) {
	if err := t.ensureFresh(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]HeartbeatEntry, len(ids))
	for _, id := range ids {
		uuid, ok := t.byUserID[id]
		if !ok {
			continue
		}
		if entry, ok := t.cache[uuid]; ok {
			out[id] = entry
		}
	}
	return out, nil
}

// GetOnlineUsers ensures freshness, then returns every heartbeat currently
// classified online.
func (t *Tracker) GetOnlineUsers(ctx context.Context) ([]HeartbeatEntry, error) {
	if err := t.ensureFresh(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]HeartbeatEntry, 0, len(t.cache))
	for _, entry := range t.cache {
		if entry.Online {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Snapshot ensures freshness, then returns every tracked heartbeat
// (online, idle, and offline), optionally filtered to a set of user ids.
// A nil/empty ids selects every tracked user. Used by sessionstream (C8) to
// build the point-in-time view it fans out to subscribers.
func (t *Tracker) Snapshot(ctx context.Context, ids []string) ([]HeartbeatEntry, error) {
	if err := t.ensureFresh(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(ids) == 0 {
		out := make([]HeartbeatEntry, 0, len(t.cache))
		for _, entry := range t.cache {
			out = append(out, entry)
		}
		return out, nil
	}

	out := make([]HeartbeatEntry, 0, len(ids))
	for _, id := range ids {
		uuid, ok := t.byUserID[id]
		if !ok {
			continue
		}
		if entry, ok := t.cache[uuid]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}
