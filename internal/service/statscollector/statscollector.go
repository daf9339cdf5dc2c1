// Package statscollector implements the periodic stats collection loop
// (C5): for each active user it reads uplink/downlink counters through the
// dual stat transport, computes a monotonic delta against a cached
// baseline, applies per-inbound single-user fallback for protocols that
// meter per listener rather than per user, and persists the result.
package statscollector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/one-ui/control-plane/internal/adapter/outbound/stattransport"
	"github.com/one-ui/control-plane/internal/domain/trafficlog"
	"github.com/one-ui/control-plane/internal/domain/user"
)

// Status summarizes collector health for the status surface.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusStarting Status = "starting"
	StatusStale    Status = "stale"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"
)

// atomicRepository is optionally implemented by the configured
// user.Repository when it can persist a usage update and its traffic-log
// entry as a single atomic operation (see sqlstore.Store.SaveUserWithTraffic).
// Collector falls back to two separate calls when it isn't.
type atomicRepository interface {
	SaveUserWithTraffic(ctx context.Context, u *user.User, entry trafficlog.TrafficLog) error
}

// InboundUsers describes one enabled inbound's effective user set, keyed
// for the stat key grammar by its wire tag (not its domain id).
type InboundUsers struct {
	Tag   string
	Users []user.User
}

// Projection is the compact per-tick view of domain state the collector
// needs: active users and, per enabled inbound, its effective user set.
// Supplied by a ProjectionFunc the composition root closes over the
// user/inbound repositories and group-resolution logic, so this package
// never needs to know about groups.
type Projection struct {
	Users    []user.User
	Inbounds []InboundUsers
}

// ProjectionFunc loads the current tick's projection.
type ProjectionFunc func(ctx context.Context) (Projection, error)

// Snapshot is the collector's point-in-time status, safe to read
// concurrently with ticking.
type Snapshot struct {
	Status              Status
	LastRunAt           time.Time
	LastSuccessAt       time.Time
	LastErrorAt         time.Time
	ConsecutiveFailures int
	LastUsersScanned    int
	LastUsersUpdated    int
	LastTrafficBytes    uint64
	LastDurationMs      int64
}

type baselineEntry struct {
	upload   uint64
	download uint64
}

// Collector runs C5's fixed-interval tick.
type Collector struct {
	interval       time.Duration
	resetAfterRead bool

	querier    *stattransport.Querier
	users      user.Repository
	traffic    trafficlog.Repository
	projection ProjectionFunc

	metrics *Metrics
	logger  *slog.Logger

	baselineMu sync.Mutex
	baseline   map[string]baselineEntry // keyed by user id

	statusMu        sync.Mutex
	status          Snapshot
	watchdogTripped bool
	stopped         bool

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New builds a Collector. interval is clamped to a 5s floor per spec.
func New(interval time.Duration, resetAfterRead bool, querier *stattransport.Querier, users user.Repository, traffic trafficlog.Repository, projection ProjectionFunc, metrics *Metrics, logger *slog.Logger) *Collector {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		interval:       interval,
		resetAfterRead: resetAfterRead,
		querier:        querier,
		users:          users,
		traffic:        traffic,
		projection:     projection,
		metrics:        metrics,
		logger:         logger,
		baseline:       make(map[string]baselineEntry),
		stopChan:       make(chan struct{}),
		status:         Snapshot{Status: StatusStarting},
	}
}

// Start runs ticks on a fixed interval until Stop is called or ctx is
// cancelled. Self-stoppable: the loop watches its own stop channel.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the collector loop. Safe to call multiple times.
func (c *Collector) Stop() {
	c.once.Do(func() {
		c.statusMu.Lock()
		c.stopped = true
		c.statusMu.Unlock()
		close(c.stopChan)
	})
	c.wg.Wait()
}

// Snapshot returns the current status, computed against wall-clock now.
func (c *Collector) Snapshot() Snapshot {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	snap := c.status
	snap.Status = c.deriveStatus(time.Now())
	return snap
}

func (c *Collector) deriveStatus(now time.Time) Status {
	if c.stopped {
		return StatusStopped
	}
	if c.status.LastRunAt.IsZero() {
		return StatusStarting
	}
	if c.status.LastSuccessAt.IsZero() {
		return StatusStarting
	}
	if c.watchdogTripped || c.status.ConsecutiveFailures > 0 {
		return StatusDegraded
	}
	if now.Sub(c.status.LastSuccessAt) > 3*c.interval {
		return StatusStale
	}
	return StatusHealthy
}

func (c *Collector) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		dur := time.Since(start)
		if c.metrics != nil {
			c.metrics.TickDuration.Observe(dur.Seconds())
		}
		tripped := dur > 5*c.interval
		c.statusMu.Lock()
		c.status.LastRunAt = start
		c.status.LastDurationMs = dur.Milliseconds()
		c.watchdogTripped = tripped
		c.statusMu.Unlock()
		if tripped {
			c.logger.Warn("statscollector: tick exceeded watchdog threshold, escalating to degraded", "duration", dur, "interval", c.interval)
		}
	}()

	proj, err := c.projection(ctx)
	if err != nil {
		c.recordFailure(start, fmt.Errorf("load projection: %w", err))
		return
	}

	inboundFallback := make(map[string]InboundUsers)
	for _, ib := range proj.Inbounds {
		if len(ib.Users) == 1 {
			inboundFallback[ib.Users[0].ID] = ib
		}
	}

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		usersUpdated int
		trafficBytes uint64
	)

	for _, u := range proj.Users {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, bytes, err := c.collectUser(ctx, u, inboundFallback[u.ID])
			if err != nil {
				c.logger.Warn("statscollector: per-user stat query failed, skipping", "user_id", u.ID, "error", err)
				return
			}
			if updated {
				mu.Lock()
				usersUpdated++
				trafficBytes += bytes
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if c.metrics != nil {
		c.metrics.OnlineUsers.Set(float64(usersUpdated))
	}

	c.statusMu.Lock()
	c.status.LastSuccessAt = start
	c.status.ConsecutiveFailures = 0
	c.status.LastUsersScanned = len(proj.Users)
	c.status.LastUsersUpdated = usersUpdated
	c.status.LastTrafficBytes = trafficBytes
	c.statusMu.Unlock()
}

func (c *Collector) recordFailure(at time.Time, err error) {
	if c.metrics != nil {
		c.metrics.TickFailures.Inc()
	}
	c.logger.Error("statscollector: tick aborted by top-level failure", "error", err)
	c.statusMu.Lock()
	c.status.LastErrorAt = at
	c.status.ConsecutiveFailures++
	c.statusMu.Unlock()
}

// collectUser runs the per-user read -> delta -> mutate sequence. Each
// user's own update is serialized by virtue of owning its own baseline
// entry; different users proceed concurrently via the caller's goroutines.
func (c *Collector) collectUser(ctx context.Context, u user.User, fallback InboundUsers) (updated bool, trafficBytes uint64, err error) {
	candidates := statKeyCandidates(u)

	upload, download, found, queryErr := c.queryFirstFound(ctx, candidates)
	if queryErr != nil {
		return false, 0, queryErr
	}

	if !found && fallback.Tag != "" {
		upload, download, found, queryErr = c.queryInboundFallback(ctx, fallback.Tag)
		if queryErr != nil {
			return false, 0, queryErr
		}
	}

	c.baselineMu.Lock()
	prev, hadBaseline := c.baseline[u.ID]
	if !hadBaseline {
		prev = baselineEntry{}
	}
	deltaUpload := clampDelta(upload, prev.upload)
	deltaDownload := clampDelta(download, prev.download)
	c.baseline[u.ID] = baselineEntry{upload: upload, download: download}
	c.baselineMu.Unlock()

	if deltaUpload == 0 && deltaDownload == 0 {
		return false, 0, nil
	}

	now := time.Now().UTC()
	next := u.ApplyUsage(deltaUpload, deltaDownload, now)
	entry := trafficlog.TrafficLog{
		UserID:        u.ID,
		InboundID:     fallback.Tag,
		UploadDelta:   int64(deltaUpload),
		DownloadDelta: int64(deltaDownload),
		CollectedAt:   now,
	}

	if atomic, ok := c.users.(atomicRepository); ok {
		if err := atomic.SaveUserWithTraffic(ctx, &next, entry); err != nil {
			return false, 0, fmt.Errorf("save user with traffic: %w", err)
		}
		return true, deltaUpload + deltaDownload, nil
	}

	if err := c.users.SaveUser(ctx, &next); err != nil {
		return false, 0, fmt.Errorf("save user: %w", err)
	}
	if err := c.traffic.AppendTraffic(ctx, entry); err != nil {
		return false, 0, fmt.Errorf("append traffic log: %w", err)
	}

	return true, deltaUpload + deltaDownload, nil
}

// queryFirstFound tries each stat key candidate in order, returning the
// first whose uplink or downlink query reports found=true. If none are
// found, it returns the first candidate's (zero) readings so later deltas
// still have a baseline to compare against.
func (c *Collector) queryFirstFound(ctx context.Context, candidates []string) (upload, download uint64, found bool, err error) {
	var firstUp, firstDown uint64
	for i, key := range candidates {
		up, upFound, upErr := c.queryStat(ctx, userStatKey(key, "uplink"))
		if upErr != nil {
			return 0, 0, false, upErr
		}
		down, downFound, downErr := c.queryStat(ctx, userStatKey(key, "downlink"))
		if downErr != nil {
			return 0, 0, false, downErr
		}
		if i == 0 {
			firstUp, firstDown = up, down
		}
		if upFound || downFound {
			return up, down, true, nil
		}
	}
	return firstUp, firstDown, false, nil
}

func (c *Collector) queryInboundFallback(ctx context.Context, tag string) (upload, download uint64, found bool, err error) {
	up, upFound, err := c.queryStat(ctx, inboundStatKey(tag, "uplink"))
	if err != nil {
		return 0, 0, false, err
	}
	down, downFound, err := c.queryStat(ctx, inboundStatKey(tag, "downlink"))
	if err != nil {
		return 0, 0, false, err
	}
	return up, down, upFound || downFound, nil
}

func (c *Collector) queryStat(ctx context.Context, pattern string) (uint64, bool, error) {
	res, err := c.querier.QueryStat(ctx, pattern, c.resetAfterRead)
	if err != nil {
		return 0, false, err
	}
	return res.Value, res.Found, nil
}

// Reset resets the given stat key on the data plane and clears the entire
// baseline map: stat keys are not reliably reversible to user ids, so a
// partial invalidation would be unsafe.
func (c *Collector) Reset(ctx context.Context, statKey string) error {
	if _, err := c.querier.QueryStat(ctx, statKey, true); err != nil {
		return fmt.Errorf("statscollector: reset %q: %w", statKey, err)
	}
	c.baselineMu.Lock()
	c.baseline = make(map[string]baselineEntry)
	c.baselineMu.Unlock()
	return nil
}

func clampDelta(current, baseline uint64) uint64 {
	if current <= baseline {
		return 0
	}
	return current - baseline
}

// statKeyCandidates returns the unique, non-empty stat key candidates for a
// user in priority order: email first, then uuid.
func statKeyCandidates(u user.User) []string {
	var out []string
	if u.Email != "" {
		out = append(out, u.Email)
	}
	if u.UUID != "" && u.UUID != u.Email {
		out = append(out, u.UUID)
	}
	return out
}

func userStatKey(key, direction string) string {
	return fmt.Sprintf("user>>>%s>>>traffic>>>%s", key, direction)
}

func inboundStatKey(tag, direction string) string {
	return fmt.Sprintf("inbound>>>%s>>>traffic>>>%s", tag, direction)
}
