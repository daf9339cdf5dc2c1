// Package device implements per-user device/IP admission tracking (C6): two
// independently-bounded sets of recently-seen fingerprints and client IPs per
// user, each evicted on idle TTL, with an optional CEL-gated enforcement
// override evaluated ahead of the default limit check.
package device

import (
	"log/slog"
	"sync"
	"time"

	"github.com/one-ui/control-plane/internal/domain/rule"
)

// RuleEvaluator evaluates an ordered list of rules against an evaluation
// context and returns the first match. Implemented by
// internal/adapter/outbound/cel.Evaluator; declared here so the domain layer
// does not depend on the CEL adapter package.
type RuleEvaluator interface {
	EvaluateRules(rules []rule.Rule, evalCtx rule.EvaluationContext) (rule.Decision, error)
}

// DeviceRecord is a single fingerprint tracked for a user, mirroring spec
// §3's DeviceRecord entity. InboundID/ClientIP reflect the most recent Touch
// that reported them and may be empty if the caller didn't have them.
type DeviceRecord struct {
	Fingerprint string
	InboundID   string
	ClientIP    string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// ipRecord is a single client IP tracked for a user, admitted independently
// of the fingerprint set.
type ipRecord struct {
	firstSeen time.Time
	lastSeen  time.Time
}

// Tracker tracks per-user device fingerprints and client IPs in memory and
// decides whether a new connection should be admitted. The two axes
// (fingerprint count vs deviceLimit, IP count vs ipLimit) are enforced
// independently per spec §4.6: exceeding one never blocks admission on the
// other.
type Tracker struct {
	mu      sync.Mutex
	devices map[string]map[string]*DeviceRecord // userID -> fingerprint -> record
	ips     map[string]map[string]ipRecord      // userID -> clientIP -> record

	evaluator RuleEvaluator
	rules     []rule.Rule

	ttl             time.Duration
	cleanupInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	logger *slog.Logger
}

// New creates a Tracker. evaluator and rules may be nil/empty: enforcement
// then falls through directly to the default limit checks.
func New(ttl, cleanupInterval time.Duration, evaluator RuleEvaluator, rules []rule.Rule, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		devices:         make(map[string]map[string]*DeviceRecord),
		ips:             make(map[string]map[string]ipRecord),
		evaluator:       evaluator,
		rules:           rules,
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Touch records (or refreshes) a fingerprint for a user and decides whether
// the connection is admitted given deviceLimit (0 = unlimited). inboundID and
// clientIP are stored on the DeviceRecord (spec §3's inboundId?/clientIp?)
// but do not themselves gate admission here — see TouchIP for the
// independent per-user IP-admission path. The evaluation context is only
// used when a RuleEvaluator and rules are configured.
func (t *Tracker) Touch(userID, fp, inboundID, clientIP string, deviceLimit int, evalCtx rule.EvaluationContext) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices, ok := t.devices[userID]
	if !ok {
		devices = make(map[string]*DeviceRecord)
		t.devices[userID] = devices
	}

	now := time.Now()
	existing, alreadySeen := devices[fp]

	if !alreadySeen && t.evaluator != nil && len(t.rules) > 0 {
		evalCtx.UserID = userID
		evalCtx.DeviceCount = len(devices)
		evalCtx.DeviceLimit = deviceLimit
		evalCtx.InboundTag = inboundID
		evalCtx.IP = clientIP
		evalCtx.RequestTime = now
		decision, err := t.evaluator.EvaluateRules(t.rules, evalCtx)
		if err != nil {
			t.logger.Warn("device enforcement override failed, falling back to default check", "error", err)
		} else if decision.Matched {
			if decision.Outcome == rule.Deny {
				return Decision{Allowed: false, Reason: "enforcement rule: " + decision.RuleName}
			}
			devices[fp] = &DeviceRecord{Fingerprint: fp, InboundID: inboundID, ClientIP: clientIP, FirstSeenAt: now, LastSeenAt: now}
			return Decision{Allowed: true, Reason: "enforcement rule: " + decision.RuleName}
		}
	}

	if !alreadySeen && deviceLimit > 0 && len(devices) >= deviceLimit {
		return Decision{Allowed: false, Reason: "device limit exceeded"}
	}

	firstSeen := now
	if alreadySeen {
		firstSeen = existing.FirstSeenAt
	}
	devices[fp] = &DeviceRecord{Fingerprint: fp, InboundID: inboundID, ClientIP: clientIP, FirstSeenAt: firstSeen, LastSeenAt: now}
	return Decision{Allowed: true, Reason: "admitted"}
}

// TouchIP records (or refreshes) a client IP for a user and decides whether
// the connection is admitted given ipLimit (0 = unlimited), independently of
// fingerprint admission: exceeding ipLimit never denies an otherwise-admitted
// fingerprint, and vice versa (spec §4.6).
func (t *Tracker) TouchIP(userID, clientIP string, ipLimit int, evalCtx rule.EvaluationContext) Decision {
	if clientIP == "" {
		return Decision{Allowed: true, Reason: "no client ip reported"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ips, ok := t.ips[userID]
	if !ok {
		ips = make(map[string]ipRecord)
		t.ips[userID] = ips
	}

	now := time.Now()
	existing, alreadySeen := ips[clientIP]

	if !alreadySeen && t.evaluator != nil && len(t.rules) > 0 {
		evalCtx.UserID = userID
		evalCtx.IPCount = len(ips)
		evalCtx.IPLimit = ipLimit
		evalCtx.IP = clientIP
		evalCtx.RequestTime = now
		decision, err := t.evaluator.EvaluateRules(t.rules, evalCtx)
		if err != nil {
			t.logger.Warn("ip enforcement override failed, falling back to default check", "error", err)
		} else if decision.Matched {
			if decision.Outcome == rule.Deny {
				return Decision{Allowed: false, Reason: "enforcement rule: " + decision.RuleName}
			}
			ips[clientIP] = ipRecord{firstSeen: now, lastSeen: now}
			return Decision{Allowed: true, Reason: "enforcement rule: " + decision.RuleName}
		}
	}

	if !alreadySeen && ipLimit > 0 && len(ips) >= ipLimit {
		return Decision{Allowed: false, Reason: "ip limit exceeded"}
	}

	firstSeen := now
	if alreadySeen {
		firstSeen = existing.firstSeen
	}
	ips[clientIP] = ipRecord{firstSeen: firstSeen, lastSeen: now}
	return Decision{Allowed: true, Reason: "admitted"}
}

// ListActive returns the fingerprints currently tracked for a user.
func (t *Tracker) ListActive(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices := t.devices[userID]
	out := make([]string, 0, len(devices))
	for fp := range devices {
		out = append(out, fp)
	}
	return out
}

// ListActiveIPs returns the client IPs currently tracked for a user.
func (t *Tracker) ListActiveIPs(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ips := t.ips[userID]
	out := make([]string, 0, len(ips))
	for ip := range ips {
		out = append(out, ip)
	}
	return out
}

// Record is a single active fingerprint with its last-seen time, used by
// ActiveWithin.
type Record struct {
	Fingerprint string
	LastSeen    time.Time
}

// ActiveWithin returns the fingerprints for a user last seen within ttl of
// now, evicting anything staler in the same pass. Used by the online
// tracker (C7) to derive "online by device" without waiting on the
// background cleanup tick.
func (t *Tracker) ActiveWithin(userID string, ttl time.Duration) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices := t.devices[userID]
	cutoff := time.Now().Add(-ttl)
	out := make([]Record, 0, len(devices))
	for fp, info := range devices {
		if info.LastSeenAt.Before(cutoff) {
			delete(devices, fp)
			continue
		}
		out = append(out, Record{Fingerprint: fp, LastSeen: info.LastSeenAt})
	}
	return out
}

// Revoke removes a single fingerprint for a user.
func (t *Tracker) Revoke(userID, fp string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if devices, ok := t.devices[userID]; ok {
		delete(devices, fp)
	}
}

// RevokeIP removes a single client IP for a user.
func (t *Tracker) RevokeIP(userID, clientIP string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ips, ok := t.ips[userID]; ok {
		delete(ips, clientIP)
	}
}

// DisconnectAll clears every fingerprint and client IP tracked for a user,
// returning the counts of each that were cleared (spec §4.6:
// DisconnectAll(userId) -> {devices, ips}).
func (t *Tracker) DisconnectAll(userID string) (devices, ips int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices = len(t.devices[userID])
	ips = len(t.ips[userID])
	delete(t.devices, userID)
	delete(t.ips, userID)
	return devices, ips
}

// StartCleanup starts the background eviction goroutine. Stops when done is
// closed or Stop is called.
func (t *Tracker) StartCleanup(done <-chan struct{}) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-t.stopChan:
				return
			case <-ticker.C:
				t.evictIdle()
			}
		}
	}()
}

func (t *Tracker) evictIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.ttl)
	for userID, devices := range t.devices {
		for fp, info := range devices {
			if info.LastSeenAt.Before(cutoff) {
				delete(devices, fp)
			}
		}
		if len(devices) == 0 {
			delete(t.devices, userID)
		}
	}
	for userID, ips := range t.ips {
		for ip, info := range ips {
			if info.lastSeen.Before(cutoff) {
				delete(ips, ip)
			}
		}
		if len(ips) == 0 {
			delete(t.ips, userID)
		}
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (t *Tracker) Stop() {
	t.once.Do(func() {
		close(t.stopChan)
	})
	t.wg.Wait()
}
