package onlinetracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/one-ui/control-plane/internal/adapter/outbound/stattransport"
	"github.com/one-ui/control-plane/internal/domain/trafficlog"
	"github.com/one-ui/control-plane/internal/domain/user"
)

type fakeTrafficRepo struct {
	mu    sync.Mutex
	conns []trafficlog.ConnectionLog
	calls int
}

func (f *fakeTrafficRepo) AppendConnection(context.Context, trafficlog.ConnectionLog) error {
	return nil
}
func (f *fakeTrafficRepo) AppendTraffic(context.Context, trafficlog.TrafficLog) error { return nil }
func (f *fakeTrafficRepo) RecentConnections(context.Context, time.Time) ([]trafficlog.ConnectionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.conns, nil
}
func (f *fakeTrafficRepo) TrafficSince(context.Context, time.Time) (map[string]trafficlog.TrafficTotals, error) {
	return nil, nil
}
func (f *fakeTrafficRepo) RecentTraffic(context.Context, time.Time) ([]trafficlog.TrafficLog, error) {
	return nil, nil
}

func newTestTracker(t *testing.T, conns []trafficlog.ConnectionLog, users []user.User) (*Tracker, *fakeTrafficRepo) {
	t.Helper()
	traffic := &fakeTrafficRepo{conns: conns}
	projection := func(context.Context) ([]user.User, error) { return users, nil }
	tr := New(Config{RefreshInterval: time.Second}, traffic, nil, nil, projection, nil)
	return tr, traffic
}

func TestTracker_OpenConnectWithinTTLIsOnline(t *testing.T) {
	now := time.Now()
	u := user.User{ID: "U1", UUID: "uuid-1", Email: "u1@example.com"}
	conns := []trafficlog.ConnectionLog{
		{UserID: "U1", InboundID: "I1", Event: trafficlog.EventConnect, ObservedAt: now.Add(-40 * time.Second)},
	}

	tr, _ := newTestTracker(t, conns, []user.User{u})
	entry, ok, err := tr.GetHeartbeatByUuid(context.Background(), "uuid-1")
	if err != nil {
		t.Fatalf("get heartbeat: %v", err)
	}
	if !ok {
		t.Fatal("expected heartbeat entry to exist")
	}
	if !entry.Online || entry.State != StateOnline {
		t.Fatalf("entry = %+v, want online", entry)
	}
	if entry.CurrentInboundID != "I1" {
		t.Fatalf("CurrentInboundID = %q, want I1", entry.CurrentInboundID)
	}
	if entry.OnlineWindowMs != (60 * time.Second).Milliseconds() {
		t.Fatalf("OnlineWindowMs = %d, want %d", entry.OnlineWindowMs, (60 * time.Second).Milliseconds())
	}
}

func TestTracker_DisconnectAfterConnectIsOffline(t *testing.T) {
	now := time.Now()
	u := user.User{ID: "U1", UUID: "uuid-1"}
	conns := []trafficlog.ConnectionLog{
		{UserID: "U1", InboundID: "I1", Event: trafficlog.EventConnect, ObservedAt: now.Add(-70 * time.Second)},
		{UserID: "U1", InboundID: "I1", Event: trafficlog.EventDisconnect, ObservedAt: now.Add(-65 * time.Second)},
	}

	tr, _ := newTestTracker(t, conns, []user.User{u})
	entry, ok, err := tr.GetHeartbeatByUuid(context.Background(), "uuid-1")
	if err != nil || !ok {
		t.Fatalf("get heartbeat: ok=%v err=%v", ok, err)
	}
	if entry.Online {
		t.Fatalf("entry = %+v, want offline after disconnect", entry)
	}
	if entry.State != StateIdle {
		t.Fatalf("state = %q, want idle (a connect was seen, just not an open one)", entry.State)
	}
}

func TestTracker_NoActivityEverIsOffline(t *testing.T) {
	u := user.User{ID: "U1", UUID: "uuid-1"}
	tr, _ := newTestTracker(t, nil, []user.User{u})

	entry, ok, err := tr.GetHeartbeatByUuid(context.Background(), "uuid-1")
	if err != nil || !ok {
		t.Fatalf("get heartbeat: ok=%v err=%v", ok, err)
	}
	if entry.Online || entry.State != StateOffline {
		t.Fatalf("entry = %+v, want offline", entry)
	}
}

func TestTracker_GetOnlineUsersFiltersOffline(t *testing.T) {
	now := time.Now()
	online := user.User{ID: "U1", UUID: "uuid-online"}
	offline := user.User{ID: "U2", UUID: "uuid-offline"}
	conns := []trafficlog.ConnectionLog{
		{UserID: "U1", InboundID: "I1", Event: trafficlog.EventConnect, ObservedAt: now.Add(-5 * time.Second)},
	}

	tr, _ := newTestTracker(t, conns, []user.User{online, offline})
	list, err := tr.GetOnlineUsers(context.Background())
	if err != nil {
		t.Fatalf("get online users: %v", err)
	}
	if len(list) != 1 || list[0].UserID != "U1" {
		t.Fatalf("online users = %+v, want exactly U1", list)
	}
}

func TestTracker_SnapshotIncludesOfflineUsers(t *testing.T) {
	now := time.Now()
	online := user.User{ID: "U1", UUID: "uuid-online"}
	offline := user.User{ID: "U2", UUID: "uuid-offline"}
	conns := []trafficlog.ConnectionLog{
		{UserID: "U1", InboundID: "I1", Event: trafficlog.EventConnect, ObservedAt: now.Add(-5 * time.Second)},
	}

	tr, _ := newTestTracker(t, conns, []user.User{online, offline})

	all, err := tr.Snapshot(context.Background(), nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("snapshot (all) = %+v, want 2 entries", all)
	}

	filtered, err := tr.Snapshot(context.Background(), []string{"U2"})
	if err != nil {
		t.Fatalf("snapshot filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].UserID != "U2" {
		t.Fatalf("snapshot (filtered) = %+v, want exactly U2", filtered)
	}
}

func TestTracker_RefreshCoalescesConcurrentCallers(t *testing.T) {
	u := user.User{ID: "U1", UUID: "uuid-1"}
	tr, traffic := newTestTracker(t, nil, []user.User{u})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := tr.GetHeartbeatByUuid(context.Background(), "uuid-1"); err != nil {
				t.Errorf("get heartbeat: %v", err)
			}
		}()
	}
	wg.Wait()

	traffic.mu.Lock()
	calls := traffic.calls
	traffic.mu.Unlock()
	if calls != 1 {
		t.Fatalf("RecentConnections called %d times, want 1 (single-flight should coalesce)", calls)
	}
}

func TestTracker_GetHeartbeatMapByUserId(t *testing.T) {
	u1 := user.User{ID: "U1", UUID: "uuid-1"}
	u2 := user.User{ID: "U2", UUID: "uuid-2"}
	tr, _ := newTestTracker(t, nil, []user.User{u1, u2})

	out, err := tr.GetHeartbeatMapByUserId(context.Background(), []string{"U1", "U2", "U-missing"})
	if err != nil {
		t.Fatalf("get heartbeat map: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out["U1"].UUID != "uuid-1" || out["U2"].UUID != "uuid-2" {
		t.Fatalf("out = %+v", out)
	}
}

func TestTracker_ProjectionFailurePropagates(t *testing.T) {
	traffic := &fakeTrafficRepo{}
	projection := func(context.Context) ([]user.User, error) { return nil, context.DeadlineExceeded }
	tr := New(Config{RefreshInterval: time.Second}, traffic, nil, nil, projection, nil)

	if _, _, err := tr.GetHeartbeatByUuid(context.Background(), "anything"); err == nil {
		t.Fatal("expected error from failed projection")
	}
}

// Sanity check that the querier type is wired correctly (compile-time check
// plus a smoke test that a nil querier is tolerated).
func TestTracker_NilQuerierSkipsLiveCounters(t *testing.T) {
	var q *stattransport.Querier
	u := user.User{ID: "U1", UUID: "uuid-1", Email: "u1@example.com"}
	now := time.Now()
	conns := []trafficlog.ConnectionLog{
		{UserID: "U1", InboundID: "I1", Event: trafficlog.EventConnect, ObservedAt: now.Add(-5 * time.Second)},
	}
	traffic := &fakeTrafficRepo{conns: conns}
	projection := func(context.Context) ([]user.User, error) { return []user.User{u}, nil }
	tr := New(Config{RefreshInterval: time.Second}, traffic, nil, q, projection, nil)

	entry, ok, err := tr.GetHeartbeatByUuid(context.Background(), "uuid-1")
	if err != nil || !ok {
		t.Fatalf("get heartbeat: ok=%v err=%v", ok, err)
	}
	if entry.LiveUpload != 0 || entry.LiveDownload != 0 {
		t.Fatalf("expected zero live counters with nil querier, got %+v", entry)
	}
}
