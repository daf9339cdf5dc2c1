package sessionstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/one-ui/control-plane/internal/service/onlinetracker"
)

type fakeTracker struct {
	mu      sync.Mutex
	entries []onlinetracker.HeartbeatEntry
	err     error
	calls   int
}

func (f *fakeTracker) Snapshot(ctx context.Context, ids []string) ([]onlinetracker.HeartbeatEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(ids) == 0 {
		out := make([]onlinetracker.HeartbeatEntry, len(f.entries))
		copy(out, f.entries)
		return out, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []onlinetracker.HeartbeatEntry
	for _, e := range f.entries {
		if want[e.UserID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTracker) setEntries(entries []onlinetracker.HeartbeatEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
}

func (f *fakeTracker) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func sampleEntries() []onlinetracker.HeartbeatEntry {
	now := time.Now()
	return []onlinetracker.HeartbeatEntry{
		{UserID: "u1", UUID: "uuid-1", State: onlinetracker.StateOnline, Online: true, LastActionAt: now},
		{UserID: "u2", UUID: "uuid-2", State: onlinetracker.StateIdle, Online: false, LastActionAt: now.Add(-time.Minute)},
		{UserID: "u3", UUID: "uuid-3", State: onlinetracker.StateOffline, Online: false, LastActionAt: now.Add(-time.Hour)},
	}
}

func waitForEvent(t *testing.T, events <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestStream_SubscribeDeliversSnapshotExcludingOffline(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)
	defer s.Close()

	events, cancel := s.Subscribe(context.Background(), Params{Interval: 500 * time.Millisecond})
	defer cancel()

	ev := waitForEvent(t, events, time.Second)
	if ev.Type != EventSnapshot {
		t.Fatalf("Type = %v, want EventSnapshot", ev.Type)
	}
	if ev.Snapshot.Total != 3 {
		t.Errorf("Total = %d, want 3", ev.Snapshot.Total)
	}
	if ev.Snapshot.Online != 1 {
		t.Errorf("Online = %d, want 1", ev.Snapshot.Online)
	}
	if len(ev.Snapshot.Sessions) != 2 {
		t.Errorf("len(Sessions) = %d, want 2 (offline excluded)", len(ev.Snapshot.Sessions))
	}
	for _, sess := range ev.Snapshot.Sessions {
		if sess.State == string(onlinetracker.StateOffline) {
			t.Errorf("offline session %q leaked into snapshot", sess.UserID)
		}
	}

	cancel()
	s.Close()
}

func TestStream_IncludeOfflineReturnsEveryEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)
	defer s.Close()

	events, cancel := s.Subscribe(context.Background(), Params{Interval: 500 * time.Millisecond, IncludeOffline: true})
	defer cancel()

	ev := waitForEvent(t, events, time.Second)
	if len(ev.Snapshot.Sessions) != 3 {
		t.Errorf("len(Sessions) = %d, want 3", len(ev.Snapshot.Sessions))
	}
}

func TestStream_LimitClampsSessionCount(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)
	defer s.Close()

	events, cancel := s.Subscribe(context.Background(), Params{Interval: 500 * time.Millisecond, IncludeOffline: true, Limit: 1})
	defer cancel()

	ev := waitForEvent(t, events, time.Second)
	if len(ev.Snapshot.Sessions) != 1 {
		t.Errorf("len(Sessions) = %d, want 1", len(ev.Snapshot.Sessions))
	}
}

func TestStream_ParamsNormalizeOutOfRangeValues(t *testing.T) {
	p := Params{Limit: 0, Interval: 0}.normalized()
	if p.Limit != 100 {
		t.Errorf("default Limit = %d, want 100", p.Limit)
	}
	if p.Interval != 2*time.Second {
		t.Errorf("default Interval = %v, want 2s", p.Interval)
	}

	p = Params{Limit: 10000, Interval: time.Hour}.normalized()
	if p.Limit != 500 {
		t.Errorf("clamped Limit = %d, want 500", p.Limit)
	}
	if p.Interval != 10*time.Second {
		t.Errorf("clamped Interval = %v, want 10s", p.Interval)
	}

	p = Params{Limit: -5, Interval: time.Millisecond}.normalized()
	if p.Limit != 100 {
		t.Errorf("negative Limit normalized = %d, want 100", p.Limit)
	}
	if p.Interval != 500*time.Millisecond {
		t.Errorf("floor Interval = %v, want 500ms", p.Interval)
	}
}

func TestStream_UserIDFilterNarrowsSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)
	defer s.Close()

	events, cancel := s.Subscribe(context.Background(), Params{Interval: 500 * time.Millisecond, IncludeOffline: true, UserIDs: []string{"u1"}})
	defer cancel()

	ev := waitForEvent(t, events, time.Second)
	if ev.Snapshot.Total != 1 {
		t.Fatalf("Total = %d, want 1", ev.Snapshot.Total)
	}
	if ev.Snapshot.Sessions[0].UserID != "u1" {
		t.Errorf("UserID = %q, want u1", ev.Snapshot.Sessions[0].UserID)
	}
}

func TestStream_TrackerErrorEmitsErrorEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{err: errors.New("transport unavailable")}
	s := New(tracker, nil)
	defer s.Close()

	events, cancel := s.Subscribe(context.Background(), Params{Interval: 500 * time.Millisecond})
	defer cancel()

	ev := waitForEvent(t, events, time.Second)
	if ev.Type != EventError {
		t.Fatalf("Type = %v, want EventError", ev.Type)
	}
	if ev.Message != "transport unavailable" {
		t.Errorf("Message = %q, want %q", ev.Message, "transport unavailable")
	}
}

func TestStream_CancelStopsProductionForThatSubscriberOnly(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)
	defer s.Close()

	eventsA, cancelA := s.Subscribe(context.Background(), Params{Interval: 100 * time.Millisecond})
	eventsB, cancelB := s.Subscribe(context.Background(), Params{Interval: 100 * time.Millisecond})
	defer cancelB()

	waitForEvent(t, eventsA, time.Second)
	waitForEvent(t, eventsB, time.Second)

	cancelA()
	select {
	case _, ok := <-eventsA:
		if ok {
			// A stray buffered event is acceptable; the channel must close soon after.
			if _, ok2 := <-eventsA; ok2 {
				t.Fatal("subscriber A kept producing events after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber A channel never closed after cancel")
	}

	// B should still be producing independently of A's cancellation.
	waitForEvent(t, eventsB, time.Second)
}

func TestStream_SlowConsumerDropsOldestWithoutBlockingProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)
	defer s.Close()

	events, cancel := s.Subscribe(context.Background(), Params{Interval: 10 * time.Millisecond})
	defer cancel()

	// Don't drain the channel for a while: several ticks should be dropped,
	// not queued, and the producer goroutine must never block on send.
	time.Sleep(200 * time.Millisecond)

	ev := waitForEvent(t, events, time.Second)
	if ev.Type != EventSnapshot {
		t.Fatalf("Type = %v, want EventSnapshot", ev.Type)
	}

	if calls := func() int { tracker.mu.Lock(); defer tracker.mu.Unlock(); return tracker.calls }(); calls < 2 {
		t.Errorf("tracker.calls = %d, want at least 2 ticks to have run", calls)
	}
}

func TestStream_CloseStopsAllSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)

	events1, _ := s.Subscribe(context.Background(), Params{Interval: 100 * time.Millisecond})
	events2, _ := s.Subscribe(context.Background(), Params{Interval: 100 * time.Millisecond})

	waitForEvent(t, events1, time.Second)
	waitForEvent(t, events2, time.Second)

	if got := s.ActiveSubscribers(); got != 2 {
		t.Errorf("ActiveSubscribers() = %d, want 2", got)
	}

	s.Close()

	for range events1 {
	}
	for range events2 {
	}

	if got := s.ActiveSubscribers(); got != 0 {
		t.Errorf("ActiveSubscribers() after Close = %d, want 0", got)
	}
}

func TestStream_ParentContextCancelStopsSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := &fakeTracker{entries: sampleEntries()}
	s := New(tracker, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := s.Subscribe(ctx, Params{Interval: 50 * time.Millisecond})

	waitForEvent(t, events, time.Second)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after parent context cancellation")
		}
	}
}
