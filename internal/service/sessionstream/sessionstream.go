// Package sessionstream implements the session stream (C8): a push-style
// fan-out of the online tracker's (C7) point-in-time state to per-consumer
// bounded channels, one snapshot per tick, with drop-oldest-on-full
// backpressure so a slow consumer never blocks the producer or other
// subscribers.
package sessionstream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/one-ui/control-plane/internal/service/onlinetracker"
)

// eventBuffer is the bounded channel depth per subscriber. One slot is
// enough to hold "the latest snapshot"; a full buffer means the consumer
// hasn't drained the previous tick yet, so it is replaced rather than
// queued.
const eventBuffer = 1

// Tracker is the subset of onlinetracker.Tracker the stream depends on, for
// testability.
type Tracker interface {
	Snapshot(ctx context.Context, ids []string) ([]onlinetracker.HeartbeatEntry, error)
}

// Stream fans out C7 snapshots to any number of independent subscribers.
// Every subscriber owns its own ticker, so slow or fast consumers never
// affect each other's cadence.
type Stream struct {
	tracker Tracker
	logger  *slog.Logger

	mu   sync.Mutex
	wg   sync.WaitGroup
	subs map[int]context.CancelFunc
	next int
}

// New builds a Stream over tracker (normally an *onlinetracker.Tracker).
func New(tracker Tracker, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		tracker: tracker,
		logger:  logger,
		subs:    make(map[int]context.CancelFunc),
	}
}

// Subscribe starts a new subscription and returns its event channel and a
// cancel function. Closing the consumer (calling cancel, or cancelling ctx)
// immediately stops production for that subscriber only; the channel is
// closed once the producing goroutine has fully exited. Reconnection with
// exponential backoff (initial 1s, doubling, cap 15s, max 10 attempts) is a
// contract on the consumer side of the wire protocol, not something this
// package performs itself.
func (s *Stream) Subscribe(ctx context.Context, params Params) (<-chan Event, context.CancelFunc) {
	params = params.normalized()
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = cancel
	s.mu.Unlock()

	events := make(chan Event, eventBuffer)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(events)
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		s.run(subCtx, params, events)
	}()

	return events, func() {
		cancel()
	}
}

// Close cancels every active subscription and waits for their producer
// goroutines to exit. Safe to call once during shutdown.
func (s *Stream) Close() {
	s.mu.Lock()
	for _, cancel := range s.subs {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ActiveSubscribers reports the current number of live subscriptions, for
// status/diagnostics surfaces.
func (s *Stream) ActiveSubscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) run(ctx context.Context, params Params, events chan<- Event) {
	ticker := time.NewTicker(params.Interval)
	defer ticker.Stop()

	s.emit(ctx, params, events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit(ctx, params, events)
		}
	}
}

func (s *Stream) emit(ctx context.Context, params Params, events chan<- Event) {
	entries, err := s.tracker.Snapshot(ctx, params.UserIDs)
	if err != nil {
		s.send(events, Event{Type: EventError, Message: err.Error()})
		return
	}

	snapshot := buildSnapshot(entries, params)
	s.send(events, Event{Type: EventSnapshot, Snapshot: snapshot})
}

// send delivers ev without ever blocking the producer: if the subscriber's
// single-slot buffer is still full from the previous tick, the stale event
// is dropped to make room, matching the "slow consumers lose events" rule.
func (s *Stream) send(events chan<- Event, ev Event) {
	select {
	case events <- ev:
		return
	default:
	}
	select {
	case <-events:
	default:
	}
	select {
	case events <- ev:
	default:
	}
}

func buildSnapshot(entries []onlinetracker.HeartbeatEntry, params Params) Snapshot {
	total := len(entries)
	online := 0
	for _, e := range entries {
		if e.Online {
			online++
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastActionAt.After(entries[j].LastActionAt)
	})

	sessions := make([]Session, 0, params.Limit)
	for _, e := range entries {
		if !params.IncludeOffline && e.State == onlinetracker.StateOffline {
			continue
		}
		if len(sessions) >= params.Limit {
			break
		}
		sessions = append(sessions, Session{
			UserID:           e.UserID,
			UUID:             e.UUID,
			State:            string(e.State),
			Online:           e.Online,
			CurrentInboundID: e.CurrentInboundID,
			ActiveInbounds:   e.ActiveInbounds,
			OnlineWindowMs:   e.OnlineWindowMs,
			LastActionAt:     e.LastActionAt,
			LiveUpload:       e.LiveUpload,
			LiveDownload:     e.LiveDownload,
		})
	}

	return Snapshot{
		GeneratedAt: time.Now(),
		Total:       total,
		Online:      online,
		Sessions:    sessions,
	}
}
