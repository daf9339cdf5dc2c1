// Package service holds small cross-cutting services that sit above the
// domain/adapter layers but are not one of the numbered components (C1-C9).
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/one-ui/control-plane/internal/domain/updatehistory"
)

// HistoryLogService batches update-coordinator history entries onto a
// background worker so appending a history row never blocks the state
// machine's hot path (preflight/canary/full/rollback transitions).
type HistoryLogService struct {
	repo          updatehistory.Repository
	entryChan     chan updatehistory.Entry
	done          chan struct{}
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration
	dropCount   atomic.Int64

	warningThreshold int
	lastWarning      atomic.Int64
}

// HistoryLogOption configures HistoryLogService.
type HistoryLogOption func(*HistoryLogService)

func WithHistoryBatchSize(size int) HistoryLogOption {
	return func(s *HistoryLogService) { s.batchSize = size }
}

func WithHistoryFlushInterval(interval time.Duration) HistoryLogOption {
	return func(s *HistoryLogService) { s.flushInterval = interval }
}

func WithHistoryChannelSize(size int) HistoryLogOption {
	return func(s *HistoryLogService) {
		s.entryChan = make(chan updatehistory.Entry, size)
		s.channelSize = size
	}
}

// WithHistorySendTimeout sets the backpressure timeout: 0 drops immediately
// on a full channel, >0 blocks up to the duration before dropping.
func WithHistorySendTimeout(timeout time.Duration) HistoryLogOption {
	return func(s *HistoryLogService) { s.sendTimeout = timeout }
}

// NewHistoryLogService creates a service writing batched entries to repo.
func NewHistoryLogService(repo updatehistory.Repository, logger *slog.Logger, opts ...HistoryLogOption) *HistoryLogService {
	if logger == nil {
		logger = slog.Default()
	}
	defaultChannelSize := 200
	s := &HistoryLogService{
		repo:             repo,
		entryChan:        make(chan updatehistory.Entry, defaultChannelSize),
		done:             make(chan struct{}),
		logger:           logger,
		batchSize:        20,
		flushInterval:    time.Second,
		channelSize:      defaultChannelSize,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker that batches and writes entries.
func (s *HistoryLogService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record enqueues a history entry. Non-blocking fast path, then blocks up to
// sendTimeout under backpressure before dropping and counting the drop:
// history logging must never stall a rollback in progress.
func (s *HistoryLogService) Record(entry updatehistory.Entry) {
	if s.warningThreshold > 0 {
		depth := len(s.entryChan)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.entryChan <- entry:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(entry)
		return
	}

	select {
	case s.entryChan <- entry:
	case <-time.After(s.sendTimeout):
		s.recordDrop(entry)
	}
}

func (s *HistoryLogService) recordDrop(entry updatehistory.Entry) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("history entry dropped", "message", entry.Message, "level", entry.Level, "total_drops", drops)
}

func (s *HistoryLogService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("history log channel approaching capacity", "depth", depth, "capacity", s.channelSize)
	}
}

// DroppedRecords returns total dropped entries.
func (s *HistoryLogService) DroppedRecords() int64 { return s.dropCount.Load() }

// Stop signals the worker to stop and waits for a final flush.
func (s *HistoryLogService) Stop() {
	close(s.entryChan)
	s.wg.Wait()
}

func (s *HistoryLogService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]updatehistory.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-s.entryChan:
			if !ok {
				if len(batch) > 0 {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			for entry := range s.entryChan {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.flush(flushCtx, batch)
				cancel()
			}
			return
		}
	}
}

func (s *HistoryLogService) flush(ctx context.Context, batch []updatehistory.Entry) {
	for _, entry := range batch {
		if err := s.repo.Append(ctx, entry); err != nil {
			s.logger.Error("failed to write history entry", "error", err, "message", entry.Message)
		}
	}
}
