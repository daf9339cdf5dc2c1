package app

import (
	"context"
	"log/slog"

	"github.com/one-ui/control-plane/internal/adapter/outbound/historylog"
	"github.com/one-ui/control-plane/internal/domain/updatehistory"
	"github.com/one-ui/control-plane/internal/service"
)

// historyFanout records every update-history entry through the primary
// async SQL-backed service and mirrors it, best-effort, onto the local
// rotated JSON-lines files. The file mirror never blocks or fails the
// caller: a write error is logged and dropped, since it only ever backs the
// "tail the last N without touching SQL" fast path, not source-of-truth
// persistence.
type historyFanout struct {
	primary *service.HistoryLogService
	mirror  *historylog.FileStore
	logger  *slog.Logger
}

func newHistoryFanout(primary *service.HistoryLogService, mirror *historylog.FileStore, logger *slog.Logger) *historyFanout {
	return &historyFanout{primary: primary, mirror: mirror, logger: logger}
}

// Record satisfies updatecoordinator.HistoryRecorder.
func (f *historyFanout) Record(entry updatehistory.Entry) {
	f.primary.Record(entry)
	if f.mirror == nil {
		return
	}
	if err := f.mirror.Append(context.Background(), entry); err != nil {
		f.logger.Warn("history file mirror append failed", "error", err)
	}
}
