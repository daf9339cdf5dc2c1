package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/one-ui/control-plane/internal/domain/trafficlog"
	"github.com/one-ui/control-plane/internal/domain/user"
)

var _ trafficlog.Repository = (*Store)(nil)

func (s *Store) AppendConnection(ctx context.Context, entry trafficlog.ConnectionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Event == "" {
		entry.Event = trafficlog.EventConnect
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_logs (id, user_id, inbound_id, ip, event, observed_at) VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.UserID, entry.InboundID, entry.IP, string(entry.Event), entry.ObservedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: append connection: %w", err)
	}
	return nil
}

func (s *Store) AppendTraffic(ctx context.Context, entry trafficlog.TrafficLog) error {
	return appendTraffic(ctx, s.db, entry)
}

func appendTraffic(ctx context.Context, ex execer, entry trafficlog.TrafficLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO traffic_logs (id, user_id, inbound_id, upload_delta, download_delta, collected_at) VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.UserID, entry.InboundID, entry.UploadDelta, entry.DownloadDelta, entry.CollectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: append traffic: %w", err)
	}
	return nil
}

// SaveUserWithTraffic persists a usage-counter update and its traffic-log
// entry in a single transaction, so a failure partway through never leaves
// uploadUsed/downloadUsed incremented with no matching TrafficLog row.
func (s *Store) SaveUserWithTraffic(ctx context.Context, u *user.User, entry trafficlog.TrafficLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: save user with traffic: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if err := saveUser(ctx, tx, u); err != nil {
		return err
	}
	if err := appendTraffic(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: save user with traffic: commit: %w", err)
	}
	return nil
}

// RecentConnections returns every connection event observed since the given
// time, newest first.
func (s *Store) RecentConnections(ctx context.Context, since time.Time) ([]trafficlog.ConnectionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, inbound_id, ip, event, observed_at
		FROM connection_logs
		WHERE observed_at >= ?
		ORDER BY observed_at DESC
	`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: recent connections: %w", err)
	}
	defer rows.Close()

	var out []trafficlog.ConnectionLog
	for rows.Next() {
		var c trafficlog.ConnectionLog
		var event, observedAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.InboundID, &c.IP, &event, &observedAt); err != nil {
			return nil, err
		}
		c.Event = trafficlog.EventType(event)
		c.ObservedAt, err = time.Parse(time.RFC3339Nano, observedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentTraffic returns every traffic log row observed since the given
// time, newest first.
func (s *Store) RecentTraffic(ctx context.Context, since time.Time) ([]trafficlog.TrafficLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, inbound_id, upload_delta, download_delta, collected_at
		FROM traffic_logs
		WHERE collected_at >= ?
		ORDER BY collected_at DESC
	`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: recent traffic: %w", err)
	}
	defer rows.Close()

	var out []trafficlog.TrafficLog
	for rows.Next() {
		var t trafficlog.TrafficLog
		var collectedAt string
		if err := rows.Scan(&t.ID, &t.UserID, &t.InboundID, &t.UploadDelta, &t.DownloadDelta, &collectedAt); err != nil {
			return nil, err
		}
		t.CollectedAt, err = time.Parse(time.RFC3339Nano, collectedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TrafficSince sums upload/download deltas per user observed since the given
// time.
func (s *Store) TrafficSince(ctx context.Context, since time.Time) (map[string]trafficlog.TrafficTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, SUM(upload_delta), SUM(download_delta)
		FROM traffic_logs
		WHERE collected_at >= ?
		GROUP BY user_id
	`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: traffic since: %w", err)
	}
	defer rows.Close()

	out := make(map[string]trafficlog.TrafficTotals)
	for rows.Next() {
		var userID string
		var totals trafficlog.TrafficTotals
		if err := rows.Scan(&userID, &totals.Upload, &totals.Download); err != nil {
			return nil, err
		}
		out[userID] = totals
	}
	return out, rows.Err()
}
