package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/one-ui/control-plane/internal/domain/inbound"
)

var _ inbound.Repository = (*Store)(nil)

func (s *Store) List(ctx context.Context) ([]inbound.Inbound, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tag, protocol, listen_addr, listen_port, transport, tls, status, priority, settings, created_at, updated_at FROM inbounds ORDER BY priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list inbounds: %w", err)
	}
	defer rows.Close()

	var out []inbound.Inbound
	for rows.Next() {
		ib, err := scanInbound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ib)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (*inbound.Inbound, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tag, protocol, listen_addr, listen_port, transport, tls, status, priority, settings, created_at, updated_at FROM inbounds WHERE id = ?`, id)
	ib, err := scanInbound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ib, nil
}

func (s *Store) Save(ctx context.Context, in *inbound.Inbound) error {
	settings, err := json.Marshal(in.Settings)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal settings: %w", err)
	}
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inbounds (id, tag, protocol, listen_addr, listen_port, transport, tls, status, priority, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tag=excluded.tag, protocol=excluded.protocol, listen_addr=excluded.listen_addr,
			listen_port=excluded.listen_port, transport=excluded.transport, tls=excluded.tls,
			status=excluded.status, priority=excluded.priority, settings=excluded.settings,
			updated_at=excluded.updated_at
	`, in.ID, in.Tag, string(in.Protocol), in.ListenAddr, in.ListenPort, in.Transport, boolToInt(in.TLS),
		string(in.Status), in.Priority, string(settings), in.CreatedAt.Format(time.RFC3339Nano), in.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: save inbound: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM inbounds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete inbound: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInbound(row rowScanner) (inbound.Inbound, error) {
	var ib inbound.Inbound
	var protocol, status, settingsRaw, createdAt, updatedAt string
	var tls int

	err := row.Scan(&ib.ID, &ib.Tag, &protocol, &ib.ListenAddr, &ib.ListenPort, &ib.Transport, &tls, &status, &ib.Priority, &settingsRaw, &createdAt, &updatedAt)
	if err != nil {
		return inbound.Inbound{}, err
	}

	ib.Protocol = inbound.Protocol(protocol)
	ib.Status = inbound.Status(status)
	ib.TLS = tls != 0
	if err := json.Unmarshal([]byte(settingsRaw), &ib.Settings); err != nil {
		return inbound.Inbound{}, fmt.Errorf("sqlstore: unmarshal settings: %w", err)
	}
	ib.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return inbound.Inbound{}, err
	}
	ib.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return inbound.Inbound{}, err
	}
	return ib, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
