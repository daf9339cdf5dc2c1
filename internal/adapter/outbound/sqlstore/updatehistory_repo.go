package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/one-ui/control-plane/internal/domain/updatehistory"
)

var _ updatehistory.Repository = (*Store)(nil)

func (s *Store) Append(ctx context.Context, entry updatehistory.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal history metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO update_history (id, level, message, metadata, timestamp) VALUES (?, ?, ?, ?, ?)
	`, entry.ID, string(entry.Level), entry.Message, string(metadata), entry.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: append history: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, limit, offset int) ([]updatehistory.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, message, metadata, timestamp FROM update_history
		ORDER BY timestamp DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: recent history: %w", err)
	}
	defer rows.Close()

	var out []updatehistory.Entry
	for rows.Next() {
		var e updatehistory.Entry
		var level, metadataRaw, timestamp string
		if err := rows.Scan(&e.ID, &level, &e.Message, &metadataRaw, &timestamp); err != nil {
			return nil, err
		}
		e.Level = updatehistory.Level(level)
		if err := json.Unmarshal([]byte(metadataRaw), &e.Metadata); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal history metadata: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
