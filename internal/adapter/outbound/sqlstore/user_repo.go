package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/one-ui/control-plane/internal/domain/user"
)

var _ user.Repository = (*Store)(nil)

// execer is satisfied by both *sql.DB and *sql.Tx, letting the row-level
// save helpers run standalone or as part of a larger transaction (see
// Store.SaveUserWithTraffic).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const userColumns = `id, email, uuid, password, subscription_token, tier, status, data_limit,
	upload_used, download_used, expire_date, ip_limit, device_limit, speed_limit, enabled, created_at, updated_at`

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list users: %w", err)
	}
	defer rows.Close()

	var out []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, u *user.User) error {
	return saveUser(ctx, s.db, u)
}

func saveUser(ctx context.Context, ex execer, u *user.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.Status == "" {
		u.Status = user.StatusActive
	}
	u.UpdatedAt = now

	var expireDate any
	if u.ExpireDate != nil {
		expireDate = u.ExpireDate.UTC().Format(time.RFC3339Nano)
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO users (id, email, uuid, password, subscription_token, tier, status, data_limit,
			upload_used, download_used, expire_date, ip_limit, device_limit, speed_limit, enabled,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email=excluded.email, uuid=excluded.uuid, password=excluded.password,
			subscription_token=excluded.subscription_token, tier=excluded.tier, status=excluded.status,
			data_limit=excluded.data_limit, upload_used=excluded.upload_used,
			download_used=excluded.download_used, expire_date=excluded.expire_date,
			ip_limit=excluded.ip_limit, device_limit=excluded.device_limit, speed_limit=excluded.speed_limit,
			enabled=excluded.enabled, updated_at=excluded.updated_at
	`, u.ID, u.Email, u.UUID, u.Password, u.SubscriptionToken, u.Tier, string(u.Status), u.DataLimit,
		u.UploadUsed, u.DownloadUsed, expireDate, u.IPLimit, u.DeviceLimit, u.SpeedLimit, boolToInt(u.Enabled),
		u.CreatedAt.Format(time.RFC3339Nano), u.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: save user: %w", err)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete user: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	var status string
	var enabled int
	var expireDate sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&u.ID, &u.Email, &u.UUID, &u.Password, &u.SubscriptionToken, &u.Tier, &status,
		&u.DataLimit, &u.UploadUsed, &u.DownloadUsed, &expireDate, &u.IPLimit, &u.DeviceLimit,
		&u.SpeedLimit, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return user.User{}, err
	}

	u.Status = user.Status(status)
	u.Enabled = enabled != 0
	if expireDate.Valid {
		t, err := time.Parse(time.RFC3339Nano, expireDate.String)
		if err != nil {
			return user.User{}, err
		}
		u.ExpireDate = &t
	}
	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return user.User{}, err
	}
	u.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]user.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM groups`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list groups: %w", err)
	}
	defer rows.Close()

	var out []user.Group
	for rows.Next() {
		var g user.Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &createdAt); err != nil {
			return nil, err
		}
		g.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) SaveGroup(ctx context.Context, g *user.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name
	`, g.ID, g.Name, g.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: save group: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete group: %w", err)
	}
	return nil
}

func (s *Store) ListUserInbounds(ctx context.Context, userID string) ([]user.UserInbound, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, inbound_id, enabled, priority FROM user_inbounds WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list user inbounds: %w", err)
	}
	defer rows.Close()

	var out []user.UserInbound
	for rows.Next() {
		var rel user.UserInbound
		var enabled int
		if err := rows.Scan(&rel.UserID, &rel.InboundID, &enabled, &rel.Priority); err != nil {
			return nil, err
		}
		rel.Enabled = enabled != 0
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *Store) SaveUserInbound(ctx context.Context, rel *user.UserInbound) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_inbounds (user_id, inbound_id, enabled, priority) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, inbound_id) DO UPDATE SET enabled=excluded.enabled, priority=excluded.priority
	`, rel.UserID, rel.InboundID, boolToInt(rel.Enabled), rel.Priority)
	if err != nil {
		return fmt.Errorf("sqlstore: save user inbound: %w", err)
	}
	return nil
}

func (s *Store) DeleteUserInbound(ctx context.Context, userID, inboundID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_inbounds WHERE user_id = ? AND inbound_id = ?`, userID, inboundID)
	if err != nil {
		return fmt.Errorf("sqlstore: delete user inbound: %w", err)
	}
	return nil
}

func (s *Store) ListGroupInbounds(ctx context.Context, groupID string) ([]user.GroupInbound, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, inbound_id, enabled, priority FROM group_inbounds WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list group inbounds: %w", err)
	}
	defer rows.Close()

	var out []user.GroupInbound
	for rows.Next() {
		var rel user.GroupInbound
		var enabled int
		if err := rows.Scan(&rel.GroupID, &rel.InboundID, &enabled, &rel.Priority); err != nil {
			return nil, err
		}
		rel.Enabled = enabled != 0
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *Store) SaveGroupInbound(ctx context.Context, rel *user.GroupInbound) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_inbounds (group_id, inbound_id, enabled, priority) VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id, inbound_id) DO UPDATE SET enabled=excluded.enabled, priority=excluded.priority
	`, rel.GroupID, rel.InboundID, boolToInt(rel.Enabled), rel.Priority)
	if err != nil {
		return fmt.Errorf("sqlstore: save group inbound: %w", err)
	}
	return nil
}

func (s *Store) ListUserGroups(ctx context.Context, userID string) ([]user.UserGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, group_id FROM user_groups WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list user groups: %w", err)
	}
	defer rows.Close()

	var out []user.UserGroup
	for rows.Next() {
		var rel user.UserGroup
		if err := rows.Scan(&rel.UserID, &rel.GroupID); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *Store) SaveUserGroup(ctx context.Context, rel *user.UserGroup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)
		ON CONFLICT(user_id, group_id) DO NOTHING
	`, rel.UserID, rel.GroupID)
	if err != nil {
		return fmt.Errorf("sqlstore: save user group: %w", err)
	}
	return nil
}
