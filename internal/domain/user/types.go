// Package user contains the User, Group, and membership/relation entities
// that determine which inbounds a user is admitted to and with what
// per-relation overrides (enabled flag, priority).
package user

import (
	"context"
	"time"
)

// Status is the lifecycle state of a User, derived from its usage/expiry
// invariants rather than set directly by most callers.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusLimited  Status = "LIMITED"
	StatusExpired  Status = "EXPIRED"
	StatusDisabled Status = "DISABLED"
)

// User is a data-plane account: a set of protocol credentials plus
// device/bandwidth policy, projected into each inbound's auth config by the
// config generator (C2).
type User struct {
	ID                string
	Email             string // unique
	UUID              string // unique; VLESS/VMess identifier
	Password          string // Trojan/Shadowsocks/SOCKS password, kept plaintext: the
	                          // data plane authenticates against it directly
	SubscriptionToken string
	Tier              string
	Status            Status
	DataLimit         uint64 // byte cap, 0 = unlimited
	UploadUsed        uint64
	DownloadUsed      uint64
	ExpireDate        *time.Time
	IPLimit           int
	DeviceLimit       int
	SpeedLimit        uint64 // bytes/sec, 0 = unlimited
	Enabled           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ApplyUsage adds delta bytes to the user's upload/download counters and
// re-derives Status: uploadUsed+downloadUsed >= dataLimit (dataLimit > 0)
// moves the user to LIMITED; now > expireDate moves it to EXPIRED. Neither
// check ever resurrects a DISABLED user. Counters are monotonically
// non-decreasing except across an explicit reset (see ResetUsage).
func (u User) ApplyUsage(uploadDelta, downloadDelta uint64, now time.Time) User {
	u.UploadUsed += uploadDelta
	u.DownloadUsed += downloadDelta
	u.UpdatedAt = now
	return u.deriveStatus(now)
}

// ResetUsage zeroes the usage counters, e.g. on a billing-cycle rollover or
// an explicit admin reset. Status is re-derived afterward.
func (u User) ResetUsage(now time.Time) User {
	u.UploadUsed = 0
	u.DownloadUsed = 0
	u.UpdatedAt = now
	return u.deriveStatus(now)
}

func (u User) deriveStatus(now time.Time) User {
	if u.Status == StatusDisabled {
		return u
	}
	if u.ExpireDate != nil && now.After(*u.ExpireDate) {
		u.Status = StatusExpired
		return u
	}
	if u.DataLimit > 0 && u.UploadUsed+u.DownloadUsed >= u.DataLimit {
		u.Status = StatusLimited
		return u
	}
	u.Status = StatusActive
	return u
}

// Group is a named collection of users that share inbound relations.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// UserInbound is a direct per-user relation to an inbound, with its own
// enabled/priority override.
type UserInbound struct {
	UserID    string
	InboundID string
	Enabled   bool
	Priority  int
}

// GroupInbound is a group-level relation to an inbound.
type GroupInbound struct {
	GroupID   string
	InboundID string
	Enabled   bool
	Priority  int
}

// UserGroup assigns a user to a group.
type UserGroup struct {
	UserID  string
	GroupID string
}

// ResolvedInbound is the outcome of merging a user's direct and
// group-derived inbound relations: one entry per distinct inbound the user
// can reach, with enabled/priority taken from whichever relation won.
type ResolvedInbound struct {
	InboundID string
	Enabled   bool
	Priority  int
	// Source records which relation supplied the winning values, for
	// diagnostics ("direct" or "group:<group-id>").
	Source string
}

// Resolve merges a user's direct UserInbound relations with the
// GroupInbound relations of every group the user belongs to. Direct
// relations always win over group relations for the same inbound; groups
// only fill gaps the user has no direct relation for.
func Resolve(direct []UserInbound, memberships []UserGroup, groupInbounds map[string][]GroupInbound) []ResolvedInbound {
	byInbound := make(map[string]ResolvedInbound, len(direct))

	for _, d := range direct {
		byInbound[d.InboundID] = ResolvedInbound{
			InboundID: d.InboundID,
			Enabled:   d.Enabled,
			Priority:  d.Priority,
			Source:    "direct",
		}
	}

	for _, m := range memberships {
		for _, gi := range groupInbounds[m.GroupID] {
			if _, exists := byInbound[gi.InboundID]; exists {
				continue
			}
			byInbound[gi.InboundID] = ResolvedInbound{
				InboundID: gi.InboundID,
				Enabled:   gi.Enabled,
				Priority:  gi.Priority,
				Source:    "group:" + m.GroupID,
			}
		}
	}

	out := make([]ResolvedInbound, 0, len(byInbound))
	for _, r := range byInbound {
		out = append(out, r)
	}
	return out
}

// Repository persists users, groups, and their relations.
type Repository interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	SaveUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error

	ListGroups(ctx context.Context) ([]Group, error)
	SaveGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error

	ListUserInbounds(ctx context.Context, userID string) ([]UserInbound, error)
	SaveUserInbound(ctx context.Context, rel *UserInbound) error
	DeleteUserInbound(ctx context.Context, userID, inboundID string) error

	ListGroupInbounds(ctx context.Context, groupID string) ([]GroupInbound, error)
	SaveGroupInbound(ctx context.Context, rel *GroupInbound) error

	ListUserGroups(ctx context.Context, userID string) ([]UserGroup, error)
	SaveUserGroup(ctx context.Context, rel *UserGroup) error
}
