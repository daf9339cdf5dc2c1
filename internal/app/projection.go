package app

import (
	"context"
	"fmt"

	"github.com/one-ui/control-plane/internal/adapter/outbound/configgen"
	"github.com/one-ui/control-plane/internal/adapter/outbound/sqlstore"
	"github.com/one-ui/control-plane/internal/domain/inbound"
	"github.com/one-ui/control-plane/internal/domain/user"
	"github.com/one-ui/control-plane/internal/service/statscollector"
)

// resolver closes the composition root's projection closures over the
// domain store and the inbound/user-group resolution logic in user.Resolve,
// so downstream packages (configgen, statscollector, onlinetracker) never
// need to know about groups.
type resolver struct {
	store *sqlstore.Store
}

func newResolver(store *sqlstore.Store) *resolver {
	return &resolver{store: store}
}

// activeUsers returns every user eligible for inbound admission: enabled
// and not limited/expired/disabled.
func (r *resolver) activeUsers(ctx context.Context) ([]user.User, error) {
	all, err := r.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	active := make([]user.User, 0, len(all))
	for _, u := range all {
		if u.Enabled && u.Status == user.StatusActive {
			active = append(active, u)
		}
	}
	return active, nil
}

// effectiveInboundsByUser resolves, for a single user, the set of inbound
// ids they are admitted to via direct grants and group membership, direct
// grants winning ties per user.Resolve.
func (r *resolver) effectiveInboundsByUser(ctx context.Context, u user.User) (map[string]bool, error) {
	direct, err := r.store.ListUserInbounds(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list user inbounds for %s: %w", u.ID, err)
	}
	memberships, err := r.store.ListUserGroups(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("list user groups for %s: %w", u.ID, err)
	}

	groupInbounds := make(map[string][]user.GroupInbound, len(memberships))
	for _, m := range memberships {
		gi, err := r.store.ListGroupInbounds(ctx, m.GroupID)
		if err != nil {
			return nil, fmt.Errorf("list group inbounds for %s: %w", m.GroupID, err)
		}
		groupInbounds[m.GroupID] = gi
	}

	resolved := user.Resolve(direct, memberships, groupInbounds)
	ids := make(map[string]bool, len(resolved))
	for _, ri := range resolved {
		if ri.Enabled {
			ids[ri.InboundID] = true
		}
	}
	return ids, nil
}

// effectiveUsersByInbound inverts per-user inbound resolution into the
// inbound-keyed view both the config generator and the stats collector
// need: for every enabled inbound, the deduplicated set of users admitted
// to it.
func (r *resolver) effectiveUsersByInbound(ctx context.Context, users []user.User) (map[string][]user.User, error) {
	byInbound := make(map[string][]user.User)
	for _, u := range users {
		ids, err := r.effectiveInboundsByUser(ctx, u)
		if err != nil {
			return nil, err
		}
		for id := range ids {
			byInbound[id] = append(byInbound[id], u)
		}
	}
	return byInbound, nil
}

func (r *resolver) enabledInbounds(ctx context.Context) ([]inbound.Inbound, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inbounds: %w", err)
	}
	enabled := make([]inbound.Inbound, 0, len(all))
	for _, in := range all {
		if in.Status == inbound.StatusEnabled {
			enabled = append(enabled, in)
		}
	}
	return enabled, nil
}

// generateFunc builds the applyengine.GenerateFunc closure: current enabled
// inbounds, their effective user sets, and the fixed operator-configured
// flags.
func (r *resolver) generateFunc(flags configgen.Flags) func(ctx context.Context) (configgen.Input, error) {
	return func(ctx context.Context) (configgen.Input, error) {
		inbounds, err := r.enabledInbounds(ctx)
		if err != nil {
			return configgen.Input{}, err
		}
		users, err := r.activeUsers(ctx)
		if err != nil {
			return configgen.Input{}, err
		}
		effective, err := r.effectiveUsersByInbound(ctx, users)
		if err != nil {
			return configgen.Input{}, err
		}
		return configgen.Input{
			Inbounds:       inbounds,
			EffectiveUsers: effective,
			Flags:          flags,
		}, nil
	}
}

// collectorProjection builds the statscollector.ProjectionFunc closure.
func (r *resolver) collectorProjection() func(ctx context.Context) (statscollector.Projection, error) {
	return func(ctx context.Context) (statscollector.Projection, error) {
		inbounds, err := r.enabledInbounds(ctx)
		if err != nil {
			return statscollector.Projection{}, err
		}
		users, err := r.activeUsers(ctx)
		if err != nil {
			return statscollector.Projection{}, err
		}
		effective, err := r.effectiveUsersByInbound(ctx, users)
		if err != nil {
			return statscollector.Projection{}, err
		}

		projection := statscollector.Projection{Users: users}
		for _, in := range inbounds {
			projection.Inbounds = append(projection.Inbounds, statscollector.InboundUsers{
				Tag:   in.Tag,
				Users: effective[in.ID],
			})
		}
		return projection, nil
	}
}

// onlineProjection builds the onlinetracker.ProjectionFunc closure: just
// the active user set, group resolution plays no role in online status.
func (r *resolver) onlineProjection() func(ctx context.Context) ([]user.User, error) {
	return r.activeUsers
}
