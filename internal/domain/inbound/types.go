// Package inbound contains the Inbound entity: a single listener the
// managed proxy engine exposes (VLESS, VMess, Trojan, Shadowsocks, SOCKS,
// HTTP, Dokodemo-door, WireGuard, MTProto, ...).
package inbound

import (
	"context"
	"errors"
	"time"
)

// Protocol identifies the proxy protocol a listener speaks.
type Protocol string

const (
	ProtocolVLESS      Protocol = "vless"
	ProtocolVMess      Protocol = "vmess"
	ProtocolTrojan     Protocol = "trojan"
	ProtocolShadowsocks Protocol = "shadowsocks"
	ProtocolSOCKS      Protocol = "socks"
	ProtocolHTTP       Protocol = "http"
	ProtocolDokodemo   Protocol = "dokodemo-door"
	ProtocolWireGuard  Protocol = "wireguard"
	ProtocolMTProto    Protocol = "mtproto"
)

// Status is the lifecycle state of an Inbound.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
)

// ErrInvalidTransition is returned when a status transition is not permitted.
var ErrInvalidTransition = errors.New("inbound: invalid status transition")

// Inbound is a single listener configuration the config generator (C2)
// renders into the engine's canonical config document.
type Inbound struct {
	ID         string
	Tag        string
	Protocol   Protocol
	ListenAddr string
	ListenPort int
	Transport  string // e.g. "tcp", "ws", "grpc", "quic"
	TLS        bool
	Status     Status
	Priority   int // persisted with the inbound; the config generator does not read it
	// Settings carries protocol-specific options (flow control, obfuscation,
	// WireGuard peer config, etc.) as an opaque, protocol-defined document.
	Settings  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition validates and applies a status change, returning a new Inbound
// value. A target other than StatusEnabled or StatusDisabled returns
// ErrInvalidTransition; a transition to the current status is accepted
// rather than rejected, matching how the apply engine (C3) retries
// idempotently.
func (i Inbound) Transition(to Status) (Inbound, error) {
	if to != StatusEnabled && to != StatusDisabled {
		return i, ErrInvalidTransition
	}
	i.Status = to
	i.UpdatedAt = time.Now().UTC()
	return i, nil
}

// Enabled reports whether the inbound should be included in a generated
// config document.
func (i Inbound) Enabled() bool {
	return i.Status == StatusEnabled
}

// Repository persists Inbound entities.
type Repository interface {
	List(ctx context.Context) ([]Inbound, error)
	Get(ctx context.Context, id string) (*Inbound, error)
	Save(ctx context.Context, in *Inbound) error
	Delete(ctx context.Context, id string) error
}
