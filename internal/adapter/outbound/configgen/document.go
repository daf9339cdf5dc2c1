// Package configgen renders the domain model (inbounds, groups, users,
// routing profile, feature flags) into the canonical data-plane config
// document. It is a pure function of its inputs: no I/O beyond reading an
// optional base template, no mutation of arguments.
package configgen

import "encoding/json"

// Document is the top-level canonical config document. Field order is
// fixed (not alphabetical) so repeated generation from unchanged input is
// byte-identical, per the round-trip invariant.
type Document struct {
	Log        LogConfig        `json:"log"`
	API        APIConfig        `json:"api"`
	Stats      StatsConfig      `json:"stats"`
	Policy     PolicyConfig     `json:"policy"`
	Inbounds   []InboundConfig  `json:"inbounds"`
	Outbounds  []OutboundConfig `json:"outbounds"`
	Routing    RoutingConfig    `json:"routing"`
	Observatory *ObservatoryConfig `json:"observatory,omitempty"`
	Balancer    *BalancerConfig    `json:"balancer,omitempty"`
	DNS         json.RawMessage    `json:"dns,omitempty"`
}

type LogConfig struct {
	LogLevel string `json:"loglevel"`
}

// APIConfig describes the internal api inbound's exposed services.
type APIConfig struct {
	Tag      string   `json:"tag"`
	Services []string `json:"services"`
}

type StatsConfig struct{}

type PolicyLevel struct {
	StatsUserUplink   bool   `json:"statsUserUplink"`
	StatsUserDownlink bool   `json:"statsUserDownlink"`
	SpeedLimit        uint64 `json:"speedLimit,omitempty"` // bytes/sec, 0/omitted = unlimited
}

type PolicyConfig struct {
	Levels  map[string]PolicyLevel `json:"levels"`
	System  PolicySystem           `json:"system"`
}

type PolicySystem struct {
	StatsInboundUplink    bool `json:"statsInboundUplink"`
	StatsInboundDownlink  bool `json:"statsInboundDownlink"`
	StatsOutboundUplink   bool `json:"statsOutboundUplink"`
	StatsOutboundDownlink bool `json:"statsOutboundDownlink"`
}

// InboundConfig is one rendered listener.
type InboundConfig struct {
	Tag            string         `json:"tag"`
	Listen         string         `json:"listen"`
	Port           int            `json:"port"`
	Protocol       string         `json:"protocol"`
	Settings       map[string]any `json:"settings,omitempty"`
	StreamSettings map[string]any `json:"streamSettings,omitempty"`
}

// OutboundConfig is one rendered egress path.
type OutboundConfig struct {
	Tag            string         `json:"tag"`
	Protocol       string         `json:"protocol"`
	Settings       map[string]any `json:"settings,omitempty"`
	StreamSettings map[string]any `json:"streamSettings,omitempty"`
}

// RoutingRule is a single routing decision rule, emitted in priority order.
type RoutingRule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag,omitempty"`
	OutboundTag string   `json:"outboundTag,omitempty"`
	Domain      []string `json:"domain,omitempty"`
	IP          []string `json:"ip,omitempty"`
	Protocol    []string `json:"protocol,omitempty"`
	Network     string   `json:"network,omitempty"`
}

type RoutingConfig struct {
	DomainStrategy string        `json:"domainStrategy,omitempty"`
	Rules          []RoutingRule `json:"rules"`
}

type ObservatoryConfig struct {
	SubjectSelector []string `json:"subjectSelector"`
	ProbeURL        string   `json:"probeUrl"`
	ProbeInterval   string   `json:"probeInterval"`
}

type BalancerConfig struct {
	Balancers []Balancer `json:"balancers"`
}

type Balancer struct {
	Tag      string   `json:"tag"`
	Selector []string `json:"selector"`
	Strategy BalancerStrategy `json:"strategy"`
}

type BalancerStrategy struct {
	Type string `json:"type"`
}

// MarshalCanonical renders the document as 2-space-indented JSON with
// stable field order, for both the single-file and fragmented outputs.
func MarshalCanonical(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
