package configgen

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/one-ui/control-plane/internal/domain/inbound"
	"github.com/one-ui/control-plane/internal/domain/user"
)

// apiTag is the fixed tag for the internal API inbound/outbound pair.
const apiTag = "api"

// Input is the full set of arguments Generate is a pure function of.
type Input struct {
	// Inbounds are the enabled inbounds to render; disabled inbounds must
	// already be filtered out by the caller.
	Inbounds []inbound.Inbound
	// EffectiveUsers maps an inbound id to its effective (deduplicated)
	// user set, already resolved via user.Resolve and group flattening.
	EffectiveUsers map[string][]user.User
	Flags          Flags
}

// Generate renders a Document from the domain model. Pure: no I/O, no
// mutation of Input.
func Generate(in Input) (Document, error) {
	policy, userLevels := buildPolicyConfig(in.EffectiveUsers, in.Flags.NodeSpeedLimit)
	doc := Document{
		Log:    LogConfig{LogLevel: defaultString(in.Flags.LogLevel, "warning")},
		API:    buildAPIConfig(in.Flags),
		Stats:  StatsConfig{},
		Policy: policy,
	}

	wgInbounds, wgOutbounds, wgRoutes := buildWireGuard(in.Flags.WireGuardOutbounds)
	doc.Inbounds = append(buildInbounds(in, userLevels), wgInbounds...)
	doc.Outbounds = buildOutbounds(in.Flags, wgOutbounds)
	doc.Routing = buildRouting(in.Flags, wgRoutes)

	if in.Flags.Observatory != nil && in.Flags.Observatory.Enabled {
		doc.Observatory = &ObservatoryConfig{
			SubjectSelector: in.Flags.Observatory.Subjects,
			ProbeURL:        in.Flags.Observatory.ProbeURL,
			ProbeInterval:   defaultString(in.Flags.Observatory.ProbeInterval, "10m"),
		}
	}
	if in.Flags.Balancer != nil && in.Flags.Balancer.Enabled {
		doc.Balancer = &BalancerConfig{Balancers: []Balancer{{
			Tag:      in.Flags.Balancer.Tag,
			Selector: in.Flags.Balancer.Selector,
			Strategy: BalancerStrategy{Type: defaultString(in.Flags.Balancer.Strategy, "leastPing")},
		}}}
	}

	return doc, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func buildAPIConfig(flags Flags) APIConfig {
	seen := map[string]bool{"StatsService": true}
	services := []string{"StatsService"}
	for _, s := range flags.ExtraAPIServices {
		if !seen[s] {
			seen[s] = true
			services = append(services, s)
		}
	}
	return APIConfig{Tag: apiTag, Services: services}
}

// determineRate mirrors XrayRP's determineRate(nodeLimit, userLimit): the
// effective cap is whichever of the two is set, or the smaller of the two
// when both are, or unlimited (0) when neither is.
func determineRate(nodeLimit, userLimit uint64) uint64 {
	switch {
	case nodeLimit == 0:
		return userLimit
	case userLimit == 0:
		return nodeLimit
	case nodeLimit < userLimit:
		return nodeLimit
	default:
		return userLimit
	}
}

// buildPolicyConfig emits one policy level per distinct effective per-user
// bandwidth cap (User.SpeedLimit reconciled against nodeSpeedLimit via
// determineRate), plus the unlimited default level "0". The returned map
// gives each user's assigned level id, consumed by buildInbounds to stamp
// each rendered client/account entry's "level" field.
func buildPolicyConfig(effectiveUsers map[string][]user.User, nodeSpeedLimit uint64) (PolicyConfig, map[string]int) {
	levels := map[string]PolicyLevel{
		"0": {StatsUserUplink: true, StatsUserDownlink: true},
	}
	userLevel := make(map[string]int)
	rateLevel := make(map[uint64]int)
	nextID := 1

	// Walk inbound ids in sorted order so level ids are assigned the same
	// way on every call for unchanged input.
	inboundIDs := make([]string, 0, len(effectiveUsers))
	for id := range effectiveUsers {
		inboundIDs = append(inboundIDs, id)
	}
	sort.Strings(inboundIDs)

	for _, inboundID := range inboundIDs {
		for _, u := range effectiveUsers[inboundID] {
			if _, ok := userLevel[u.ID]; ok {
				continue
			}
			rate := determineRate(nodeSpeedLimit, u.SpeedLimit)
			if rate == 0 {
				userLevel[u.ID] = 0
				continue
			}
			id, ok := rateLevel[rate]
			if !ok {
				id = nextID
				nextID++
				levels[strconv.Itoa(id)] = PolicyLevel{StatsUserUplink: true, StatsUserDownlink: true, SpeedLimit: rate}
				rateLevel[rate] = id
			}
			userLevel[u.ID] = id
		}
	}

	return PolicyConfig{
		Levels: levels,
		System: PolicySystem{
			StatsInboundUplink:    true,
			StatsInboundDownlink:  true,
			StatsOutboundUplink:   true,
			StatsOutboundDownlink: true,
		},
	}, userLevel
}

// clientListKeys are the Settings keys under which emitters place one
// map[string]any per user, in the same order as the users slice passed to
// Generate — the alignment applyPolicyLevels relies on to stamp "level".
var clientListKeys = []string{"clients", "accounts", "users"}

// applyPolicyLevels stamps each rendered client/account entry with its
// user's policy level id, skipping the default (0) level since Xray treats
// an absent "level" as level 0.
func applyPolicyLevels(cfg *InboundConfig, users []user.User, userLevels map[string]int) {
	for _, key := range clientListKeys {
		arr, ok := cfg.Settings[key].([]map[string]any)
		if !ok {
			continue
		}
		for i, u := range users {
			if i >= len(arr) {
				break
			}
			if id := userLevels[u.ID]; id != 0 {
				arr[i]["level"] = id
			}
		}
	}
}

func buildInbounds(in Input, userLevels map[string]int) []InboundConfig {
	out := make([]InboundConfig, 0, len(in.Inbounds)+1)

	for _, ib := range in.Inbounds {
		emitter, ok := lookupEmitter(ib.Protocol)
		if !ok {
			continue // unsupported protocol variant: skip branch
		}
		users := in.EffectiveUsers[ib.ID]
		cfg, emit := emitter.Generate(ib, users)
		if emit {
			applyPolicyLevels(&cfg, users, userLevels)
			out = append(out, cfg)
		}
	}

	out = append(out, InboundConfig{
		Tag:      apiTag,
		Listen:   "127.0.0.1",
		Port:     0, // replaced below by Flags.APIPort when it is nonzero
		Protocol: "dokodemo-door",
		Settings: map[string]any{"address": "127.0.0.1"},
	})
	if in.Flags.APIPort != 0 {
		out[len(out)-1].Port = in.Flags.APIPort
		out[len(out)-1].Listen = defaultString(in.Flags.APIListen, "127.0.0.1")
	}

	return out
}

func buildOutbounds(flags Flags, wireGuardOutbounds []OutboundConfig) []OutboundConfig {
	out := []OutboundConfig{
		{Tag: "direct", Protocol: "freedom"},
		{Tag: "blocked", Protocol: "blackhole"},
		{Tag: apiTag, Protocol: "freedom"},
	}
	out = append(out, wireGuardOutbounds...)

	if flags.WARP != nil && flags.WARP.Enabled {
		out = append(out, OutboundConfig{
			Tag:      "warp",
			Protocol: "wireguard",
			Settings: map[string]any{
				"secretKey": flags.WARP.PrivateKey,
				"peers": []map[string]any{{
					"endpoint": flags.WARP.Endpoint,
				}},
			},
		})
	}

	return out
}

// buildWireGuard renders each configured WireGuard peer as a paired local
// SOCKS inbound + outbound + routing rule, per the spec's WireGuard
// contract. Peers missing key material are skipped entirely.
func buildWireGuard(peers []WireGuardOutboundFlag) (inbounds []InboundConfig, outbounds []OutboundConfig, routes []RoutingRule) {
	for _, p := range peers {
		if p.SecretKey == "" || len(p.Peers) == 0 {
			continue
		}

		wgPeers := make([]map[string]any, 0, len(p.Peers))
		for _, peer := range p.Peers {
			if peer.PublicKey == "" {
				continue
			}
			wgPeers = append(wgPeers, map[string]any{
				"publicKey":    peer.PublicKey,
				"endpoint":     peer.Endpoint,
				"allowedIPs":   peer.AllowedIPs,
				"preSharedKey": peer.PreSharedKey,
			})
		}
		if len(wgPeers) == 0 {
			continue
		}

		inboundTag := p.Tag + "-in"
		inbounds = append(inbounds, InboundConfig{
			Tag:      inboundTag,
			Listen:   "127.0.0.1",
			Port:     p.ListenPort,
			Protocol: "socks",
			Settings: map[string]any{"auth": "noauth", "udp": true},
		})
		outbounds = append(outbounds, OutboundConfig{
			Tag:      p.Tag,
			Protocol: "wireguard",
			Settings: map[string]any{
				"secretKey": p.SecretKey,
				"address":   p.Address,
				"mtu":       p.MTU,
				"peers":     wgPeers,
			},
		})
		routes = append(routes, RoutingRule{
			Type:        "field",
			InboundTag:  []string{inboundTag},
			OutboundTag: p.Tag,
		})
	}
	return inbounds, outbounds, routes
}

// buildRouting assembles the routing rule list in the required priority
// order: unconditional api rule first, then WireGuard rules, then
// routing-profile-generated rules — deduplicated by the full-value
// fingerprint of each rule. No base rule list is appended after them.
func buildRouting(flags Flags, wireGuardRoutes []RoutingRule) RoutingConfig {
	rules := []RoutingRule{
		{Type: "field", InboundTag: []string{apiTag}, OutboundTag: apiTag},
	}
	rules = append(rules, wireGuardRoutes...)
	rules = append(rules, buildProfileRules(flags.Routing)...)

	return RoutingConfig{Rules: dedupeRules(rules)}
}

func buildProfileRules(profile RoutingProfile) []RoutingRule {
	var rules []RoutingRule

	if profile.BlockPrivateIP {
		rules = append(rules, RoutingRule{
			Type: "field",
			IP:   []string{"geoip:private"},
			OutboundTag: "blocked",
		})
	}
	if profile.BlockBitTorrent {
		rules = append(rules, RoutingRule{
			Type:        "field",
			Protocol:    []string{"bittorrent"},
			OutboundTag: "blocked",
		})
	}

	switch profile.Mode {
	case "smart", "filtered":
		if len(profile.DomesticIPs) > 0 {
			rules = append(rules, RoutingRule{Type: "field", IP: profile.DomesticIPs, OutboundTag: "direct"})
		}
		if len(profile.DomesticDomains) > 0 {
			rules = append(rules, RoutingRule{Type: "field", Domain: profile.DomesticDomains, OutboundTag: "direct"})
		}
	case "strict":
		// no bypass rules: everything besides the rules above goes through
		// the default (proxy) outbound by omission.
	case "open":
		rules = append(rules, RoutingRule{Type: "field", Network: "tcp,udp", OutboundTag: "direct"})
	}

	return rules
}

// dedupeRules removes rules that are byte-identical after canonical JSON
// encoding, fingerprinted with xxhash for a cheap comparison key, preserving
// first-seen order.
func dedupeRules(rules []RoutingRule) []RoutingRule {
	seen := make(map[uint64]bool, len(rules))
	out := make([]RoutingRule, 0, len(rules))
	for _, r := range rules {
		key, err := fingerprintRule(r)
		if err != nil {
			out = append(out, r) // fail open: keep the rule rather than drop silently
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func fingerprintRule(r RoutingRule) (uint64, error) {
	// json.Marshal already sorts map[string]... keys, so the struct's own
	// field order is the only source of instability, and RoutingRule has a
	// fixed field order — this is a stable fingerprint input.
	canon, err := json.Marshal(r)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(canon), nil
}
