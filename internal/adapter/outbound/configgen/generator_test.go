package configgen

import (
	"strconv"
	"testing"

	"github.com/one-ui/control-plane/internal/domain/inbound"
	"github.com/one-ui/control-plane/internal/domain/user"
)

func TestGenerate_APIRuleAlwaysFirstAndUnique(t *testing.T) {
	doc, err := Generate(Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	apiOutbounds := 0
	for _, o := range doc.Outbounds {
		if o.Tag == apiTag {
			apiOutbounds++
		}
	}
	if apiOutbounds != 1 {
		t.Fatalf("api outbounds = %d, want 1", apiOutbounds)
	}

	if len(doc.Routing.Rules) == 0 {
		t.Fatal("expected at least the api routing rule")
	}
	first := doc.Routing.Rules[0]
	if first.OutboundTag != apiTag || len(first.InboundTag) != 1 || first.InboundTag[0] != apiTag {
		t.Fatalf("first rule = %+v, want api->api", first)
	}
}

func TestGenerate_EmptyUserSetOmitsInbound(t *testing.T) {
	ib := inbound.Inbound{ID: "in1", Tag: "vless-in", Protocol: inbound.ProtocolVLESS, Transport: "tcp"}
	doc, err := Generate(Input{Inbounds: []inbound.Inbound{ib}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, rendered := range doc.Inbounds {
		if rendered.Tag == "vless-in" {
			t.Fatal("expected vless-in to be omitted with no users")
		}
	}
}

func TestGenerate_VLESSRealityForcesVisionFlowAndDefaults(t *testing.T) {
	ib := inbound.Inbound{
		ID: "in1", Tag: "vless-in", Protocol: inbound.ProtocolVLESS, Transport: "tcp",
		Settings: map[string]any{"security": "reality"},
	}
	u := user.User{ID: "u1", Email: "a@example.com", UUID: "uuid-1"}
	doc, err := Generate(Input{
		Inbounds:       []inbound.Inbound{ib},
		EffectiveUsers: map[string][]user.User{"in1": {u}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rendered *InboundConfig
	for i := range doc.Inbounds {
		if doc.Inbounds[i].Tag == "vless-in" {
			rendered = &doc.Inbounds[i]
		}
	}
	if rendered == nil {
		t.Fatal("expected vless-in to be rendered")
	}

	clients, _ := rendered.Settings["clients"].([]map[string]any)
	if len(clients) != 1 || clients[0]["flow"] != "xtls-rprx-vision" {
		t.Fatalf("clients = %+v, want vision flow", clients)
	}

	reality, _ := rendered.Settings["realitySettings"].(map[string]any)
	serverNames, _ := reality["serverNames"].([]string)
	if len(serverNames) != 1 || serverNames[0] != "www.microsoft.com" {
		t.Fatalf("serverNames = %+v, want default", serverNames)
	}
	shortIDs, _ := reality["shortIds"].([]string)
	if len(shortIDs) != 1 || shortIDs[0] != "" {
		t.Fatalf("shortIds = %+v, want one empty string", shortIDs)
	}
}

func TestGenerate_ShadowsocksSS2022UsesServerPSK(t *testing.T) {
	ib := inbound.Inbound{
		ID: "in1", Tag: "ss-in", Protocol: inbound.ProtocolShadowsocks,
		Settings: map[string]any{"cipher": "2022-blake3-aes-128-gcm"},
	}
	u1 := user.User{ID: "u1", Email: "a@example.com", Password: "pw1"}
	u2 := user.User{ID: "u2", Email: "b@example.com", Password: "pw2"}
	doc, err := Generate(Input{
		Inbounds:       []inbound.Inbound{ib},
		EffectiveUsers: map[string][]user.User{"in1": {u1, u2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rendered *InboundConfig
	for i := range doc.Inbounds {
		if doc.Inbounds[i].Tag == "ss-in" {
			rendered = &doc.Inbounds[i]
		}
	}
	if rendered == nil {
		t.Fatal("expected ss-in to be rendered")
	}
	if rendered.Settings["password"] != "pw1" {
		t.Fatalf("server PSK = %v, want first user's password", rendered.Settings["password"])
	}
	clients, _ := rendered.Settings["clients"].([]map[string]any)
	if len(clients) != 2 {
		t.Fatalf("len(clients) = %d, want 2", len(clients))
	}
	if _, hasMethod := clients[0]["method"]; hasMethod {
		t.Fatal("ss2022 clients must not carry a per-client method")
	}
}

func TestGenerate_RoutingRulesDeduplicated(t *testing.T) {
	flags := Flags{Routing: RoutingProfile{BlockPrivateIP: true}}
	doc1, err := Generate(Input{Flags: flags})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc2, err := Generate(Input{Flags: flags})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b1, _ := MarshalCanonical(doc1)
	b2, _ := MarshalCanonical(doc2)
	if string(b1) != string(b2) {
		t.Fatal("Generate is not idempotent for unchanged input")
	}

	seen := map[string]bool{}
	for _, r := range doc1.Routing.Rules {
		b, _ := MarshalCanonical(r)
		if seen[string(b)] {
			t.Fatalf("duplicate routing rule found: %s", b)
		}
		seen[string(b)] = true
	}
}

func TestGenerate_WireGuardSkippedWithoutKeyMaterial(t *testing.T) {
	flags := Flags{WireGuardOutbounds: []WireGuardOutboundFlag{{Tag: "wg1"}}}
	doc, err := Generate(Input{Flags: flags})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, o := range doc.Outbounds {
		if o.Tag == "wg1" {
			t.Fatal("expected wg1 outbound to be skipped without key material")
		}
	}
}

func TestGenerate_WireGuardEmitsPairedInboundAndRoutingRule(t *testing.T) {
	flags := Flags{WireGuardOutbounds: []WireGuardOutboundFlag{{
		Tag:        "wg1",
		SecretKey:  "sk",
		Address:    []string{"10.0.0.2/32"},
		ListenPort: 11080,
		Peers:      []WireGuardPeerFlag{{PublicKey: "pk", Endpoint: "example.com:51820"}},
	}}}
	doc, err := Generate(Input{Flags: flags})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var inbound *InboundConfig
	for i := range doc.Inbounds {
		if doc.Inbounds[i].Tag == "wg1-in" {
			inbound = &doc.Inbounds[i]
		}
	}
	if inbound == nil {
		t.Fatal("expected wg1-in inbound to be rendered alongside the wireguard outbound")
	}
	if inbound.Protocol != "socks" || inbound.Port != 11080 {
		t.Fatalf("wg1-in inbound = %+v, want local socks listener on 11080", inbound)
	}

	var route *RoutingRule
	for i := range doc.Routing.Rules {
		if doc.Routing.Rules[i].OutboundTag == "wg1" {
			route = &doc.Routing.Rules[i]
		}
	}
	if route == nil {
		t.Fatal("expected a routing rule binding wg1-in to the wg1 outbound")
	}
	if len(route.InboundTag) != 1 || route.InboundTag[0] != "wg1-in" {
		t.Fatalf("route.InboundTag = %v, want [wg1-in]", route.InboundTag)
	}
}

func TestGenerate_PerUserSpeedLimitSurfacedAsPolicyLevel(t *testing.T) {
	ib := inbound.Inbound{ID: "in1", Tag: "vless-in", Protocol: inbound.ProtocolVLESS, Transport: "tcp"}
	capped := user.User{ID: "u1", Email: "capped@example.com", UUID: "uuid-1", SpeedLimit: 1_000_000}
	uncapped := user.User{ID: "u2", Email: "free@example.com", UUID: "uuid-2"}

	doc, err := Generate(Input{
		Inbounds:       []inbound.Inbound{ib},
		EffectiveUsers: map[string][]user.User{"in1": {capped, uncapped}},
		Flags:          Flags{NodeSpeedLimit: 5_000_000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rendered *InboundConfig
	for i := range doc.Inbounds {
		if doc.Inbounds[i].Tag == "vless-in" {
			rendered = &doc.Inbounds[i]
		}
	}
	if rendered == nil {
		t.Fatal("expected vless-in to be rendered")
	}
	clients, _ := rendered.Settings["clients"].([]map[string]any)
	if len(clients) != 2 {
		t.Fatalf("len(clients) = %d, want 2", len(clients))
	}

	cappedLevel, ok := clients[0]["level"]
	if !ok {
		t.Fatal("expected capped user's client entry to carry a non-default level")
	}
	uncappedLevel, ok := clients[1]["level"]
	if !ok {
		t.Fatal("expected uncapped user's client entry to carry the node cap's level")
	}

	id, _ := cappedLevel.(int)
	level, ok := doc.Policy.Levels[strconv.Itoa(id)]
	if !ok || level.SpeedLimit != 1_000_000 {
		t.Fatalf("policy level %d = %+v, want SpeedLimit 1000000 (determineRate(5000000, 1000000))", id, level)
	}

	nodeID, _ := uncappedLevel.(int)
	nodeLevel, ok := doc.Policy.Levels[strconv.Itoa(nodeID)]
	if !ok || nodeLevel.SpeedLimit != 5_000_000 {
		t.Fatalf("policy level %d = %+v, want SpeedLimit 5000000 (determineRate(5000000, 0))", nodeID, nodeLevel)
	}
}
