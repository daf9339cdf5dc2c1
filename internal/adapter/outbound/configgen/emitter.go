package configgen

import (
	"github.com/one-ui/control-plane/internal/domain/inbound"
	"github.com/one-ui/control-plane/internal/domain/user"
)

// Emitter renders one inbound and its effective user set into an
// InboundConfig. A false second return means the inbound should be omitted
// entirely (e.g. no eligible users, or missing required key material).
type Emitter interface {
	Generate(in inbound.Inbound, users []user.User) (InboundConfig, bool)
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(in inbound.Inbound, users []user.User) (InboundConfig, bool)

func (f EmitterFunc) Generate(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	return f(in, users)
}

// registry is keyed by protocol, with a default "skip" branch for
// unsupported variants (WireGuard is handled separately since it also
// produces an outbound and a routing rule).
var registry = map[inbound.Protocol]Emitter{
	inbound.ProtocolVLESS:       EmitterFunc(generateVLESS),
	inbound.ProtocolVMess:       EmitterFunc(generateVMess),
	inbound.ProtocolTrojan:      EmitterFunc(generateTrojan),
	inbound.ProtocolShadowsocks: EmitterFunc(generateShadowsocks),
	inbound.ProtocolSOCKS:       EmitterFunc(generateSOCKS),
	inbound.ProtocolHTTP:        EmitterFunc(generateHTTP),
	inbound.ProtocolDokodemo:    EmitterFunc(generateDokodemo),
	inbound.ProtocolMTProto:     EmitterFunc(generateMTProto),
}

func lookupEmitter(p inbound.Protocol) (Emitter, bool) {
	e, ok := registry[p]
	return e, ok
}

func baseInbound(in inbound.Inbound, protocol string) InboundConfig {
	return InboundConfig{
		Tag:      in.Tag,
		Listen:   in.ListenAddr,
		Port:     in.ListenPort,
		Protocol: protocol,
	}
}

func settingString(settings map[string]any, key string) string {
	v, ok := settings[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func generateVLESS(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	if len(users) == 0 {
		return InboundConfig{}, false
	}

	clients := make([]map[string]any, 0, len(users))
	for _, u := range users {
		clients = append(clients, map[string]any{
			"id":    u.UUID,
			"email": u.Email,
			"flow":  settingString(in.Settings, "flow"),
		})
	}

	cfg := baseInbound(in, "vless")
	cfg.Settings = map[string]any{
		"clients":    clients,
		"decryption": "none",
	}

	security := settingString(in.Settings, "security")
	if security == "reality" {
		applyRealitySecurity(&cfg, in, clients)
	}

	cfg.StreamSettings = buildStreamSettings(in, security)
	return cfg, true
}

// applyRealitySecurity forces the vision flow variant and REALITY defaults.
// REALITY is only valid with VLESS.
func applyRealitySecurity(cfg *InboundConfig, in inbound.Inbound, clients []map[string]any) {
	for _, c := range clients {
		c["flow"] = "xtls-rprx-vision"
	}

	serverNames, _ := in.Settings["serverNames"].([]string)
	if len(serverNames) == 0 {
		serverNames = []string{"www.microsoft.com"}
	}

	shortIDs, _ := in.Settings["shortIds"].([]string)
	if len(shortIDs) == 0 {
		shortIDs = []string{""}
	}

	cfg.Settings["realitySettings"] = map[string]any{
		"serverNames": serverNames,
		"shortIds":    shortIDs,
		"privateKey":  settingString(in.Settings, "privateKey"),
		"dest":        settingString(in.Settings, "dest"),
	}
}

func buildStreamSettings(in inbound.Inbound, security string) map[string]any {
	ss := map[string]any{
		"network": in.Transport,
	}
	if security != "" {
		ss["security"] = security
	}
	switch in.Transport {
	case "ws":
		ss["wsSettings"] = map[string]any{
			"path": settingString(in.Settings, "path"),
			"host": settingString(in.Settings, "host"),
		}
	case "grpc":
		ss["grpcSettings"] = map[string]any{
			"serviceName": settingString(in.Settings, "serviceName"),
		}
	case "xhttp":
		ss["xhttpSettings"] = map[string]any{
			"mode": settingString(in.Settings, "mode"),
			"path": settingString(in.Settings, "path"),
		}
	}
	return ss
}

func generateVMess(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	if len(users) == 0 {
		return InboundConfig{}, false
	}
	clients := make([]map[string]any, 0, len(users))
	for _, u := range users {
		clients = append(clients, map[string]any{
			"id":    u.UUID,
			"email": u.Email,
		})
	}
	cfg := baseInbound(in, "vmess")
	cfg.Settings = map[string]any{"clients": clients}
	cfg.StreamSettings = buildStreamSettings(in, settingString(in.Settings, "security"))
	return cfg, true
}

func generateTrojan(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	if len(users) == 0 {
		return InboundConfig{}, false
	}
	clients := make([]map[string]any, 0, len(users))
	for _, u := range users {
		clients = append(clients, map[string]any{
			"password": u.Password,
			"email":    u.Email,
		})
	}
	cfg := baseInbound(in, "trojan")
	cfg.Settings = map[string]any{"clients": clients}
	cfg.StreamSettings = buildStreamSettings(in, settingString(in.Settings, "security"))
	return cfg, true
}

// ss2022Ciphers identifies the SS2022 cipher family, which requires a
// server-level PSK rather than a per-client method.
var ss2022Ciphers = map[string]bool{
	"2022-blake3-aes-128-gcm": true,
	"2022-blake3-aes-256-gcm": true,
	"2022-blake3-chacha20-poly1305": true,
}

func generateShadowsocks(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	if len(users) == 0 {
		return InboundConfig{}, false
	}
	cipher := settingString(in.Settings, "cipher")
	cfg := baseInbound(in, "shadowsocks")

	if ss2022Ciphers[cipher] {
		clients := make([]map[string]any, 0, len(users))
		for _, u := range users {
			clients = append(clients, map[string]any{
				"password": u.Password,
				"email":    u.Email,
			})
		}
		cfg.Settings = map[string]any{
			"method":   cipher,
			"password": users[0].Password, // server-level PSK, first user's password
			"clients":  clients,
		}
		return cfg, true
	}

	clients := make([]map[string]any, 0, len(users))
	for _, u := range users {
		clients = append(clients, map[string]any{
			"method":   cipher,
			"password": u.Password,
			"email":    u.Email,
		})
	}
	cfg.Settings = map[string]any{"clients": clients}
	return cfg, true
}

func generateSOCKS(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	if len(users) == 0 {
		return InboundConfig{}, false
	}
	accounts := make([]map[string]any, 0, len(users))
	for _, u := range users {
		accounts = append(accounts, map[string]any{
			"user": u.Email,
			"pass": u.Password,
		})
	}
	cfg := baseInbound(in, "socks")
	cfg.Settings = map[string]any{"auth": "password", "accounts": accounts, "udp": true}
	return cfg, true
}

func generateHTTP(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	if len(users) == 0 {
		return InboundConfig{}, false
	}
	accounts := make([]map[string]any, 0, len(users))
	for _, u := range users {
		accounts = append(accounts, map[string]any{
			"user": u.Email,
			"pass": u.Password,
		})
	}
	cfg := baseInbound(in, "http")
	cfg.Settings = map[string]any{"accounts": accounts}
	return cfg, true
}

// generateDokodemo never omits on empty users: dokodemo-door forwards
// unconditionally, it has no client list.
func generateDokodemo(in inbound.Inbound, _ []user.User) (InboundConfig, bool) {
	cfg := baseInbound(in, "dokodemo-door")
	cfg.Settings = map[string]any{
		"address": settingString(in.Settings, "targetAddress"),
		"port":    in.Settings["targetPort"],
		"network": "tcp,udp",
	}
	return cfg, true
}

func generateMTProto(in inbound.Inbound, users []user.User) (InboundConfig, bool) {
	if len(users) == 0 {
		return InboundConfig{}, false
	}
	users2 := make([]map[string]any, 0, len(users))
	for _, u := range users {
		users2 = append(users2, map[string]any{"secret": u.Password, "email": u.Email})
	}
	cfg := baseInbound(in, "mtproto")
	cfg.Settings = map[string]any{"users": users2}
	return cfg, true
}
