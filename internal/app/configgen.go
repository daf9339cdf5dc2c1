package app

import (
	"github.com/one-ui/control-plane/internal/adapter/outbound/configgen"
	"github.com/one-ui/control-plane/internal/config"
)

// toConfigGenFlags converts the operator-facing config-generator knobs into
// configgen's own flag shapes, leaving nested optional sections nil when
// the operator never configured them.
func toConfigGenFlags(logLevel string, cg config.ConfigGenConfig) configgen.Flags {
	flags := configgen.Flags{
		LogLevel:       logLevel,
		APIListen:      cg.APIListen,
		APIPort:        cg.APIPort,
		NodeSpeedLimit: cg.NodeSpeedLimit,
		Routing: configgen.RoutingProfile{
			Mode:            cg.Routing.Mode,
			DomesticIPs:     cg.Routing.DomesticIPs,
			DomesticDomains: cg.Routing.DomesticDomains,
			BlockPrivateIP:  cg.Routing.BlockPrivateIP,
			BlockBitTorrent: cg.Routing.BlockBitTorrent,
		},
	}

	if cg.Observatory != nil {
		flags.Observatory = &configgen.ObservatoryFlags{
			Enabled:       cg.Observatory.Enabled,
			ProbeURL:      cg.Observatory.ProbeURL,
			ProbeInterval: cg.Observatory.ProbeInterval,
			Subjects:      cg.Observatory.Subjects,
		}
	}

	if cg.Balancer != nil {
		flags.Balancer = &configgen.BalancerFlags{
			Enabled:  cg.Balancer.Enabled,
			Tag:      cg.Balancer.Tag,
			Selector: cg.Balancer.Selector,
			Strategy: cg.Balancer.Strategy,
		}
	}

	if cg.WARP != nil {
		flags.WARP = &configgen.WARPFlag{
			Enabled:    cg.WARP.Enabled,
			PrivateKey: cg.WARP.PrivateKey,
			Endpoint:   cg.WARP.Endpoint,
		}
	}

	for _, wg := range cg.WireGuardOutbounds {
		peers := make([]configgen.WireGuardPeerFlag, 0, len(wg.Peers))
		for _, p := range wg.Peers {
			peers = append(peers, configgen.WireGuardPeerFlag{
				PublicKey:    p.PublicKey,
				Endpoint:     p.Endpoint,
				AllowedIPs:   p.AllowedIPs,
				PreSharedKey: p.PreSharedKey,
			})
		}
		flags.WireGuardOutbounds = append(flags.WireGuardOutbounds, configgen.WireGuardOutboundFlag{
			Tag:        wg.Tag,
			SecretKey:  wg.SecretKey,
			Address:    wg.Address,
			MTU:        wg.MTU,
			ListenPort: wg.ListenPort,
			Peers:      peers,
		})
	}

	return flags
}
