package configgen

// Flags carries the environment-derived and operator-configured knobs that
// shape generation but are not part of the domain model proper.
type Flags struct {
	LogLevel string

	APIListen string
	APIPort   int
	// ExtraAPIServices are appended to the default ["StatsService"] set and
	// deduplicated.
	ExtraAPIServices []string

	Observatory *ObservatoryFlags
	Balancer    *BalancerFlags

	WireGuardOutbounds []WireGuardOutboundFlag
	WARP               *WARPFlag

	Routing RoutingProfile

	// NodeSpeedLimit is the operator-configured per-node bandwidth cap in
	// bytes/sec, 0 = unlimited. Reconciled against each user's own
	// User.SpeedLimit via determineRate to produce the effective per-user
	// policy-level cap.
	NodeSpeedLimit uint64
}

type ObservatoryFlags struct {
	Enabled       bool
	ProbeURL      string
	ProbeInterval string
	Subjects      []string
}

type BalancerFlags struct {
	Enabled  bool
	Tag      string
	Selector []string
	Strategy string
}

// WireGuardOutboundFlag describes one configured WireGuard peer the
// generator should render as a paired inbound (local SOCKS listener) plus
// outbound plus routing rule.
type WireGuardOutboundFlag struct {
	Tag        string
	SecretKey  string
	Address    []string
	MTU        int
	Peers      []WireGuardPeerFlag
	ListenPort int
}

type WireGuardPeerFlag struct {
	PublicKey    string
	Endpoint     string
	AllowedIPs   []string
	PreSharedKey string
}

type WARPFlag struct {
	Enabled    bool
	PrivateKey string
	Endpoint   string
}

// RoutingProfile drives the routing-profile-generated rule set: private-IP
// block, BitTorrent block, and smart bypass for declared domestic IP sets
// and domains.
type RoutingProfile struct {
	Mode            string // smart|filtered|strict|open
	DomesticIPs     []string
	DomesticDomains []string
	BlockPrivateIP  bool
	BlockBitTorrent bool
}
