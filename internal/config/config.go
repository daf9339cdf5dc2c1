// Package config provides configuration types for the One-UI control plane.
//
// This is the single-node OSS configuration schema: file-based config with
// environment overrides, no external coordination service. It intentionally
// excludes cluster-mode features:
//
//   - NO distributed lock backend (local flock only)
//   - NO multi-node fleet coordination
//   - NO remote config store (local YAML + SQLite only)
//   - NO TLS termination (handle via reverse proxy / the data plane itself)
package config

import (
	"os"
)

// Config is the top-level configuration for the control plane.
type Config struct {
	// Server configures the control plane's own listener (status/admin surface).
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// DataPlane names the managed proxy engine binary and its config paths.
	DataPlane DataPlaneConfig `yaml:"data_plane" mapstructure:"data_plane"`

	// StatTransport configures how the collector reaches the engine's stats API.
	StatTransport StatTransportConfig `yaml:"stat_transport" mapstructure:"stat_transport"`

	// Store configures the persistent SQLite-backed entity store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Snapshot configures the config-apply snapshot/rollback store.
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`

	// Collector configures the periodic stats-collection loop (C5).
	Collector CollectorConfig `yaml:"collector" mapstructure:"collector"`

	// OnlineTracker configures the online-status refresh cadence (C7).
	OnlineTracker OnlineTrackerConfig `yaml:"online_tracker" mapstructure:"online_tracker"`

	// Device configures per-user device/IP admission tracking (C6).
	Device DeviceConfig `yaml:"device" mapstructure:"device"`

	// Update configures the update coordinator (C9).
	Update UpdateConfig `yaml:"update" mapstructure:"update"`

	// AuditFile configures the file-based update-history/audit persistence.
	AuditFile AuditFileConfig `yaml:"audit_file" mapstructure:"audit_file"`

	// ConfigGen configures the optional knobs the config generator (C2) folds
	// into the rendered document: observatory health checks, outbound load
	// balancing, WireGuard/WARP outbounds, and the routing profile.
	ConfigGen ConfigGenConfig `yaml:"config_gen" mapstructure:"config_gen"`

	// DevMode enables development features (verbose logging, permissive defaults).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ConfigGenConfig carries the operator-facing knobs for optional
// config-generator features that have no home in the domain model proper.
type ConfigGenConfig struct {
	APIListen string `yaml:"api_listen" mapstructure:"api_listen"`
	APIPort   int    `yaml:"api_port" mapstructure:"api_port"`

	Observatory *ObservatoryConfig `yaml:"observatory" mapstructure:"observatory"`
	Balancer    *BalancerConfig    `yaml:"balancer" mapstructure:"balancer"`
	WARP        *WARPConfig        `yaml:"warp" mapstructure:"warp"`

	WireGuardOutbounds []WireGuardOutboundConfig `yaml:"wireguard_outbounds" mapstructure:"wireguard_outbounds" validate:"omitempty,dive"`

	Routing RoutingConfig `yaml:"routing" mapstructure:"routing"`

	// NodeSpeedLimit is the operator-configured per-node bandwidth cap in
	// bytes/sec, 0 = unlimited. Reconciled against each user's own
	// User.SpeedLimit (determineRate) to produce the effective per-user
	// policy-level cap.
	NodeSpeedLimit uint64 `yaml:"node_speed_limit" mapstructure:"node_speed_limit"`
}

// ObservatoryConfig configures the engine's built-in latency/health probe.
type ObservatoryConfig struct {
	Enabled       bool     `yaml:"enabled" mapstructure:"enabled"`
	ProbeURL      string   `yaml:"probe_url" mapstructure:"probe_url"`
	ProbeInterval string   `yaml:"probe_interval" mapstructure:"probe_interval"`
	Subjects      []string `yaml:"subjects" mapstructure:"subjects"`
}

// BalancerConfig configures outbound load balancing across a selector set.
type BalancerConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Tag      string   `yaml:"tag" mapstructure:"tag"`
	Selector []string `yaml:"selector" mapstructure:"selector"`
	Strategy string   `yaml:"strategy" mapstructure:"strategy" validate:"omitempty,oneof=random roundrobin leastping leastload"`
}

// WARPConfig configures a single Cloudflare WARP outbound.
type WARPConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	PrivateKey string `yaml:"private_key" mapstructure:"private_key"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
}

// WireGuardOutboundConfig configures one WireGuard peer rendered as a paired
// inbound/outbound/routing rule.
type WireGuardOutboundConfig struct {
	Tag        string                `yaml:"tag" mapstructure:"tag" validate:"required"`
	SecretKey  string                `yaml:"secret_key" mapstructure:"secret_key" validate:"required"`
	Address    []string              `yaml:"address" mapstructure:"address"`
	MTU        int                   `yaml:"mtu" mapstructure:"mtu"`
	ListenPort int                   `yaml:"listen_port" mapstructure:"listen_port"`
	Peers      []WireGuardPeerConfig `yaml:"peers" mapstructure:"peers" validate:"omitempty,dive"`
}

// WireGuardPeerConfig is one remote peer of a WireGuard outbound.
type WireGuardPeerConfig struct {
	PublicKey    string   `yaml:"public_key" mapstructure:"public_key" validate:"required"`
	Endpoint     string   `yaml:"endpoint" mapstructure:"endpoint"`
	AllowedIPs   []string `yaml:"allowed_ips" mapstructure:"allowed_ips"`
	PreSharedKey string   `yaml:"pre_shared_key" mapstructure:"pre_shared_key"`
}

// RoutingConfig drives the generated routing-rule profile.
type RoutingConfig struct {
	Mode            string   `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=smart filtered strict open"`
	DomesticIPs     []string `yaml:"domestic_ips" mapstructure:"domestic_ips"`
	DomesticDomains []string `yaml:"domestic_domains" mapstructure:"domestic_domains"`
	BlockPrivateIP  bool     `yaml:"block_private_ip" mapstructure:"block_private_ip"`
	BlockBitTorrent bool     `yaml:"block_bit_torrent" mapstructure:"block_bit_torrent"`
}

// ServerConfig configures the control plane's own HTTP status/admin listener.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8787").
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// DataPlaneConfig names the managed engine and where its config lives.
type DataPlaneConfig struct {
	// Binary is the path to the engine executable (e.g., "/usr/bin/xray").
	Binary string `yaml:"binary" mapstructure:"binary" validate:"required"`

	// ConfigPath is the absolute path the engine reads its config from.
	ConfigPath string `yaml:"config_path" mapstructure:"config_path" validate:"required"`

	// ServiceName is the systemd/init service name, used by restart-method apply
	// and by the runtime inspector's service-manager detection source.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// ContainerName is the docker/podman container name, used by the runtime
	// inspector's container detection source when the engine runs containerized.
	ContainerName string `yaml:"container_name" mapstructure:"container_name"`

	// ReloadSignal is the OS signal used for the hot-reload apply method
	// (e.g., "SIGHUP"). Defaults to "SIGHUP".
	ReloadSignal string `yaml:"reload_signal" mapstructure:"reload_signal"`

	// PIDFile is where the engine's own PID is recorded, used by the
	// runtime inspector's local-process detection source when neither a
	// service nor a container manages the engine.
	PIDFile string `yaml:"pid_file" mapstructure:"pid_file"`

	// RuntimeHint narrows runtime detection to one source instead of
	// probing all of them: "container", "service", "local", or "auto"
	// (the default) to try each in priority order.
	RuntimeHint string `yaml:"runtime_hint" mapstructure:"runtime_hint" validate:"omitempty,oneof=container service local auto"`
}

// StatTransportConfig configures the dual HTTP/CLI stats transport (C1).
type StatTransportConfig struct {
	// Preferred is the transport tried first: "http" or "cli".
	Preferred string `yaml:"preferred" mapstructure:"preferred" validate:"omitempty,oneof=http cli"`

	// HTTP is the stats API base URL (e.g., "http://127.0.0.1:8080").
	HTTP string `yaml:"http" mapstructure:"http" validate:"omitempty,url"`

	// HTTPTimeout bounds each HTTP stats request (e.g., "5s").
	HTTPTimeout string `yaml:"http_timeout" mapstructure:"http_timeout"`

	// CLICommand is the executable used for the CLI leg (e.g., the engine's
	// own "api" subcommand binary).
	CLICommand string `yaml:"cli_command" mapstructure:"cli_command"`

	// CLIArgs are the fixed leading arguments for CLI stat queries.
	CLIArgs []string `yaml:"cli_args" mapstructure:"cli_args"`

	// CLITimeout bounds each CLI subprocess invocation (e.g., "5s").
	CLITimeout string `yaml:"cli_timeout" mapstructure:"cli_timeout"`

	// StickyFailures is how many consecutive failures of the preferred
	// transport are tolerated before falling back to the other leg.
	StickyFailures int `yaml:"sticky_failures" mapstructure:"sticky_failures" validate:"omitempty,min=1"`
}

// StoreConfig configures the SQLite-backed persistent entity store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// SnapshotConfig configures the config-apply snapshot/rollback store (C3).
type SnapshotConfig struct {
	// Dir is the directory where config snapshots and backups are written.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`

	// Retention is the number of snapshots kept before the oldest is pruned.
	Retention int `yaml:"retention" mapstructure:"retention" validate:"omitempty,min=1"`

	// ApplyMethod is the default reload strategy: "hot", "restart", or "none".
	ApplyMethod string `yaml:"apply_method" mapstructure:"apply_method" validate:"omitempty,oneof=hot restart none"`

	// VerifyDelay bounds how long to wait after apply before checking the
	// engine is still healthy (e.g., "2s").
	VerifyDelay string `yaml:"verify_delay" mapstructure:"verify_delay"`
}

// CollectorConfig configures the periodic stats collector (C5).
type CollectorConfig struct {
	// Interval is the tick period between collection rounds (e.g., "10s").
	Interval string `yaml:"interval" mapstructure:"interval"`

	// ResetAfterRead controls whether per-stat-key counters are reset to
	// zero in the engine after each successful read.
	ResetAfterRead bool `yaml:"reset_after_read" mapstructure:"reset_after_read"`
}

// OnlineTrackerConfig configures the online-status merge refresh (C7).
type OnlineTrackerConfig struct {
	// Interval is the minimum spacing between refreshes (e.g., "5s").
	Interval string `yaml:"interval" mapstructure:"interval"`

	// StaleAfter marks a user offline if no activity was observed within
	// this duration (e.g., "90s").
	StaleAfter string `yaml:"stale_after" mapstructure:"stale_after"`
}

// DeviceConfig configures per-user device/IP tracking and enforcement (C6).
type DeviceConfig struct {
	// TTL is how long an idle fingerprint is kept before eviction (e.g., "10m").
	TTL string `yaml:"ttl" mapstructure:"ttl"`

	// CleanupInterval is how often the eviction sweep runs (e.g., "1m").
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`

	// EnforcementRules are optional CEL-gated overrides evaluated before the
	// default device-limit check, in order, first match wins.
	EnforcementRules []RuleConfig `yaml:"enforcement_rules" mapstructure:"enforcement_rules" validate:"omitempty,dive"`
}

// UpdateConfig configures the update coordinator (C9).
type UpdateConfig struct {
	// LockPath is the file used for the cross-process update lock.
	LockPath string `yaml:"lock_path" mapstructure:"lock_path" validate:"required"`

	// LockStaleAfter marks a held lock as abandoned after this duration with
	// no heartbeat, allowing a subsequent update to reclaim it (e.g., "15m").
	LockStaleAfter string `yaml:"lock_stale_after" mapstructure:"lock_stale_after"`

	// CanaryDuration is how long a canary rollout is observed before it may
	// be promoted to a full rollout (e.g., "2m").
	CanaryDuration string `yaml:"canary_duration" mapstructure:"canary_duration"`

	// PreflightChecks are optional CEL-gated custom checks evaluated during
	// preflight, in addition to the built-in checks.
	PreflightChecks []PreflightCheckConfig `yaml:"preflight_checks" mapstructure:"preflight_checks" validate:"omitempty,dive"`

	// BackupRetention bounds how many pre-update backups are kept.
	BackupRetention int `yaml:"backup_retention" mapstructure:"backup_retention" validate:"omitempty,min=1"`

	// ScriptPath is the update script invoked to perform a canary or full
	// rollout (e.g., "/opt/one-ui/update.sh").
	ScriptPath string `yaml:"script_path" mapstructure:"script_path"`

	// ComposeFile is the docker-compose file the update script operates
	// against, checked for existence during preflight.
	ComposeFile string `yaml:"compose_file" mapstructure:"compose_file"`

	// ContainerRuntime is the container CLI used for reachability and
	// version checks (e.g., "docker" or "podman").
	ContainerRuntime string `yaml:"container_runtime" mapstructure:"container_runtime"`

	// DefaultChannel is the update channel used when an operation doesn't
	// specify one explicitly (e.g., "stable").
	DefaultChannel string `yaml:"default_channel" mapstructure:"default_channel"`

	// UpdateTimeout bounds a single canary/full/rollback invocation,
	// including its health-verification retries (e.g., "10m").
	UpdateTimeout string `yaml:"update_timeout" mapstructure:"update_timeout"`

	// RequireCanaryBeforeFull gates RunFull on a recent successful canary
	// unless the caller passes force.
	RequireCanaryBeforeFull bool `yaml:"require_canary_before_full" mapstructure:"require_canary_before_full"`

	// CanaryWindowMinutes bounds how long a successful canary remains valid
	// as a prerequisite for RunFull.
	CanaryWindowMinutes int `yaml:"canary_window_minutes" mapstructure:"canary_window_minutes" validate:"omitempty,min=1"`

	// UpdatesEnabled gates every mutating coordinator operation; when false,
	// Preflight/RunCanary/RunFull/Rollback all fail fast.
	UpdatesEnabled bool `yaml:"updates_enabled" mapstructure:"updates_enabled"`

	// VerifyRetries and VerifyInterval bound the post-update health check,
	// mirroring the apply engine's own verify-running discipline.
	VerifyRetries  int    `yaml:"verify_retries" mapstructure:"verify_retries" validate:"omitempty,min=1"`
	VerifyInterval string `yaml:"verify_interval" mapstructure:"verify_interval"`
}

// RuleConfig defines a single CEL-gated rule: a condition and the action to
// take when it matches. Shared shape between device enforcement overrides
// and update preflight custom checks.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Condition is a CEL expression over the rule's evaluation context.
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Action is what to do when the condition matches: "allow" or "deny".
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny"`
}

// PreflightCheckConfig defines a single operator-supplied CEL-gated update
// preflight check, evaluated in addition to the built-in checks.
type PreflightCheckConfig struct {
	// ID is a stable machine identifier for this check.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Label is a human-readable description shown in preflight output.
	Label string `yaml:"label" mapstructure:"label" validate:"required"`

	// Condition is a CEL expression over the update-preflight evaluation
	// context; the check passes iff it evaluates true.
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Blocking determines whether a failing check prevents RunCanary/
	// RunFull from proceeding (unless force is set) or is advisory only.
	Blocking bool `yaml:"blocking" mapstructure:"blocking"`
}

// AuditFileConfig configures the file-based update-history / traffic-log
// persistence style (JSON-lines, daily rotation, retention, ring cache).
type AuditFileConfig struct {
	// Dir is the directory where history files are stored.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is the number of days to keep history files.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
	// MaxFileSizeMB is the maximum size per history file before rotation.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	// CacheSize is the number of recent entries kept in the in-memory ring buffer.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size"`
}

// SetDevDefaults applies permissive defaults for development mode. Applied
// BEFORE validation so required fields are satisfied with minimal config.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.DataPlane.Binary == "" {
		c.DataPlane.Binary = "/usr/bin/xray"
	}
	if c.DataPlane.ConfigPath == "" {
		c.DataPlane.ConfigPath = "/etc/one-ui/data-plane.json"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./one-ui.db"
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "./snapshots"
	}
	if c.Update.LockPath == "" {
		c.Update.LockPath = "./one-ui-update.lock"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8787"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.DataPlane.ReloadSignal == "" {
		c.DataPlane.ReloadSignal = "SIGHUP"
	}
	if c.DataPlane.RuntimeHint == "" {
		c.DataPlane.RuntimeHint = "auto"
	}
	if c.DataPlane.PIDFile == "" {
		c.DataPlane.PIDFile = "/var/run/one-ui/data-plane.pid"
	}

	if c.StatTransport.Preferred == "" {
		c.StatTransport.Preferred = "http"
	}
	if c.StatTransport.HTTPTimeout == "" {
		c.StatTransport.HTTPTimeout = "5s"
	}
	if c.StatTransport.CLITimeout == "" {
		c.StatTransport.CLITimeout = "5s"
	}
	if c.StatTransport.StickyFailures == 0 {
		c.StatTransport.StickyFailures = 3
	}

	if c.Snapshot.Retention == 0 {
		c.Snapshot.Retention = 10
	}
	if c.Snapshot.ApplyMethod == "" {
		c.Snapshot.ApplyMethod = "hot"
	}
	if c.Snapshot.VerifyDelay == "" {
		c.Snapshot.VerifyDelay = "2s"
	}

	if c.Collector.Interval == "" {
		c.Collector.Interval = "60s"
	}

	if c.OnlineTracker.Interval == "" {
		c.OnlineTracker.Interval = "5s"
	}
	if c.OnlineTracker.StaleAfter == "" {
		c.OnlineTracker.StaleAfter = "90s"
	}

	if c.Device.TTL == "" {
		c.Device.TTL = "10m"
	}
	if c.Device.CleanupInterval == "" {
		c.Device.CleanupInterval = "1m"
	}

	if c.Update.LockStaleAfter == "" {
		c.Update.LockStaleAfter = "15m"
	}
	if c.Update.CanaryDuration == "" {
		c.Update.CanaryDuration = "2m"
	}
	if c.Update.BackupRetention == 0 {
		c.Update.BackupRetention = 10
	}
	if c.Update.ContainerRuntime == "" {
		c.Update.ContainerRuntime = "docker"
	}
	if c.Update.DefaultChannel == "" {
		c.Update.DefaultChannel = "stable"
	}
	if c.Update.UpdateTimeout == "" {
		c.Update.UpdateTimeout = "10m"
	}
	if c.Update.CanaryWindowMinutes == 0 {
		c.Update.CanaryWindowMinutes = 30
	}
	if c.Update.VerifyRetries == 0 {
		c.Update.VerifyRetries = 6
	}
	if c.Update.VerifyInterval == "" {
		c.Update.VerifyInterval = "1s"
	}

	if c.AuditFile.RetentionDays == 0 {
		c.AuditFile.RetentionDays = 30
	}
	if c.AuditFile.MaxFileSizeMB == 0 {
		c.AuditFile.MaxFileSizeMB = 100
	}
	if c.AuditFile.CacheSize == 0 {
		c.AuditFile.CacheSize = 1000
	}

	if c.ConfigGen.APIListen == "" {
		c.ConfigGen.APIListen = "127.0.0.1"
	}
	if c.ConfigGen.APIPort == 0 {
		c.ConfigGen.APIPort = 10085
	}
	if c.ConfigGen.Routing.Mode == "" {
		c.ConfigGen.Routing.Mode = "smart"
	}
}

// userHomeConfigDir is used by the loader to default snapshot/store paths
// relative to the user's home directory in non-dev-mode runs without an
// explicit path configured.
func userHomeConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.one-ui"
}
