// Package cmd provides the CLI commands for the one-ui control plane.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/one-ui/control-plane/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "one-ui",
	Short: "one-ui - control plane for a multi-protocol proxy data plane",
	Long: `one-ui is the control plane for an external multi-protocol proxy engine
(VLESS/VMESS/Trojan/Shadowsocks/SOCKS/HTTP/Dokodemo/WireGuard/MTProto).

It maintains the authoritative model of inbounds, users, groups, and
routing; reconciles that model into the data plane's configuration with
hot-reload or full-restart semantics and snapshot rollback; polls the data
plane's statistics interface to attribute traffic to users; tracks
per-user live session state; and performs locked canary/full upgrades of
the data-plane container.

Quick start:
  1. Create a config file: one-ui.yaml
  2. Run: one-ui start

Configuration:
  Config is loaded from one-ui.yaml in the current directory,
  $HOME/.one-ui/, or /etc/one-ui/.

  Environment variables override config values with the ONE_UI_ prefix.
  Example: ONE_UI_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the control plane
  stop        Stop the running control plane
  reset       Reset persistent state (store, snapshots, update lock)
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./one-ui.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
