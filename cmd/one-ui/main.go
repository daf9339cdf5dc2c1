// Command one-ui is the control-plane process: it reconciles the domain
// model into the data plane's configuration, polls its stats API, tracks
// online sessions, and coordinates locked canary/full updates.
package main

import "github.com/one-ui/control-plane/cmd/one-ui/cmd"

func main() {
	cmd.Execute()
}
