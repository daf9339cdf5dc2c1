package runtimeinspect

import (
	"context"
	"strings"
)

// ServiceSource detects and controls the data plane via systemd.
type ServiceSource struct {
	serviceName string
	binary      string
}

// NewServiceSource builds a ServiceSource for the named systemd unit.
func NewServiceSource(serviceName, binary string) *ServiceSource {
	return &ServiceSource{serviceName: serviceName, binary: binary}
}

func (s *ServiceSource) Mode() Mode { return ModeService }

func (s *ServiceSource) Inspect(ctx context.Context) (SourceDetails, error) {
	stdout, _, _ := runCommand(ctx, "systemctl", "is-active", s.serviceName)
	state := strings.TrimSpace(stdout)
	if state == "" {
		state = "unknown"
	}
	running := state == "active" || state == "reloading" || state == "activating"
	return SourceDetails{Available: true, Exists: true, Running: running, State: state}, nil
}

func (s *ServiceSource) Reload(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "systemctl", "reload", s.serviceName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (s *ServiceSource) Restart(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "systemctl", "restart", s.serviceName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (s *ServiceSource) Stop(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "systemctl", "stop", s.serviceName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (s *ServiceSource) Start(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "systemctl", "start", s.serviceName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (s *ServiceSource) Test(ctx context.Context, configPath string) Result {
	stdout, stderr, _ := runCommand(ctx, s.binary, "-test", "-config", configPath)
	if strings.Contains(stderr, "failed") {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true, Detail: stdout}
}
