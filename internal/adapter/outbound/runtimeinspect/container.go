package runtimeinspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ContainerSource detects and controls the data plane via `docker inspect`
// and friends.
type ContainerSource struct {
	containerName string
	binary        string // data-plane binary path, for -test invocations inside `docker exec`
}

// NewContainerSource builds a ContainerSource for the named container.
func NewContainerSource(containerName, binary string) *ContainerSource {
	return &ContainerSource{containerName: containerName, binary: binary}
}

func (c *ContainerSource) Mode() Mode { return ModeContainer }

type dockerInspectState struct {
	Running   bool   `json:"Running"`
	Status    string `json:"Status"`
	StartedAt string `json:"StartedAt"`
}

type dockerInspectEntry struct {
	State dockerInspectState `json:"State"`
}

func (c *ContainerSource) Inspect(ctx context.Context) (SourceDetails, error) {
	stdout, stderr, err := runCommand(ctx, "docker", "inspect", c.containerName)
	if err != nil {
		if strings.Contains(stderr, "No such object") {
			return SourceDetails{Available: true, Exists: false}, nil
		}
		return SourceDetails{Available: false}, fmt.Errorf("docker inspect: %w: %s", err, stderr)
	}

	var entries []dockerInspectEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil || len(entries) == 0 {
		return SourceDetails{Available: true, Exists: false}, nil
	}

	st := entries[0].State
	return SourceDetails{
		Available: true, Exists: true, Running: st.Running,
		State: st.Status, StartedAt: st.StartedAt,
	}, nil
}

func (c *ContainerSource) Reload(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "docker", "kill", "--signal=HUP", c.containerName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (c *ContainerSource) Restart(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "docker", "restart", c.containerName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (c *ContainerSource) Stop(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "docker", "stop", c.containerName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (c *ContainerSource) Start(ctx context.Context) Result {
	_, stderr, err := runCommand(ctx, "docker", "start", c.containerName)
	if err != nil {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true}
}

func (c *ContainerSource) Test(ctx context.Context, configPath string) Result {
	stdout, stderr, _ := runCommand(ctx, "docker", "exec", c.containerName, c.binary, "-test", "-config", configPath)
	if strings.Contains(stderr, "failed") {
		return Result{OK: false, Detail: stderr}
	}
	return Result{OK: true, Detail: stdout}
}
