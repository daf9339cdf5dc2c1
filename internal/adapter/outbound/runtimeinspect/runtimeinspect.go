// Package runtimeinspect detects which of the three deployment modes
// (container, service, local process) the data plane is actually running
// under, and exposes the narrow control surface (reload/restart/stop/
// start/test) each mode implements identically.
package runtimeinspect

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Mode is a deployment mode the data plane can run under.
type Mode string

const (
	ModeContainer Mode = "container"
	ModeService   Mode = "service"
	ModeLocal     Mode = "local"
	ModeAuto      Mode = "auto"
)

// SourceDetails is what one runtime source reports about itself.
type SourceDetails struct {
	Available bool
	Exists    bool
	Running   bool
	State     string
	StartedAt string
}

// Detection is the overall selection result returned to C3 and C9.
type Detection struct {
	Mode          Mode
	Source        SourceDetails
	Running       bool
	State         string
	DeploymentHint Mode
	HintMismatch   bool
}

// Result is what Test/Reload/Restart/Stop/Start report.
type Result struct {
	OK     bool
	Detail string
}

// Source is implemented by each of the three concrete runtime detectors.
type Source interface {
	Mode() Mode
	Inspect(ctx context.Context) (SourceDetails, error)
	Reload(ctx context.Context) Result
	Restart(ctx context.Context) Result
	Stop(ctx context.Context) Result
	Start(ctx context.Context) Result
	Test(ctx context.Context, configPath string) Result
}

// Inspector runs all configured sources concurrently and selects the
// active one by deployment-hint priority.
type Inspector struct {
	sources []Source
	hint    Mode
}

// New builds an Inspector over the given sources. Under ModeAuto (or an
// empty hint) the priority is container, service, local, whatever the
// argument order; any other hint moves that mode to the front.
func New(hint Mode, sources ...Source) *Inspector {
	return &Inspector{sources: sources, hint: hint}
}

// Detect runs all sources concurrently, then selects the first (in
// hint-ordered priority) whose details report running or exists, falling
// back to local if none qualify.
func (i *Inspector) Detect(ctx context.Context) (Detection, error) {
	details := make(map[Mode]SourceDetails, len(i.sources))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, src := range i.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			d, err := src.Inspect(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			details[src.Mode()] = d
		}(src)
	}
	wg.Wait()

	order := i.priorityOrder()
	for _, m := range order {
		d, ok := details[m]
		if ok && (d.Running || d.Exists) {
			return Detection{
				Mode: m, Source: d, Running: d.Running, State: d.State,
				DeploymentHint: i.hint, HintMismatch: i.hint != ModeAuto && i.hint != m,
			}, nil
		}
	}

	if d, ok := details[ModeLocal]; ok {
		return Detection{Mode: ModeLocal, Source: d, Running: d.Running, State: d.State, DeploymentHint: i.hint}, nil
	}
	if firstErr != nil {
		return Detection{}, firstErr
	}
	return Detection{Mode: ModeLocal, DeploymentHint: i.hint}, nil
}

func (i *Inspector) priorityOrder() []Mode {
	if i.hint == ModeAuto || i.hint == "" {
		return []Mode{ModeContainer, ModeService, ModeLocal}
	}
	order := []Mode{i.hint}
	for _, m := range []Mode{ModeContainer, ModeService, ModeLocal} {
		if m != i.hint {
			order = append(order, m)
		}
	}
	return order
}

func (i *Inspector) sourceFor(m Mode) Source {
	for _, s := range i.sources {
		if s.Mode() == m {
			return s
		}
	}
	return nil
}

// Reload dispatches the hot-reload control verb to the given mode's source.
func (i *Inspector) Reload(ctx context.Context, m Mode) Result {
	src := i.sourceFor(m)
	if src == nil {
		return Result{OK: false, Detail: fmt.Sprintf("no source for mode %q", m)}
	}
	return src.Reload(ctx)
}

// Restart dispatches the full-restart control verb.
func (i *Inspector) Restart(ctx context.Context, m Mode) Result {
	src := i.sourceFor(m)
	if src == nil {
		return Result{OK: false, Detail: fmt.Sprintf("no source for mode %q", m)}
	}
	return src.Restart(ctx)
}

// Test runs `<binary> -test -config <path>` inside the active runtime.
func (i *Inspector) Test(ctx context.Context, m Mode, configPath string) Result {
	src := i.sourceFor(m)
	if src == nil {
		return Result{OK: false, Detail: fmt.Sprintf("no source for mode %q", m)}
	}
	return src.Test(ctx, configPath)
}

// runCommand is the shared exec.CommandContext helper used by all three
// source implementations.
func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func parsePID(raw string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(raw))
}
