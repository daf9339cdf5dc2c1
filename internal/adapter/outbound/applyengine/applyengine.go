// Package applyengine persists the generated data-plane config, validates
// and activates it (hot-reload or restart), verifies post-apply health, and
// rolls back to the previous config on any failure, snapshotting before
// every write.
package applyengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/one-ui/control-plane/internal/adapter/outbound/configgen"
	"github.com/one-ui/control-plane/internal/adapter/outbound/runtimeinspect"
	"github.com/one-ui/control-plane/internal/adapter/outbound/snapshotstore"
)

// Method is the activation strategy requested of Apply.
type Method string

const (
	MethodHot     Method = "hot"
	MethodRestart Method = "restart"
	MethodNone    Method = "none"
)

// Result describes how an Apply call actually played out.
type Result struct {
	RequestedMethod Method
	EffectiveMethod Method
	FallbackUsed    bool
	SnapshotID      string
	ConfDir         string
}

// GenerateFunc produces the next canonical config document. The engine
// calls this once per Apply; it is supplied by the composition root, closed
// over the current domain state.
type GenerateFunc func(ctx context.Context) (configgen.Input, error)

// Engine implements C3.
type Engine struct {
	configPath     string
	fragmentDir    string
	writeFragments bool

	snapshots *snapshotstore.Store
	inspector *runtimeinspect.Inspector
	generate  GenerateFunc

	verifyRetries  int
	verifyInterval time.Duration

	metrics *Metrics
	tracer  trace.Tracer

	logger *slog.Logger
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithFragments(dir string) Option {
	return func(e *Engine) {
		e.fragmentDir = dir
		e.writeFragments = dir != ""
	}
}

func WithVerifyRetries(retries int, interval time.Duration) Option {
	return func(e *Engine) {
		e.verifyRetries = retries
		e.verifyInterval = interval
	}
}

// New builds an Engine writing to configPath, snapshotting through
// snapshots, and using inspector to detect/control the runtime.
func New(configPath string, snapshots *snapshotstore.Store, inspector *runtimeinspect.Inspector, generate GenerateFunc, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		configPath:     configPath,
		snapshots:      snapshots,
		inspector:      inspector,
		generate:       generate,
		verifyRetries:  6,
		verifyInterval: time.Second,
		tracer:         defaultTracer(),
		logger:         logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs the full generate -> write -> validate -> activate -> verify
// sequence, rolling back to the pre-apply config on any failure in steps
// 3-5.
func (e *Engine) Apply(ctx context.Context, method Method, createSnapshot bool) (result Result, err error) {
	ctx, span := e.tracer.Start(ctx, "applyengine.Apply", trace.WithAttributes(
		attribute.String("method", string(method)),
		attribute.Bool("create_snapshot", createSnapshot),
	))
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				e.metrics.ApplyFailures.Inc()
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	previous, err := e.readCurrentConfig()
	if err != nil {
		return Result{}, fmt.Errorf("applyengine: read current config: %w", err)
	}

	var snapshotID string
	if createSnapshot {
		snap, err := e.snapshots.Create("before-apply", previous)
		if err != nil {
			return Result{}, fmt.Errorf("applyengine: snapshot before apply: %w", err)
		}
		snapshotID = snap.ID
	}

	genInput, err := e.generate(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("applyengine: generate config: %w", err)
	}
	doc, err := configgen.Generate(genInput)
	if err != nil {
		return Result{}, fmt.Errorf("applyengine: generate config: %w", err)
	}
	raw, err := configgen.MarshalCanonical(doc)
	if err != nil {
		return Result{}, fmt.Errorf("applyengine: marshal config: %w", err)
	}

	if err := writeAtomicFile(e.configPath, raw); err != nil {
		return Result{}, fmt.Errorf("applyengine: write config: %w", err)
	}
	if e.writeFragments {
		if err := writeFragments(e.fragmentDir, doc); err != nil {
			e.logger.Warn("applyengine: write fragments failed", "error", err)
		}
	}

	detection, err := e.inspector.Detect(ctx)
	if err != nil {
		e.restorePrevious(ctx, previous, "detect runtime")
		return Result{}, fmt.Errorf("applyengine: detect runtime: %w", err)
	}

	if testResult := e.inspector.Test(ctx, detection.Mode, e.configPath); !testResult.OK {
		e.restorePrevious(ctx, previous, "validation failure")
		return Result{}, fmt.Errorf("%w: %s", ErrValidationFailed, testResult.Detail)
	}

	effective, fallbackUsed, err := e.activate(ctx, detection.Mode, method)
	if err != nil {
		e.restorePrevious(ctx, previous, "apply failure")
		return Result{}, fmt.Errorf("%w: %s", ErrApplyFailed, err.Error())
	}

	return Result{
		RequestedMethod: method,
		EffectiveMethod: effective,
		FallbackUsed:    fallbackUsed,
		SnapshotID:      snapshotID,
		ConfDir:         e.fragmentDir,
	}, nil
}

func (e *Engine) activate(ctx context.Context, mode runtimeinspect.Mode, method Method) (Method, bool, error) {
	switch method {
	case MethodNone:
		return MethodNone, false, nil
	case MethodRestart:
		if res := e.inspector.Restart(ctx, mode); !res.OK {
			return MethodRestart, false, fmt.Errorf("restart: %s", res.Detail)
		}
		if !e.verifyRunning(ctx, mode) {
			return MethodRestart, false, fmt.Errorf("restart: health check never passed")
		}
		return MethodRestart, false, nil
	case MethodHot:
		if res := e.inspector.Reload(ctx, mode); res.OK && e.verifyRunning(ctx, mode) {
			return MethodHot, false, nil
		}
		// Hot-reload fallback: restart instead.
		if res := e.inspector.Restart(ctx, mode); !res.OK {
			return MethodHot, true, fmt.Errorf("hot reload and restart fallback both failed: %s", res.Detail)
		}
		if !e.verifyRunning(ctx, mode) {
			return MethodHot, true, fmt.Errorf("restart fallback: health check never passed")
		}
		return MethodRestart, true, nil
	default:
		return method, false, fmt.Errorf("unknown method %q", method)
	}
}

func (e *Engine) verifyRunning(ctx context.Context, mode runtimeinspect.Mode) bool {
	for i := 0; i < e.verifyRetries; i++ {
		d, err := e.inspector.Detect(ctx)
		if err == nil && d.Mode == mode && d.Running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.verifyInterval):
		}
	}
	return false
}

// restorePrevious writes back the pre-apply bytes and attempts a restart;
// restore/restart failures are logged but never mask the original error.
func (e *Engine) restorePrevious(ctx context.Context, previous []byte, reason string) {
	if previous == nil {
		return
	}
	if err := writeAtomicFile(e.configPath, previous); err != nil {
		e.logger.Error("applyengine: failed to restore previous config", "reason", reason, "error", err)
		return
	}
	detection, err := e.inspector.Detect(ctx)
	if err != nil {
		e.logger.Error("applyengine: failed to detect runtime during rollback", "error", err)
		return
	}
	if res := e.inspector.Restart(ctx, detection.Mode); !res.OK {
		e.logger.Error("applyengine: rollback restart failed", "detail", res.Detail)
	}
}

func (e *Engine) readCurrentConfig() ([]byte, error) {
	data, err := os.ReadFile(e.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// writeAtomicFile writes to a temp file in the same directory, fsyncs, then
// renames over path.
func writeAtomicFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// writeFragments splits doc into the five canonical fragment files, plus a
// sixth observatory file when doc.Observatory is set.
func writeFragments(dir string, doc configgen.Document) error {
	fragments := map[string]any{
		"one-ui-00-log.json":         doc.Log,
		"one-ui-10-api-policy.json":  struct {
			API    configgen.APIConfig    `json:"api"`
			Stats  configgen.StatsConfig  `json:"stats"`
			Policy configgen.PolicyConfig `json:"policy"`
		}{doc.API, doc.Stats, doc.Policy},
		"one-ui-20-inbounds.json":  doc.Inbounds,
		"one-ui-30-outbounds.json": doc.Outbounds,
		"one-ui-40-routing.json":   doc.Routing,
	}
	if doc.Observatory != nil {
		fragments["one-ui-50-observatory.json"] = doc.Observatory
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, v := range fragments {
		raw, err := configgen.MarshalCanonical(v)
		if err != nil {
			return fmt.Errorf("marshal fragment %s: %w", name, err)
		}
		if err := writeAtomicFile(filepath.Join(dir, name), raw); err != nil {
			return fmt.Errorf("write fragment %s: %w", name, err)
		}
	}
	return nil
}

// Rollback restores a specific snapshot (or the newest if id is empty) as
// the active config, snapshotting the current config first with reason
// "before-rollback".
func (e *Engine) Rollback(ctx context.Context, id string) (result Result, err error) {
	ctx, span := e.tracer.Start(ctx, "applyengine.Rollback", trace.WithAttributes(attribute.String("snapshot_id", id)))
	defer func() {
		if e.metrics != nil {
			e.metrics.Rollbacks.Inc()
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if id == "" {
		snaps, err := e.snapshots.List()
		if err != nil {
			return Result{}, fmt.Errorf("applyengine: list snapshots: %w", err)
		}
		if len(snaps) == 0 {
			return Result{}, fmt.Errorf("applyengine: no snapshots to roll back to")
		}
		id = snaps[0].ID
	}

	current, err := e.readCurrentConfig()
	if err != nil {
		return Result{}, fmt.Errorf("applyengine: read current config: %w", err)
	}
	if _, err := e.snapshots.Create("before-rollback", current); err != nil {
		return Result{}, fmt.Errorf("applyengine: snapshot before rollback: %w", err)
	}

	raw, err := e.snapshots.Load(id)
	if err != nil {
		return Result{}, fmt.Errorf("applyengine: load snapshot %s: %w", id, err)
	}
	if err := writeAtomicFile(e.configPath, raw); err != nil {
		return Result{}, fmt.Errorf("applyengine: write restored config: %w", err)
	}

	detection, err := e.inspector.Detect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("applyengine: detect runtime: %w", err)
	}
	effective, fallbackUsed, err := e.activate(ctx, detection.Mode, MethodRestart)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrApplyFailed, err.Error())
	}

	return Result{RequestedMethod: MethodRestart, EffectiveMethod: effective, FallbackUsed: fallbackUsed, SnapshotID: id}, nil
}
