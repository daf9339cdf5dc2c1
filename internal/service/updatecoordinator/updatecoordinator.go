// Package updatecoordinator implements C9: a single named lock, preflight
// checks, and a canary -> full -> rollback state machine driving the
// data-plane's own update procedure (a shell script acting against a
// container runtime).
package updatecoordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/one-ui/control-plane/internal/adapter/outbound/cel"
	"github.com/one-ui/control-plane/internal/adapter/outbound/runtimeinspect"
	"github.com/one-ui/control-plane/internal/adapter/outbound/updatelock"
	"github.com/one-ui/control-plane/internal/domain/rule"
	"github.com/one-ui/control-plane/internal/domain/updatehistory"
)

// Phase is the coordinator's current position in the state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreflight Phase = "preflight"
	PhaseCanary    Phase = "canary"
	PhaseFull      Phase = "full"
	PhaseRollback  Phase = "rollback"
)

// CheckResult is one preflight check's outcome.
type CheckResult struct {
	ID       string
	Label    string
	OK       bool
	Blocking bool
	Detail   string
	Metadata map[string]string
}

// Policy summarizes the coordinator's current configuration and readiness.
type Policy struct {
	Mode                    runtimeinspect.Mode
	UpdatesEnabled          bool
	RequireCanaryBeforeFull bool
	CanaryWindowMinutes     int
	DefaultChannel          string
	UpdateTimeoutMs         int64
	CanaryReady             bool
	LastSuccessfulCanaryAt  time.Time
}

// UnlockResult is the outcome of an explicit Unlock call.
type UnlockResult struct {
	Unlocked          bool
	HadLock           bool
	Forced            bool
	Stale             bool
	PreviousOwnerID   string
	PreviousExpiresAt time.Time
}

// RunResult is the outcome of RunCanary, RunFull, or Rollback.
type RunResult struct {
	Channel         string
	Image           string
	BackupTag       string
	EffectiveMethod string
	RolledBack      bool
	Checks          []CheckResult
}

var (
	// ErrUpdatesDisabled is returned by every mutating operation when the
	// configured policy disables updates entirely.
	ErrUpdatesDisabled = errors.New("updatecoordinator: updates disabled by policy")
	// ErrPreflightFailed is returned when a blocking preflight check fails
	// and the caller did not pass force.
	ErrPreflightFailed = errors.New("updatecoordinator: preflight failed")
	// ErrCanaryRequired is returned by RunFull when RequireCanaryBeforeFull
	// is set and no recent successful canary exists, absent force.
	ErrCanaryRequired = errors.New("updatecoordinator: recent successful canary required before full rollout")
	// ErrNoBackups is returned by Rollback when no backup tag exists.
	ErrNoBackups = errors.New("updatecoordinator: no backups to roll back to")
)

// ScriptRunner executes the update script and container-runtime commands.
// Abstracted for testability; the production implementation shells out via
// os/exec.CommandContext.
type ScriptRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// NewExecRunner returns the default ScriptRunner, shelling out via os/exec.
func NewExecRunner() ScriptRunner { return execRunner{} }

// HistoryRecorder is the narrow surface the coordinator needs from the
// history log; satisfied by *service.HistoryLogService without importing
// it directly.
type HistoryRecorder interface {
	Record(entry updatehistory.Entry)
}

// SystemStatsFunc supplies the system-level fields of a preflight
// EvaluationContext (CPU/mem/disk/active connections). Optional; when nil,
// custom CEL preflight checks referencing those fields see zero values.
type SystemStatsFunc func(ctx context.Context) (rule.EvaluationContext, error)

// Config holds the coordinator's tunables, already parsed from
// config.UpdateConfig's string durations.
type Config struct {
	ScriptPath       string
	ComposeFile      string
	ContainerRuntime string
	ContainerName    string
	LockOwnerID      string

	LockStaleAfter time.Duration
	UpdateTimeout  time.Duration

	RequireCanaryBeforeFull bool
	CanaryWindowMinutes     int
	DefaultChannel          string
	BackupRetention         int
	UpdatesEnabled          bool

	VerifyRetries  int
	VerifyInterval time.Duration
}

// Coordinator implements C9's operations.
type Coordinator struct {
	cfg       Config
	lock      *updatelock.Lock
	inspector *runtimeinspect.Inspector
	evaluator *cel.Evaluator
	checks    []compiledCheck
	history   HistoryRecorder
	runner    ScriptRunner
	sysStats  SystemStatsFunc

	metrics *Metrics
	tracer  trace.Tracer

	mu           sync.Mutex
	phase        Phase
	backups      []string
	lastCanaryAt time.Time
	lastCanaryOK bool
}

type compiledCheck struct {
	cfg CustomCheck
}

// CustomCheck is the input shape New expects for operator-supplied preflight
// checks, matching config.PreflightCheckConfig's fields 1:1 (kept separate
// so this package doesn't import internal/config).
type CustomCheck struct {
	ID        string
	Label     string
	Condition string
	Blocking  bool
}

// New builds a Coordinator. evaluator may be nil iff checks is empty.
func New(cfg Config, lock *updatelock.Lock, inspector *runtimeinspect.Inspector, evaluator *cel.Evaluator, checks []CustomCheck, history HistoryRecorder, runner ScriptRunner, sysStats SystemStatsFunc) (*Coordinator, error) {
	if runner == nil {
		runner = NewExecRunner()
	}
	if cfg.LockOwnerID == "" {
		cfg.LockOwnerID = defaultOwnerID()
	}
	if cfg.VerifyRetries <= 0 {
		cfg.VerifyRetries = 6
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = time.Second
	}
	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = 10
	}

	compiled := make([]compiledCheck, 0, len(checks))
	for _, c := range checks {
		if evaluator == nil {
			return nil, fmt.Errorf("updatecoordinator: custom preflight check %q configured without a CEL evaluator", c.ID)
		}
		if _, err := evaluator.Compile(c.Condition); err != nil {
			return nil, fmt.Errorf("updatecoordinator: compile preflight check %q: %w", c.ID, err)
		}
		compiled = append(compiled, compiledCheck{cfg: c})
	}

	return &Coordinator{
		cfg:       cfg,
		lock:      lock,
		inspector: inspector,
		evaluator: evaluator,
		checks:    compiled,
		history:   history,
		runner:    runner,
		sysStats:  sysStats,
		tracer:    defaultTracer(),
		phase:     PhaseIdle,
	}, nil
}

func defaultOwnerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// GetPolicy reports the coordinator's current configuration and readiness.
func (c *Coordinator) GetPolicy(ctx context.Context) (Policy, error) {
	detection, err := c.inspector.Detect(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("updatecoordinator: detect runtime: %w", err)
	}

	c.mu.Lock()
	lastCanaryAt := c.lastCanaryAt
	canaryOK := c.lastCanaryOK
	c.mu.Unlock()

	canaryReady := true
	if c.cfg.RequireCanaryBeforeFull {
		canaryReady = canaryOK && time.Since(lastCanaryAt) <= time.Duration(c.cfg.CanaryWindowMinutes)*time.Minute
	}

	return Policy{
		Mode:                    detection.Mode,
		UpdatesEnabled:          c.cfg.UpdatesEnabled,
		RequireCanaryBeforeFull: c.cfg.RequireCanaryBeforeFull,
		CanaryWindowMinutes:     c.cfg.CanaryWindowMinutes,
		DefaultChannel:          c.cfg.DefaultChannel,
		UpdateTimeoutMs:         c.cfg.UpdateTimeout.Milliseconds(),
		CanaryReady:             canaryReady,
		LastSuccessfulCanaryAt:  lastCanaryAt,
	}, nil
}

// Preflight runs every built-in check plus any operator-supplied CEL checks.
// ready is true iff every blocking check passed.
func (c *Coordinator) Preflight(ctx context.Context) ([]CheckResult, bool, error) {
	var results []CheckResult

	results = append(results, c.checkScriptExecutable())
	results = append(results, c.checkComposeFileExists())
	results = append(results, c.checkContainerRuntimeReachable(ctx))
	results = append(results, c.checkTargetContainerPresent(ctx))
	results = append(results, c.checkVersionReadable(ctx))
	results = append(results, c.checkDryRun(ctx))
	results = append(results, c.checkLockFree())

	if len(c.checks) > 0 {
		evalCtx := rule.EvaluationContext{
			UpdatePhase:    string(c.currentPhase()),
			TargetVersion:  c.cfg.DefaultChannel,
			CurrentVersion: "",
			RequestTime:    time.Now(),
		}
		if c.sysStats != nil {
			stats, err := c.sysStats(ctx)
			if err == nil {
				evalCtx.SystemCPUPercent = stats.SystemCPUPercent
				evalCtx.SystemMemPercent = stats.SystemMemPercent
				evalCtx.SystemDiskPercent = stats.SystemDiskPercent
				evalCtx.ActiveConnections = stats.ActiveConnections
			}
		}
		for _, cc := range c.checks {
			results = append(results, c.runCustomCheck(cc, evalCtx))
		}
	}

	ready := true
	for _, r := range results {
		if r.Blocking && !r.OK {
			ready = false
		}
	}
	return results, ready, nil
}

func (c *Coordinator) currentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) checkScriptExecutable() CheckResult {
	const id = "update-script"
	info, err := os.Stat(c.cfg.ScriptPath)
	if err != nil {
		return CheckResult{ID: id, Label: "update script exists and is executable", Blocking: true, Detail: err.Error()}
	}
	if info.Mode()&0o111 == 0 {
		return CheckResult{ID: id, Label: "update script exists and is executable", Blocking: true, Detail: "script is not executable"}
	}
	return CheckResult{ID: id, Label: "update script exists and is executable", OK: true, Blocking: true}
}

func (c *Coordinator) checkComposeFileExists() CheckResult {
	const id = "compose-file"
	if c.cfg.ComposeFile == "" {
		return CheckResult{ID: id, Label: "compose file exists", OK: true, Blocking: true, Detail: "no compose file configured"}
	}
	if _, err := os.Stat(c.cfg.ComposeFile); err != nil {
		return CheckResult{ID: id, Label: "compose file exists", Blocking: true, Detail: err.Error()}
	}
	return CheckResult{ID: id, Label: "compose file exists", OK: true, Blocking: true}
}

func (c *Coordinator) checkContainerRuntimeReachable(ctx context.Context) CheckResult {
	const id = "runtime-reachable"
	_, stderr, err := c.runner.Run(ctx, c.cfg.ContainerRuntime, "version")
	if err != nil {
		return CheckResult{ID: id, Label: "container runtime reachable", Blocking: true, Detail: firstNonEmpty(stderr, err.Error())}
	}
	return CheckResult{ID: id, Label: "container runtime reachable", OK: true, Blocking: true}
}

func (c *Coordinator) checkTargetContainerPresent(ctx context.Context) CheckResult {
	const id = "target-container"
	_, stderr, err := c.runner.Run(ctx, c.cfg.ContainerRuntime, "inspect", c.cfg.ContainerName)
	if err != nil {
		return CheckResult{ID: id, Label: "target container present", Blocking: true, Detail: firstNonEmpty(stderr, err.Error())}
	}
	return CheckResult{ID: id, Label: "target container present", OK: true, Blocking: true}
}

func (c *Coordinator) checkVersionReadable(ctx context.Context) CheckResult {
	const id = "version-readable"
	stdout, stderr, err := c.runner.Run(ctx, c.cfg.ContainerRuntime, "inspect", "--format", "{{.Config.Image}}", c.cfg.ContainerName)
	if err != nil {
		return CheckResult{ID: id, Label: "current version readable", Blocking: true, Detail: firstNonEmpty(stderr, err.Error())}
	}
	version := strings.TrimSpace(stdout)
	return CheckResult{ID: id, Label: "current version readable", OK: version != "", Blocking: true, Detail: version, Metadata: map[string]string{"image": version}}
}

func (c *Coordinator) checkDryRun(ctx context.Context) CheckResult {
	const id = "dry-run"
	_, stderr, err := c.runner.Run(ctx, c.cfg.ScriptPath, "--dry-run")
	if err != nil {
		return CheckResult{ID: id, Label: "update script dry run", Blocking: true, Detail: firstNonEmpty(stderr, err.Error())}
	}
	return CheckResult{ID: id, Label: "update script dry run", OK: true, Blocking: true}
}

func (c *Coordinator) checkLockFree() CheckResult {
	const id = "lock-free"
	state, err := c.lock.Current()
	if err != nil {
		return CheckResult{ID: id, Label: "no active update lock", Blocking: true, Detail: err.Error()}
	}
	// A lock held by this coordinator's own owner id (as during runPhase,
	// which acquires before running preflight) does not block.
	if state.OwnerID != "" && state.OwnerID != c.cfg.LockOwnerID && time.Now().Before(state.ExpiresAt) {
		return CheckResult{ID: id, Label: "no active update lock", Blocking: true, Detail: fmt.Sprintf("held by %s", state.OwnerID)}
	}
	return CheckResult{ID: id, Label: "no active update lock", OK: true, Blocking: true}
}

func (c *Coordinator) runCustomCheck(cc compiledCheck, evalCtx rule.EvaluationContext) CheckResult {
	prg, err := c.evaluator.Compile(cc.cfg.Condition)
	if err != nil {
		return CheckResult{ID: cc.cfg.ID, Label: cc.cfg.Label, Blocking: cc.cfg.Blocking, Detail: fmt.Sprintf("compile error: %v", err)}
	}
	ok, err := c.evaluator.Evaluate(prg, evalCtx)
	if err != nil {
		return CheckResult{ID: cc.cfg.ID, Label: cc.cfg.Label, Blocking: cc.cfg.Blocking, Detail: fmt.Sprintf("evaluation error: %v", err)}
	}
	return CheckResult{ID: cc.cfg.ID, Label: cc.cfg.Label, OK: ok, Blocking: cc.cfg.Blocking}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// RunCanary acquires the lock, requires preflight to pass, creates a backup
// tag, invokes the canary rollout, and verifies health. On failure (and
// !noRollback) it restores the backup before releasing the lock.
func (c *Coordinator) RunCanary(ctx context.Context, channel, image string, noRollback bool) (RunResult, error) {
	result, err := c.runPhase(ctx, PhaseCanary, channel, image, noRollback, false)
	if err == nil {
		c.mu.Lock()
		c.lastCanaryAt = time.Now()
		c.lastCanaryOK = true
		c.mu.Unlock()
	}
	return result, err
}

// RunFull acquires the lock, requires preflight to pass (and, unless force,
// a recent successful canary), creates a backup tag, invokes the full
// rollout, and verifies health, rolling back on failure unless noRollback.
func (c *Coordinator) RunFull(ctx context.Context, channel, image string, noRollback, force bool) (RunResult, error) {
	if c.cfg.RequireCanaryBeforeFull && !force {
		c.mu.Lock()
		ok := c.lastCanaryOK && time.Since(c.lastCanaryAt) <= time.Duration(c.cfg.CanaryWindowMinutes)*time.Minute
		c.mu.Unlock()
		if !ok {
			return RunResult{}, ErrCanaryRequired
		}
	}
	return c.runPhase(ctx, PhaseFull, channel, image, noRollback, force)
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase, channel, image string, noRollback, force bool) (result RunResult, err error) {
	ctx, span := c.tracer.Start(ctx, "updatecoordinator."+string(phase), trace.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("image", image),
		attribute.Bool("force", force),
	))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if result.RolledBack {
			outcome = "rolled_back"
		}
		c.recordOutcome(phase, outcome)
		span.End()
	}()

	if !c.cfg.UpdatesEnabled {
		return RunResult{}, ErrUpdatesDisabled
	}
	if channel == "" {
		channel = c.cfg.DefaultChannel
	}

	if err := c.lock.Acquire(c.cfg.LockOwnerID, c.cfg.LockStaleAfter); err != nil {
		return RunResult{}, fmt.Errorf("updatecoordinator: %w", err)
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			c.recordHistory(updatehistory.LevelError, fmt.Sprintf("failed to release update lock: %v", err), nil)
		}
	}()

	c.setPhase(PhasePreflight)
	checks, ready, err := c.Preflight(ctx)
	if err != nil {
		c.setPhase(PhaseIdle)
		return RunResult{Checks: checks}, fmt.Errorf("updatecoordinator: preflight: %w", err)
	}
	if !ready && !force {
		c.setPhase(PhaseIdle)
		c.recordHistory(updatehistory.LevelWarning, fmt.Sprintf("%s: preflight blocked", phase), checkMetadata(checks))
		return RunResult{Checks: checks}, ErrPreflightFailed
	}

	c.setPhase(phase)
	currentVersion := versionFromChecks(checks)
	backupTag := c.makeBackupTag(currentVersion)
	if currentVersion != "" {
		if _, stderr, err := c.runner.Run(ctx, c.cfg.ContainerRuntime, "tag", currentVersion, backupTag); err != nil {
			c.setPhase(PhaseIdle)
			return RunResult{Checks: checks}, fmt.Errorf("updatecoordinator: create backup tag: %s: %w", stderr, err)
		}
		c.pushBackup(backupTag)
	}

	args := []string{string(phase), "--channel", channel}
	if image != "" {
		args = append(args, "--image", image)
	}
	_, stderr, runErr := c.runner.Run(ctx, c.cfg.ScriptPath, args...)

	healthy := runErr == nil && c.verifyHealthy(ctx)
	rolledBack := false
	if !healthy && !noRollback && backupTag != "" {
		c.setPhase(PhaseRollback)
		if restoreErr := c.restoreBackup(ctx, backupTag, currentVersion); restoreErr != nil {
			c.recordHistory(updatehistory.LevelCritical, fmt.Sprintf("%s: rollback after failure also failed: %v", phase, restoreErr), nil)
		} else {
			rolledBack = true
		}
	}

	c.setPhase(PhaseIdle)

	result := RunResult{
		Channel:         channel,
		Image:           image,
		BackupTag:       backupTag,
		EffectiveMethod: string(phase),
		RolledBack:      rolledBack,
		Checks:          checks,
	}

	if !healthy {
		level := updatehistory.LevelError
		if rolledBack {
			level = updatehistory.LevelWarning
		}
		c.recordHistory(level, fmt.Sprintf("%s failed: %s", phase, firstNonEmpty(stderr, errString(runErr))), map[string]string{"rolled_back": fmt.Sprintf("%t", rolledBack)})
		return result, fmt.Errorf("updatecoordinator: %s failed and health check did not pass", phase)
	}

	c.recordHistory(updatehistory.LevelInfo, fmt.Sprintf("%s succeeded", phase), map[string]string{"channel": channel, "image": image})
	return result, nil
}

// Rollback restores a specific backup tag (or the newest if empty) under the
// same lock discipline as RunCanary/RunFull.
func (c *Coordinator) Rollback(ctx context.Context, backupTag string) (result RunResult, err error) {
	ctx, span := c.tracer.Start(ctx, "updatecoordinator.rollback", trace.WithAttributes(attribute.String("backup_tag", backupTag)))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.recordOutcome(PhaseRollback, outcome)
		span.End()
	}()

	if !c.cfg.UpdatesEnabled {
		return RunResult{}, ErrUpdatesDisabled
	}

	if err := c.lock.Acquire(c.cfg.LockOwnerID, c.cfg.LockStaleAfter); err != nil {
		return RunResult{}, fmt.Errorf("updatecoordinator: %w", err)
	}
	defer func() { _ = c.lock.Release() }()

	c.mu.Lock()
	if backupTag == "" {
		if len(c.backups) == 0 {
			c.mu.Unlock()
			return RunResult{}, ErrNoBackups
		}
		backupTag = c.backups[len(c.backups)-1]
	}
	c.mu.Unlock()

	c.setPhase(PhaseRollback)
	checks, _, _ := c.Preflight(ctx)
	currentVersion := versionFromChecks(checks)

	if err := c.restoreBackup(ctx, backupTag, currentVersion); err != nil {
		c.setPhase(PhaseIdle)
		c.recordHistory(updatehistory.LevelError, fmt.Sprintf("rollback to %s failed: %v", backupTag, err), nil)
		return RunResult{BackupTag: backupTag}, fmt.Errorf("updatecoordinator: rollback: %w", err)
	}
	c.setPhase(PhaseIdle)
	c.recordHistory(updatehistory.LevelInfo, fmt.Sprintf("rolled back to %s", backupTag), nil)
	return RunResult{BackupTag: backupTag, EffectiveMethod: string(PhaseRollback), RolledBack: true}, nil
}

// Unlock clears a stale lock unconditionally, or any lock when force is set.
// The caller (the collaborator/authz layer) is responsible for ensuring
// force is only honored for super-admin callers; this package only enforces
// the staleness distinction.
func (c *Coordinator) Unlock(reason string, force bool) (UnlockResult, error) {
	current, err := c.lock.Current()
	if err != nil {
		return UnlockResult{}, fmt.Errorf("updatecoordinator: %w", err)
	}
	if current.OwnerID == "" {
		return UnlockResult{HadLock: false, Unlocked: false}, nil
	}

	stale := !time.Now().Before(current.ExpiresAt)
	if !stale && !force {
		return UnlockResult{
			HadLock:           true,
			Unlocked:          false,
			Stale:             false,
			PreviousOwnerID:   current.OwnerID,
			PreviousExpiresAt: current.ExpiresAt,
		}, nil
	}

	if err := c.lock.Release(); err != nil {
		return UnlockResult{}, fmt.Errorf("updatecoordinator: release: %w", err)
	}
	c.recordHistory(updatehistory.LevelWarning, fmt.Sprintf("update lock cleared: %s", reason), map[string]string{
		"previous_owner": current.OwnerID, "forced": fmt.Sprintf("%t", force), "stale": fmt.Sprintf("%t", stale),
	})

	return UnlockResult{
		HadLock:           true,
		Unlocked:          true,
		Forced:            force && !stale,
		Stale:             stale,
		PreviousOwnerID:   current.OwnerID,
		PreviousExpiresAt: current.ExpiresAt,
	}, nil
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Coordinator) verifyHealthy(ctx context.Context) bool {
	for i := 0; i < c.cfg.VerifyRetries; i++ {
		detection, err := c.inspector.Detect(ctx)
		if err == nil && detection.Running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.VerifyInterval):
		}
	}
	return false
}

func (c *Coordinator) restoreBackup(ctx context.Context, backupTag, currentVersion string) error {
	if backupTag == "" {
		return errors.New("no backup tag available")
	}
	target := currentVersion
	if target == "" {
		target = c.cfg.ContainerName
	}
	if _, stderr, err := c.runner.Run(ctx, c.cfg.ContainerRuntime, "tag", backupTag, target); err != nil {
		return fmt.Errorf("retag backup: %s: %w", stderr, err)
	}
	detection, err := c.inspector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect runtime: %w", err)
	}
	if res := c.inspector.Restart(ctx, detection.Mode); !res.OK {
		return fmt.Errorf("restart: %s", res.Detail)
	}
	if !c.verifyHealthy(ctx) {
		return errors.New("restarted container never became healthy")
	}
	return nil
}

func (c *Coordinator) makeBackupTag(currentVersion string) string {
	ts := strings.ReplaceAll(time.Now().UTC().Format(time.RFC3339), ":", "-")
	base := currentVersion
	if idx := strings.LastIndex(base, ":"); idx >= 0 {
		base = base[:idx]
	}
	if base == "" {
		base = c.cfg.ContainerName
	}
	return fmt.Sprintf("%s:backup-%s", base, ts)
}

func (c *Coordinator) pushBackup(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backups = append(c.backups, tag)
	if len(c.backups) > c.cfg.BackupRetention {
		c.backups = c.backups[len(c.backups)-c.cfg.BackupRetention:]
	}
}

func (c *Coordinator) recordHistory(level updatehistory.Level, message string, metadata map[string]string) {
	if c.history == nil {
		return
	}
	c.history.Record(updatehistory.Entry{
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
}

func versionFromChecks(checks []CheckResult) string {
	for _, c := range checks {
		if c.ID == "version-readable" {
			return c.Metadata["image"]
		}
	}
	return ""
}

func checkMetadata(checks []CheckResult) map[string]string {
	meta := make(map[string]string, len(checks))
	for _, c := range checks {
		meta[c.ID] = fmt.Sprintf("ok=%t blocking=%t detail=%s", c.OK, c.Blocking, c.Detail)
	}
	return meta
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
