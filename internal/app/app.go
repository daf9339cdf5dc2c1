// Package app wires every component (C1-C9) into a single running
// control-plane process: the composition root's job is entirely
// construction order and closures, no business logic of its own.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/one-ui/control-plane/internal/adapter/outbound/applyengine"
	"github.com/one-ui/control-plane/internal/adapter/outbound/cel"
	"github.com/one-ui/control-plane/internal/adapter/outbound/historylog"
	"github.com/one-ui/control-plane/internal/adapter/outbound/runtimeinspect"
	"github.com/one-ui/control-plane/internal/adapter/outbound/snapshotstore"
	"github.com/one-ui/control-plane/internal/adapter/outbound/sqlstore"
	"github.com/one-ui/control-plane/internal/adapter/outbound/stattransport"
	"github.com/one-ui/control-plane/internal/adapter/outbound/updatelock"
	"github.com/one-ui/control-plane/internal/config"
	"github.com/one-ui/control-plane/internal/domain/device"
	"github.com/one-ui/control-plane/internal/service"
	"github.com/one-ui/control-plane/internal/service/onlinetracker"
	"github.com/one-ui/control-plane/internal/service/sessionstream"
	"github.com/one-ui/control-plane/internal/service/statscollector"
	"github.com/one-ui/control-plane/internal/service/updatecoordinator"
)

// App holds every long-lived singleton of a running control plane, wired in
// the order: config -> logger -> domain store -> stat transport -> runtime
// inspector -> apply engine -> config generator -> stats collector ->
// device tracker -> online tracker -> session stream -> update
// coordinator. Shutdown tears them down in reverse.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	telemetry *telemetry

	Store     *sqlstore.Store
	Querier   *stattransport.Querier
	Inspector *runtimeinspect.Inspector
	Snapshots *snapshotstore.Store
	Apply     *applyengine.Engine
	Collector *statscollector.Collector
	Devices   *device.Tracker
	Online    *onlinetracker.Tracker
	Sessions  *sessionstream.Stream
	Update    *updatecoordinator.Coordinator

	evaluator   *cel.Evaluator
	updateLock  *updatelock.Lock
	historyLog  *service.HistoryLogService
	historyFile *historylog.FileStore

	deviceDone chan struct{}
	wg         sync.WaitGroup
}

// New constructs every component but starts none of their background
// loops; call Start to begin ticking.
func New(cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	tel, err := setupTelemetry(cfg.DevMode)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		// Only leaked on a construction failure below; a successful New
		// hands ownership of shutdown to the returned App.
		if err != nil {
			_ = tel.shutdown(context.Background())
		}
	}()

	store, err := sqlstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	closeStore := true
	defer func() {
		if closeStore {
			_ = store.Close()
		}
	}()

	querier := stattransport.NewQuerier(buildStatTransports(cfg)...)

	inspector := runtimeinspect.New(runtimeinspect.Mode(cfg.DataPlane.RuntimeHint), buildRuntimeSources(cfg)...)

	snapshots := snapshotstore.New(cfg.Snapshot.Dir, cfg.Snapshot.Retention, logger)
	if err := tel.registerSnapshotGauge(snapshots); err != nil {
		return nil, fmt.Errorf("register snapshot gauge: %w", err)
	}

	res := newResolver(store)
	flags := toConfigGenFlags(cfg.Server.LogLevel, cfg.ConfigGen)

	applyMetrics := applyengine.NewMetrics(tel.Registry)
	applyEngine := applyengine.New(
		cfg.DataPlane.ConfigPath,
		snapshots,
		inspector,
		res.generateFunc(flags),
		logger,
		applyengine.WithFragments(filepath.Join(filepath.Dir(cfg.DataPlane.ConfigPath), "conf.d")),
		applyengine.WithVerifyRetries(6, parseDurationDefault(logger, "snapshot.verify_delay", cfg.Snapshot.VerifyDelay, 2*time.Second)),
		applyengine.WithMetrics(applyMetrics),
	)

	collectorMetrics := statscollector.NewMetrics(tel.Registry)
	collector := statscollector.New(
		parseDurationDefault(logger, "collector.interval", cfg.Collector.Interval, 60*time.Second),
		cfg.Collector.ResetAfterRead,
		querier,
		store,
		store,
		res.collectorProjection(),
		collectorMetrics,
		logger,
	)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("build CEL evaluator: %w", err)
	}

	deviceTTL := parseDurationDefault(logger, "device.ttl", cfg.Device.TTL, 10*time.Minute)
	deviceCleanup := parseDurationDefault(logger, "device.cleanup_interval", cfg.Device.CleanupInterval, time.Minute)
	devices := device.New(deviceTTL, deviceCleanup, evaluator, toDeviceRules(cfg.Device.EnforcementRules), logger)

	onlineCfg := onlinetracker.Config{
		RefreshInterval: parseDurationDefault(logger, "online_tracker.interval", cfg.OnlineTracker.Interval, 5*time.Second),
		TTL:             parseDurationDefault(logger, "online_tracker.stale_after", cfg.OnlineTracker.StaleAfter, 90*time.Second),
	}
	online := onlinetracker.New(onlineCfg, store, devices, querier, res.onlineProjection(), logger)

	sessions := sessionstream.New(online, logger)

	historyFile, err := historylog.Open(historylog.Config{
		Dir:           cfg.AuditFile.Dir,
		RetentionDays: cfg.AuditFile.RetentionDays,
		MaxFileSizeMB: cfg.AuditFile.MaxFileSizeMB,
		CacheSize:     cfg.AuditFile.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open history file mirror: %w", err)
	}
	closeHistoryFile := true
	defer func() {
		if closeHistoryFile {
			_ = historyFile.Close()
		}
	}()

	historyLog := service.NewHistoryLogService(store, logger)
	fanout := newHistoryFanout(historyLog, historyFile, logger)

	updateLock := updatelock.New(cfg.Update.LockPath)

	updateMetrics := updatecoordinator.NewMetrics(tel.Registry)
	updateCoordinator, err := updatecoordinator.New(
		updatecoordinator.Config{
			ScriptPath:              cfg.Update.ScriptPath,
			ComposeFile:             cfg.Update.ComposeFile,
			ContainerRuntime:        cfg.Update.ContainerRuntime,
			ContainerName:           cfg.DataPlane.ContainerName,
			LockStaleAfter:          parseDurationDefault(logger, "update.lock_stale_after", cfg.Update.LockStaleAfter, 15*time.Minute),
			UpdateTimeout:           parseDurationDefault(logger, "update.update_timeout", cfg.Update.UpdateTimeout, 10*time.Minute),
			RequireCanaryBeforeFull: cfg.Update.RequireCanaryBeforeFull,
			CanaryWindowMinutes:     cfg.Update.CanaryWindowMinutes,
			DefaultChannel:          cfg.Update.DefaultChannel,
			BackupRetention:         cfg.Update.BackupRetention,
			UpdatesEnabled:          cfg.Update.UpdatesEnabled,
			VerifyRetries:           cfg.Update.VerifyRetries,
			VerifyInterval:          parseDurationDefault(logger, "update.verify_interval", cfg.Update.VerifyInterval, time.Second),
		},
		updateLock,
		inspector,
		evaluator,
		toPreflightChecks(cfg.Update.PreflightChecks),
		fanout,
		nil, // ScriptRunner: nil selects updatecoordinator.NewExecRunner()
		nil, // SystemStatsFunc: no system-stats source wired; custom checks referencing it see zero values
	)
	if err != nil {
		return nil, fmt.Errorf("build update coordinator: %w", err)
	}
	updateCoordinator.SetMetrics(updateMetrics)

	closeStore = false
	closeHistoryFile = false

	return &App{
		cfg:         cfg,
		logger:      logger,
		telemetry:   tel,
		Store:       store,
		Querier:     querier,
		Inspector:   inspector,
		Snapshots:   snapshots,
		Apply:       applyEngine,
		Collector:   collector,
		Devices:     devices,
		Online:      online,
		Sessions:    sessions,
		Update:      updateCoordinator,
		evaluator:   evaluator,
		updateLock:  updateLock,
		historyLog:  historyLog,
		historyFile: historyFile,
		deviceDone:  make(chan struct{}),
	}, nil
}

func buildStatTransports(cfg *config.Config) []stattransport.Transport {
	server := fmt.Sprintf("%s:%d", cfg.ConfigGen.APIListen, cfg.ConfigGen.APIPort)
	cli := stattransport.NewCLITransport(cfg.StatTransport.CLICommand, server)
	httpTransport := stattransport.NewHTTPTransport(cfg.StatTransport.HTTP, parseDurationDefault(slog.Default(), "stat_transport.http_timeout", cfg.StatTransport.HTTPTimeout, 5*time.Second))
	if cfg.StatTransport.Preferred == "cli" {
		return []stattransport.Transport{cli, httpTransport}
	}
	return []stattransport.Transport{httpTransport, cli}
}

func buildRuntimeSources(cfg *config.Config) []runtimeinspect.Source {
	return []runtimeinspect.Source{
		runtimeinspect.NewContainerSource(cfg.DataPlane.ContainerName, cfg.DataPlane.Binary),
		runtimeinspect.NewServiceSource(cfg.DataPlane.ServiceName, cfg.DataPlane.Binary),
		runtimeinspect.NewLocalSource(cfg.DataPlane.PIDFile, cfg.DataPlane.Binary, cfg.DataPlane.Binary),
	}
}

// Start begins every background loop: the stats collector tick, the device
// tracker's idle-eviction sweep, and the history log's batched flush
// worker. The online tracker and session stream are refreshed lazily
// on-demand and need no explicit start.
func (a *App) Start(ctx context.Context) {
	a.Collector.Start(ctx)
	a.Devices.StartCleanup(a.deviceDone)
	a.historyLog.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-ctx.Done()
		close(a.deviceDone)
	}()
}

// Shutdown stops every background loop and closes every owned resource, in
// the reverse of New's construction order.
func (a *App) Shutdown(ctx context.Context) error {
	a.Devices.Stop()
	a.Collector.Stop()
	a.historyLog.Stop()
	a.wg.Wait()

	if err := a.historyFile.Close(); err != nil {
		a.logger.Warn("history file mirror close failed", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
	return a.telemetry.shutdown(ctx)
}
