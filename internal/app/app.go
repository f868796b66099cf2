// Package app wires configuration, storage, platform integrations, the
// dispatcher and the trigger poller into one runnable unit, and exposes the
// Orchestrator as the embedding surface.
package app

import (
	"context"
	"fmt"
	"sync"

	"crosspost/internal/config"
	"crosspost/internal/dispatch"
	"crosspost/internal/eventbus"
	"crosspost/internal/observability"
	"crosspost/internal/platforms"
	"crosspost/internal/poller"
	"crosspost/internal/registry"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store storage.Store
	dir   *platforms.StaticDirectory
	orch  *Orchestrator
	poll  *poller.Poller
	ops   *observability.Server

	stopOnce    sync.Once
	watchWG     sync.WaitGroup
	watchCancel context.CancelFunc
}

// New loads the config file and builds the full object graph. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	dir := platforms.NewStaticDirectory(mapDestinations(cfg.Destinations))
	preg := platforms.NewRegistry(dir, nil, log.With(logx.String("comp", "platforms")))
	if err := registerPlatforms(preg, cfg.Platforms); err != nil {
		_ = store.Close()
		return nil, err
	}

	dispCfg, err := mapDispatchConfig(cfg.Dispatch)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := dispatch.New(dispCfg, log.With(logx.String("comp", "dispatch")))

	reg := registry.New(store, log.With(logx.String("comp", "registry")))
	metrics := observability.NewMetrics(nil)
	bus := eventbus.New()

	orch := NewOrchestrator(store, reg, disp, preg.PublishFunc(), bus, metrics, log.With(logx.String("comp", "orchestrator")))

	pollCfg, err := mapPollerConfig(cfg.Poller)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	poll, err := poller.New(pollCfg, orch.RunDue, log.With(logx.String("comp", "poller")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ops := observability.NewServer(observability.ServerConfig{
		Enabled: cfg.Ops.Enabled,
		Addr:    cfg.Ops.Addr,
	}, log.With(logx.String("comp", "ops")))

	return &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		store:  store,
		dir:    dir,
		orch:   orch,
		poll:   poll,
		ops:    ops,
	}, nil
}

// Orchestrator is the API surface for embedders and the CLI.
func (a *App) Orchestrator() *Orchestrator { return a.orch }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Start(ctx context.Context) error {
	if err := a.poll.Start(ctx); err != nil {
		return err
	}
	if err := a.ops.Start(ctx); err != nil {
		a.poll.Stop(ctx)
		return err
	}

	// Hot reload: logging and destinations apply live; structural settings
	// (storage driver, platform credentials) need a restart.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	sub := a.cfgMgr.Subscribe(2)
	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		_ = a.cfgMgr.Watch(watchCtx)
	}()
	go func() {
		defer a.watchWG.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(mapLoggingConfig(cfg.Logging))
				a.dir.Replace(mapDestinations(cfg.Destinations))
				a.log.Info("applied reloaded config")
			}
		}
	}()

	a.log.Info("crosspost started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if a.watchCancel != nil {
			a.watchCancel()
		}
		a.poll.Stop(ctx)
		a.ops.Stop(ctx)
		a.watchWG.Wait()
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing storage", logx.Err(err))
		}
		a.log.Info("crosspost stopped")
		_ = a.logSvc.Close()
	})
	return nil
}
