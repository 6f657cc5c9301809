// Package app wires the bot's services together and owns their lifecycle:
// config, crypto codec, document store, write-back cache, repository,
// telegram adapter, command router, and the reminder dispatcher.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"todobot/internal/bot"
	"todobot/internal/config"
	"todobot/internal/cryptox"
	"todobot/internal/dispatch"
	"todobot/internal/storage"
	"todobot/internal/transport/telegram"
	"todobot/pkg/logx"
)

type App struct {
	log logx.Logger

	cfgMgr     *config.Manager
	cache      *storage.Cache
	repo       *storage.Repo
	adapter    *telegram.Adapter
	dispatcher *dispatch.Service

	mu      sync.Mutex
	started bool
	stopWG  sync.WaitGroup
	cancel  context.CancelFunc
}

// New loads configuration and constructs every service. Nothing runs until
// Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	codec, err := cryptox.New(cfg.Store.Secret, cfg.Store.Encrypt)
	if err != nil {
		return nil, err
	}

	doc, err := storage.OpenDocument(cfg.Store.Path, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	debounce, _ := config.ParseDurationOrDefault("store.debounce", cfg.Store.Debounce, 30*time.Second)
	cache := storage.NewCache(storage.CacheConfig{
		Debounce:   debounce,
		MaxEntries: cfg.Store.MaxCachedUsers,
	}, doc, codec, log.With(logx.String("comp", "cache")))

	repo := storage.NewRepo(cache, codec, storage.Limits{
		MaxTasks:      cfg.Limits.MaxTasks,
		MaxReminders:  cfg.Limits.MaxReminders,
		MaxContentLen: cfg.Limits.MaxContentLength,
	}, log.With(logx.String("comp", "repo")))

	pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(dispatchConfig(cfg), repo, adapter,
		log.With(logx.String("comp", "dispatch")))

	router := bot.NewRouter(repo, log.With(logx.String("comp", "router")))
	router.Register(adapter.Bot())

	return &App{
		log:        log,
		cfgMgr:     mgr,
		cache:      cache,
		repo:       repo,
		adapter:    adapter,
		dispatcher: dispatcher,
	}, nil
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	interval, _ := config.ParseDurationOrDefault("dispatch.interval", cfg.Dispatch.Interval, 2*time.Minute)
	sendTimeout, _ := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 30*time.Second)
	return dispatch.Config{
		Enabled:       cfg.Dispatch.DispatchEnabled(),
		Interval:      interval,
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
		FailureCap:    cfg.Dispatch.FailureCap,
		SendTimeout:   sendTimeout,
		HistorySize:   cfg.Dispatch.HistorySize,
	}
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.adapter.Start(runCtx)
	if err := a.dispatcher.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start dispatcher: %w", err)
	}

	// Config hot reload: debounce and dispatch cadence apply live; the
	// rest (token, store path, secret) needs a restart.
	sub := a.cfgMgr.Subscribe(1)
	a.stopWG.Add(1)
	go func() {
		defer a.stopWG.Done()
		for {
			select {
			case <-runCtx.Done():
				a.cfgMgr.Unsubscribe(sub)
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	a.stopWG.Add(1)
	go func() {
		defer a.stopWG.Done()
		if err := a.cfgMgr.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	a.started = true
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("todobot started")
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if d, err := config.ParseDurationOrDefault("store.debounce", cfg.Store.Debounce, 30*time.Second); err == nil {
		a.cache.SetDebounce(d)
	}
	a.dispatcher.Apply(dispatchConfig(cfg))
	a.log.Info("config changes applied")
}

// Stop shuts down in dependency order: stop admitting dispatch cycles and
// wait for in-flight deliveries, stop polling, then force a final flush so no
// dirty cache state is lost.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.dispatcher.Stop(ctx)
	a.adapter.Stop(ctx)
	a.cancel()
	a.stopWG.Wait()

	err := a.cache.Close()
	if err != nil {
		a.log.Error("final flush failed, unflushed writes lost", logx.Err(err))
	}
	a.log.Info("todobot stopped")
	_ = a.log.Close()
	return err
}
