// Package app wires the daemon together: config, logging, storage, the
// Telegram transport, the chat bot, the sweep monitor and the operational
// HTTP listener. Construction is fail-fast; hot-reload applies only the
// settings that are safe to change at runtime.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tokstat/internal/bot"
	"tokstat/internal/config"
	"tokstat/internal/monitor"
	"tokstat/internal/tiktok"
	"tokstat/internal/track"
	"tokstat/internal/transport/telegram"
	"tokstat/internal/web"
	logx "tokstat/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store   track.Store
	adapter *telegram.Adapter
	client  *tiktok.Client
	bot     *bot.Service
	mon     *monitor.Monitor
	web     *web.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.LogxConfig())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	// Validate() already ran in Load; accessor errors are unreachable here
	// but checked anyway so a refactor cannot silently break the mapping.
	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	busyTimeout, err := cfg.BusyTimeout()
	if err != nil {
		return nil, err
	}
	sweepInterval, err := cfg.SweepInterval()
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := cfg.FetchTimeout()
	if err != nil {
		return nil, err
	}

	// An unreadable or corrupt store is fatal: starting with an implicit
	// empty one would silently drop every user's tracked set.
	store, err := track.Open(track.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open tracking store: %w", err)
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := tiktok.NewClient(tiktok.ClientConfig{
		FetchTimeout: fetchTimeout,
		RatePerMin:   cfg.RatePerMin(),
		RapidAPIKey:  cfg.RapidAPIKey(),
		RapidAPIHost: cfg.RapidAPIHost(),
	}, log.With(logx.String("comp", "tiktok")))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitor.NewMetrics(reg)

	mon := monitor.New(monitor.Config{
		SweepInterval: sweepInterval,
		Threshold:     cfg.MilestoneThreshold(),
	}, store, client, bot.Notifier{Adapter: adapter}, bot.MilestoneMessage, metrics, log.With(logx.String("comp", "monitor")))

	botSvc := bot.New(adapter, store, client, func() time.Duration {
		iv, err := cfgm.Get().SweepInterval()
		if err != nil {
			return sweepInterval
		}
		return iv
	}, log.With(logx.String("comp", "bot")))

	webSvc := web.New(web.Config{
		Enabled: cfg.Web.Enabled,
		Addr:    cfg.WebAddr(),
	}, reg, map[string]web.HealthFunc{
		"store": func(ctx context.Context) error {
			_, err := store.ListAll(ctx)
			return err
		},
	}, log.With(logx.String("comp", "web")))

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		store:   store,
		adapter: adapter,
		client:  client,
		bot:     botSvc,
		mon:     mon,
		web:     webSvc,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.web.Start(runCtx); err != nil {
		return err
	}
	if err := a.mon.Start(runCtx); err != nil {
		return err
	}
	if err := a.bot.Start(runCtx); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("config watcher exited", logx.Err(err))
		}
	}()

	// Best effort; a no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

// reloadLoop applies hot-reloadable settings from validated config updates.
// Telegram token, storage path and web listener changes need a restart and
// only produce a warning here.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest state matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyReload(last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyReload(old, cfg *config.Config) {
	a.logs.Apply(cfg.LogxConfig())

	if ft, err := cfg.FetchTimeout(); err == nil {
		a.client.Apply(tiktok.ClientConfig{
			FetchTimeout: ft,
			RatePerMin:   cfg.RatePerMin(),
			RapidAPIKey:  cfg.RapidAPIKey(),
			RapidAPIHost: cfg.RapidAPIHost(),
		})
	}

	if iv, err := cfg.SweepInterval(); err == nil {
		a.mon.Apply(monitor.Config{
			SweepInterval: iv,
			Threshold:     cfg.MilestoneThreshold(),
		})
	}

	if old != nil {
		if cfg.Telegram.Token != old.Telegram.Token {
			a.log.Warn("telegram.token changed; restart required")
		}
		if cfg.Storage.Path != old.Storage.Path {
			a.log.Warn("storage.path changed; restart required")
		}
		if cfg.Web.Enabled != old.Web.Enabled || cfg.WebAddr() != old.WebAddr() {
			a.log.Warn("web listener changed; restart required")
		}
	}
	a.log.Info("config reloaded")
}

// Stop shuts components down in dependency order: intake first so no new
// work arrives, then the monitor, then outbound transport, storage last.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
		}
	}

	step("bot", 5*time.Second, a.bot.Stop)
	step("monitor", 10*time.Second, a.mon.Stop)
	step("adapter", 5*time.Second, a.adapter.Stop)
	step("web", 3*time.Second, a.web.Stop)
	step("storage", 3*time.Second, func(context.Context) error { return a.store.Close() })

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background loops still running at stop deadline")
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
