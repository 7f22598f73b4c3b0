// Package app wires configuration, transport, pipeline and services into a
// running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"patchwatch/internal/commands"
	"patchwatch/internal/config"
	"patchwatch/internal/forum"
	"patchwatch/internal/generate"
	"patchwatch/internal/observability/status"
	"patchwatch/internal/pipeline"
	"patchwatch/internal/registry"
	rtsup "patchwatch/internal/runtime/supervisor"
	"patchwatch/internal/storage"
	"patchwatch/internal/task/scheduler"
	kit "patchwatch/internal/transport"
	"patchwatch/internal/transport/telegram"
	logx "patchwatch/pkg/logx"
)

const pollJob = "poll"

// pollJobTimeout bounds one whole cycle; per-step timeouts are tighter.
const pollJobTimeout = 15 * time.Minute

type Options struct {
	ConfigPath string
	Version    string
}

type App struct {
	opts      Options
	startedAt time.Time

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	reg     *registry.Registry
	disp    *pipeline.Dispatcher
	metrics *status.Metrics
	sched   *scheduler.Service
	router  *commands.Router
	http    *status.Service

	updates chan kit.Update
}

func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	// The adapter is also the log chat sink, so it gets a boot console logger.
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}

	// Boot without the chat sink so Apply does not warn before the target is set.
	logCfg := mapLogConfig(cfg)
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	logs, root := logx.New(logCfg, ad)
	logs.SetChatTarget(logChatID(cfg), cfg.Logging.Telegram.ThreadID)
	logCfg.Chat.Enabled = chatEnabled
	logs.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	reg, err := OpenRegistry(cfg, root)
	if err != nil {
		return nil, err
	}
	a.reg = reg

	det, ext, err := buildPipeline(cfg, root)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	a.metrics = status.NewMetrics(reg.Len)
	a.disp = pipeline.NewDispatcher(det, ext, reg, a.adapter, pipeline.NewState(), mapPipelineConfig(cfg), root,
		pipeline.WithObserver(a.metrics))

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Poll.Timezone}, root)

	a.router = commands.NewRouter(a.adapter, cfg.Telegram.OwnerUserIDs, root)
	h := &commands.Handlers{Dests: reg, Pipeline: a.disp}
	a.router.SetCommands(h.Commands())

	a.http = status.New(mapStatusConfig(cfg), a.snapshot, a.metrics, root)
	return a, nil
}

// OpenRegistry opens the configured store and returns a registry on top of
// it. Call Load before reading.
func OpenRegistry(cfg *config.Config, log logx.Logger) (*registry.Registry, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	return registry.New(store, log), nil
}

func buildPipeline(cfg *config.Config, log logx.Logger) (*pipeline.Detector, *pipeline.Extractor, error) {
	fc, err := mapForumConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	scraper, err := forum.New(fc, log)
	if err != nil {
		return nil, nil, err
	}
	gc, err := mapGenerateConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	det := pipeline.NewDetector(scraper, fc.FetchTimeout, log)
	ext := pipeline.NewExtractor(scraper, generate.New(gc, log), fc.FetchTimeout, log)
	return det, ext, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := scheduler.CronSpec(cfg.Poll.Schedule); err != nil {
			return fmt.Errorf("poll.schedule: %w", err)
		}
		if tz := strings.TrimSpace(cfg.Poll.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("poll.timezone: invalid %q: %w", tz, err)
			}
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.reg.Load(ctx); err != nil {
		return fmt.Errorf("load destinations: %w", err)
	}
	a.log.Info("destinations loaded", logx.Int("count", a.reg.Len()))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu", func(c context.Context) {
		if err := a.adapter.UpdateMenuCommands(c, a.router.MenuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	cfg := a.cfgm.Get()
	a.sched.Start(a.sup.Context())
	a.sup.Go("pipeline.start", func(c context.Context) error {
		if cfg.Poll.BaselineEnabled() {
			a.disp.Baseline(c)
		}
		return a.schedulePoll(cfg.Poll.Schedule)
	})

	a.http.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify READY sent")
	}
	a.log.Info("app started", logx.String("version", a.opts.Version), logx.String("source", cfg.Source.URL))
	return nil
}

func (a *App) schedulePoll(schedule string) error {
	return a.sched.Schedule(pollJob, schedule, pollJobTimeout, func(ctx context.Context) error {
		a.disp.RunCycle(ctx)
		return nil
	})
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the live-reloadable parts of next.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(pending, ",")))
	}

	a.logs.SetChatTarget(logChatID(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	if prev.Poll.Timezone != next.Poll.Timezone {
		a.sched.Apply(scheduler.Config{Timezone: next.Poll.Timezone})
	}
	if prev.Poll.Schedule != next.Poll.Schedule {
		if err := a.schedulePoll(next.Poll.Schedule); err != nil {
			a.log.Warn("invalid poll schedule; keeping previous", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) snapshot() status.Snapshot {
	st := a.disp.State()
	snap := status.Snapshot{
		Version:      a.opts.Version,
		StartedAt:    a.startedAt,
		Destinations: a.reg.Len(),
		Jobs:         a.sched.Snapshot(),
	}
	if a.sup != nil {
		snap.Goroutines = a.sup.Counters()
	}
	if item, ok := st.Latest(); ok {
		seen := st.AdoptedAt()
		snap.Latest, snap.LatestSeenAt = item.URL, &seen
	}
	if last, ok := st.LastCycle(); ok {
		snap.LastCycle = &last
	}
	return snap
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := runStep(ctx, a.log, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("status", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.reg.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// runStep runs one shutdown step bounded by limit (and by ctx). A step that
// overruns is left running; its late completion is logged.
func runStep(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return err
		}
		log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return nil
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
		return stepCtx.Err()
	}
}
