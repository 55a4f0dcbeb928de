package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"quizbot/internal/bot"
	"quizbot/internal/broadcast"
	"quizbot/internal/config"
	"quizbot/internal/conversation"
	"quizbot/internal/eventbus"
	"quizbot/internal/observability/metrics"
	rtsup "quizbot/internal/runtime/supervisor"
	"quizbot/internal/storage"
	"quizbot/internal/task/scheduler"
	kit "quizbot/internal/transport"
	telegram "quizbot/internal/transport/telegram/adapter"
	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/logx"
)

const (
	jobConversationExpire = "conversation.expire"
	jobStorageOptimize    = "storage.optimize"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter

	metrics   *metrics.Service
	bcMetrics *broadcast.Metrics
	rtMetrics *router.Metrics

	machine  *conversation.Machine
	resolver *router.Resolver
	sched    *scheduler.Service

	// built in Start, they run under the app supervisor
	engine *broadcast.Engine
	router *router.Router
	bot    *bot.Bot

	updates chan kit.Update
}

// New loads the config and opens every dependency. A storage failure is
// returned wrapping storage.ErrUnavailable.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	acfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(acfg, bootLog)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg), ad)
	logs.SetTelegramTarget(logChat(cfg), cfg.Logging.Telegram.ThreadID)
	logs.Apply(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(ctx, scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		log.Error("storage unavailable", logx.String("driver", scfg.Driver), logx.Err(err))
		_ = logs.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		store:   store,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	a.initRuntime(cfg)
	return a, nil
}

// initRuntime builds the parts that need neither the network nor the
// supervisor.
func (a *App) initRuntime(cfg *config.Config) {
	a.metrics = metrics.New(a.log, a.store.Ping)
	reg := a.metrics.Registry()
	a.bcMetrics = broadcast.NewMetrics(reg)
	a.rtMetrics = router.NewMetrics(reg)

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quizbot_conversation_active",
		Help: "Users currently inside a conversation step.",
	})
	reg.MustRegister(active, prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "quizbot_eventbus_dropped_total",
		Help: "Events lost because a subscriber was full.",
	}, func() float64 { return float64(a.bus.Dropped()) }))
	a.machine = conversation.NewMachine(conversation.WithActiveGauge(active))

	a.resolver = router.NewResolver(cfg.Telegram.AdminUserIDs, a.store)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.log)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.engine = broadcast.New(a.store, a.adapter, mapBroadcastConfig(cfg),
		broadcast.WithLogger(a.log),
		broadcast.WithBus(a.bus),
		broadcast.WithMetrics(a.bcMetrics),
		broadcast.WithSupervisor(a.sup),
	)
	a.router = router.New(a.adapter, a.machine, a.resolver, mapRouterConfig(cfg),
		router.WithLogger(a.log),
		router.WithMetrics(a.rtMetrics),
		router.WithRegistrar(a.store),
		router.WithSupervisor(a.sup),
	)
	a.bot = bot.New(bot.Deps{
		Sender:          a.adapter,
		Store:           a.store,
		News:            a.store.News(),
		Quizzes:         a.store.Quizzes(),
		Broadcasts:      a.engine,
		Machine:         a.machine,
		Linker:          a.adapter,
		Logger:          a.log,
		QuestionsChatID: cfg.Telegram.QuestionsChatID,
	})
	a.bot.Register(a.router)

	if err := a.registerJobs(cfg); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("telegram.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.router.PublishMenu(a.sup.Context())

	a.sched.Start(a.sup.Context())
	a.metrics.Reconfigure(a.sup.Context(), mapMetricsConfig(cfg))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts; only the newest config matters
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.String("storage", a.store.Driver()),
		logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
	)
	return nil
}

// registerJobs upserts the maintenance schedules; calling it again after a
// reload moves them to the new specs.
func (a *App) registerJobs(cfg *config.Config) error {
	if err := a.sched.Add(jobConversationExpire, cfg.SweepSchedule(), 10*time.Second, func(context.Context) error {
		ttl := a.cfgm.Get().IdleTTL()
		if n := a.machine.Expire(ttl); n > 0 {
			a.log.Debug("conversations expired", logx.Int("count", n), logx.Duration("ttl", ttl))
		}
		return nil
	}); err != nil {
		return err
	}
	return a.sched.Add(jobStorageOptimize, cfg.MaintenanceSchedule(), time.Minute, a.store.Maintain)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "metrics", 1*time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// handlers and background fan-outs still hold the store until here
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn with at most limit of the remaining shutdown budget. A step
// that overruns is logged and left to finish in the background.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

// Migrate opens the configured store, which applies pending migrations,
// and closes it again.
func Migrate(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	log.Info("migrations applied", logx.String("driver", store.Driver()))
	return store.Close()
}
