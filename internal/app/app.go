// Package app wires configuration, storage, the Discord adapter and the
// ingestion/reporting/command services into one lifecycle.
package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"

	"exectracker/internal/commands"
	"exectracker/internal/config"
	"exectracker/internal/ingest"
	"exectracker/internal/notify"
	"exectracker/internal/report"
	rtsup "exectracker/internal/runtime/supervisor"
	"exectracker/internal/storage"
	"exectracker/internal/telemetry"
	"exectracker/internal/transport"
	"exectracker/internal/transport/discord"
	logx "exectracker/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	adapter  transport.Adapter
	notif    *notify.Service
	pipeline *ingest.Pipeline
	reporter *report.Reporter
	poster   *report.Poster
	router   *commands.Router
	ops      *telemetry.Server

	sup    *rtsup.Supervisor
	cmdSup *rtsup.Supervisor
	events chan transport.Event
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
}

// WithAdapter replaces the Discord adapter.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// New loads and validates configuration, opens the store and builds every
// service. Nothing runs until Start.
func New(ctx context.Context, cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	telemetry.Init()

	logs, log := logx.New(loggingConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := StorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	st, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store := telemetry.InstrumentStore(st)
	log.Info("storage ready", logx.String("driver", sc.Driver))

	ad := o.adapter
	if ad == nil {
		dad, err := discord.New(discord.Config{Token: cfg.Discord.Token}, log.With(logx.String("comp", "discord")))
		if err != nil {
			_ = store.Close()
			_ = logs.Close()
			return nil, err
		}
		ad = dad
	}
	logs.SetSender(ad)

	cmdCfg, err := commandsConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("poster.send_timeout", cfg.Poster.SendTimeout, 15*time.Second)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	notif := notify.New(notifyConfig(cfg), ad, log.With(logx.String("comp", "notifier")))
	pipeline := ingest.New(store, notif, log.With(logx.String("comp", "ingest")))
	reporter := report.NewReporter(store)
	poster := report.NewPoster(reporter, ad, cfg.Channels.Stats, log.With(logx.String("comp", "poster")), report.WithSendTimeout(sendTimeout))
	router := commands.New(cmdCfg, ad, reporter, pipeline, store, log.With(logx.String("comp", "commands")))

	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logs,
		store:    store,
		adapter:  ad,
		notif:    notif,
		pipeline: pipeline,
		reporter: reporter,
		poster:   poster,
		router:   router,
		events:   make(chan transport.Event, 256),
	}
	if cfg.Metrics.Enabled {
		a.ops = telemetry.NewServer(serverConfig(cfg), store.Ping, log.With(logx.String("comp", "ops")))
	}
	return a, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	// command handlers fail independently of the app
	a.cmdSup = rtsup.New(a.sup.Context(), rtsup.WithLogger(a.log.With(logx.String("comp", "commands"))))

	if err := a.adapter.Start(a.sup.Context(), a.events); err != nil {
		a.sup.Cancel()
		return errors.Wrap(err, "start adapter")
	}

	a.sup.Go("events.dispatch", a.dispatchLoop)
	a.sup.GoRestart("notifier", a.notif.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	if a.cfg.Poster.Enabled == nil || *a.cfg.Poster.Enabled {
		a.sup.GoRestart("summary.poster", a.poster.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			rtsup.WithPublishError(true),
		)
	}
	if a.ops != nil {
		a.sup.GoRestart("ops.http", a.ops.Run, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, time.Minute))

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started",
		logx.String("watch_channel", a.cfg.Channels.Watch),
		logx.String("stats_channel", a.cfg.Channels.Stats),
		logx.Bool("log_channel", a.cfg.Channels.Log != ""),
	)
	return nil
}

// applyConfig hot-applies the parts of a reloaded config that can change at
// runtime. Only logging does; other sections need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(loggingConfig(cfg))
	if cfg.Storage != a.cfg.Storage || cfg.Channels != a.cfg.Channels || cfg.Discord != a.cfg.Discord {
		a.log.Warn("storage, channel or token changes take effect after a restart")
	}
	a.log.Info("logging config reloaded", logx.String("level", cfg.Logging.Level))
}

func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.events:
			a.handleEvent(ctx, ev)
		}
	}
}

// handleEvent ingests watch-channel messages from other authors, then offers
// every message to the command layer.
func (a *App) handleEvent(ctx context.Context, ev transport.Event) {
	if !ev.FromSelf && ev.ChannelID == a.cfg.Channels.Watch {
		if _, err := a.pipeline.Ingest(ctx, ev); err != nil {
			a.log.Error("ingest failed", logx.String("message_id", ev.ID), logx.Err(err))
		}
	}
	name, _, ok := a.router.Parse(ev.Content)
	if !ok {
		return
	}
	a.cmdSup.Go0("command."+name, func(c context.Context) {
		_, _ = a.router.Dispatch(c, ev)
	})
}

// Stop shuts everything down within ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	if err := a.adapter.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.cmdSup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if err := a.sup.Stop(ctx); err != nil && reason != StopFatalError {
		errs = append(errs, err)
	}
	a.log.Debug("task summary", logx.Any("tasks", a.sup.Snapshot()))
	if err := a.store.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close store"))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
