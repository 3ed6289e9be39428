// Package app is the composition root. It builds every service from the
// config file, wires them together through the event bus and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"rafflebot/internal/chat"
	"rafflebot/internal/chat/telegram"
	"rafflebot/internal/chat/twitch"
	"rafflebot/internal/config"
	"rafflebot/internal/console"
	"rafflebot/internal/dispatch"
	"rafflebot/internal/donation"
	"rafflebot/internal/donation/tiltify"
	"rafflebot/internal/drawing"
	"rafflebot/internal/eventbus"
	"rafflebot/internal/observability/metrics"
	"rafflebot/internal/observability/ops"
	"rafflebot/internal/raffle"
	rtsup "rafflebot/internal/runtime/supervisor"
	"rafflebot/internal/storage"
	logx "rafflebot/pkg/logx"
)

var (
	ErrNotStarted          = errors.New("services did not start")
	ErrSchedulerNotRunning = errors.New("raffle scheduler is not running")
	ErrNothingToDraw       = errors.New("no drawing is waiting for a winner")
)

type options struct {
	out      io.Writer
	log      logx.Logger
	chats    []chat.Client
	chatsSet bool
	donation donation.Client
	picker   func(n int) int
	noEnv    bool
}

type Option func(*options)

// WithConsoleOutput sets where console lines are written (default stdout).
func WithConsoleOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// WithLogger replaces the logging service built from the config.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithChatClients replaces the chat clients built from the config.
func WithChatClients(cs ...chat.Client) Option {
	return func(o *options) {
		o.chats = cs
		o.chatsSet = true
	}
}

// WithDonationClient replaces the Tiltify client. The tiltify section must
// still be complete for the poller to start.
func WithDonationClient(c donation.Client) Option { return func(o *options) { o.donation = c } }

func WithPicker(fn func(n int) int) Option { return func(o *options) { o.picker = fn } }

// WithoutEnv disables RAFFLEBOT_* overrides.
func WithoutEnv() Option { return func(o *options) { o.noEnv = true } }

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	console  *console.Sink
	metrics  *metrics.Metrics
	hub      *chat.Hub
	dispatch *dispatch.Dispatcher
	drawing  *drawing.Service
	sched    *raffle.Scheduler
	poller   *donation.Poller
	ops      *ops.Server

	platforms []chat.Platform
	unsubs    []func()

	mu            sync.Mutex
	chatStarted   bool
	pollerStarted bool
	schedStarted  bool

	applyMu sync.Mutex
	applied *config.Config
	skipped int
}

// consoleLog is where console lines are mirrored. With a terminal attached
// they only go to the log file so they are not printed twice.
func consoleLog(log logx.Logger, out io.Writer) logx.Logger {
	log = log.With(logx.String("comp", "console"))
	if out != nil {
		return log.FileOnly()
	}
	return log
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnvOverlay(!o.noEnv)
	created, err := cfgm.EnsureFile()
	if err != nil {
		return nil, err
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	var logSvc *logx.Service
	log := o.log
	if log.IsZero() {
		logSvc, log = logx.New(mapLogConfig(cfg))
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(log.With(logx.String("comp", "eventbus"))),
		console: console.New(o.out, rt.Lifetime, consoleLog(log, o.out)),
		metrics: metrics.New(),
		hub:     chat.NewHub(log.With(logx.String("comp", "chat"))),
		applied: cfg,
	}
	if created {
		a.console.Printf(console.SourceApp, "Created a default config at %s; fill it in and reload", cfgm.Path())
	}

	st, err := storage.Open(mapStorageConfig(cfg, rt), log.With(logx.String("comp", "storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		a.log.Info("result log disabled")
	case err != nil:
		return nil, fmt.Errorf("open result log: %w", err)
	default:
		a.store = st
	}

	clients := o.chats
	if !o.chatsSet {
		clients = a.buildChatClients(cfg, rt, log)
	}
	for _, c := range clients {
		a.hub.Add(c)
		a.platforms = append(a.platforms, c.Platform())
	}

	a.dispatch = dispatch.New(a.hub, mapDispatchConfig(cfg, rt),
		log.With(logx.String("comp", "dispatch")), dispatch.WithMetrics(a.metrics))

	drawOpts := []drawing.Option{drawing.WithMetrics(a.metrics)}
	if a.store != nil {
		drawOpts = append(drawOpts, drawing.WithResultLog(a.store))
	}
	if o.picker != nil {
		drawOpts = append(drawOpts, drawing.WithPicker(o.picker))
	}
	a.drawing = drawing.New(a.dispatch, a.bus, mapDrawingConfig(cfg, rt),
		log.With(logx.String("comp", "drawing")), drawOpts...)

	a.sched = raffle.New(a.bus, log.With(logx.String("comp", "raffle")),
		raffle.WithCadence(rt.Cadence), raffle.WithDefaultDuration(rt.DrawingDuration))

	a.poller = a.buildPoller(cfg, rt, o.donation, log)

	a.ops = ops.New(mapOpsConfig(cfg), log.With(logx.String("comp", "ops")),
		ops.WithMetrics(a.metrics.Handler()), ops.WithStatus(a.readiness))

	a.unsubs = append(a.unsubs,
		a.bus.Subscribe("metrics", a.metrics.HandleEvent),
		a.bus.Subscribe("orchestrator", a.onEvent),
	)
	return a, nil
}

func (a *App) buildChatClients(cfg *config.Config, rt config.Runtime, log logx.Logger) []chat.Client {
	var out []chat.Client
	if missing := cfg.Twitch.Missing(); len(missing) > 0 {
		a.console.Printf(console.SourceTwitch, "Twitch settings are invalid, missing: %s", strings.Join(missing, ", "))
	} else {
		out = append(out, twitch.New(mapTwitchConfig(cfg), log.With(logx.String("comp", "twitch"))))
	}

	if !cfg.Telegram.Enabled {
		return out
	}
	if missing := cfg.Telegram.Missing(); len(missing) > 0 {
		a.console.Printf(console.SourceTelegram, "Telegram settings are invalid, missing: %s", strings.Join(missing, ", "))
		return out
	}
	tg, err := telegram.New(mapTelegramConfig(cfg, rt), log.With(logx.String("comp", "telegram")))
	if err != nil {
		a.console.Printf(console.SourceTelegram, "Telegram client not created: %v", err)
		return out
	}
	return append(out, tg)
}

// buildPoller returns nil when the tiltify section is incomplete.
func (a *App) buildPoller(cfg *config.Config, rt config.Runtime, client donation.Client, log logx.Logger) *donation.Poller {
	if missing := cfg.Tiltify.Missing(); len(missing) > 0 {
		a.console.Printf(console.SourceTiltify, "Tiltify settings are invalid, missing: %s", strings.Join(missing, ", "))
		return nil
	}
	if client == nil {
		tc := tiltify.New(mapTiltifyConfig(cfg), nil)
		if tok, ok := storedToken(cfg); ok {
			tc.SetToken(tok)
		}
		client = tc
	}
	return donation.New(client, a.bus, mapPollerConfig(cfg, rt), log.With(logx.String("comp", "donation")),
		donation.WithMetrics(a.metrics),
		donation.WithAuthUpdate(a.saveToken),
	)
}

func (a *App) saveToken(tok donation.Token) {
	a.console.Printf(console.SourceTiltify, "Authenticated with Tiltify")
	if err := a.cfgm.SaveTokens(tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
		a.log.Warn("failed saving tiltify token", logx.Err(err))
	}
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validate)

	if err := a.console.Start(); err != nil {
		return err
	}
	a.applyMu.Lock()
	a.indexPrizes(a.applied.Prizes)
	a.applyMu.Unlock()

	chatOK := true
	if err := a.hub.Start(a.sup.Context(), &chatListener{Service: a.drawing, console: a.console}); err != nil {
		chatOK = false
		a.console.Printf(console.SourceApp, "Chat did not start: %v", err)
	}
	a.drawing.SetChatReady(chatOK)
	if chatOK {
		a.sup.Go("dispatch", a.dispatch.Run)
	}

	pollerOK := a.poller != nil
	if pollerOK {
		a.sup.Go("donation.poller", a.poller.Run)
	}

	schedOK := chatOK && pollerOK
	if schedOK {
		a.sup.Go("raffle.scheduler", a.sched.Run)
	} else {
		a.console.Printf(console.SourceRaffle, "Raffles are disabled until chat and Tiltify are both running")
	}

	a.mu.Lock()
	a.chatStarted, a.pollerStarted, a.schedStarted = chatOK, pollerOK, schedOK
	a.mu.Unlock()

	a.ops.Start(a.sup.Context())

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.apply(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("chat", chatOK),
		logx.Bool("donations", pollerOK),
		logx.Bool("scheduler", schedOK))
	return nil
}

// validate runs before a reloaded config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	for _, p := range a.platforms {
		if p == chat.Twitch {
			if missing := cfg.Twitch.Missing(); len(missing) > 0 {
				return fmt.Errorf("twitch is running; missing %s", strings.Join(missing, ", "))
			}
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("drawing", 2*time.Second, a.drawing.Stop)
	step("chat", 3*time.Second, a.hub.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("eventbus", time.Second, func(c context.Context) error {
		for _, u := range a.unsubs {
			u()
		}
		return a.bus.Wait(c)
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.console.Stop()

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
