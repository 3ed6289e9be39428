package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rafflebot/internal/chat"
	"rafflebot/internal/config"
	"rafflebot/internal/console"
	"rafflebot/internal/drawing"
	"rafflebot/internal/eventbus"
	"rafflebot/internal/raffle"
	logx "rafflebot/pkg/logx"
)

// onEvent routes domain events between the services.
func (a *App) onEvent(e eventbus.Event) error {
	switch e.Kind {
	case eventbus.MilestoneReached:
		a.console.Print(fmt.Sprintf("Hit Milestone! Raised over %s%s", e.Amount.String(), e.Currency), console.SourceTiltify, e.Time)
		a.sched.OnMilestone(e.Amount)
	case eventbus.DrawingStarted:
		prize := raffle.Entry{Artist: e.Name, PrizeType: e.Message}.Label()
		a.console.Printf(console.SourceRaffle, "Now raffling %s", prize)
		a.drawing.Open(prize, e.DrawingDuration)
	case eventbus.DrawingEnded:
		a.drawing.Pick()
	case eventbus.ReadyForNext:
		return a.onReadyForNext(e)
	}
	return nil
}

// onReadyForNext persists the finished prize and reopens the gate. The gate
// opens even if the save fails so the backlog never stalls.
func (a *App) onReadyForNext(e eventbus.Event) error {
	a.console.Printf(console.SourceRaffle, "%s winner is %s", e.Message, e.Name)

	var err error
	if cur, ok := a.sched.Current(); ok {
		if err = a.cfgm.MarkCompleted(cur.Threshold); err != nil {
			err = fmt.Errorf("mark %s completed: %w", cur.Label(), err)
		}
	}
	a.sched.MarkReady()
	return err
}

// indexPrizes rebuilds the milestone index. Invalid prizes are reported and
// skipped. Callers hold applyMu.
func (a *App) indexPrizes(prizes []config.PrizeEntry) int {
	entries := make([]raffle.Entry, 0, len(prizes))
	skipped := 0
	for i, p := range prizes {
		if missing := p.Missing(); len(missing) > 0 {
			skipped++
			a.console.Printf(console.SourceApp, "Prize #%d is invalid and was skipped, missing: %s", i+1, strings.Join(missing, ", "))
			continue
		}
		entries = append(entries, mapPrize(p))
	}
	a.skipped = skipped
	return a.sched.BuildIndex(entries)
}

// apply pushes a new config into every running service.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	rt, err := cfg.Resolve()
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	sections, attrs := config.SummarizeChange(a.applied, cfg)
	a.applied = cfg
	for _, s := range sections {
		switch s {
		case "tiltify", "storage", "telegram":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(cfg))
	}
	a.console.SetLifetime(rt.Lifetime)

	n := a.indexPrizes(cfg.Prizes)
	a.sched.SetDefaultDuration(rt.DrawingDuration)
	a.drawing.SetConfig(mapDrawingConfig(cfg, rt))
	a.dispatch.Apply(mapDispatchConfig(cfg, rt))

	if a.ChatStarted() {
		for _, p := range a.platforms {
			var want []string
			switch p {
			case chat.Twitch:
				want = cfg.Twitch.Channels
			case chat.Telegram:
				want = telegramChats(cfg)
			default:
				continue
			}
			if err := a.hub.Reconcile(ctx, p, want); err != nil && !errors.Is(err, chat.ErrUnknownPlatform) {
				a.log.Warn("channel reconcile failed", logx.String("platform", string(p)), logx.Err(err))
			}
		}
	}

	a.ops.Reconfigure(ctx, mapOpsConfig(cfg))

	a.console.Printf(console.SourceApp, "Config reloaded, %d prizes indexed", n)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config applied", fields...)
	} else {
		a.log.Info("config applied (no changes)")
	}
}

// chatListener mirrors connection changes to the console and hands
// everything to the drawing service.
type chatListener struct {
	*drawing.Service
	console *console.Sink
}

func sourceOf(p chat.Platform) console.Source {
	switch p {
	case chat.Twitch:
		return console.SourceTwitch
	case chat.Telegram:
		return console.SourceTelegram
	default:
		return console.SourceApp
	}
}

func (l *chatListener) OnConnected(p chat.Platform) {
	l.Service.OnConnected(p)
	l.console.Printf(sourceOf(p), "Connected")
}

func (l *chatListener) OnDisconnected(p chat.Platform, err error) {
	l.Service.OnDisconnected(p, err)
	if err != nil {
		l.console.Printf(sourceOf(p), "Disconnected: %v", err)
		return
	}
	l.console.Printf(sourceOf(p), "Disconnected")
}

func (l *chatListener) OnJoined(ch chat.Channel) {
	l.Service.OnJoined(ch)
	l.console.Printf(sourceOf(ch.Platform), "Joined %s", ch.Name)
}

func (l *chatListener) OnLeft(ch chat.Channel) {
	l.Service.OnLeft(ch)
	l.console.Printf(sourceOf(ch.Platform), "Left %s", ch.Name)
}
