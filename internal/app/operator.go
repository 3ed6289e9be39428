package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rafflebot/internal/chat"
	"rafflebot/internal/console"
	"rafflebot/internal/donation"
	"rafflebot/internal/drawing"
	"rafflebot/internal/observability/ops"
	rtsup "rafflebot/internal/runtime/supervisor"
	"rafflebot/internal/storage"
)

func (a *App) ChatStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatStarted
}

func (a *App) started() (chatOK, pollerOK, schedOK bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatStarted, a.pollerStarted, a.schedStarted
}

// PickWinner ends the running drawing window early. With a winner already
// picked and unclaimed it draws again instead.
func (a *App) PickWinner() error {
	if _, _, ok := a.started(); !ok {
		return ErrSchedulerNotRunning
	}
	if a.sched.ForceDraw() {
		a.console.Printf(console.SourceRaffle, "Drawing ended early by the operator")
		return nil
	}
	if a.drawing.Snapshot().State == drawing.WinnerPicked {
		a.console.Printf(console.SourceRaffle, "Redrawing by the operator")
		a.drawing.Pick()
		return nil
	}
	return ErrNothingToDraw
}

// Reload re-reads the config file and applies it. It is refused unless
// both chat and the donation poller started.
func (a *App) Reload(ctx context.Context) error {
	if _, _, ok := a.started(); !ok || a.sup == nil {
		return ErrNotStarted
	}
	cfg, err := a.cfgm.Reload(ctx)
	if err != nil {
		a.console.Printf(console.SourceApp, "Config reload failed: %v", err)
		return fmt.Errorf("reload config: %w", err)
	}
	a.apply(ctx, cfg)
	return nil
}

// Status is a point-in-time view for the operator.
type Status struct {
	ChatStarted      bool
	PollerStarted    bool
	SchedulerStarted bool

	Donation donation.State
	Indexed  int
	Skipped  int
	Pending  int
	GateOpen bool
	Waiting  bool

	Drawing drawing.Session
	Last    storage.Result
	HasLast bool

	Joined []chat.Channel
	Queued int
	Loops  []rtsup.LoopStatus
}

func (a *App) Status() Status {
	chatOK, pollerOK, schedOK := a.started()
	st := Status{
		ChatStarted:      chatOK,
		PollerStarted:    pollerOK,
		SchedulerStarted: schedOK,
		Indexed:          a.sched.Indexed(),
		Pending:          a.sched.Pending(),
		GateOpen:         a.sched.GateOpen(),
		Waiting:          a.sched.Waiting(),
		Drawing:          a.drawing.Snapshot(),
		Joined:           a.hub.Joined(),
		Queued:           a.dispatch.Len(),
	}
	st.Last, st.HasLast = a.drawing.Last()
	if a.poller != nil {
		st.Donation = a.poller.State()
	}
	a.applyMu.Lock()
	st.Skipped = a.skipped
	a.applyMu.Unlock()
	if a.sup != nil {
		st.Loops = a.sup.Loops()
	}
	return st
}

// Lines renders s for the operator console.
func (s Status) Lines() []string {
	onOff := func(b bool) string {
		if b {
			return "running"
		}
		return "stopped"
	}
	out := []string{
		fmt.Sprintf("chat %s, tiltify %s, scheduler %s", onOff(s.ChatStarted), onOff(s.PollerStarted), onOff(s.SchedulerStarted)),
	}
	if s.PollerStarted {
		d := s.Donation
		line := fmt.Sprintf("raised %s%s (milestone %d), authenticated=%t", d.AmountRaised.String(), d.Currency, d.Factor, d.Authenticated)
		if !d.LastPollAt.IsZero() {
			line += ", last poll " + d.LastPollAt.Format(time.TimeOnly)
		}
		out = append(out, line)
	}
	out = append(out, fmt.Sprintf("prizes indexed %d (skipped %d), backlog %d, gate open=%t, window running=%t",
		s.Indexed, s.Skipped, s.Pending, s.GateOpen, s.Waiting))

	if s.Drawing.Prize != "" {
		line := fmt.Sprintf("drawing %s: %s, %d entrants", s.Drawing.Prize, s.Drawing.State, len(s.Drawing.Entrants))
		if s.Drawing.Winner != "" {
			line += ", winner @" + s.Drawing.Winner
		}
		out = append(out, line)
	} else {
		out = append(out, "no drawing open")
	}
	if s.HasLast {
		out = append(out, "last result: "+s.Last.Line())
	}

	joined := make([]string, 0, len(s.Joined))
	for _, ch := range s.Joined {
		joined = append(joined, ch.String())
	}
	out = append(out, fmt.Sprintf("joined [%s], %d messages queued", strings.Join(joined, " "), s.Queued))
	return out
}

// History returns the console lines that have not expired yet.
func (a *App) History() []console.Message { return a.console.History() }

// Results returns up to n logged results, newest first.
func (a *App) Results(ctx context.Context, n int) ([]storage.Result, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Recent(ctx, n)
}

// Print writes an operator line to the console.
func (a *App) Print(text string) { a.console.Print(text, console.SourceApp, time.Time{}) }

func (a *App) readiness() ops.Status {
	st := a.Status()
	up := func(b bool) string {
		if b {
			return "up"
		}
		return "down"
	}
	auth := "off"
	if st.PollerStarted {
		auth = "unauthenticated"
		if st.Donation.Authenticated {
			auth = "authenticated"
		}
	}
	return ops.Status{
		Ready: st.SchedulerStarted && st.Donation.Authenticated,
		Detail: map[string]string{
			"chat":      up(st.ChatStarted),
			"tiltify":   auth,
			"scheduler": up(st.SchedulerStarted),
		},
	}
}
