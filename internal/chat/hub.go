package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	logx "rafflebot/pkg/logx"
)

// Hub fans chat operations out to one Client per platform.
type Hub struct {
	log logx.Logger

	mu      sync.RWMutex
	clients map[Platform]Client
	order   []Platform
	started map[Platform]bool
}

func NewHub(log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		log:     log,
		clients: map[Platform]Client{},
		started: map[Platform]bool{},
	}
}

// Add registers c, replacing any client for the same platform.
func (h *Hub) Add(c Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := c.Platform()
	if _, ok := h.clients[p]; !ok {
		h.order = append(h.order, p)
	}
	h.clients[p] = c
}

func (h *Hub) client(p Platform) (Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[p]
	return c, ok && h.started[p]
}

// Start starts every client. A client that fails to start is reported and
// skipped; Start returns the joined errors and succeeds when at least one
// client is running.
func (h *Hub) Start(ctx context.Context, l Listener) error {
	h.mu.RLock()
	order := append([]Platform(nil), h.order...)
	h.mu.RUnlock()

	if len(order) == 0 {
		return errors.New("chat: no platforms configured")
	}

	var errs []error
	running := 0
	for _, p := range order {
		h.mu.RLock()
		c := h.clients[p]
		h.mu.RUnlock()
		if err := c.Start(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		h.mu.Lock()
		h.started[p] = true
		h.mu.Unlock()
		running++
		h.log.Info("chat client started", logx.String("platform", string(p)))
	}
	if running == 0 {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		h.log.Warn("chat client not started", logx.Err(err))
	}
	return nil
}

func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]Client, 0, len(h.order))
	for _, p := range h.order {
		if h.started[p] {
			clients = append(clients, h.clients[p])
		}
		h.started[p] = false
	}
	h.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Platform(), err))
		}
	}
	return errors.Join(errs...)
}

// Started reports whether any client is running.
func (h *Hub) Started() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.started {
		if ok {
			return true
		}
	}
	return false
}

func (h *Hub) Send(ctx context.Context, ch Channel, text string) error {
	c, ok := h.client(ch.Platform)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, ch.Platform)
	}
	return c.Send(ctx, ch.Name, text)
}

func (h *Hub) IsJoined(ch Channel) bool {
	c, ok := h.client(ch.Platform)
	if !ok {
		return false
	}
	for _, name := range c.Joined() {
		if strings.EqualFold(name, ch.Name) {
			return true
		}
	}
	return false
}

// Joined lists every joined channel, ordered by platform registration then name.
func (h *Hub) Joined() []Channel {
	h.mu.RLock()
	order := append([]Platform(nil), h.order...)
	h.mu.RUnlock()

	var out []Channel
	for _, p := range order {
		c, ok := h.client(p)
		if !ok {
			continue
		}
		names := c.Joined()
		sort.Strings(names)
		for _, n := range names {
			out = append(out, Channel{Platform: p, Name: n})
		}
	}
	return out
}

// Reconcile joins channels in want that are not joined yet and leaves
// joined channels that are no longer wanted.
func (h *Hub) Reconcile(ctx context.Context, p Platform, want []string) error {
	c, ok := h.client(p)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}

	wanted := make(map[string]bool, len(want))
	for _, w := range want {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			wanted[w] = true
		}
	}
	have := map[string]bool{}
	for _, j := range c.Joined() {
		have[strings.ToLower(j)] = true
	}

	var errs []error
	for _, w := range want {
		n := strings.ToLower(strings.TrimSpace(w))
		if n == "" || have[n] {
			continue
		}
		have[n] = true
		h.log.Info("joining channel", logx.String("platform", string(p)), logx.String("channel", n))
		if err := c.Join(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("join %s: %w", n, err))
		}
	}
	for _, j := range c.Joined() {
		if wanted[strings.ToLower(j)] {
			continue
		}
		h.log.Info("leaving channel", logx.String("platform", string(p)), logx.String("channel", j))
		if err := c.Leave(ctx, j); err != nil {
			errs = append(errs, fmt.Errorf("leave %s: %w", j, err))
		}
	}
	return errors.Join(errs...)
}
