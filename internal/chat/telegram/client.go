// Package telegram is a chat.Client backed by the Telegram Bot API (long polling).
//
// Telegram has no channel membership; the configured chat IDs are treated as
// joined once polling starts.
package telegram

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"rafflebot/internal/chat"
	rtsup "rafflebot/internal/runtime/supervisor"
	logx "rafflebot/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token       string
	ChatIDs     []int64
	PollTimeout time.Duration
	// offline skips the getMe call; used by tests.
	offline bool
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu       sync.Mutex
	listener chat.Listener
	chats    map[int64]bool
	running  bool
	sup      *rtsup.Supervisor
	stopBot  func()
}

var _ chat.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, log: log, bot: b, chats: map[int64]bool{}}
	for _, id := range cfg.ChatIDs {
		c.chats[id] = true
	}
	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		m := tc.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		user := ""
		if m.Sender != nil {
			user = m.Sender.Username
			if user == "" {
				user = strconv.FormatInt(m.Sender.ID, 10)
			}
		}
		c.handleText(m.Chat.ID, user, m.Text)
		return nil
	})
	return c, nil
}

func (c *Client) Platform() chat.Platform { return chat.Telegram }

func (c *Client) handleText(chatID int64, user, text string) {
	c.mu.Lock()
	l := c.listener
	allowed := c.chats[chatID] && c.running
	c.mu.Unlock()
	if !allowed || l == nil {
		return
	}
	name, args, ok := chat.ParseCommand(text, "/!")
	if !ok {
		return
	}
	l.OnCommand(chat.Command{
		Name:    name,
		Args:    args,
		User:    chat.NormalizeUser(user),
		Channel: chat.Channel{Platform: chat.Telegram, Name: strconv.FormatInt(chatID, 10)},
	})
}

func (c *Client) Start(ctx context.Context, l chat.Listener) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if len(c.chats) == 0 {
		c.mu.Unlock()
		return errors.New("telegram has no chat ids configured")
	}
	c.running = true
	c.listener = l
	c.sup = rtsup.New(ctx,
		rtsup.WithLogger(c.log.With(logx.String("comp", "telegram.sup"))),
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	var once sync.Once
	stopBot := func() { once.Do(c.bot.Stop) }
	c.stopBot = stopBot
	chats := c.sortedChats()
	c.mu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		stopBot()
	})
	// telebot's Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(ctx context.Context) error {
		c.log.Info("polling started")
		c.bot.Start()
		c.log.Info("polling stopped")
		return ctx.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)

	if l != nil {
		l.OnConnected(chat.Telegram)
		for _, name := range chats {
			l.OnJoined(chat.Channel{Platform: chat.Telegram, Name: name})
		}
	}
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	sup := c.sup
	c.sup = nil
	wasRunning := c.running
	c.running = false
	l := c.listener
	stopBot := c.stopBot
	c.mu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go stopBot()

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("telegram stop timed out", logx.Err(err))
	}
	if l != nil {
		l.OnDisconnected(chat.Telegram, nil)
	}
	return nil
}

func parseChatID(name string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(name), 10, 64)
}

func (c *Client) Join(_ context.Context, name string) error {
	id, err := parseChatID(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	already := c.chats[id]
	c.chats[id] = true
	l, running := c.listener, c.running
	c.mu.Unlock()
	if !already && running && l != nil {
		l.OnJoined(chat.Channel{Platform: chat.Telegram, Name: strconv.FormatInt(id, 10)})
	}
	return nil
}

func (c *Client) Leave(_ context.Context, name string) error {
	id, err := parseChatID(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	had := c.chats[id]
	delete(c.chats, id)
	l, running := c.listener, c.running
	c.mu.Unlock()
	if had && running && l != nil {
		l.OnLeft(chat.Channel{Platform: chat.Telegram, Name: strconv.FormatInt(id, 10)})
	}
	return nil
}

func (c *Client) Send(ctx context.Context, name, text string) error {
	id, err := parseChatID(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ok, running := c.chats[id], c.running
	c.mu.Unlock()
	if !running {
		return chat.ErrNotConnected
	}
	if !ok {
		return chat.ErrNotJoined
	}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(&tele.Chat{ID: id}, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	return c.sortedChats()
}

func (c *Client) sortedChats() []string {
	ids := make([]int64, 0, len(c.chats))
	for id := range c.chats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

// splitText splits long messages, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
