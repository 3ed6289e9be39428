// Package twitch is a chat.Client speaking IRC over WebSocket to Twitch chat.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rafflebot/internal/chat"
	rtsup "rafflebot/internal/runtime/supervisor"
	logx "rafflebot/pkg/logx"
)

const (
	DefaultURL   = "wss://irc-ws.chat.twitch.tv:443"
	readTimeout  = 6 * time.Minute
	writeTimeout = 10 * time.Second
)

var errReconnect = errors.New("twitch: server requested reconnect")

type Config struct {
	URL        string
	Username   string
	OAuthToken string
	Channels   []string
	// Prefixes that mark a chat command; default "!".
	Prefixes string
}

type Client struct {
	cfg    Config
	log    logx.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	listener chat.Listener
	wanted   map[string]bool
	joined   map[string]bool
	sup      *rtsup.Supervisor

	writeMu sync.Mutex
}

var _ chat.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Prefixes == "" {
		cfg.Prefixes = "!"
	}
	c := &Client{
		cfg:    cfg,
		log:    log,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second, ReadBufferSize: 4096, WriteBufferSize: 4096},
		wanted: map[string]bool{},
		joined: map[string]bool{},
	}
	for _, ch := range cfg.Channels {
		if n := normalizeChannel(ch); n != "" {
			c.wanted[n] = true
		}
	}
	return c
}

func normalizeChannel(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}

func (c *Client) Platform() chat.Platform { return chat.Twitch }

func (c *Client) Start(ctx context.Context, l chat.Listener) error {
	if strings.TrimSpace(c.cfg.Username) == "" || strings.TrimSpace(c.cfg.OAuthToken) == "" {
		return errors.New("twitch settings are invalid, cannot continue")
	}
	c.mu.Lock()
	if len(c.wanted) == 0 {
		c.mu.Unlock()
		return errors.New("twitch service is missing channels to connect to")
	}
	if c.sup != nil {
		c.mu.Unlock()
		return nil
	}
	c.listener = l
	c.sup = rtsup.New(ctx,
		rtsup.WithLogger(c.log.With(logx.String("comp", "twitch.sup"))),
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	c.mu.Unlock()

	sup.GoRestart("twitch.conn", c.session,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	sup := c.sup
	c.sup = nil
	conn := c.conn
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// session runs one connection until it fails or ctx ends.
func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("twitch dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("twitch dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		left := make([]string, 0, len(c.joined))
		for ch := range c.joined {
			left = append(left, ch)
		}
		c.joined = map[string]bool{}
		l := c.listener
		c.mu.Unlock()
		if l != nil {
			for _, ch := range left {
				l.OnLeft(chat.Channel{Platform: chat.Twitch, Name: ch})
			}
		}
	}()

	token := strings.TrimSpace(c.cfg.OAuthToken)
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	nick := strings.ToLower(strings.TrimSpace(c.cfg.Username))
	for _, line := range []string{
		"CAP REQ :twitch.tv/commands twitch.tv/tags",
		"PASS " + token,
		"NICK " + nick,
	} {
		if err := c.writeLine(conn, line); err != nil {
			return err
		}
	}

	err = c.readLoop(conn, nick)
	c.notifyDisconnected(err)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) readLoop(conn *websocket.Conn, nick string) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errReconnect
			}
			return fmt.Errorf("twitch read: %w", err)
		}
		for _, line := range strings.Split(string(data), "\r\n") {
			m, ok := parseIRC(line)
			if !ok {
				continue
			}
			if err := c.handle(conn, nick, m); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handle(conn *websocket.Conn, nick string, m ircMessage) error {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()

	switch m.Command {
	case "PING":
		return c.writeLine(conn, "PONG :"+m.Trailing)
	case "RECONNECT":
		return errReconnect
	case "001":
		c.log.Info("twitch connected", logx.String("nick", nick))
		if l != nil {
			l.OnConnected(chat.Twitch)
		}
		c.mu.Lock()
		wanted := make([]string, 0, len(c.wanted))
		for ch := range c.wanted {
			wanted = append(wanted, ch)
		}
		c.mu.Unlock()
		sort.Strings(wanted)
		for _, ch := range wanted {
			if err := c.writeLine(conn, "JOIN #"+ch); err != nil {
				return err
			}
		}
	case "NOTICE":
		if strings.Contains(strings.ToLower(m.Trailing), "authentication failed") ||
			strings.Contains(strings.ToLower(m.Trailing), "improperly formatted auth") {
			err := fmt.Errorf("twitch login rejected: %s", m.Trailing)
			if l != nil {
				l.OnError(chat.Twitch, err)
			}
			return err
		}
		c.log.Debug("twitch notice", logx.String("channel", m.Channel()), logx.String("text", m.Trailing))
	case "JOIN":
		if m.Nick != nick {
			return nil
		}
		ch := m.Channel()
		c.mu.Lock()
		c.joined[ch] = true
		c.mu.Unlock()
		if l != nil {
			l.OnJoined(chat.Channel{Platform: chat.Twitch, Name: ch})
		}
	case "PART":
		if m.Nick != nick {
			return nil
		}
		ch := m.Channel()
		c.mu.Lock()
		delete(c.joined, ch)
		c.mu.Unlock()
		if l != nil {
			l.OnLeft(chat.Channel{Platform: chat.Twitch, Name: ch})
		}
	case "PRIVMSG":
		name, args, ok := chat.ParseCommand(m.Trailing, c.cfg.Prefixes)
		if !ok || l == nil {
			return nil
		}
		l.OnCommand(chat.Command{
			Name:    name,
			Args:    args,
			User:    chat.NormalizeUser(m.Nick),
			Channel: chat.Channel{Platform: chat.Twitch, Name: m.Channel()},
		})
	}
	return nil
}

func (c *Client) notifyDisconnected(err error) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnDisconnected(chat.Twitch, err)
	}
}

func (c *Client) writeLine(conn *websocket.Conn, line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) Join(_ context.Context, name string) error {
	n := normalizeChannel(name)
	if n == "" {
		return nil
	}
	c.mu.Lock()
	c.wanted[n] = true
	c.mu.Unlock()
	conn := c.current()
	if conn == nil {
		return nil
	}
	return c.writeLine(conn, "JOIN #"+n)
}

func (c *Client) Leave(_ context.Context, name string) error {
	n := normalizeChannel(name)
	c.mu.Lock()
	delete(c.wanted, n)
	c.mu.Unlock()
	conn := c.current()
	if conn == nil {
		return nil
	}
	return c.writeLine(conn, "PART #"+n)
}

func (c *Client) Send(ctx context.Context, name, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := normalizeChannel(name)
	c.mu.Lock()
	joined := c.joined[n]
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return chat.ErrNotConnected
	}
	if !joined {
		return chat.ErrNotJoined
	}
	return c.writeLine(conn, "PRIVMSG #"+n+" :"+sanitize(text))
}

func (c *Client) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for ch := range c.joined {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
