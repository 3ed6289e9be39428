package chat

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotJoined       = errors.New("chat: channel not joined")
	ErrNotConnected    = errors.New("chat: not connected")
	ErrUnknownPlatform = errors.New("chat: unknown platform")
)

type Platform string

const (
	Twitch   Platform = "twitch"
	Telegram Platform = "telegram"
)

// Channel addresses one chat room on one platform.
type Channel struct {
	Platform Platform
	Name     string
}

func (c Channel) String() string { return string(c.Platform) + ":" + c.Name }

// Command is a prefixed chat message, e.g. "!enter" or "/claim".
type Command struct {
	Name    string
	Args    []string
	User    string
	Channel Channel
}

// Listener receives chat-side notifications. Implementations must not block.
type Listener interface {
	OnJoined(ch Channel)
	OnLeft(ch Channel)
	OnCommand(cmd Command)
	OnConnected(p Platform)
	OnDisconnected(p Platform, err error)
	OnError(p Platform, err error)
}

// Client is one chat platform connection.
type Client interface {
	Platform() Platform
	// Start validates settings and launches the connection loop. It does not block.
	Start(ctx context.Context, l Listener) error
	Stop(ctx context.Context) error
	Join(ctx context.Context, name string) error
	Leave(ctx context.Context, name string) error
	Send(ctx context.Context, name, text string) error
	Joined() []string
}

// ParseCommand recognizes text starting with one of prefixes.
// Names are lowercased; arguments are split on whitespace.
func ParseCommand(text, prefixes string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || !strings.ContainsRune(prefixes, rune(text[0])) {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.ToLower(fields[0])
	// Telegram appends the bot name in groups: /enter@rafflebot
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return name, fields[1:], true
}

// NormalizeUser lowercases u and strips a leading @.
func NormalizeUser(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}

// Identity is a chat user scoped to the platform they wrote from. Names are
// only unique within one platform.
type Identity struct {
	Platform Platform
	User     string
}

func IdentityOf(p Platform, user string) Identity {
	return Identity{Platform: p, User: NormalizeUser(user)}
}

func (id Identity) IsZero() bool { return id.User == "" }

func (id Identity) String() string { return string(id.Platform) + ":" + id.User }
