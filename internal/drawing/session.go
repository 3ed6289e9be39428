package drawing

import (
	"time"

	"rafflebot/internal/chat"
)

type State int

const (
	Closed State = iota
	Open
	WinnerPicked
	NoEntries
	Claimed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case WinnerPicked:
		return "winner_picked"
	case NoEntries:
		return "no_entries"
	case Claimed:
		return "claimed"
	default:
		return "closed"
	}
}

// Session is the single active drawing.
type Session struct {
	ID           string
	Prize        string
	Entrants     []chat.Identity
	Winner       string // display name of WinnerID
	WinnerID     chat.Identity
	State        State
	Announcement string
	Rerolls      int
	OpenedAt     time.Time
	PickedAt     time.Time
}

func (s Session) clone() Session {
	s.Entrants = append([]chat.Identity(nil), s.Entrants...)
	return s
}

func (s *Session) hasEntrant(id chat.Identity) bool {
	for _, e := range s.Entrants {
		if e == id {
			return true
		}
	}
	return false
}
