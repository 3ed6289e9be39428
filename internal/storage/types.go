package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// NoEntries is recorded as the winner of a drawing nobody claimed.
const NoEntries = "NO_ENTRIES!"

type Outcome string

const (
	OutcomeClaimed   Outcome = "claimed"
	OutcomeNoEntries Outcome = "no_entries"
)

// Config configures the result log.
//
// Driver values:
//   - "file": plain text log (default path raffle.txt)
//   - "sqlite": SQLite database file
//
// If Driver is "none", results are not recorded.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Result is one resolved drawing.
type Result struct {
	At        time.Time
	DrawingID string
	Prize     string
	Winner    string
	Outcome   Outcome
}

// Line is the text form written by the file driver.
func (r Result) Line() string {
	w := r.Winner
	if w == "" || r.Outcome == OutcomeNoEntries {
		w = NoEntries
	}
	return r.Prize + " winner is " + w
}
