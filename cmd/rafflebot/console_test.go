package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rafflebot/internal/app"
	"rafflebot/internal/console"
	"rafflebot/internal/storage"
)

type fakeOperator struct {
	picks   int
	reloads int
	results []storage.Result
	resErr  error
}

func (f *fakeOperator) PickWinner() error {
	f.picks++
	if f.picks > 1 {
		return app.ErrNothingToDraw
	}
	return nil
}

func (f *fakeOperator) Reload(context.Context) error {
	f.reloads++
	return app.ErrNotStarted
}

func (f *fakeOperator) Status() app.Status { return app.Status{ChatStarted: true} }

func (f *fakeOperator) History() []console.Message {
	return []console.Message{{Text: "Hit Milestone! Raised over 100USD", Source: console.SourceTiltify, At: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}}
}

func (f *fakeOperator) Results(_ context.Context, n int) ([]storage.Result, error) {
	if f.resErr != nil {
		return nil, f.resErr
	}
	if n < len(f.results) {
		return f.results[:n], nil
	}
	return f.results, nil
}

func TestRunConsole(t *testing.T) {
	t.Parallel()
	op := &fakeOperator{results: []storage.Result{
		{Prize: "print from Ann", Winner: "alice"},
		{Prize: "sketch from Bo", Winner: storage.NoEntries, Outcome: storage.OutcomeNoEntries},
	}}
	in := strings.NewReader("pick\nPICK\n\nreload\nstatus\nhistory\nresults 1\nresults x\nbogus\nquit\npick\n")
	var out bytes.Buffer

	assert.True(t, runConsole(context.Background(), in, &out, op))

	s := out.String()
	assert.Equal(t, 2, op.picks, "commands after quit are not read")
	assert.Equal(t, 1, op.reloads)
	assert.Contains(t, s, "pick: "+app.ErrNothingToDraw.Error())
	assert.Contains(t, s, "reload: "+app.ErrNotStarted.Error())
	assert.Contains(t, s, "chat running, tiltify stopped, scheduler stopped")
	assert.Contains(t, s, "[12:00:00] tiltify  Hit Milestone! Raised over 100USD")
	assert.Contains(t, s, "print from Ann winner is alice")
	assert.NotContains(t, s, "sketch from Bo")
	assert.Contains(t, s, "n must be a positive number")
	assert.Contains(t, s, `unknown command "bogus"`)
}

func TestResultsDisabled(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	keep := runCommand(context.Background(), &out, &fakeOperator{resErr: storage.ErrDisabled}, "results", nil)
	assert.True(t, keep)
	assert.Contains(t, out.String(), "result log is disabled")
}

func TestRunConsoleEOFIsNotQuit(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	op := &fakeOperator{}
	assert.False(t, runConsole(context.Background(), strings.NewReader("pick\n"), &out, op))
	assert.Equal(t, 1, op.picks)
	assert.False(t, runConsole(context.Background(), strings.NewReader(""), &out, op))
}
