package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"rafflebot/internal/app"
	"rafflebot/internal/console"
	"rafflebot/internal/storage"
)

// operator is the part of the app driven from the terminal.
type operator interface {
	PickWinner() error
	Reload(ctx context.Context) error
	Status() app.Status
	History() []console.Message
	Results(ctx context.Context, n int) ([]storage.Result, error)
}

const consoleHelp = `commands:
  pick          end the current drawing window now (or redraw an unclaimed winner)
  reload        re-read the config file
  status        show service and drawing state
  history       show console messages
  results [n]   show the last n results (default 10)
  quit          stop the bot`

// runConsole reads commands from in until quit, EOF or ctx ends. It reports
// whether the operator asked to quit.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, op operator) bool {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return false
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if !runCommand(ctx, out, op, strings.ToLower(fields[0]), fields[1:]) {
			return true
		}
	}
	return false
}

// runCommand executes one command and reports whether to keep reading.
func runCommand(ctx context.Context, out io.Writer, op operator, name string, args []string) bool {
	switch name {
	case "quit", "exit":
		return false
	case "pick":
		if err := op.PickWinner(); err != nil {
			fmt.Fprintln(out, "pick:", err)
		}
	case "reload":
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := op.Reload(rctx)
		cancel()
		if err != nil {
			fmt.Fprintln(out, "reload:", err)
		}
	case "status":
		for _, l := range op.Status().Lines() {
			fmt.Fprintln(out, l)
		}
	case "history":
		for _, m := range op.History() {
			fmt.Fprintln(out, m.String())
		}
	case "results":
		n := 10
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				fmt.Fprintln(out, "results: n must be a positive number")
				return true
			}
			n = v
		}
		rs, err := op.Results(ctx, n)
		switch {
		case errors.Is(err, storage.ErrDisabled):
			fmt.Fprintln(out, "results: result log is disabled")
		case err != nil:
			fmt.Fprintln(out, "results:", err)
		case len(rs) == 0:
			fmt.Fprintln(out, "no results yet")
		default:
			for _, r := range rs {
				fmt.Fprintln(out, r.Line())
			}
		}
	case "help", "?":
		fmt.Fprintln(out, consoleHelp)
	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", name)
	}
	return true
}
