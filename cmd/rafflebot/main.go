package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rafflebot/internal/app"
)

func main() {
	var (
		cfgPath     string
		envFile     string
		interactive bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file with RAFFLEBOT_* secrets")
	flag.BoolVar(&interactive, "console", true, "read operator commands from stdin")
	flag.Parse()

	// A missing .env is fine; secrets may come from the real environment.
	_ = godotenv.Load(envFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	notify(ready)
	go watchdog(ctx, a)

	// A closed stdin (e.g. under systemd) leaves the bot running.
	quit := make(chan struct{})
	if interactive {
		go func() {
			if runConsole(ctx, os.Stdin, os.Stdout, a) {
				close(quit)
			}
		}()
	}

	reason := app.StopUnknown
	select {
	case <-ctx.Done():
		reason = app.StopSignal
	case <-quit:
		reason = app.StopOperator
	case <-a.Done():
		if a.Err() != nil {
			fmt.Println("fatal:", a.Err())
			reason = app.StopFatalError
		}
	}

	notify(stopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
