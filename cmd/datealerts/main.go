package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"datealerts/internal/app"
	logx "datealerts/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Parse()

	log := logx.NewConsole("INFO").With(logx.String("comp", "main"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(cfgPath)
	if err != nil {
		log.Error("fatal", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		log.Error("fatal start", logx.Err(err))
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
		if err := a.Err(); err != nil {
			log.Error("app stopped on error", logx.Err(err))
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		log.Warn("stop error", logx.Err(err))
	}
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
