package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/ayusman/segcam/internal/app"
	"github.com/ayusman/segcam/internal/config"
	"github.com/ayusman/segcam/internal/detector"
	"github.com/ayusman/segcam/internal/tray"
)

func main() {
	overrides := config.BindFlags(flag.CommandLine)
	flag.Parse()

	code := run(overrides)
	glog.Flush()
	os.Exit(code)
}

func run(overrides *config.Overrides) int {
	cfg, err := config.Load(overrides.ConfigPath)
	if err != nil {
		glog.Errorf("Failed to load config: %v", err)
		return 2
	}
	if err := overrides.Apply(cfg); err != nil {
		glog.Errorf("Invalid flags: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tr *tray.Tray
	opts := app.Options{}
	if cfg.Tray {
		tr = tray.New()
		opts.OnSummary = func(s detector.Summary) { tr.SetLastResult(s.String()) }
	}

	a, err := app.New(cfg, opts)
	if err != nil {
		glog.Errorf("Failed to initialize: %v", err)
		return 1
	}

	if tr == nil {
		if err := a.Run(ctx); err != nil {
			glog.Errorf("%v", err)
			return 1
		}
		return 0
	}

	// The tray needs the main goroutine; the capture loop moves to its own.
	tr.OnPause(a.SetPaused)
	tr.OnNextColor(func() string { return a.NextColor().Name })
	tr.OnClear(a.ClearPrompt)
	tr.OnLoad(a.LoadPrompt)
	tr.OnQuit(a.Quit)

	errc := make(chan error, 1)
	go func() {
		errc <- a.Run(ctx)
		tr.Quit()
	}()
	tr.Run()
	a.Quit()

	if err := <-errc; err != nil {
		glog.Errorf("%v", err)
		return 1
	}
	return 0
}
