package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/device"
	goble "github.com/srg/eegbuds/internal/device/go-ble"
	"github.com/srg/eegbuds/internal/device/sim"
	"github.com/srg/eegbuds/internal/device/tinygo"
	"github.com/srg/eegbuds/pkg/config"
)

// newAdapter is swapped by tests to share one simulated pair across a run.
var newAdapter = openAdapter

// openAdapter returns the link adapter for the configured backend and a
// function releasing it.
func openAdapter(cfg *config.Config, logger *logrus.Logger) (device.LinkAdapter, func(), error) {
	switch cfg.Backend {
	case config.BackendGoBLE:
		a := goble.New(logger)
		a.ConnectTimeout = cfg.ConnectTimeout
		return a, func() { closeAdapter(a.Close, logger) }, nil
	case config.BackendTinyGo:
		a := tinygo.New(logger)
		return a, func() { closeAdapter(a.Close, logger) }, nil
	case config.BackendSim:
		a := sim.NewPair(logger)
		return a, a.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func closeAdapter(closeFn func() error, logger *logrus.Logger) {
	if err := closeFn(); err != nil {
		logger.WithError(err).Warn("Failed to close Bluetooth adapter")
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context, logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
