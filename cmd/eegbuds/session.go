package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/device"
)

// linkWatch tracks readiness and link loss for a command's session.
type linkWatch struct {
	headset.NopSink

	readyOnce sync.Once
	ready     chan struct{}
	failed    chan string
	lostOnce  sync.Once
	lost      chan struct{}
}

func newLinkWatch() *linkWatch {
	return &linkWatch{
		ready:  make(chan struct{}),
		failed: make(chan string, 1),
		lost:   make(chan struct{}),
	}
}

func (w *linkWatch) OnSetNotifyReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

func (w *linkWatch) OnConnectFailed(reason string) {
	select {
	case w.failed <- reason:
	default:
	}
}

// OnDisconnected only counts once the session was ready; Disconnected before
// that is part of a failed connect.
func (w *linkWatch) OnDisconnected() {
	select {
	case <-w.ready:
		w.lostOnce.Do(func() { close(w.lost) })
	default:
	}
}

// openSession connects every target and waits until the headset is ready.
// The returned session is closed by the caller; on error it is already closed.
func openSession(ctx context.Context, adapter device.LinkAdapter, targets []target, sink headset.Sink, timeout time.Duration, logger *logrus.Logger, progress func(string)) (*headset.Session, *linkWatch, error) {
	watch := newLinkWatch()
	session, err := headset.New(adapter, headset.Tee(watch, sink), headset.Options{Roles: len(targets), Logger: logger})
	if err != nil {
		return nil, nil, err
	}

	fail := func(err error) (*headset.Session, *linkWatch, error) {
		progress("Failed")
		if cerr := session.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to disconnect headset")
		}
		return nil, nil, err
	}

	progress("Connecting")
	if err := session.Enable(); err != nil {
		return fail(err)
	}
	for _, t := range targets {
		if err := session.Connect(t.Role, t.ID); err != nil {
			return fail(err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-watch.ready:
	case reason := <-watch.failed:
		return fail(fmt.Errorf("failed to connect headset: %s", reason))
	case <-timer.C:
		return fail(fmt.Errorf("headset not ready after %s: %w", timeout, device.ErrTimeout))
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	progress("Connected")
	return session, watch, nil
}

// runFor blocks until ctx ends, the duration elapses (when positive) or the
// headset is lost.
func runFor(ctx context.Context, d time.Duration, watch *linkWatch) error {
	var deadline <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return nil
	case <-watch.lost:
		return ErrConnectionLost
	}
}
