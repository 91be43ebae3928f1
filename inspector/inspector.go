// Package inspector connects a headset, collects what each earpiece reports
// about itself and hands the result to a callback before disconnecting.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/device"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// Target binds a link to a role.
type Target struct {
	Role headset.Role
	ID   headset.LinkID
}

// InspectOptions defines how long to wait for the headset.
type InspectOptions struct {
	Targets        []Target
	ConnectTimeout time.Duration // until every role is ready
	InfoTimeout    time.Duration // extra wait for late info reads
	Logger         *logrus.Logger
}

// RoleReport is what one earpiece told us.
type RoleReport struct {
	Role            headset.Role
	ID              headset.LinkID
	Characteristics []headset.CharacteristicKind
	// Info is keyed by kind in device.InfoKinds order. Kinds the earpiece
	// never answered (or answered with invalid text) are absent.
	Info *orderedmap.OrderedMap[headset.CharacteristicKind, string]
}

type Report struct {
	Roles []RoleReport
	// Battery is set once both sides (or the only side) reported a level.
	Battery *[2]uint8
}

// InspectCallback processes the report and produces output of type R
type InspectCallback[R any] func(*Report) (R, error)

type collected struct {
	mu      sync.Mutex
	info    map[headset.Role]map[headset.CharacteristicKind]string
	battery *[2]uint8
	ready   chan struct{}
	failed  chan string
}

func (c *collected) sink() headset.Sink {
	var once sync.Once
	return headset.EventSink(func(e headset.Event) {
		switch e.Kind {
		case headset.EventInfo:
			c.mu.Lock()
			if c.info[e.Role] == nil {
				c.info[e.Role] = map[headset.CharacteristicKind]string{}
			}
			c.info[e.Role][e.InfoKind] = e.Text
			c.mu.Unlock()
		case headset.EventBattery:
			c.mu.Lock()
			c.battery = &[2]uint8{e.LeftBattery, e.RightBattery}
			c.mu.Unlock()
		case headset.EventSetNotifyReady:
			once.Do(func() { close(c.ready) })
		case headset.EventConnectFailed:
			select {
			case c.failed <- e.Reason:
			default:
			}
		}
	})
}

func (c *collected) complete(roles []headset.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range roles {
		if len(c.info[r]) < len(device.InfoKinds) {
			return false
		}
	}
	return true
}

// InspectHeadset connects every target, waits until the headset is ready and
// all info strings arrived (or InfoTimeout passes), then runs callback with
// the report. The headset is disconnected before returning.
func InspectHeadset[R any](ctx context.Context, adapter device.LinkAdapter, opts *InspectOptions, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil || len(opts.Targets) == 0 {
		return zero, errors.New("inspect: at least one target is required")
	}
	if len(opts.Targets) > 2 {
		return zero, fmt.Errorf("inspect: at most two targets, got %d", len(opts.Targets))
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	infoTimeout := opts.InfoTimeout
	if infoTimeout <= 0 {
		infoTimeout = 2 * time.Second
	}

	// a single target always plays Left
	targets := append([]Target(nil), opts.Targets...)
	if len(targets) == 1 {
		targets[0].Role = headset.Left
	}

	c := &collected{
		info:   map[headset.Role]map[headset.CharacteristicKind]string{},
		ready:  make(chan struct{}),
		failed: make(chan string, 1),
	}
	session, err := headset.New(adapter, c.sink(), headset.Options{Roles: len(targets), Logger: logger})
	if err != nil {
		return zero, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Error("failed to disconnect headset")
		}
	}()

	progressCallback("Connecting")
	if err := session.Enable(); err != nil {
		progressCallback("Failed")
		return zero, err
	}
	for _, t := range targets {
		if err := session.Connect(t.Role, t.ID); err != nil {
			progressCallback("Failed")
			return zero, err
		}
	}

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case <-c.ready:
	case reason := <-c.failed:
		progressCallback("Failed")
		return zero, fmt.Errorf("connect failed: %s", reason)
	case <-timer.C:
		progressCallback("Failed")
		return zero, fmt.Errorf("headset not ready after %s: %w", connectTimeout, device.ErrTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	progressCallback("Connected")

	roles := session.Roles()
	deadline := time.Now().Add(infoTimeout)
	for !c.complete(roles) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	progressCallback("Processing results")
	report := &Report{}
	c.mu.Lock()
	for _, t := range targets {
		info := orderedmap.New[headset.CharacteristicKind, string]()
		for _, k := range device.InfoKinds {
			if text, ok := c.info[t.Role][k]; ok {
				info.Set(k, text)
			}
		}
		report.Roles = append(report.Roles, RoleReport{
			Role:            t.Role,
			ID:              t.ID,
			Characteristics: session.Characteristics(t.Role),
			Info:            info,
		})
	}
	report.Battery = c.battery
	c.mu.Unlock()

	return callback(report)
}
