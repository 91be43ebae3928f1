// Package headset drives a pair of EEG earpieces as one session.
//
// A Session binds each earpiece link to a Role, walks it through discovery
// and subscription over a device.LinkAdapter, decodes the stream and merges
// both sides into combined events delivered to a Sink.
//
//	s, err := headset.New(adapter, sink, headset.Options{})
//	s.Connect(headset.Left, "AA:BB:CC:DD:EE:01")
//	s.Connect(headset.Right, "AA:BB:CC:DD:EE:02")
//	// wait for Sink.OnSetNotifyReady, then
//	s.Start()
package headset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/aggregate"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/packet"
)

// Options configures a Session.
type Options struct {
	// Roles is the number of earpieces, 1 (Left only) or 2. Zero means 2.
	Roles  int
	Logger *logrus.Logger
}

// Session is the connection state machine of one headset. All methods are
// safe for concurrent use.
type Session struct {
	adapter device.LinkAdapter
	logger  *logrus.Logger
	roles   []Role
	disp    *dispatcher

	mu     sync.Mutex
	table  bindings
	agg    *aggregate.Aggregator
	ready  bool
	closed bool
}

// New creates a session and installs itself as the adapter's handler.
func New(adapter device.LinkAdapter, sink Sink, opts Options) (*Session, error) {
	if adapter == nil {
		return nil, errors.New("headset: nil link adapter")
	}
	n := opts.Roles
	if n == 0 {
		n = 2
	}
	if n < 1 || n > 2 {
		return nil, fmt.Errorf("headset: roles must be 1 or 2, got %d", opts.Roles)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		adapter: adapter,
		logger:  logger,
		roles:   append([]Role(nil), device.Roles[:n]...),
		disp:    newDispatcher(sink, logger),
		agg:     aggregate.New(n),
	}
	adapter.SetHandler(&linkHandler{s: s})
	return s, nil
}

// SetSink replaces the event receiver. A nil sink discards events.
func (s *Session) SetSink(sink Sink) {
	s.disp.setSink(sink)
}

// Roles returns the configured roles.
func (s *Session) Roles() []Role {
	return append([]Role(nil), s.roles...)
}

// Enable powers on the adapter. The resulting state arrives as an
// AdapterState event.
func (s *Session) Enable() error {
	return s.adapter.Enable()
}

// Scan looks for earpieces until ctx is done or StopScan is called. Results
// arrive as DeviceFound events.
func (s *Session) Scan(ctx context.Context) error {
	return s.adapter.Scan(ctx, device.ScanServiceUUID)
}

func (s *Session) StopScan() error {
	return s.adapter.StopScan()
}

// Connect binds id to role and asks the adapter to connect it. A previous
// link of the role is forgotten without being disconnected.
func (s *Session) Connect(role Role, id LinkID) error {
	if !s.configured(role) {
		return fmt.Errorf("connect: role %s is not part of this session", role)
	}
	if id == "" {
		return fmt.Errorf("connect %s: empty link id", role)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return device.ErrClosed
	}
	s.table.bind(role, id)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"role": role, "link": id}).Info("Connecting")

	if err := s.adapter.Connect(id); err != nil {
		s.mu.Lock()
		if b := s.table.get(role); b != nil && b.id == id {
			s.table.unbind(role)
		}
		s.disp.emit(Event{Kind: EventConnectFailed, Reason: err.Error()})
		s.mu.Unlock()
		return fmt.Errorf("connect %s: %w", role, err)
	}
	return nil
}

// Disconnect tears the whole session down: every bound link is disconnected,
// bindings are cleared, the aggregator is reset and a single Disconnected
// event is emitted. With nothing bound it emits nothing but still clears
// readiness and the aggregator, so the next connect starts a new session.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	var ids []LinkID
	for _, role := range s.roles {
		if b := s.table.get(role); b != nil {
			ids = append(ids, b.id)
		}
	}
	s.table.unbindAll()
	s.agg.Reset()
	s.ready = false
	if len(ids) == 0 {
		// links already dropped; only session-level state was left
		s.mu.Unlock()
		return nil
	}
	s.disp.emit(Event{Kind: EventDisconnected})
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.adapter.Disconnect(id); err != nil {
			s.logger.WithError(err).WithField("link", id).Warn("Disconnect failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start writes the start command to every bound earpiece.
func (s *Session) Start() error {
	return s.writeMode("start", packet.StartCommand())
}

// Stop writes the stop command to every bound earpiece.
func (s *Session) Stop() error {
	return s.writeMode("stop", packet.StopCommand())
}

func (s *Session) writeMode(op string, cmd []byte) error {
	type target struct {
		role Role
		id   LinkID
		h    device.Handle
	}

	s.mu.Lock()
	var targets []target
	for _, role := range s.roles {
		b := s.table.get(role)
		if b == nil {
			continue
		}
		if h, ok := b.handle(device.KindMode); ok {
			targets = append(targets, target{role, b.id, h})
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return fmt.Errorf("%s: %w", op, device.ErrNotConnected)
	}

	var errs []error
	for _, t := range targets {
		if err := s.adapter.Write(t.id, t.h, cmd); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", op, t.role, err))
		}
	}
	return errors.Join(errs...)
}

// State returns the progress of role.
func (s *Session) State(role Role) RoleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.table.get(role); b != nil {
		return b.state
	}
	return StateUnbound
}

// Link returns the link bound to role.
func (s *Session) Link(role Role) (LinkID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.table.get(role); b != nil {
		return b.id, true
	}
	return "", false
}

// Characteristics lists the kinds discovered for role, in discovery order.
func (s *Session) Characteristics(role Role) []CharacteristicKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.table.get(role); b != nil {
		return b.kinds()
	}
	return nil
}

// Ready reports whether SetNotifyReady has been emitted for the current session.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Snapshot returns the values currently held by the aggregator.
func (s *Session) Snapshot() aggregate.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Snapshot()
}

// Close disconnects, delivers every queued event and stops the dispatcher.
// Must not be called from a Sink method.
func (s *Session) Close() error {
	err := s.Disconnect()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.disp.close()
	return err
}

func (s *Session) configured(role Role) bool {
	for _, r := range s.roles {
		if r == role {
			return true
		}
	}
	return false
}

// allBound reports whether every configured role has a link. Must hold s.mu.
func (s *Session) allBound() bool {
	for _, role := range s.roles {
		if s.table.get(role) == nil {
			return false
		}
	}
	return true
}

// checkReady emits SetNotifyReady once all configured roles are Ready. Must hold s.mu.
func (s *Session) checkReady() {
	if s.ready {
		return
	}
	for _, role := range s.roles {
		b := s.table.get(role)
		if b == nil || b.state != StateReady {
			return
		}
	}
	s.ready = true
	s.logger.Info("All earpieces ready")
	s.disp.emit(Event{Kind: EventSetNotifyReady})
}
