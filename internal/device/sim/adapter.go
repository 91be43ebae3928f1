// Package sim is an in-memory LinkAdapter. Simulated earpieces advertise,
// connect, expose the EEG profile, answer reads and stream generated frames
// once started through the mode characteristic.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/groutine"
	"github.com/srg/eegbuds/internal/packet"
)

// Characteristic is the Handle type produced by this adapter.
type Characteristic struct {
	Kind device.CharacteristicKind
	uuid string
}

func (c *Characteristic) UUID() string { return c.uuid }

// AdvertiseInterval is how often a running scan re-reports every earpiece.
var AdvertiseInterval = time.Second

type link struct {
	ep         *Earpiece
	subscribed map[device.CharacteristicKind]bool
	writes     [][]byte
	cancel     context.CancelFunc // non-nil while streaming
	seq        uint64
}

// Adapter simulates a radio with a fixed set of earpieces in range.
type Adapter struct {
	logger *logrus.Logger
	queue  *device.CallbackQueue

	mu         sync.Mutex
	earpieces  []*Earpiece
	links      map[device.LinkID]*link
	enabled    bool
	scanCancel context.CancelFunc
	closed     bool
}

// New returns an adapter with the given earpieces in range.
func New(logger *logrus.Logger, earpieces ...*Earpiece) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger:    logger,
		queue:     device.NewCallbackQueue("sim", logger),
		earpieces: earpieces,
		links:     map[device.LinkID]*link{},
	}
}

// NewPair returns an adapter with a left and right earpiece named like the
// real hardware.
func NewPair(logger *logrus.Logger) *Adapter {
	return New(logger,
		NewEarpiece("sim-left", "EEG-Ear L"),
		NewEarpiece("sim-right", "EEG-Ear R"),
	)
}

// AddEarpiece puts another earpiece in range.
func (a *Adapter) AddEarpiece(ep *Earpiece) {
	a.mu.Lock()
	a.earpieces = append(a.earpieces, ep)
	a.mu.Unlock()
}

// Earpiece returns the earpiece with the given id.
func (a *Adapter) Earpiece(id device.LinkID) *Earpiece {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.find(id)
}

func (a *Adapter) find(id device.LinkID) *Earpiece {
	for _, ep := range a.earpieces {
		if ep.ID == id {
			return ep
		}
	}
	return nil
}

func (a *Adapter) SetHandler(h device.Handler) {
	a.queue.SetHandler(h)
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	a.enabled = true
	a.mu.Unlock()
	a.queue.AdapterState(device.AdapterPoweredOn)
	return nil
}

// Scan reports every earpiece advertising serviceUUID now and then every
// AdvertiseInterval until ctx is done or StopScan is called.
func (a *Adapter) Scan(ctx context.Context, serviceUUID string) error {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return device.ErrBluetoothOff
	}
	if a.scanCancel != nil {
		a.scanCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	a.scanCancel = cancel
	a.mu.Unlock()

	want := device.NormalizeUUID(serviceUUID)
	a.advertise(want)

	groutine.Go(ctx, "sim-scan", func(ctx context.Context) {
		ticker := time.NewTicker(AdvertiseInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.advertise(want)
			}
		}
	})
	return nil
}

func (a *Adapter) advertise(serviceUUID string) {
	a.mu.Lock()
	eps := append([]*Earpiece(nil), a.earpieces...)
	a.mu.Unlock()

	services := []string{device.DeviceInfoServiceUUID, device.BatteryServiceUUID, device.EEGServiceUUID}
	for _, ep := range eps {
		if serviceUUID != "" && !contains(services, serviceUUID) {
			continue
		}
		a.queue.DeviceFound(device.Advertisement{
			ID:       ep.ID,
			Name:     ep.Name,
			RSSI:     ep.RSSI,
			Services: services,
		})
	}
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	return nil
}

func (a *Adapter) Connect(id device.LinkID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return device.ErrBluetoothOff
	}
	if _, ok := a.links[id]; ok {
		return fmt.Errorf("%w: %s", device.ErrAlreadyConnected, id)
	}
	ep := a.find(id)
	if ep == nil {
		a.queue.ConnectFailed(id, &device.NotFoundError{Resource: "link", UUIDs: []string{string(id)}})
		return nil
	}
	if ep.FailConnect != nil {
		a.queue.ConnectFailed(id, ep.FailConnect)
		return nil
	}

	l := &link{ep: ep, subscribed: map[device.CharacteristicKind]bool{}}
	a.links[id] = l
	a.logger.WithField("link", id).Debug("Simulated link up")
	if ep.ConnectDelay <= 0 {
		a.queue.Connected(id)
		return nil
	}
	time.AfterFunc(ep.ConnectDelay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.links[id] == l {
			a.queue.Connected(id)
		}
	})
	return nil
}

func (a *Adapter) Disconnect(id device.LinkID) error {
	a.drop(id, nil)
	return nil
}

// DropLink simulates an unsolicited link loss.
func (a *Adapter) DropLink(id device.LinkID, reason error) {
	a.drop(id, reason)
}

func (a *Adapter) drop(id device.LinkID, reason error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.links[id]
	if !ok {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	delete(a.links, id)
	a.queue.Disconnected(id, reason)
}

func (a *Adapter) DiscoverCharacteristics(id device.LinkID, services []device.ServiceSpec) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.links[id]
	if !ok {
		return fmt.Errorf("discover %s: %w", id, device.ErrNotConnected)
	}
	if l.ep.FailDiscovery != nil {
		a.queue.DiscoveryFailed(id, l.ep.FailDiscovery)
		return nil
	}

	// one callback per service, like a real stack
	for _, svc := range services {
		var found []device.Handle
		for _, e := range device.Profile {
			if e.Service != device.NormalizeUUID(svc.UUID) || l.ep.omits(e.Kind) {
				continue
			}
			if len(svc.Characteristics) > 0 && !contains(device.NormalizeUUIDs(svc.Characteristics), e.UUID) {
				continue
			}
			found = append(found, &Characteristic{Kind: e.Kind, uuid: e.UUID})
		}
		if len(found) > 0 {
			a.queue.CharacteristicsDiscovered(id, found)
		}
	}
	return nil
}

func (a *Adapter) Read(id device.LinkID, h device.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, c, err := a.resolve(id, h)
	if err != nil {
		return err
	}
	v, ok := l.ep.value(c.Kind)
	if !ok {
		return fmt.Errorf("read %s: %w", c.Kind, device.ErrUnsupported)
	}
	a.queue.Value(id, h, v, nil)
	return nil
}

// Write accepts mode commands. Start begins streaming, stop ends it.
func (a *Adapter) Write(id device.LinkID, h device.Handle, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, c, err := a.resolve(id, h)
	if err != nil {
		return err
	}
	if c.Kind != device.KindMode {
		return fmt.Errorf("write %s: %w", c.Kind, device.ErrUnsupported)
	}
	l.writes = append(l.writes, append([]byte(nil), data...))

	switch {
	case packet.IsStartCommand(data):
		a.startStream(id, l)
	case packet.IsStopCommand(data):
		if l.cancel != nil {
			l.cancel()
			l.cancel = nil
		}
	default:
		a.logger.WithField("link", id).Warn("Unknown mode command ignored")
	}
	return nil
}

func (a *Adapter) Subscribe(id device.LinkID, h device.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, c, err := a.resolve(id, h)
	if err != nil {
		return err
	}
	if ferr := l.ep.FailSubscribe[c.Kind]; ferr != nil {
		a.queue.Subscribed(id, h, ferr)
		return nil
	}
	l.subscribed[c.Kind] = true
	a.queue.Subscribed(id, h, nil)
	return nil
}

// Notify pushes a raw notification for kind on id. The link must be
// subscribed to kind.
func (a *Adapter) Notify(id device.LinkID, kind device.CharacteristicKind, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.links[id]
	if !ok {
		return fmt.Errorf("notify %s: %w", id, device.ErrNotConnected)
	}
	if !l.subscribed[kind] {
		return fmt.Errorf("notify %s: %s not subscribed", id, kind)
	}
	a.queue.Value(id, &Characteristic{Kind: kind, uuid: device.UUIDForKind(kind)}, data, nil)
	return nil
}

// PushFrame encodes f and notifies it on the stream characteristic.
func (a *Adapter) PushFrame(id device.LinkID, f packet.Frame) error {
	return a.Notify(id, device.KindStream, packet.EncodeFrame(f))
}

// Writes returns the mode commands written to id.
func (a *Adapter) Writes(id device.LinkID) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.links[id]; ok {
		return append([][]byte(nil), l.writes...)
	}
	return nil
}

// Connected reports whether id has a live link.
func (a *Adapter) Connected(id device.LinkID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.links[id]
	return ok
}

// Streaming reports whether id is pushing frames.
func (a *Adapter) Streaming(id device.LinkID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[id]
	return ok && l.cancel != nil
}

// Close drops every link and stops callback delivery.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	if a.scanCancel != nil {
		a.scanCancel()
	}
	for id, l := range a.links {
		if l.cancel != nil {
			l.cancel()
		}
		delete(a.links, id)
	}
	a.mu.Unlock()
	a.queue.Close()
}

// startStream must be called with a.mu held.
func (a *Adapter) startStream(id device.LinkID, l *link) {
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	streamChar := &Characteristic{Kind: device.KindStream, uuid: device.StreamUUID}
	batteryChar := &Characteristic{Kind: device.KindBattery, uuid: device.BatteryLevelUUID}

	groutine.Go(ctx, "sim-stream-"+string(id), func(ctx context.Context) {
		ticker := time.NewTicker(l.ep.interval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			a.mu.Lock()
			if ctx.Err() != nil {
				a.mu.Unlock()
				return
			}
			f := l.ep.frame(l.seq)
			l.seq++
			if l.subscribed[device.KindStream] {
				a.queue.Value(id, streamChar, packet.EncodeFrame(f), nil)
			}
			if f.IsTick() && l.subscribed[device.KindBattery] {
				a.queue.Value(id, batteryChar, []byte{l.ep.Battery}, nil)
			}
			a.mu.Unlock()
		}
	})
}

func (a *Adapter) resolve(id device.LinkID, h device.Handle) (*link, *Characteristic, error) {
	l, ok := a.links[id]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", id, device.ErrNotConnected)
	}
	c, ok := h.(*Characteristic)
	if !ok || c == nil {
		return nil, nil, fmt.Errorf("%s: foreign characteristic handle %T", id, h)
	}
	if l.ep.omits(c.Kind) {
		return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{c.uuid}}
	}
	return l, c, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ device.LinkAdapter = (*Adapter)(nil)
