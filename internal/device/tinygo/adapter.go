// Package tinygo implements device.LinkAdapter with tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows).
//
// The library's calls block, so each link owns a serial goroutine that runs
// its GATT operations in order.
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/groutine"
)

// maxValueLen is the largest ATT attribute value.
const maxValueLen = 512

// Characteristic is the Handle produced by this backend.
type Characteristic struct {
	uuid string
	char gattChar
}

func (c *Characteristic) UUID() string { return c.uuid }

type link struct {
	id     device.LinkID
	periph peripheral
	ops    *groutine.Serial
	ctx    context.Context
	cancel context.CancelFunc
}

type Adapter struct {
	logger  *logrus.Logger
	queue   *device.CallbackQueue
	central central

	mu         sync.Mutex
	enabled    bool
	scanning   bool
	scanCancel context.CancelFunc
	links      map[device.LinkID]*link
	closed     bool
}

// New uses bluetooth.DefaultAdapter.
func New(logger *logrus.Logger) *Adapter {
	return newAdapter(newBTCentral(bluetooth.DefaultAdapter), logger)
}

func newAdapter(c central, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger:  logger,
		queue:   device.NewCallbackQueue("tinygo", logger),
		central: c,
		links:   map[device.LinkID]*link{},
	}
}

func (a *Adapter) SetHandler(h device.Handler) {
	a.queue.SetHandler(h)
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return device.ErrClosed
	}
	if a.enabled {
		return nil
	}

	if err := a.central.Enable(); err != nil {
		err = device.NormalizeError(err)
		state := device.AdapterUnsupported
		if errors.Is(err, device.ErrBluetoothOff) {
			state = device.AdapterPoweredOff
		}
		a.queue.AdapterState(state)
		return fmt.Errorf("failed to enable adapter: %w", err)
	}
	a.central.SetConnectHandler(a.onConnectEvent)
	a.enabled = true
	a.queue.AdapterState(device.AdapterPoweredOn)
	return nil
}

// onConnectEvent runs on the library's goroutine.
func (a *Adapter) onConnectEvent(addr string, connected bool) {
	if connected {
		return
	}
	a.mu.Lock()
	l, ok := a.links[device.LinkID(addr)]
	a.mu.Unlock()
	if !ok || l.periph == nil {
		return
	}
	if a.forget(l) {
		a.logger.WithField("id", addr).Warn("Earpiece link lost")
		a.queue.Disconnected(l.id, device.ErrNotConnected)
	}
}

func (a *Adapter) Scan(ctx context.Context, serviceUUID string) error {
	if err := a.Enable(); err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return errors.New("scan already in progress")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.scanning = true
	a.scanCancel = cancel
	a.mu.Unlock()

	done := make(chan struct{})
	groutine.Go(ctx, "tinygo-scan", func(context.Context) {
		defer close(done)
		err := a.central.Scan(serviceUUID, a.queue.DeviceFound)
		if err != nil {
			a.logger.WithError(err).Warn("Scan stopped with error")
		}
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
	})
	groutine.Go(ctx, "tinygo-scan-stop", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			if err := a.central.StopScan(); err != nil {
				a.logger.WithError(err).Debug("StopScan failed")
			}
		case <-done:
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	cancel := a.scanCancel
	a.scanCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (a *Adapter) Connect(id device.LinkID) error {
	if err := a.Enable(); err != nil {
		return err
	}

	a.mu.Lock()
	if _, ok := a.links[id]; ok {
		a.mu.Unlock()
		return fmt.Errorf("%s: %w", id, device.ErrAlreadyConnected)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		id:     id,
		ops:    groutine.NewSerial("tinygo-"+string(id), a.logger),
		ctx:    ctx,
		cancel: cancel,
	}
	a.links[id] = l
	a.mu.Unlock()

	l.ops.Submit(func() {
		p, err := a.central.Connect(string(id))
		if err != nil {
			if l.ctx.Err() == nil && a.forget(l) {
				a.queue.ConnectFailed(id, device.NormalizeError(err))
			}
			return
		}

		a.mu.Lock()
		l.periph = p
		a.mu.Unlock()
		if l.ctx.Err() != nil {
			return
		}
		a.logger.WithField("id", id).Info("Earpiece connected")
		a.queue.Connected(id)
	})
	return nil
}

func (a *Adapter) forget(l *link) bool {
	a.mu.Lock()
	current := a.links[l.id] == l
	if current {
		delete(a.links, l.id)
	}
	a.mu.Unlock()
	if !current {
		return false
	}
	l.cancel()
	groutine.Go(context.Background(), "tinygo-close-"+string(l.id), func(context.Context) { l.ops.Close() })
	return true
}

func (a *Adapter) Disconnect(id device.LinkID) error {
	a.mu.Lock()
	l, ok := a.links[id]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	l.cancel()
	l.ops.Submit(func() {
		a.mu.Lock()
		p := l.periph
		a.mu.Unlock()
		if p != nil {
			if err := p.Disconnect(); err != nil {
				a.logger.WithError(err).WithField("id", id).Debug("Disconnect failed")
			}
		}
		if a.forget(l) {
			a.queue.Disconnected(id, nil)
		}
	})
	return nil
}

func (a *Adapter) do(id device.LinkID, op string, fn func(p peripheral)) error {
	a.mu.Lock()
	l, ok := a.links[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, device.ErrNotConnected)
	}
	if !l.ops.Submit(func() {
		a.mu.Lock()
		p := l.periph
		a.mu.Unlock()
		if p == nil || l.ctx.Err() != nil {
			return
		}
		fn(p)
	}) {
		return fmt.Errorf("%s %s: %w", op, id, device.ErrNotConnected)
	}
	return nil
}

func (a *Adapter) DiscoverCharacteristics(id device.LinkID, services []device.ServiceSpec) error {
	uuids := make([]string, 0, len(services))
	for _, s := range services {
		uuids = append(uuids, s.UUID)
	}

	return a.do(id, "discover", func(p peripheral) {
		found, err := p.DiscoverServices(uuids)
		if err != nil {
			a.queue.DiscoveryFailed(id, device.NormalizeError(err))
			return
		}
		for _, spec := range services {
			svc := findService(found, spec.UUID)
			if svc == nil {
				a.logger.WithFields(logrus.Fields{"id": id, "service": spec.UUID}).Warn("Service not found")
				continue
			}
			chars, err := svc.DiscoverCharacteristics(spec.Characteristics)
			if err != nil {
				a.queue.DiscoveryFailed(id, device.NormalizeError(err))
				return
			}
			handles := make([]device.Handle, 0, len(chars))
			for _, c := range chars {
				handles = append(handles, &Characteristic{uuid: c.UUID(), char: c})
			}
			a.queue.CharacteristicsDiscovered(id, handles)
		}
	})
}

func (a *Adapter) Read(id device.LinkID, h device.Handle) error {
	c, err := own(h)
	if err != nil {
		return err
	}
	return a.do(id, "read", func(peripheral) {
		buf := make([]byte, maxValueLen)
		n, err := c.char.Read(buf)
		if err != nil {
			a.queue.Value(id, c, nil, device.NormalizeError(err))
			return
		}
		a.queue.Value(id, c, buf[:n], nil)
	})
}

func (a *Adapter) Write(id device.LinkID, h device.Handle, data []byte) error {
	c, err := own(h)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	return a.do(id, "write", func(peripheral) {
		if _, err := c.char.WriteWithoutResponse(payload); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{"id": id, "char": c.uuid}).Warn("Write failed")
		}
	})
}

func (a *Adapter) Subscribe(id device.LinkID, h device.Handle) error {
	c, err := own(h)
	if err != nil {
		return err
	}
	return a.do(id, "subscribe", func(peripheral) {
		err := c.char.EnableNotifications(func(buf []byte) {
			// the library reuses buf
			a.queue.Value(id, c, append([]byte(nil), buf...), nil)
		})
		a.queue.Subscribed(id, c, device.NormalizeError(err))
	})
}

// Close disconnects every link and stops callback delivery.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	ids := make([]device.LinkID, 0, len(a.links))
	for id := range a.links {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	_ = a.StopScan()
	for _, id := range ids {
		_ = a.Disconnect(id)
	}

	a.mu.Lock()
	a.closed = true
	links := make([]*link, 0, len(a.links))
	for _, l := range a.links {
		links = append(links, l)
	}
	a.mu.Unlock()

	for _, l := range links {
		l.ops.Close()
	}
	a.queue.Close()
	return nil
}

func own(h device.Handle) (*Characteristic, error) {
	c, ok := h.(*Characteristic)
	if !ok || c == nil {
		return nil, fmt.Errorf("foreign characteristic handle %T", h)
	}
	return c, nil
}

func findService(services []gattService, uuid string) gattService {
	want := device.NormalizeUUID(uuid)
	for _, s := range services {
		if s.UUID() == want {
			return s
		}
	}
	return nil
}
