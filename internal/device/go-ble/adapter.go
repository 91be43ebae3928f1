// Package goble implements device.LinkAdapter on top of github.com/go-ble/ble
// (CoreBluetooth on macOS, HCI sockets on Linux).
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/groutine"
)

// DefaultConnectTimeout bounds a single Dial.
const DefaultConnectTimeout = 30 * time.Second

type link struct {
	id         device.LinkID
	client     gattClient // nil while dialing
	ops        *groutine.Serial
	ctx        context.Context
	cancel     context.CancelFunc
	subscribed []*Characteristic
}

// Adapter is a go-ble backed device.LinkAdapter. GATT operations for one
// link run in order on that link's own goroutine; callbacks are delivered
// on a single shared goroutine.
type Adapter struct {
	ConnectTimeout time.Duration

	logger   *logrus.Logger
	queue    *device.CallbackQueue
	newRadio func() (radio, error)

	mu         sync.Mutex
	radio      radio
	links      map[device.LinkID]*link
	scanCancel context.CancelFunc
	closed     bool
}

// New creates an adapter using the platform DeviceFactory.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		ConnectTimeout: DefaultConnectTimeout,
		logger:         logger,
		queue:          device.NewCallbackQueue("goble", logger),
		newRadio: func() (radio, error) {
			dev, err := DeviceFactory()
			if err != nil {
				return nil, err
			}
			ble.SetDefaultDevice(dev)
			return bleRadio{dev: dev}, nil
		},
		links: map[device.LinkID]*link{},
	}
}

func (a *Adapter) SetHandler(h device.Handler) {
	a.queue.SetHandler(h)
}

// Enable opens the HCI device / central manager once.
func (a *Adapter) Enable() error {
	_, err := a.ensureRadio()
	return err
}

func (a *Adapter) ensureRadio() (radio, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, device.ErrClosed
	}
	if a.radio != nil {
		return a.radio, nil
	}

	r, err := a.newRadio()
	if err != nil {
		err = NormalizeError(err)
		state := device.AdapterUnsupported
		if errors.Is(err, device.ErrBluetoothOff) {
			state = device.AdapterPoweredOff
		}
		a.logger.WithError(err).Error("Failed to open BLE device")
		a.queue.AdapterState(state)
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	a.radio = r
	a.queue.AdapterState(device.AdapterPoweredOn)
	return r, nil
}

// Scan reports advertisements listing serviceUUID (all named ones when empty).
func (a *Adapter) Scan(ctx context.Context, serviceUUID string) error {
	r, err := a.ensureRadio()
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	a.scanCancel = cancel
	a.mu.Unlock()

	want := device.NormalizeUUID(serviceUUID)
	handler := func(adv ble.Advertisement) {
		found := toAdvertisement(adv)
		if want != "" && !containsUUID(found.Services, want) {
			return
		}
		a.queue.DeviceFound(found)
	}

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := r.Scan(ctx, true, handler)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.WithError(NormalizeError(err)).Warn("Scan stopped with error")
		}
	})
	return nil
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

// Connect dials id (a MAC address or CoreBluetooth identifier).
func (a *Adapter) Connect(id device.LinkID) error {
	r, err := a.ensureRadio()
	if err != nil {
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
		ops:    groutine.NewSerial("goble-"+string(id), a.logger),
		ctx:    ctx,
		cancel: cancel,
	}
	a.links[id] = l
	timeout := a.ConnectTimeout
	a.mu.Unlock()

	l.ops.Submit(func() {
		dialCtx, dialCancel := context.WithTimeout(l.ctx, timeout)
		defer dialCancel()

		a.logger.WithFields(logrus.Fields{"id": id, "timeout": timeout}).Info("Connecting to earpiece...")
		client, err := r.Dial(dialCtx, string(id))
		if err != nil {
			if l.ctx.Err() != nil {
				// cancelled by Disconnect; its teardown reports the outcome
				return
			}
			if a.forget(l) {
				a.queue.ConnectFailed(id, NormalizeError(err))
			}
			return
		}

		a.mu.Lock()
		l.client = client
		a.mu.Unlock()
		if l.ctx.Err() != nil {
			// Disconnect arrived while dialing; its teardown closes the client
			return
		}

		a.monitor(l, client)
		a.logger.WithField("id", id).Info("Earpiece connected")
		a.queue.Connected(id)
	})
	return nil
}

// monitor reports an unrequested link loss.
func (a *Adapter) monitor(l *link, client gattClient) {
	groutine.Go(l.ctx, "goble-monitor-"+string(l.id), func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			if a.forget(l) {
				a.logger.WithField("id", l.id).Warn("Earpiece link lost")
				a.queue.Disconnected(l.id, device.ErrNotConnected)
			}
		case <-ctx.Done():
		}
	})
}

// forget drops l if it is still the current link for its id. It reports
// whether it did, so only one path announces the end of a link.
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
	// Close waits for the queue, which may be the caller
	groutine.Go(context.Background(), "goble-close-"+string(l.id), func(context.Context) { l.ops.Close() })
	return true
}

// Disconnect unsubscribes, cancels the connection and reports OnDisconnected.
func (a *Adapter) Disconnect(id device.LinkID) error {
	a.mu.Lock()
	l, ok := a.links[id]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	// stop an in-flight dial; the teardown below still runs after it
	l.cancel()
	l.ops.Submit(func() {
		a.mu.Lock()
		client, subs := l.client, l.subscribed
		a.mu.Unlock()

		if client != nil {
			for _, c := range subs {
				if err := client.Unsubscribe(c.char, false); err != nil {
					a.logger.WithError(NormalizeError(err)).WithField("char", c.uuid).Debug("Unsubscribe failed")
				}
			}
			if err := client.CancelConnection(); err != nil {
				a.logger.WithError(NormalizeError(err)).Warn("CancelConnection failed")
			}
		}
		if a.forget(l) {
			a.logger.WithField("id", id).Info("Earpiece disconnected")
			a.queue.Disconnected(id, nil)
		}
	})
	return nil
}

// do runs fn on the link's queue once the link is connected.
func (a *Adapter) do(id device.LinkID, op string, fn func(l *link, client gattClient)) error {
	a.mu.Lock()
	l, ok := a.links[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, device.ErrNotConnected)
	}
	if !l.ops.Submit(func() {
		a.mu.Lock()
		client := l.client
		a.mu.Unlock()
		if client == nil || l.ctx.Err() != nil {
			a.logger.WithFields(logrus.Fields{"id": id, "op": op}).Debug("Dropping operation on inactive link")
			return
		}
		fn(l, client)
	}) {
		return fmt.Errorf("%s %s: %w", op, id, device.ErrNotConnected)
	}
	return nil
}

func (a *Adapter) DiscoverCharacteristics(id device.LinkID, services []device.ServiceSpec) error {
	return a.do(id, "discover", func(l *link, client gattClient) {
		found, err := client.DiscoverServices(nil)
		if err != nil {
			a.queue.DiscoveryFailed(id, NormalizeError(err))
			return
		}

		for _, spec := range services {
			svc := findService(found, spec.UUID)
			if svc == nil {
				a.logger.WithFields(logrus.Fields{"id": id, "service": spec.UUID}).Warn("Service not found")
				continue
			}
			chars, err := client.DiscoverCharacteristics(nil, svc)
			if err != nil {
				a.queue.DiscoveryFailed(id, NormalizeError(err))
				return
			}

			var handles []device.Handle
			for _, c := range chars {
				h := newCharacteristic(c)
				if len(spec.Characteristics) == 0 || containsUUID(spec.Characteristics, h.uuid) {
					handles = append(handles, h)
				}
			}
			a.logger.WithFields(logrus.Fields{
				"id":              id,
				"service":         spec.UUID,
				"characteristics": len(handles),
			}).Debug("Characteristics discovered")
			a.queue.CharacteristicsDiscovered(id, handles)
		}
	})
}

func (a *Adapter) Read(id device.LinkID, h device.Handle) error {
	c, err := own(h)
	if err != nil {
		return err
	}
	return a.do(id, "read", func(_ *link, client gattClient) {
		data, err := client.ReadCharacteristic(c.char)
		a.queue.Value(id, c, data, NormalizeError(err))
	})
}

func (a *Adapter) Write(id device.LinkID, h device.Handle, data []byte) error {
	c, err := own(h)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	return a.do(id, "write", func(_ *link, client gattClient) {
		if err := client.WriteCharacteristic(c.char, payload, false); err != nil {
			a.logger.WithError(NormalizeError(err)).WithFields(logrus.Fields{"id": id, "char": c.uuid}).Warn("Write failed")
		}
	})
}

func (a *Adapter) Subscribe(id device.LinkID, h device.Handle) error {
	c, err := own(h)
	if err != nil {
		return err
	}
	return a.do(id, "subscribe", func(l *link, client gattClient) {
		err := client.Subscribe(c.char, false, func(data []byte) {
			a.queue.Value(id, c, data, nil)
		})
		if err == nil {
			a.mu.Lock()
			l.subscribed = append(l.subscribed, c)
			a.mu.Unlock()
		}
		a.queue.Subscribed(id, c, NormalizeError(err))
	})
}

// Close drops every link, stops the radio and callback delivery.
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
	r := a.radio
	a.radio = nil
	a.mu.Unlock()

	for _, l := range links {
		l.ops.Close()
	}

	var err error
	if r != nil {
		err = NormalizeError(r.Stop())
	}
	a.queue.Close()
	return err
}

func own(h device.Handle) (*Characteristic, error) {
	c, ok := h.(*Characteristic)
	if !ok || c == nil {
		return nil, fmt.Errorf("foreign characteristic handle %T", h)
	}
	return c, nil
}

func findService(services []*ble.Service, uuid string) *ble.Service {
	want := device.NormalizeUUID(uuid)
	for _, s := range services {
		if device.NormalizeUUID(s.UUID.String()) == want {
			return s
		}
	}
	return nil
}

func containsUUID(list []string, uuid string) bool {
	want := device.NormalizeUUID(uuid)
	for _, u := range list {
		if device.NormalizeUUID(u) == want {
			return true
		}
	}
	return false
}
