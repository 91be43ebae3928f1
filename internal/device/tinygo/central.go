package tinygo

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/srg/eegbuds/internal/device"
)

// central is the part of bluetooth.Adapter the backend uses. Addresses are
// strings so fakes do not depend on platform specific address types.
type central interface {
	Enable() error
	Scan(serviceUUID string, found func(device.Advertisement)) error
	StopScan() error
	Connect(addr string) (peripheral, error)
	SetConnectHandler(fn func(addr string, connected bool))
}

type peripheral interface {
	DiscoverServices(uuids []string) ([]gattService, error)
	Disconnect() error
}

type gattService interface {
	UUID() string
	DiscoverCharacteristics(uuids []string) ([]gattChar, error)
}

type gattChar interface {
	UUID() string
	Read(buf []byte) (int, error)
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(fn func(buf []byte)) error
}

// btCentral adapts bluetooth.Adapter. Platform addresses are remembered
// from scan results, so only advertised peripherals can be connected.
type btCentral struct {
	adapter *bluetooth.Adapter

	mu   sync.Mutex
	seen map[string]bluetooth.Address
}

func newBTCentral(a *bluetooth.Adapter) *btCentral {
	return &btCentral{adapter: a, seen: map[string]bluetooth.Address{}}
}

func (c *btCentral) Enable() error {
	return c.adapter.Enable()
}

func (c *btCentral) Scan(serviceUUID string, found func(device.Advertisement)) error {
	var want bluetooth.UUID
	filter := serviceUUID != ""
	if filter {
		u, err := parseUUID(serviceUUID)
		if err != nil {
			return err
		}
		want = u
	}

	return c.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		if filter && !r.HasServiceUUID(want) {
			return
		}
		id := r.Address.String()
		c.mu.Lock()
		c.seen[id] = r.Address
		c.mu.Unlock()

		adv := device.Advertisement{
			ID:   device.LinkID(id),
			Name: r.LocalName(),
			RSSI: int(r.RSSI),
		}
		if filter {
			adv.Services = []string{device.NormalizeUUID(serviceUUID)}
		}
		found(adv)
	})
}

func (c *btCentral) StopScan() error {
	return c.adapter.StopScan()
}

// btDevice is satisfied by bluetooth.Device.
type btDevice interface {
	DiscoverServices(uuids []bluetooth.UUID) ([]bluetooth.DeviceService, error)
	Disconnect() error
}

func (c *btCentral) Connect(addr string) (peripheral, error) {
	c.mu.Lock()
	address, ok := c.seen[addr]
	c.mu.Unlock()
	if !ok {
		return nil, &device.NotFoundError{Resource: "link", UUIDs: []string{addr}}
	}

	dev, err := c.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return btPeripheral{dev: dev}, nil
}

func (c *btCentral) SetConnectHandler(fn func(addr string, connected bool)) {
	c.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		fn(d.Address.String(), connected)
	})
}

type btPeripheral struct {
	dev btDevice
}

func (p btPeripheral) DiscoverServices(uuids []string) ([]gattService, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	svcs, err := p.dev.DiscoverServices(filter)
	if err != nil {
		return nil, err
	}
	out := make([]gattService, 0, len(svcs))
	for _, s := range svcs {
		out = append(out, btService{svc: s})
	}
	return out, nil
}

func (p btPeripheral) Disconnect() error {
	return p.dev.Disconnect()
}

type btService struct {
	svc bluetooth.DeviceService
}

func (s btService) UUID() string {
	return device.NormalizeUUID(s.svc.UUID().String())
}

func (s btService) DiscoverCharacteristics(uuids []string) ([]gattChar, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics(filter)
	if err != nil {
		return nil, err
	}
	out := make([]gattChar, 0, len(chars))
	for _, c := range chars {
		out = append(out, &btChar{DeviceCharacteristic: c})
	}
	return out, nil
}

type btChar struct {
	bluetooth.DeviceCharacteristic
}

func (c btChar) UUID() string {
	return device.NormalizeUUID(c.DeviceCharacteristic.UUID().String())
}

func parseUUID(s string) (bluetooth.UUID, error) {
	full := device.ExpandUUID(s)
	if full == "" {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q", s)
	}
	return bluetooth.ParseUUID(full)
}

func parseUUIDs(list []string) ([]bluetooth.UUID, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(list))
	for _, s := range list {
		u, err := parseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
