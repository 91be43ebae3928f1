package goble

import (
	"context"

	"github.com/go-ble/ble"

	"github.com/srg/eegbuds/internal/device"
)

// gattClient is the part of ble.Client the adapter uses.
type gattClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// radio is the part of ble.Device the adapter uses.
type radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, addr string) (gattClient, error)
	Stop() error
}

var _ gattClient = ble.Client(nil)

type bleRadio struct {
	dev ble.Device
}

func (r bleRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return r.dev.Scan(ctx, allowDup, h)
}

func (r bleRadio) Dial(ctx context.Context, addr string) (gattClient, error) {
	c, err := r.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r bleRadio) Stop() error {
	return r.dev.Stop()
}

// Characteristic is the Handle produced by this backend.
type Characteristic struct {
	uuid string
	char *ble.Characteristic
}

func (c *Characteristic) UUID() string { return c.uuid }

func newCharacteristic(c *ble.Characteristic) *Characteristic {
	return &Characteristic{uuid: device.NormalizeUUID(c.UUID.String()), char: c}
}

func toAdvertisement(adv ble.Advertisement) device.Advertisement {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, device.NormalizeUUID(u.String()))
	}
	return device.Advertisement{
		ID:       device.LinkID(adv.Addr().String()),
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		Services: services,
	}
}
