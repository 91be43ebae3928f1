package device

import (
	"context"
	"fmt"
	"strings"
)

// Role is the logical identity of one earpiece in a session.
type Role int

const (
	Left Role = iota
	Right
)

// Roles lists every role in canonical order.
var Roles = [...]Role{Left, Right}

func (r Role) String() string {
	switch r {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == Left {
		return Right
	}
	return Left
}

// Valid reports whether r is Left or Right.
func (r Role) Valid() bool {
	return r == Left || r == Right
}

// ParseRole accepts "left"/"l" and "right"/"r", case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	default:
		return 0, fmt.Errorf("invalid role %q: use left or right", s)
	}
}

// LinkID identifies a physical peripheral. Its format is backend specific
// (MAC address, CoreBluetooth UUID, simulator name); the core treats it as opaque.
type LinkID string

// AdapterState mirrors the power/authorization state of the local radio.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterResetting
	AdapterUnsupported
	AdapterUnauthorized
	AdapterPoweredOff
	AdapterPoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case AdapterResetting:
		return "resetting"
	case AdapterUnsupported:
		return "unsupported"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterPoweredOff:
		return "powered_off"
	case AdapterPoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Handle references a discovered characteristic. Handles are only valid for
// the connection that produced them.
type Handle interface {
	// UUID returns the characteristic UUID in normalized form.
	UUID() string
}

// Advertisement is a scan result.
type Advertisement struct {
	ID       LinkID
	Name     string
	RSSI     int
	Services []string
}

// ServiceSpec scopes characteristic discovery to one service.
type ServiceSpec struct {
	UUID            string
	Characteristics []string
}

// LinkAdapter is the capability the session core consumes. Every method
// returns as soon as the request is issued; outcomes are reported through
// the Handler installed with SetHandler.
type LinkAdapter interface {
	// SetHandler installs the callback receiver. Must be called before Enable.
	SetHandler(h Handler)
	// Enable powers on the radio and reports the state via OnAdapterState.
	Enable() error
	// Scan reports advertisements containing serviceUUID through OnDeviceFound
	// until ctx is done or StopScan is called.
	Scan(ctx context.Context, serviceUUID string) error
	StopScan() error
	// Connect reports OnConnected or OnConnectFailed.
	Connect(id LinkID) error
	// Disconnect reports OnDisconnected. Disconnecting an unknown link is a no-op.
	Disconnect(id LinkID) error
	// DiscoverCharacteristics reports OnCharacteristicsDiscovered (possibly
	// once per service) or OnDiscoveryFailed.
	DiscoverCharacteristics(id LinkID, services []ServiceSpec) error
	// Read reports OnValue once.
	Read(id LinkID, h Handle) error
	Write(id LinkID, h Handle, data []byte) error
	// Subscribe reports OnSubscribed, then OnValue per notification.
	Subscribe(id LinkID, h Handle) error
}

// Handler receives LinkAdapter results. Adapters invoke Handler methods from
// one goroutine at a time.
type Handler interface {
	OnAdapterState(state AdapterState)
	OnDeviceFound(adv Advertisement)
	OnConnected(id LinkID)
	OnConnectFailed(id LinkID, err error)
	OnDisconnected(id LinkID, err error)
	OnCharacteristicsDiscovered(id LinkID, chars []Handle)
	OnDiscoveryFailed(id LinkID, err error)
	OnSubscribed(id LinkID, h Handle, err error)
	OnValue(id LinkID, h Handle, data []byte, err error)
}

// NopHandler implements Handler with no-ops. Embed it to override a subset.
type NopHandler struct{}

func (NopHandler) OnAdapterState(AdapterState) {}
func (NopHandler) OnDeviceFound(Advertisement) {}
func (NopHandler) OnConnected(LinkID) {}
func (NopHandler) OnConnectFailed(LinkID, error) {}
func (NopHandler) OnDisconnected(LinkID, error) {}
func (NopHandler) OnCharacteristicsDiscovered(LinkID, []Handle) {}
func (NopHandler) OnDiscoveryFailed(LinkID, error) {}
func (NopHandler) OnSubscribed(LinkID, Handle, error) {}
func (NopHandler) OnValue(LinkID, Handle, []byte, error) {}

var _ Handler = NopHandler{}
