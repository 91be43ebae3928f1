package headset

import (
	"fmt"

	"github.com/srg/eegbuds/internal/aggregate"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/packet"
)

// Re-exported so consumers only import this package.
type (
	Role               = device.Role
	LinkID             = device.LinkID
	AdapterState       = device.AdapterState
	CharacteristicKind = device.CharacteristicKind
	WearingStatus      = aggregate.WearingStatus
	Samples            = packet.Samples
)

const (
	Left  = device.Left
	Right = device.Right

	Well      = aggregate.Well
	LeftLost  = aggregate.LeftLost
	RightLost = aggregate.RightLost
	BothLost  = aggregate.BothLost
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventDeviceFound EventKind = iota + 1
	EventConnected
	EventDisconnected
	EventConnectFailed
	EventSetNotifyReady
	EventInfo
	EventWearStatus
	EventSamples
	EventBattery
	EventAdapterState
)

func (k EventKind) String() string {
	switch k {
	case EventDeviceFound:
		return "device_found"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectFailed:
		return "connect_failed"
	case EventSetNotifyReady:
		return "set_notify_ready"
	case EventInfo:
		return "info"
	case EventWearStatus:
		return "wear_status"
	case EventSamples:
		return "samples"
	case EventBattery:
		return "battery"
	case EventAdapterState:
		return "adapter_state"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a flat record of everything the session reports. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind

	// EventDeviceFound
	Name string
	ID   LinkID
	RSSI int

	// EventConnected, EventInfo
	Role Role

	// EventConnectFailed
	Reason string

	// EventInfo
	InfoKind CharacteristicKind
	Text     string

	// EventWearStatus
	Status WearingStatus

	// EventSamples
	Left  Samples
	Right Samples

	// EventBattery
	LeftBattery  uint8
	RightBattery uint8

	// EventAdapterState
	State AdapterState
}

func (e Event) String() string {
	switch e.Kind {
	case EventDeviceFound:
		return fmt.Sprintf("%s name=%q id=%s", e.Kind, e.Name, e.ID)
	case EventConnected:
		return fmt.Sprintf("%s role=%s", e.Kind, e.Role)
	case EventConnectFailed:
		return fmt.Sprintf("%s reason=%q", e.Kind, e.Reason)
	case EventInfo:
		return fmt.Sprintf("%s role=%s %s=%q", e.Kind, e.Role, e.InfoKind, e.Text)
	case EventWearStatus:
		return fmt.Sprintf("%s %s", e.Kind, e.Status)
	case EventSamples:
		return fmt.Sprintf("%s left=%v right=%v", e.Kind, e.Left, e.Right)
	case EventBattery:
		return fmt.Sprintf("%s left=%d right=%d", e.Kind, e.LeftBattery, e.RightBattery)
	case EventAdapterState:
		return fmt.Sprintf("%s %s", e.Kind, e.State)
	default:
		return e.Kind.String()
	}
}
