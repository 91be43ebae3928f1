package sim

import (
	"math"
	"time"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/packet"
)

// FramesPerSecond is the stream rate of a real earpiece; index 0 repeats once
// per second.
const FramesPerSecond = 250

// Earpiece describes one simulated peripheral.
type Earpiece struct {
	ID   device.LinkID
	Name string
	RSSI int

	// Info holds the device-information strings. Missing kinds read as "".
	Info map[device.CharacteristicKind]string
	// Raw bytes returned for a kind instead of the encoded Info / Battery value.
	RawValues map[device.CharacteristicKind][]byte

	Battery uint8
	// Status is the raw wear code placed in tick frames.
	Status uint8

	// Omit hides characteristics from discovery.
	Omit []device.CharacteristicKind
	// ConnectDelay postpones the connected callback.
	ConnectDelay time.Duration
	// FailConnect makes Connect report OnConnectFailed with this error.
	FailConnect error
	// FailDiscovery makes discovery report OnDiscoveryFailed with this error.
	FailDiscovery error
	// FailSubscribe makes subscriptions to the given kinds fail.
	FailSubscribe map[device.CharacteristicKind]error

	// FrameInterval overrides the streaming period. Zero means 1/FramesPerSecond.
	FrameInterval time.Duration
	// Amplitude and Frequency shape the generated sine wave.
	Amplitude float64
	Frequency float64
}

// NewEarpiece returns an earpiece with plausible defaults.
func NewEarpiece(id device.LinkID, name string) *Earpiece {
	return &Earpiece{
		ID:   id,
		Name: name,
		RSSI: -50,
		Info: map[device.CharacteristicKind]string{
			device.KindManufacturer: "eegbuds",
			device.KindModelNumber:  "EB-1",
			device.KindSerialNumber: "SIM-" + string(id),
			device.KindHardwareRev:  "1.0",
			device.KindFirmwareRev:  "1.0.0",
			device.KindSoftwareRev:  "1.0.0",
		},
		Battery:   100,
		Amplitude: 1000,
		Frequency: 10,
	}
}

func (e *Earpiece) omits(kind device.CharacteristicKind) bool {
	for _, k := range e.Omit {
		if k == kind {
			return true
		}
	}
	return false
}

func (e *Earpiece) interval() time.Duration {
	if e.FrameInterval > 0 {
		return e.FrameInterval
	}
	return time.Second / FramesPerSecond
}

// value returns what a read of kind yields.
func (e *Earpiece) value(kind device.CharacteristicKind) ([]byte, bool) {
	if raw, ok := e.RawValues[kind]; ok {
		return append([]byte(nil), raw...), true
	}
	switch {
	case kind.IsInfo():
		return []byte(e.Info[kind]), true
	case kind == device.KindBattery:
		return []byte{e.Battery}, true
	case kind == device.KindMode:
		return make([]byte, packet.CommandSize), true
	default:
		return nil, false
	}
}

// frame builds the frame with sequence number seq.
func (e *Earpiece) frame(seq uint64) packet.Frame {
	f := packet.Frame{
		Index:  uint8(seq % FramesPerSecond),
		Status: e.Status,
	}
	step := 1.0 / float64(FramesPerSecond*packet.SamplesPerBlock)
	for i := range f.Left {
		t := float64(seq*packet.SamplesPerBlock+uint64(i)) * step
		v := e.Amplitude * math.Sin(2*math.Pi*e.Frequency*t)
		f.Left[i] = clampSample(v)
		f.Right[i] = clampSample(-v)
	}
	return f
}

func clampSample(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
