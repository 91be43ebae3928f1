package device

import "fmt"

// CharacteristicKind is the role a characteristic plays in the EEG profile.
type CharacteristicKind int

const (
	KindUnknown CharacteristicKind = iota
	KindMode
	KindStatus
	KindStream
	KindBattery
	KindManufacturer
	KindModelNumber
	KindSerialNumber
	KindHardwareRev
	KindFirmwareRev
	KindSoftwareRev
)

var kindNames = map[CharacteristicKind]string{
	KindMode:         "mode",
	KindStatus:       "status",
	KindStream:       "stream",
	KindBattery:      "battery",
	KindManufacturer: "manufacturer",
	KindModelNumber:  "model_number",
	KindSerialNumber: "serial_number",
	KindHardwareRev:  "hardware_revision",
	KindFirmwareRev:  "firmware_revision",
	KindSoftwareRev:  "software_revision",
}

func (k CharacteristicKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsInfo reports whether k is one of the six device-information strings.
func (k CharacteristicKind) IsInfo() bool {
	return k >= KindManufacturer && k <= KindSoftwareRev
}

// InfoKinds lists the device-information kinds in display order.
var InfoKinds = []CharacteristicKind{
	KindManufacturer,
	KindModelNumber,
	KindSerialNumber,
	KindHardwareRev,
	KindFirmwareRev,
	KindSoftwareRev,
}

// ReadKinds are read once after discovery.
var ReadKinds = append(append([]CharacteristicKind{}, InfoKinds...), KindBattery)

// MandatoryKinds must all be discovered before a role subscribes.
var MandatoryKinds = append(append([]CharacteristicKind{}, InfoKinds...), KindMode, KindStatus, KindStream)

// SubscribeKinds are subscribed once every mandatory kind is present.
var SubscribeKinds = []CharacteristicKind{KindStatus, KindStream}

// Service UUIDs of the earpiece, normalized.
const (
	DeviceInfoServiceUUID = "180a"
	BatteryServiceUUID    = "180f"
	EEGServiceUUID        = "0b79fff01ed12840a9c387c6f6186db3"
)

// Characteristic UUIDs of the earpiece, normalized.
const (
	ManufacturerUUID = "2a29"
	ModelNumberUUID  = "2a24"
	SerialNumberUUID = "2a25"
	FirmwareRevUUID  = "2a26"
	HardwareRevUUID  = "2a27"
	SoftwareRevUUID  = "2a28"
	BatteryLevelUUID = "2a19"
	ModeUUID         = "0b79ffa01ed12840a9c387c6f6186db3"
	StatusUUID       = "0b79ffb01ed12840a9c387c6f6186db3"
	StreamUUID       = "0b79fff61ed12840a9c387c6f6186db3"
)

// ScanServiceUUID is the service advertisements are filtered on.
const ScanServiceUUID = DeviceInfoServiceUUID

// ProfileEntry binds a characteristic UUID to its kind and owning service.
type ProfileEntry struct {
	Kind    CharacteristicKind
	Service string
	UUID    string
}

// Profile is the fixed GATT layout of an earpiece, in discovery order.
var Profile = []ProfileEntry{
	{KindManufacturer, DeviceInfoServiceUUID, ManufacturerUUID},
	{KindModelNumber, DeviceInfoServiceUUID, ModelNumberUUID},
	{KindSerialNumber, DeviceInfoServiceUUID, SerialNumberUUID},
	{KindHardwareRev, DeviceInfoServiceUUID, HardwareRevUUID},
	{KindFirmwareRev, DeviceInfoServiceUUID, FirmwareRevUUID},
	{KindSoftwareRev, DeviceInfoServiceUUID, SoftwareRevUUID},
	{KindBattery, BatteryServiceUUID, BatteryLevelUUID},
	{KindMode, EEGServiceUUID, ModeUUID},
	{KindStatus, EEGServiceUUID, StatusUUID},
	{KindStream, EEGServiceUUID, StreamUUID},
}

var kindByUUID = func() map[string]CharacteristicKind {
	m := make(map[string]CharacteristicKind, len(Profile))
	for _, e := range Profile {
		m[e.UUID] = e.Kind
	}
	return m
}()

// KindForUUID resolves a characteristic UUID in any accepted notation.
func KindForUUID(uuid string) CharacteristicKind {
	return kindByUUID[NormalizeUUID(uuid)]
}

// UUIDForKind returns the normalized characteristic UUID of k.
func UUIDForKind(k CharacteristicKind) string {
	for _, e := range Profile {
		if e.Kind == k {
			return e.UUID
		}
	}
	return ""
}

// Services returns the discovery request covering the whole profile.
func Services() []ServiceSpec {
	var specs []ServiceSpec
	index := map[string]int{}
	for _, e := range Profile {
		i, ok := index[e.Service]
		if !ok {
			i = len(specs)
			index[e.Service] = i
			specs = append(specs, ServiceSpec{UUID: e.Service})
		}
		specs[i].Characteristics = append(specs[i].Characteristics, e.UUID)
	}
	return specs
}
