// Package bledb names the GATT services, characteristics and descriptors an
// earpiece (or a neighbouring device in a scan) is likely to expose.
//
// The table is a curated subset of the Bluetooth SIG assigned numbers plus
// the vendor EEG profile. Unknown UUIDs resolve to "".
package bledb

import (
	"strings"

	"github.com/srg/eegbuds/internal/device"
)

// nusServiceUUID is the Nordic UART service many dev boards advertise.
const nusServiceUUID = "6e400001b5a3f393e0a9e50e24dcca9e"

var services = map[string]string{
	"1800":                "Generic Access",
	"1801":                "Generic Attribute",
	"180a":                "Device Information",
	"180d":                "Heart Rate",
	"180f":                "Battery Service",
	"1812":                "Human Interface Device",
	"fe59":                "Nordic DFU",
	nusServiceUUID:        "Nordic UART Service",
	device.EEGServiceUUID: "EEG Stream",
}

var characteristics = map[string]string{
	"2a00":            "Device Name",
	"2a01":            "Appearance",
	"2a05":            "Service Changed",
	"2a19":            "Battery Level",
	"2a24":            "Model Number String",
	"2a25":            "Serial Number String",
	"2a26":            "Firmware Revision String",
	"2a27":            "Hardware Revision String",
	"2a28":            "Software Revision String",
	"2a29":            "Manufacturer Name String",
	"2a37":            "Heart Rate Measurement",
	"2a38":            "Body Sensor Location",
	device.ModeUUID:   "EEG Mode",
	device.StatusUUID: "EEG Status",
	device.StreamUUID: "EEG Samples",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

// NormalizeUUID accepts the same notations as device.NormalizeUUID and
// additionally strips surrounding braces.
func NormalizeUUID(uuid string) string {
	s := strings.TrimSpace(uuid)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	return device.NormalizeUUID(s)
}

// LookupService returns the service name for uuid.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the characteristic name for uuid.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the descriptor name for uuid.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// Label returns the service name for uuid, falling back to the shortened
// UUID when the service is not known.
func Label(uuid string) string {
	if name := LookupService(uuid); name != "" {
		return name
	}
	return device.ShortenUUID(NormalizeUUID(uuid))
}
