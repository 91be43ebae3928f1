package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/eegbuds/internal/device"
)

func TestNormalizeUUID(t *testing.T) {
	for in, want := range map[string]string{
		"180a":                                   "180a",
		"0x180A":                                 "180a",
		"0000180a-0000-1000-8000-00805f9b34fb":   "180a",
		"0000180A00001000800000805F9B34FB":       "180a",
		"{0000180a-0000-1000-8000-00805f9b34fb}": "180a",
		" {2a19} ":                               "2a19",
		"0b79fff0-1ed1-2840-a9c3-87c6f6186db3":   device.EEGServiceUUID,
		"not-a-uuid":                             "",
	} {
		assert.Equal(t, want, NormalizeUUID(in), in)
	}
}

func TestLookups(t *testing.T) {
	tests := []struct {
		name   string
		lookup func(string) string
		uuid   string
		want   string
	}{
		{"service short", LookupService, "180f", "Battery Service"},
		{"service sig base", LookupService, "0000180d-0000-1000-8000-00805f9b34fb", "Heart Rate"},
		{"service vendor", LookupService, "{0B79FFF0-1ED1-2840-A9C3-87C6F6186DB3}", "EEG Stream"},
		{"service unknown", LookupService, "ffff", ""},
		{"characteristic battery", LookupCharacteristic, "0x2A19", "Battery Level"},
		{"characteristic mode", LookupCharacteristic, "0b79ffa0-1ed1-2840-a9c3-87c6f6186db3", "EEG Mode"},
		{"characteristic is not a service", LookupService, "2a19", ""},
		{"descriptor cccd", LookupDescriptor, "00002902-0000-1000-8000-00805f9b34fb", "Client Characteristic Configuration"},
		{"descriptor user", LookupDescriptor, "2901", "Characteristic User Descriptor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lookup(tt.uuid))
		})
	}
}

func TestEarpieceProfileIsNamed(t *testing.T) {
	for _, e := range device.Profile {
		assert.NotEmpty(t, LookupCharacteristic(e.UUID), e.Kind.String())
		assert.NotEmpty(t, LookupService(e.Service), e.Kind.String())
	}
	assert.Equal(t, "EEG Samples", LookupCharacteristic("0b79fff6-1ed1-2840-a9c3-87c6f6186db3"))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Device Information", Label("0000180a-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "EEG Stream", Label("0b79fff0-1ed1-2840-a9c3-87c6f6186db3"))
	assert.Equal(t, "12345678", Label("12345678-9abc-def0-1234-56789abcdef0"))
	assert.Equal(t, "ffff", Label("ffff"))
}
