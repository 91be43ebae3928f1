package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/eegbuds/internal/device"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), device.ErrTimeout},
		{"central manager", errors.New("central manager has invalid state: have=4 want=5"), device.ErrBluetoothOff},
		{"turned off", errors.New("Bluetooth is turned off"), device.ErrBluetoothOff},
		{"already connected", errors.New("device already connected"), device.ErrAlreadyConnected},
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"disconnected", errors.New("peripheral disconnected"), device.ErrNotConnected},
		{"not initialized", errors.New("connection is not initialized"), device.ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.in.Error())
		})
	}
}

func TestNormalizeError_Passthrough(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))

	other := errors.New("att: insufficient authentication")
	assert.Equal(t, other, NormalizeError(other))
}
