package main

import (
	"errors"
	"fmt"

	"github.com/srg/eegbuds/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates an earpiece dropped while a command was
	// running. This is distinct from device.ErrNotConnected, which indicates
	// an attempt to use a link that was never up.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoEarpieces is returned when discovery could not find a side.
	ErrNoEarpieces = errors.New("earpieces not found")
)

// FormatUserError turns wrapped backend errors into a one-line hint.
func FormatUserError(err error) string {
	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is off or unavailable; enable it and retry"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (try --backend=sim to run without hardware)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (is the earpiece charged and in range?)", err)
	case errors.Is(err, ErrNoEarpieces):
		return fmt.Sprintf("%v; pass link ids explicitly or set left/right in the config", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("%v (earpiece firmware may not match this client)", nf)
	default:
		return err.Error()
	}
}
