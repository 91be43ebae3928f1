package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name  string
		in    error
		state ConnectionState
	}{
		{"not connected", errors.New("Device Not Connected"), NotConnected},
		{"already connected", errors.New("device already connected"), AlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), NotInitialized},
		{"powered off", errors.New("adapter is powered off"), PoweredOff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.in)
			assert.True(t, IsConnectionState(err, tt.state), err.Error())
			assert.Contains(t, err.Error(), tt.in.Error())
		})
	}

	other := errors.New("att: insufficient authentication")
	assert.Same(t, other, NormalizeError(other))
	assert.NoError(t, NormalizeError(nil))
}

func TestConnectionError_Is(t *testing.T) {
	err := &ConnectionError{State: NotConnected, Msg: "left"}
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, "not_connected: left", err.Error())
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "link not found", (&NotFoundError{Resource: "link"}).Error())
	assert.Equal(t, `link "sim-l" not found`, (&NotFoundError{Resource: "link", UUIDs: []string{"sim-l"}}).Error())
	assert.Equal(t,
		`characteristic "2a19" not found in service "180f"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a19"}}).Error())
}
