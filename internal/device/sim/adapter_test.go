package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/packet"
)

type recorder struct {
	device.NopHandler

	mu        sync.Mutex
	found     []device.Advertisement
	connected []device.LinkID
	failed    []error
	dropped   []error
	chars     []device.Handle
	values    map[device.CharacteristicKind][][]byte
	subs      []error
}

func newRecorder() *recorder {
	return &recorder{values: map[device.CharacteristicKind][][]byte{}}
}

func (r *recorder) OnDeviceFound(adv device.Advertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.found = append(r.found, adv)
}

func (r *recorder) OnConnected(id device.LinkID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, id)
}

func (r *recorder) OnConnectFailed(_ device.LinkID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recorder) OnDisconnected(_ device.LinkID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, err)
}

func (r *recorder) OnCharacteristicsDiscovered(_ device.LinkID, chars []device.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chars = append(r.chars, chars...)
}

func (r *recorder) OnSubscribed(_ device.LinkID, _ device.Handle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, err)
}

func (r *recorder) OnValue(_ device.LinkID, h device.Handle, data []byte, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := device.KindForUUID(h.UUID())
	r.values[k] = append(r.values[k], data)
}

func (r *recorder) snapshot(fn func(r *recorder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *recorder) handle(kind device.CharacteristicKind) device.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chars {
		if device.KindForUUID(c.UUID()) == kind {
			return c
		}
	}
	return nil
}

func setup(t *testing.T, eps ...*Earpiece) (*Adapter, *recorder) {
	t.Helper()
	a := New(nil, eps...)
	rec := newRecorder()
	a.SetHandler(rec)
	require.NoError(t, a.Enable())
	t.Cleanup(a.Close)
	return a, rec
}

func TestScan_ReportsEarpieces(t *testing.T) {
	a, rec := setup(t, NewEarpiece("l", "EEG-Ear L"), NewEarpiece("r", "EEG-Ear R"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Scan(ctx, "180A"))

	assert.Eventually(t, func() bool {
		n := 0
		rec.snapshot(func(r *recorder) { n = len(r.found) })
		return n >= 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, a.StopScan())

	rec.snapshot(func(r *recorder) {
		assert.Equal(t, device.LinkID("l"), r.found[0].ID)
		assert.Equal(t, "EEG-Ear R", r.found[1].Name)
	})
}

func TestScan_RequiresEnable(t *testing.T) {
	a := New(nil, NewEarpiece("l", "L"))
	defer a.Close()
	assert.ErrorIs(t, a.Scan(context.Background(), "180a"), device.ErrBluetoothOff)
}

func TestConnectAndDiscover(t *testing.T) {
	ep := NewEarpiece("l", "EEG-Ear L")
	ep.Omit = []device.CharacteristicKind{device.KindSoftwareRev}
	a, rec := setup(t, ep)

	require.NoError(t, a.Connect("l"))
	assert.ErrorIs(t, a.Connect("l"), device.ErrAlreadyConnected)
	require.NoError(t, a.DiscoverCharacteristics("l", device.Services()))

	assert.Eventually(t, func() bool {
		n := 0
		rec.snapshot(func(r *recorder) { n = len(r.chars) })
		return n == len(device.Profile)-1
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, rec.handle(device.KindSoftwareRev))
	require.NoError(t, a.Read("l", rec.handle(device.KindSerialNumber)))
	require.NoError(t, a.Read("l", rec.handle(device.KindBattery)))

	assert.Eventually(t, func() bool {
		ok := false
		rec.snapshot(func(r *recorder) {
			ok = len(r.values[device.KindSerialNumber]) == 1 && len(r.values[device.KindBattery]) == 1
		})
		return ok
	}, time.Second, 5*time.Millisecond)

	rec.snapshot(func(r *recorder) {
		assert.Equal(t, "SIM-l", string(r.values[device.KindSerialNumber][0]))
		assert.Equal(t, []byte{100}, r.values[device.KindBattery][0])
	})
}

func TestConnect_Failures(t *testing.T) {
	bad := NewEarpiece("bad", "EEG-Ear L")
	bad.FailConnect = errors.New("peer rejected")
	a, rec := setup(t, bad)

	require.NoError(t, a.Connect("bad"))
	require.NoError(t, a.Connect("missing"))

	assert.Eventually(t, func() bool {
		n := 0
		rec.snapshot(func(r *recorder) { n = len(r.failed) })
		return n == 2
	}, time.Second, 5*time.Millisecond)

	rec.snapshot(func(r *recorder) {
		assert.EqualError(t, r.failed[0], "peer rejected")
		var nf *device.NotFoundError
		assert.ErrorAs(t, r.failed[1], &nf)
	})
	assert.False(t, a.Connected("bad"))
}

func TestStreaming_StartStop(t *testing.T) {
	ep := NewEarpiece("l", "EEG-Ear L")
	ep.FrameInterval = time.Millisecond
	a, rec := setup(t, ep)

	require.NoError(t, a.Connect("l"))
	require.NoError(t, a.DiscoverCharacteristics("l", device.Services()))
	require.Eventually(t, func() bool { return rec.handle(device.KindMode) != nil }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Subscribe("l", rec.handle(device.KindStream)))
	require.NoError(t, a.Write("l", rec.handle(device.KindMode), packet.StartCommand()))
	assert.True(t, a.Streaming("l"))

	assert.Eventually(t, func() bool {
		n := 0
		rec.snapshot(func(r *recorder) { n = len(r.values[device.KindStream]) })
		return n >= 5
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Write("l", rec.handle(device.KindMode), packet.StopCommand()))
	assert.False(t, a.Streaming("l"))

	rec.snapshot(func(r *recorder) {
		f, err := packet.DecodeFrame(r.values[device.KindStream][0])
		require.NoError(t, err)
		assert.True(t, f.IsTick(), "first frame carries index 0")
	})

	writes := a.Writes("l")
	require.Len(t, writes, 2)
	assert.True(t, packet.IsStartCommand(writes[0]))
	assert.True(t, packet.IsStopCommand(writes[1]))
}

func TestNotify_RequiresSubscription(t *testing.T) {
	a, _ := setup(t, NewEarpiece("l", "EEG-Ear L"))
	require.NoError(t, a.Connect("l"))

	assert.Error(t, a.Notify("l", device.KindStream, make([]byte, packet.FrameSize)))
	assert.ErrorIs(t, a.Notify("zz", device.KindStream, nil), device.ErrNotConnected)
}

func TestDropLink(t *testing.T) {
	a, rec := setup(t, NewEarpiece("l", "EEG-Ear L"))
	require.NoError(t, a.Connect("l"))

	reason := errors.New("supervision timeout")
	a.DropLink("l", reason)
	require.NoError(t, a.Disconnect("l"), "second disconnect is a no-op")

	assert.Eventually(t, func() bool {
		n := 0
		rec.snapshot(func(r *recorder) { n = len(r.dropped) })
		return n == 1
	}, time.Second, 5*time.Millisecond)
	rec.snapshot(func(r *recorder) { assert.Equal(t, reason, r.dropped[0]) })
	assert.False(t, a.Connected("l"))
}
