package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/eegbuds/internal/device"
)

// MockAdvertisement implements ble.Advertisement for testing
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	return args.Get(0).([]ble.ServiceData)
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) TxPowerLevel() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) RSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	return args.Get(0).(ble.Addr)
}

func newAdv(addr, name string, rssi int, services ...string) *MockAdvertisement {
	uuids := make([]ble.UUID, 0, len(services))
	for _, s := range services {
		uuids = append(uuids, ble.MustParse(s))
	}
	adv := &MockAdvertisement{}
	adv.On("Addr").Return(ble.NewAddr(addr))
	adv.On("LocalName").Return(name)
	adv.On("RSSI").Return(rssi)
	adv.On("Services").Return(uuids)
	return adv
}

type mockClient struct {
	mock.Mock
	disconnected chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{disconnected: make(chan struct{})}
}

func (m *mockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	s, _ := args.Get(0).([]*ble.Service)
	return s, args.Error(1)
}

func (m *mockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	c, _ := args.Get(0).([]*ble.Characteristic)
	return c, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

type mockRadio struct {
	mock.Mock
}

func (m *mockRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *mockRadio) Dial(ctx context.Context, addr string) (gattClient, error) {
	args := m.Called(ctx, addr)
	c, _ := args.Get(0).(gattClient)
	return c, args.Error(1)
}

func (m *mockRadio) Stop() error {
	return m.Called().Error(0)
}

// events records handler callbacks as short strings.
type events struct {
	device.NopHandler

	mu     sync.Mutex
	log    []string
	found  []device.Advertisement
	chars  []device.Handle
	values [][]byte
	errs   []error
}

func (e *events) add(s string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

func (e *events) OnAdapterState(s device.AdapterState) { e.add("state:"+s.String(), nil) }
func (e *events) OnConnected(device.LinkID) { e.add("connected", nil) }
func (e *events) OnConnectFailed(_ device.LinkID, err error) {
	e.add("connect-failed", err)
}
func (e *events) OnDisconnected(_ device.LinkID, err error) { e.add("disconnected", err) }
func (e *events) OnDiscoveryFailed(_ device.LinkID, err error) {
	e.add("discovery-failed", err)
}
func (e *events) OnSubscribed(_ device.LinkID, _ device.Handle, err error) {
	e.add("subscribed", err)
}

func (e *events) OnDeviceFound(adv device.Advertisement) {
	e.mu.Lock()
	e.found = append(e.found, adv)
	e.mu.Unlock()
	e.add("found", nil)
}

func (e *events) OnCharacteristicsDiscovered(_ device.LinkID, chars []device.Handle) {
	e.mu.Lock()
	e.chars = append(e.chars, chars...)
	e.mu.Unlock()
	e.add("discovered", nil)
}

func (e *events) OnValue(_ device.LinkID, _ device.Handle, data []byte, err error) {
	e.mu.Lock()
	e.values = append(e.values, data)
	e.mu.Unlock()
	e.add("value", err)
}

func (e *events) has(s string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.log {
		if l == s {
			return true
		}
	}
	return false
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

const earpiece = device.LinkID("AA:BB:CC:DD:EE:01")

func newTestAdapter(t *testing.T, r radio) (*Adapter, *events) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	a := New(logger)
	a.newRadio = func() (radio, error) { return r, nil }
	ev := &events{}
	a.SetHandler(ev)
	t.Cleanup(func() { _ = a.Close() })
	return a, ev
}

func connected(t *testing.T, client *mockClient) (*Adapter, *events, *mockRadio) {
	t.Helper()
	r := &mockRadio{}
	r.On("Dial", mock.Anything, string(earpiece)).Return(client, nil)
	r.On("Stop").Return(nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()

	a, ev := newTestAdapter(t, r)
	require.NoError(t, a.Connect(earpiece))
	require.Eventually(t, func() bool { return ev.has("connected") }, time.Second, time.Millisecond)
	return a, ev, r
}

func TestEnable_ReportsPowerState(t *testing.T) {
	r := &mockRadio{}
	r.On("Stop").Return(nil)
	a, ev := newTestAdapter(t, r)

	require.NoError(t, a.Enable())
	require.NoError(t, a.Enable(), "enable is idempotent")
	assert.Eventually(t, func() bool { return ev.has("state:powered_on") }, time.Second, time.Millisecond)
	assert.Len(t, ev.snapshot(), 1)
}

func TestEnable_RadioFailure(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		state string
	}{
		{"bluetooth off", errors.New("central manager has invalid state: 4"), "state:powered_off"},
		{"no adapter", errors.New("can't init hci: no devices available"), "state:unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ev := newTestAdapter(t, nil)
			a.newRadio = func() (radio, error) { return nil, tt.err }

			err := a.Enable()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.err.Error())
			assert.Eventually(t, func() bool { return ev.has(tt.state) }, time.Second, time.Millisecond)
		})
	}
}

func TestScan_FiltersByService(t *testing.T) {
	r := &mockRadio{}
	r.On("Stop").Return(nil)
	r.On("Scan", mock.Anything, true, mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(2).(ble.AdvHandler)
		h(newAdv("aa:bb:cc:dd:ee:01", "Buds L", -40, "180A", "180F"))
		h(newAdv("aa:bb:cc:dd:ee:02", "Watch", -70, "180D"))
		h(newAdv("aa:bb:cc:dd:ee:03", "Buds R", -55, "0000180a-0000-1000-8000-00805f9b34fb"))
		<-args.Get(0).(context.Context).Done()
	}).Return(context.Canceled)

	a, ev := newTestAdapter(t, r)
	require.NoError(t, a.Scan(context.Background(), device.ScanServiceUUID))

	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.found) == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, a.StopScan())

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, "Buds L", ev.found[0].Name)
	assert.Equal(t, -40, ev.found[0].RSSI)
	assert.Contains(t, ev.found[0].Services, "180a")
	assert.Equal(t, "Buds R", ev.found[1].Name)
}

func TestConnect_Success(t *testing.T) {
	client := newMockClient()
	a, _, _ := connected(t, client)

	err := a.Connect(earpiece)
	assert.ErrorIs(t, err, device.ErrAlreadyConnected)
}

func TestConnect_DialFailure(t *testing.T) {
	r := &mockRadio{}
	r.On("Stop").Return(nil)
	r.On("Dial", mock.Anything, string(earpiece)).Return(nil, context.DeadlineExceeded)

	a, ev := newTestAdapter(t, r)
	require.NoError(t, a.Connect(earpiece))
	require.Eventually(t, func() bool { return ev.has("connect-failed") }, time.Second, time.Millisecond)

	ev.mu.Lock()
	assert.ErrorIs(t, ev.errs[0], device.ErrTimeout)
	ev.mu.Unlock()

	// the failed link is forgotten, so a retry is accepted
	assert.NoError(t, a.Connect(earpiece))
}

func TestDisconnect(t *testing.T) {
	client := newMockClient()
	a, ev, _ := connected(t, client)

	require.NoError(t, a.Disconnect(earpiece))
	require.Eventually(t, func() bool { return ev.has("disconnected") }, time.Second, time.Millisecond)
	client.AssertCalled(t, "CancelConnection")

	ev.mu.Lock()
	assert.Empty(t, ev.errs, "requested disconnect carries no error")
	ev.mu.Unlock()

	assert.NoError(t, a.Disconnect(earpiece), "unknown link is a no-op")
	assert.ErrorIs(t, a.Read(earpiece, &Characteristic{uuid: "2a19"}), device.ErrNotConnected)
}

func TestLinkLoss(t *testing.T) {
	client := newMockClient()
	_, ev, _ := connected(t, client)

	close(client.disconnected)
	require.Eventually(t, func() bool { return ev.has("disconnected") }, time.Second, time.Millisecond)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	require.Len(t, ev.errs, 1)
	assert.ErrorIs(t, ev.errs[0], device.ErrNotConnected)
}

func TestDiscoverCharacteristics(t *testing.T) {
	info := &ble.Service{UUID: ble.MustParse("180a")}
	battery := &ble.Service{UUID: ble.MustParse("180f")}
	other := &ble.Service{UUID: ble.MustParse("1800")}
	model := &ble.Characteristic{UUID: ble.MustParse("2a24")}
	vendor := &ble.Characteristic{UUID: ble.MustParse("2a50")}
	level := &ble.Characteristic{UUID: ble.MustParse("2a19")}

	client := newMockClient()
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{other, info, battery}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, info).Return([]*ble.Characteristic{model, vendor}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, battery).Return([]*ble.Characteristic{level}, nil)
	a, ev, _ := connected(t, client)

	err := a.DiscoverCharacteristics(earpiece, []device.ServiceSpec{
		{UUID: "180a", Characteristics: []string{"2a24"}},
		{UUID: "0000180f-0000-1000-8000-00805f9b34fb"},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.chars) == 2
	}, time.Second, time.Millisecond)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, "2a24", ev.chars[0].UUID())
	assert.Equal(t, "2a19", ev.chars[1].UUID())
	client.AssertNotCalled(t, "DiscoverCharacteristics", mock.Anything, other)
}

func TestDiscoverCharacteristics_Failure(t *testing.T) {
	client := newMockClient()
	client.On("DiscoverServices", mock.Anything).Return(nil, errors.New("device not connected"))
	a, ev, _ := connected(t, client)

	require.NoError(t, a.DiscoverCharacteristics(earpiece, device.Services()))
	require.Eventually(t, func() bool { return ev.has("discovery-failed") }, time.Second, time.Millisecond)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.ErrorIs(t, ev.errs[0], device.ErrNotConnected)
}

func TestReadWriteSubscribe(t *testing.T) {
	level := &ble.Characteristic{UUID: ble.MustParse("2a19")}
	h := newCharacteristic(level)

	client := newMockClient()
	client.On("ReadCharacteristic", level).Return([]byte{87}, nil)
	client.On("WriteCharacteristic", level, []byte{1, 2}, false).Return(nil)
	client.On("Subscribe", level, false, mock.Anything).Run(func(args mock.Arguments) {
		notify := args.Get(2).(ble.NotificationHandler)
		go notify([]byte{42})
	}).Return(nil)
	client.On("Unsubscribe", level, false).Return(nil)
	a, ev, _ := connected(t, client)

	require.NoError(t, a.Read(earpiece, h))
	require.NoError(t, a.Write(earpiece, h, []byte{1, 2}))
	require.NoError(t, a.Subscribe(earpiece, h))

	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.values) == 2
	}, time.Second, time.Millisecond)
	assert.True(t, ev.has("subscribed"))

	ev.mu.Lock()
	assert.Equal(t, []byte{87}, ev.values[0])
	assert.Equal(t, []byte{42}, ev.values[1])
	ev.mu.Unlock()

	require.NoError(t, a.Disconnect(earpiece))
	require.Eventually(t, func() bool { return ev.has("disconnected") }, time.Second, time.Millisecond)
	client.AssertCalled(t, "Unsubscribe", level, false)
	client.AssertCalled(t, "WriteCharacteristic", level, []byte{1, 2}, false)
}

type foreignHandle struct{}

func (foreignHandle) UUID() string { return "2a19" }

func TestForeignHandleRejected(t *testing.T) {
	client := newMockClient()
	a, _, _ := connected(t, client)

	assert.Error(t, a.Read(earpiece, foreignHandle{}))
	assert.Error(t, a.Subscribe(earpiece, nil))
}

func TestClose(t *testing.T) {
	client := newMockClient()
	a, ev, r := connected(t, client)

	require.NoError(t, a.Close())
	assert.True(t, ev.has("disconnected"))
	r.AssertCalled(t, "Stop")
	assert.ErrorIs(t, a.Connect(earpiece), device.ErrClosed)
	assert.NoError(t, a.Close())
}
