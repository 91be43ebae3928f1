package device

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/groutine"
)

// CallbackQueue forwards Handler calls onto one serial goroutine. Backends
// receive results on arbitrary stack goroutines and post them here, so the
// installed Handler never sees two callbacks at once.
type CallbackQueue struct {
	serial *groutine.Serial
	logger *logrus.Logger

	handler Handler
}

// NewCallbackQueue starts a queue named after the backend.
func NewCallbackQueue(name string, logger *logrus.Logger) *CallbackQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &CallbackQueue{
		serial:  groutine.NewSerial(name+"-callbacks", logger),
		logger:  logger,
		handler: NopHandler{},
	}
}

// SetHandler replaces the receiver. The swap is ordered with queued callbacks.
func (q *CallbackQueue) SetHandler(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	q.post(func(Handler) { q.handler = h })
}

// Close drains pending callbacks.
func (q *CallbackQueue) Close() {
	q.serial.Close()
}

func (q *CallbackQueue) post(fn func(h Handler)) {
	if !q.serial.Submit(func() { fn(q.handler) }) {
		q.logger.Debug("Callback dropped: queue closed")
	}
}

func (q *CallbackQueue) AdapterState(state AdapterState) {
	q.post(func(h Handler) { h.OnAdapterState(state) })
}

func (q *CallbackQueue) DeviceFound(adv Advertisement) {
	q.post(func(h Handler) { h.OnDeviceFound(adv) })
}

func (q *CallbackQueue) Connected(id LinkID) {
	q.post(func(h Handler) { h.OnConnected(id) })
}

func (q *CallbackQueue) ConnectFailed(id LinkID, err error) {
	q.post(func(h Handler) { h.OnConnectFailed(id, err) })
}

func (q *CallbackQueue) Disconnected(id LinkID, err error) {
	q.post(func(h Handler) { h.OnDisconnected(id, err) })
}

func (q *CallbackQueue) CharacteristicsDiscovered(id LinkID, chars []Handle) {
	q.post(func(h Handler) { h.OnCharacteristicsDiscovered(id, chars) })
}

func (q *CallbackQueue) DiscoveryFailed(id LinkID, err error) {
	q.post(func(h Handler) { h.OnDiscoveryFailed(id, err) })
}

func (q *CallbackQueue) Subscribed(id LinkID, c Handle, err error) {
	q.post(func(h Handler) { h.OnSubscribed(id, c, err) })
}

// Value copies data before queueing; stacks reuse notification buffers.
func (q *CallbackQueue) Value(id LinkID, c Handle, data []byte, err error) {
	cp := append([]byte(nil), data...)
	q.post(func(h Handler) { h.OnValue(id, c, cp, err) })
}
