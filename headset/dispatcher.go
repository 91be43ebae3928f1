package headset

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/groutine"
)

// dispatcher delivers events to the sink in enqueue order on its own
// goroutine. The queue is unbounded; nothing is dropped or coalesced.
type dispatcher struct {
	serial *groutine.Serial
	sink   atomic.Pointer[sinkBox]
	logger *logrus.Logger
}

// sinkBox lets a nil Sink be stored in an atomic.Pointer.
type sinkBox struct {
	sink Sink
}

func newDispatcher(sink Sink, logger *logrus.Logger) *dispatcher {
	d := &dispatcher{
		serial: groutine.NewSerial("headset-dispatcher", logger),
		logger: logger,
	}
	d.setSink(sink)
	return d
}

func (d *dispatcher) setSink(s Sink) {
	d.sink.Store(&sinkBox{sink: s})
}

// emit queues e. Safe to call with the session lock held.
func (d *dispatcher) emit(e Event) {
	ok := d.serial.Submit(func() {
		box := d.sink.Load()
		if box == nil || box.sink == nil {
			return
		}
		deliver(box.sink, e)
	})
	if !ok {
		d.logger.WithField("event", e.Kind).Debug("Event dropped: dispatcher closed")
	}
}

// pending returns the number of undelivered events.
func (d *dispatcher) pending() int {
	return d.serial.Len()
}

// close drains queued events then stops.
func (d *dispatcher) close() {
	d.serial.Close()
}
