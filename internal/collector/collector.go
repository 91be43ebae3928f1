// Package collector buffers headset events between the session dispatcher
// and a slower writer. The dispatcher never blocks on it: when the writer
// falls behind, the oldest records are overwritten.
package collector

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/ringchan"
)

// Record is one event with its arrival time.
type Record struct {
	Time  time.Time
	Event headset.Event
}

// Metrics is updated with atomic operations only.
type Metrics struct {
	RecordsProcessed   int64
	ErrorsOccurred     int64
	RecordsOverwritten int64 // lost in the ring buffer or the input channel
}

func (m *Metrics) incProcessed()           { atomic.AddInt64(&m.RecordsProcessed, 1) }
func (m *Metrics) incErrors()              { atomic.AddInt64(&m.ErrorsOccurred, 1) }
func (m *Metrics) addOverwritten(n uint32) { atomic.AddInt64(&m.RecordsOverwritten, int64(n)) }

func (m *Metrics) snapshot() Metrics {
	return Metrics{
		RecordsProcessed:   atomic.LoadInt64(&m.RecordsProcessed),
		ErrorsOccurred:     atomic.LoadInt64(&m.ErrorsOccurred),
		RecordsOverwritten: atomic.LoadInt64(&m.RecordsOverwritten),
	}
}

const (
	StateNotRunning uint32 = iota
	StateRunning
	StateStopping

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

// Collector moves records from its Sink into an overwriting ring buffer.
//
// All methods are thread-safe.
type Collector struct {
	input   *ringchan.RingChannel[Record]
	buffer  mpmc.RichOverlappedRingBuffer[Record]
	ready   chan struct{} // poked after each enqueue, capacity 1
	stop    chan struct{}
	done    chan struct{}
	onError func(error)
	metrics Metrics
	state   uint32
	now     func() time.Time
}

// New creates a collector holding up to bufferSize records. onError is
// called on unexpected buffer failures; nil panics instead.
func New(bufferSize uint32, onError func(error)) (*Collector, error) {
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("collector: %v", err))
		}
	}

	return &Collector{
		input:   ringchan.New[Record](int(bufferSize)),
		buffer:  mpmc.NewOverlappedRingBuffer[Record](bufferSize),
		ready:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
		now:     time.Now,
	}, nil
}

// Sink returns a headset.Sink that timestamps and queues every event.
func (c *Collector) Sink() headset.Sink {
	return headset.EventSink(func(e headset.Event) {
		if c.input.ForceSend(Record{Time: c.now(), Event: e}) {
			c.metrics.addOverwritten(1)
		}
	})
}

// Ready is signalled when new records may be available.
func (c *Collector) Ready() <-chan struct{} {
	return c.ready
}

// Start begins collecting. It fails when the collector is already running.
func (c *Collector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, StateNotRunning, StateRunning) {
		switch s := atomic.LoadUint32(&c.state); s {
		case StateRunning:
			return fmt.Errorf("collector is already running")
		case StateStopping:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		default:
			return fmt.Errorf("collector is in unknown state %d", s)
		}
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done

	go func() {
		defer func() {
			close(done)
			atomic.StoreUint32(&c.state, StateNotRunning)
		}()
		for {
			select {
			case <-stop:
				c.flushInput()
				return
			case rec := <-c.input.C():
				if !c.enqueue(rec) {
					return
				}
			}
		}
	}()
	return nil
}

// flushInput moves whatever is already queued so Stop loses nothing.
func (c *Collector) flushInput() {
	for {
		select {
		case rec := <-c.input.C():
			if !c.enqueue(rec) {
				return
			}
		default:
			return
		}
	}
}

func (c *Collector) enqueue(rec Record) bool {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		c.metrics.incErrors()
		c.onError(fmt.Errorf("unexpected buffer.Enqueue error: %w", err))
		return false
	}
	c.metrics.addOverwritten(overwrites)
	c.metrics.incProcessed()
	select {
	case c.ready <- struct{}{}:
	default:
	}
	return true
}

// Stop stops collection after moving queued input into the buffer.
func (c *Collector) Stop() error {
	if atomic.CompareAndSwapUint32(&c.state, StateRunning, StateStopping) {
		close(c.stop)
	} else if atomic.LoadUint32(&c.state) == StateNotRunning {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		<-c.done
		return fmt.Errorf("stop completed but exceeded 5s timeout")
	}
}

func (c *Collector) GetState() uint32 {
	return atomic.LoadUint32(&c.state)
}

func (c *Collector) GetMetrics() Metrics {
	return c.metrics.snapshot()
}

// ConsumerFunc consumes buffered records.
//
// With a non-nil record it returns (zero, nil) to continue or a non-zero
// result to stop early. After the last record it is called once with nil
// and returns the final result.
type ConsumerFunc[T any] func(record *Record) (T, error)

// ConsumeRecords drains buffered records into consumer.
func ConsumeRecords[T any](c *Collector, consumer ConsumerFunc[T]) (T, error) {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("buffer dequeue error: %w", err)
		}

		result, err := consumer(&rec)
		if err != nil {
			return result, err
		}
		if !isZeroValue(result) {
			return result, nil
		}
	}
	return consumer(nil)
}

func isZeroValue[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}

// Drain returns every buffered record in arrival order.
func (c *Collector) Drain() ([]Record, error) {
	var out []Record
	_, err := ConsumeRecords(c, func(rec *Record) ([]Record, error) {
		if rec != nil {
			out = append(out, *rec)
		}
		return nil, nil
	})
	return out, err
}
