package groutine

import (
	"context"
	"runtime/pprof"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine with a name, optional parent context
// Example usage:
//
//	groutine.Go(ctx, "ble-connection-monitor", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Serial runs submitted functions one at a time, in submission order, on a
// single named goroutine. Submit never blocks: the queue is unbounded.
//
// A panic inside a submitted function is logged and does not stop the queue.
type Serial struct {
	name   string
	logger *logrus.Logger

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewSerial creates and starts a serial executor.
func NewSerial(name string, logger *logrus.Logger) *Serial {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Serial{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	Go(context.Background(), name, s.loop)
	return s
}

// Submit enqueues fn. Returns false if the executor is closed.
func (s *Serial) Submit(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of functions waiting to run.
func (s *Serial) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting work, runs everything already queued and waits for
// the goroutine to exit. Safe to call more than once. Must not be called from
// a function running on this executor.
func (s *Serial) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	<-s.done
}

// Done is closed once the executor goroutine has exited.
func (s *Serial) Done() <-chan struct{} {
	return s.done
}

func (s *Serial) loop(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, fn := range batch {
			s.run(ctx, fn)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-s.wake
	}
}

func (s *Serial) run(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"goroutine": GetName(ctx),
				"panic":     r,
			}).Error("Recovered panic in serial executor")
		}
	}()
	fn()
}
