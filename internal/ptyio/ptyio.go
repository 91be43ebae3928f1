//go:build !windows

// Package ptyio wraps a PTY master in ring buffers so a producer can write
// without blocking on whatever (if anything) has the slave side open.
//
//	p, err := ptyio.New(&ptyio.Options{WriteCap: 64 * 1024, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	fmt.Println("attach to", p.TTYName())
//	p.Write([]byte("ts,left0,...\n")) // never blocks; overflow drops bytes
//
// Bytes typed on the slave side are delivered to the ReadCallback.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/eegbuds/internal/groutine"
)

// ErrorCallback is invoked at most once per loop when it exits on a
// critical error. Called from a background goroutine.
type ErrorCallback func(err error)

// ReadCallback receives bytes typed on the slave side. The slice is only
// valid during the call.
type ReadCallback func(data []byte)

type Options struct {
	ReadCap       int // bytes buffered from the slave, default 4096
	WriteCap      int // bytes buffered towards the slave, default 64KiB
	Logger        *logrus.Logger
	OnError       ErrorCallback
	PollTimeoutMs int // 0 means DefaultPollTimeoutMs
}

// PTY is a non-blocking pseudo-terminal master.
type PTY interface {
	io.ReadWriteCloser
	Stats() Stats
	TTYName() string
	SetReadCallback(cb ReadCallback)
}

type Stats struct {
	WriteQueueLen     int
	WriteQueueCap     int
	ReadQueueLen      int
	DroppedWriteCount uint64
	DroppedReadCount  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}

// DefaultPollTimeoutMs bounds how long the loops take to notice Close.
const DefaultPollTimeoutMs = 50

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPTY struct {
	logger      *logrus.Logger
	master, tty *os.File
	ttyName     string
	onError     ErrorCallback
	errOnce     sync.Once
	pollMs      int

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer
	readCb   atomic.Pointer[ReadCallback]
	wake     chan struct{} // poked by Write, capacity 1

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedWrite, droppedRead atomic.Uint64
	readBytes, writeBytes     atomic.Uint64
}

// New opens a PTY pair in raw mode and starts the I/O loops.
func New(opts *Options) (PTY, error) {
	if opts == nil {
		opts = &Options{}
	}
	readCap, writeCap := opts.ReadCap, opts.WriteCap
	if readCap <= 0 {
		readCap = 4096
	}
	if writeCap <= 0 {
		writeCap = 64 * 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}
	pollMs := opts.PollTimeoutMs
	if pollMs <= 0 {
		pollMs = DefaultPollTimeoutMs
	}

	master, tty, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:   logger,
		master:   master,
		tty:      tty,
		ttyName:  tty.Name(),
		onError:  opts.OnError,
		pollMs:   pollMs,
		writeBuf: ringbuffer.New(writeCap),
		readBuf:  ringbuffer.New(readCap),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	return p, nil
}

func (p *ringPTY) fail(loop string, err error) {
	p.logger.WithError(err).Warnf("%s exiting", loop)
	if p.onError != nil {
		p.errOnce.Do(func() { p.onError(fmt.Errorf("%s: %w", loop, err)) })
	}
}

func (p *ringPTY) writeLoop() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for p.ctx.Err() == nil {
		n, err := p.writeBuf.TryRead(buf)
		if n == 0 {
			if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
				p.logger.WithError(err).Warn("writeLoop TryRead error")
			}
			select {
			case <-p.wake:
			case <-p.ctx.Done():
				return
			}
			continue
		}

		for off := 0; off < n; {
			w, err := master.Write(buf[off:n])
			if w > 0 {
				off += w
				p.writeBytes.Add(uint64(w))
			}
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				// nobody is reading the slave; wait or give up on close
				if _, perr := unix.Poll(pollFd, p.pollMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.WithError(perr).Debug("writeLoop poll error")
				}
				if p.ctx.Err() != nil {
					return
				}
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.fail("writeLoop", err)
				return
			}
		}
	}
}

func (p *ringPTY) readLoop() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for p.ctx.Err() == nil {
		ready, err := unix.Poll(pollFd, p.pollMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("readLoop poll error")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			p.readBytes.Add(uint64(n))
			if cb := p.readCb.Load(); cb != nil {
				p.dispatch(*cb, buf[:n])
			} else {
				w, _ := p.readBuf.Write(buf[:n])
				if w < n {
					p.droppedRead.Add(uint64(n - w))
				}
			}
		}
		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
			return
		default:
			p.fail("readLoop", err)
			return
		}
	}
}

// dispatch runs cb, unregistering it if it panics.
func (p *ringPTY) dispatch(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("ReadCallback panicked: %v", r)
			p.readCb.Store(nil)
		}
	}()
	cb(data)
}

// Write queues data for the slave and never blocks. When the queue is full
// the tail of data is dropped and n < len(data).
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	// a full queue is not an error here, only a short count
	n, err := p.writeBuf.Write(data)
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithError(err).Debugf("PTY write queue full, dropped %d bytes", len(data)-n)
	}
	if n > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return n, nil
}

// Read returns buffered slave input, or syscall.EAGAIN when there is none.
// Input goes to the ReadCallback instead while one is set.
func (p *ringPTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, _ := p.readBuf.TryRead(b)
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if cb == nil {
		p.readCb.Store(nil)
		return
	}
	p.readCb.Store(&cb)
}

func (p *ringPTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close master: %w", err))
	}
	if err := p.tty.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tty: %w", err))
	}
	p.wg.Wait()
	return errors.Join(errs...)
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		WriteQueueCap:     p.writeBuf.Capacity(),
		ReadQueueLen:      p.readBuf.Length(),
		DroppedWriteCount: p.droppedWrite.Load(),
		DroppedReadCount:  p.droppedRead.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
	}
}

// TTYName is the slave path, e.g. /dev/pts/5.
func (p *ringPTY) TTYName() string {
	return p.ttyName
}

func openRaw() (master, tty *os.File, err error) {
	master, tty, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	cleanup := func(step string, cause error) error {
		return fmt.Errorf("failed to set %s on %s: %w", step, tty.Name(), errors.Join(cause, master.Close(), tty.Close()))
	}
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		return nil, nil, cleanup("raw mode", err)
	}
	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup("non-blocking mode", err)
	}
	return master, tty, nil
}
