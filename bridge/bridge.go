//go:build !windows

// Package bridge exposes a connected headset as a pseudo-terminal: combined
// samples stream out as CSV rows, and "start" / "stop" lines typed into the
// terminal drive the earpieces.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/ptyio"
	"github.com/srg/eegbuds/internal/recorder"
)

const (
	// DefaultPtyWriteBufferSize holds about a second of CSV rows.
	DefaultPtyWriteBufferSize = 128 * 1024

	// DefaultPtyReadBufferSize is the ring for bytes typed on the terminal.
	DefaultPtyReadBufferSize = 1024

	maxCommandLine = 256
)

// Bridge represents a running headset-PTY bridge
type Bridge interface {
	GetTTYName() string    // TTY device name for display
	GetTTYSymlink() string // Symlink path (empty if not created)
	GetPTYIO() ptyio.PTY
	Session() *headset.Session
	// Rows is the number of CSV sample rows written so far.
	Rows() int64
}

type Target struct {
	Role headset.Role
	ID   headset.LinkID
}

// BridgeOptions contains all the configuration for running a bridge
type BridgeOptions struct {
	Targets             []Target
	ConnectTimeout      time.Duration  // until every earpiece is ready
	AutoStart           bool           // send the start command once the PTY is up
	Logger              *logrus.Logger // Logger instance
	PtyReadBufferSize   int            // 0 = use default
	PtyWriteBufferSize  int            // 0 = use default
	TTYSymlinkPath      string         // Optional tty symlink path for PTY slave (e.g., /tmp/eegbuds)
	RecorderBufferBytes int            // 0 = recorder.DefaultBufferSize
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// BridgeCallback is executed with the running bridge
type BridgeCallback[R any] func(Bridge) (R, error)

type bridgeImpl struct {
	session        *headset.Session
	ttySymlinkPath string
	pty            ptyio.PTY
	csv            *recorder.CSV
	sink           *bridgeSink
}

func (b *bridgeImpl) GetTTYName() string {
	if b.pty != nil {
		return b.pty.TTYName()
	}
	return ""
}

func (b *bridgeImpl) GetTTYSymlink() string     { return b.ttySymlinkPath }
func (b *bridgeImpl) GetPTYIO() ptyio.PTY       { return b.pty }
func (b *bridgeImpl) Session() *headset.Session { return b.session }

func (b *bridgeImpl) Rows() int64 {
	if b.csv == nil {
		return 0
	}
	return b.csv.Rows()
}

// bridgeSink watches session progress and forwards samples to the recorder
// once it exists.
type bridgeSink struct {
	headset.NopSink

	csv       atomic.Pointer[recorder.CSV]
	readyOnce sync.Once
	ready     chan struct{}
	failed    chan string
	lost      chan struct{}
}

func newBridgeSink() *bridgeSink {
	return &bridgeSink{
		ready:  make(chan struct{}),
		failed: make(chan string, 1),
		lost:   make(chan struct{}, 1),
	}
}

func (s *bridgeSink) OnSetNotifyReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *bridgeSink) OnConnectFailed(reason string) {
	select {
	case s.failed <- reason:
	default:
	}
}

// OnDisconnected counts only after the headset was ready once.
func (s *bridgeSink) OnDisconnected() {
	select {
	case <-s.ready:
	default:
		return
	}
	select {
	case s.lost <- struct{}{}:
	default:
	}
}

func (s *bridgeSink) OnSamples(left, right headset.Samples) {
	if c := s.csv.Load(); c != nil {
		c.OnSamples(left, right)
	}
}

// commandReader turns bytes typed on the terminal into start/stop calls.
type commandReader struct {
	session *headset.Session
	logger  *logrus.Logger
	line    []byte
}

func (r *commandReader) feed(data []byte) {
	for _, b := range data {
		switch b {
		case '\r', '\n':
			r.run(string(r.line))
			r.line = r.line[:0]
		default:
			if len(r.line) < maxCommandLine {
				r.line = append(r.line, b)
			}
		}
	}
}

func (r *commandReader) run(line string) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	var err error
	switch cmd {
	case "":
		return
	case "start":
		err = r.session.Start()
	case "stop":
		err = r.session.Stop()
	default:
		err = fmt.Errorf("unknown command %q (expected start or stop)", cmd)
	}
	log := r.logger.WithField("cmd", cmd)
	if err != nil {
		log.WithError(err).Warn("Terminal command failed")
		return
	}
	log.Info("Terminal command")
}

// RunHeadsetBridge connects the headset, creates a PTY streaming its samples
// as CSV and executes the callback with the bridge. Everything is torn down
// when the callback returns.
func RunHeadsetBridge[R any](
	ctx context.Context,
	adapter device.LinkAdapter,
	opts *BridgeOptions,
	progressCallback ProgressCallback,
	callback BridgeCallback[R],
) (R, error) {
	var zero R

	if opts == nil {
		return zero, errors.New("failed to execute bridge: options are required")
	}
	if len(opts.Targets) == 0 || len(opts.Targets) > 2 {
		return zero, fmt.Errorf("failed to execute bridge: expected 1 or 2 earpieces, got %d", len(opts.Targets))
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 30 * time.Second
	}

	targets := append([]Target(nil), opts.Targets...)
	if len(targets) == 1 {
		targets[0].Role = headset.Left
	}

	sink := newBridgeSink()
	session, err := headset.New(adapter, sink, headset.Options{Roles: len(targets), Logger: logger})
	if err != nil {
		return zero, err
	}

	var (
		ttySymlinkPath string
		pty            ptyio.PTY
		csv            *recorder.CSV
	)

	defer func() {
		// stop the stream before tearing the terminal down
		if session.Ready() {
			_ = session.Stop()
		}
		if err := session.Close(); err != nil {
			logger.WithError(err).Warn("Failed to disconnect headset")
		}
		if csv != nil {
			if err := csv.Close(); err != nil {
				logger.WithError(err).Warn("CSV stream ended with error")
			}
		}
		// Remove tty symlink before closing PTY (cleanup order matters)
		if ttySymlinkPath != "" {
			if err := os.Remove(ttySymlinkPath); err != nil {
				logger.WithError(err).WithField("ttySymlink", ttySymlinkPath).Warn("Failed to remove tty symlink")
			} else {
				logger.WithField("ttySymlink", ttySymlinkPath).Debug("Removed tty symlink")
			}
		}
		if pty != nil {
			_ = pty.Close()
		}
	}()

	progressCallback("Connecting")
	if err := session.Enable(); err != nil {
		progressCallback("Failed")
		return zero, err
	}
	for _, t := range targets {
		if err := session.Connect(t.Role, t.ID); err != nil {
			progressCallback("Failed")
			return zero, err
		}
	}

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case <-sink.ready:
	case reason := <-sink.failed:
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to connect headset: %s", reason)
	case <-timer.C:
		progressCallback("Failed")
		return zero, fmt.Errorf("headset not ready after %s: %w", connectTimeout, device.ErrTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	progressCallback("Connected")

	progressCallback("Setting up PTY")
	writeCap := opts.PtyWriteBufferSize
	if writeCap == 0 {
		writeCap = DefaultPtyWriteBufferSize
	}
	readCap := opts.PtyReadBufferSize
	if readCap == 0 {
		readCap = DefaultPtyReadBufferSize
	}
	pty, err = ptyio.New(&ptyio.Options{ReadCap: readCap, WriteCap: writeCap, Logger: logger})
	if err != nil {
		return zero, err
	}
	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		ttySymlinkPath = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": ttySymlinkPath,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	csv, err = recorder.NewCSV(pty, opts.RecorderBufferBytes, logger)
	if err != nil {
		return zero, err
	}
	sink.csv.Store(csv)

	cmds := &commandReader{session: session, logger: logger}
	pty.SetReadCallback(cmds.feed)

	if opts.AutoStart {
		if err := session.Start(); err != nil {
			return zero, fmt.Errorf("failed to start streaming: %w", err)
		}
	}

	progressCallback("Running")
	return callback(&bridgeImpl{
		session:        session,
		ttySymlinkPath: ttySymlinkPath,
		pty:            pty,
		csv:            csv,
		sink:           sink,
	})
}

// Lost returns a channel that receives once the headset disconnects while
// the bridge runs. Callers typically select on it next to ctx.Done().
func Lost(b Bridge) <-chan struct{} {
	if bi, ok := b.(*bridgeImpl); ok && bi.sink != nil {
		return bi.sink.lost
	}
	return nil
}
