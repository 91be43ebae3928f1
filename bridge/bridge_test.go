//go:build !windows

package bridge

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/recorder"
	"github.com/srg/eegbuds/internal/testutils"
)

type BridgeTestSuite struct {
	testutils.SimSuite
}

func (s *BridgeTestSuite) opts() *BridgeOptions {
	return &BridgeOptions{
		Targets: []Target{
			{Role: headset.Left, ID: "sim-left"},
			{Role: headset.Right, ID: "sim-right"},
		},
		ConnectTimeout: 2 * time.Second,
		Logger:         s.Logger,
	}
}

// run skips the test when the host cannot allocate a PTY.
func (s *BridgeTestSuite) run(opts *BridgeOptions, progress ProgressCallback, cb BridgeCallback[struct{}]) error {
	_, err := RunHeadsetBridge(context.Background(), s.Adapter, opts, progress, cb)
	if err != nil && strings.Contains(err.Error(), "failed to create PTY") {
		s.T().Skipf("PTY not available: %v", err)
	}
	return err
}

func (s *BridgeTestSuite) TestStreamsCSVToSlave() {
	opts := s.opts()
	opts.AutoStart = true

	var phases []string
	err := s.run(opts, func(p string) { phases = append(phases, p) }, func(b Bridge) (struct{}, error) {
		s.Require().NotEmpty(b.GetTTYName())
		s.True(s.Adapter.Streaming("sim-left"))
		s.True(s.Adapter.Streaming("sim-right"))

		slave, err := os.OpenFile(b.GetTTYName(), os.O_RDWR, 0)
		s.Require().NoError(err)
		defer slave.Close()

		s.Eventually(func() bool { return b.Rows() > 2 }, 2*time.Second, 10*time.Millisecond)

		lines := make(chan string, 16)
		go func() {
			sc := bufio.NewScanner(slave)
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()
		// the first line may be cut by the terminal; the second is whole
		for i := 0; i < 2; i++ {
			select {
			case line := <-lines:
				if i == 1 {
					s.Equal(len(strings.Split(recorder.Header(), ",")), len(strings.Split(strings.TrimSpace(line), ",")))
				}
			case <-time.After(2 * time.Second):
				s.Fail("no CSV line reached the slave")
				return struct{}{}, nil
			}
		}
		return struct{}{}, nil
	})
	s.Require().NoError(err)
	s.Equal([]string{"Connecting", "Connected", "Setting up PTY", "Running"}, phases)

	s.Eventually(func() bool { return !s.Adapter.Connected("sim-left") }, time.Second, 5*time.Millisecond)
}

func (s *BridgeTestSuite) TestTypedCommandsDriveStreaming() {
	err := s.run(s.opts(), nil, func(b Bridge) (struct{}, error) {
		s.False(s.Adapter.Streaming("sim-left"))

		slave, err := os.OpenFile(b.GetTTYName(), os.O_RDWR, 0)
		s.Require().NoError(err)
		defer slave.Close()

		_, err = slave.WriteString("start\n")
		s.Require().NoError(err)
		s.Eventually(func() bool { return s.Adapter.Streaming("sim-left") }, 2*time.Second, 10*time.Millisecond)

		_, err = slave.WriteString("STOP\n")
		s.Require().NoError(err)
		s.Eventually(func() bool { return !s.Adapter.Streaming("sim-left") }, 2*time.Second, 10*time.Millisecond)
		return struct{}{}, nil
	})
	s.Require().NoError(err)
}

func (s *BridgeTestSuite) TestSymlinkLifecycle() {
	link := filepath.Join(s.T().TempDir(), "eegbuds")
	opts := s.opts()
	opts.TTYSymlinkPath = link

	err := s.run(opts, nil, func(b Bridge) (struct{}, error) {
		s.Equal(link, b.GetTTYSymlink())
		target, err := os.Readlink(link)
		s.Require().NoError(err)
		s.Equal(b.GetTTYName(), target)
		return struct{}{}, nil
	})
	s.Require().NoError(err)

	_, err = os.Lstat(link)
	s.True(os.IsNotExist(err), "symlink must be removed on exit")
}

func (s *BridgeTestSuite) TestLostFiresOnLinkDrop() {
	err := s.run(s.opts(), nil, func(b Bridge) (struct{}, error) {
		s.Adapter.DropLink("sim-right", errors.New("out of range"))
		select {
		case <-Lost(b):
		case <-time.After(2 * time.Second):
			s.Fail("link loss was not reported")
		}
		return struct{}{}, nil
	})
	s.Require().NoError(err)
}

func (s *BridgeTestSuite) TestConnectFailure() {
	s.Adapter.Earpiece("sim-left").FailConnect = errors.New("out of range")

	called := false
	_, err := RunHeadsetBridge(context.Background(), s.Adapter, s.opts(), nil, func(Bridge) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	s.ErrorContains(err, "out of range")
	s.False(called)
}

func (s *BridgeTestSuite) TestNeverReadyTimesOut() {
	s.Adapter.Earpiece("sim-left").Omit = []device.CharacteristicKind{device.KindStream}
	opts := s.opts()
	opts.ConnectTimeout = 100 * time.Millisecond

	_, err := RunHeadsetBridge(context.Background(), s.Adapter, opts, nil, func(Bridge) (struct{}, error) {
		return struct{}{}, nil
	})
	s.ErrorIs(err, device.ErrTimeout)
}

func (s *BridgeTestSuite) TestValidation() {
	cb := func(Bridge) (struct{}, error) { return struct{}{}, nil }

	_, err := RunHeadsetBridge(context.Background(), s.Adapter, nil, nil, cb)
	s.Error(err)

	_, err = RunHeadsetBridge(context.Background(), s.Adapter, &BridgeOptions{}, nil, cb)
	s.ErrorContains(err, "expected 1 or 2 earpieces")
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}
