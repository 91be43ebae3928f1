//go:build !windows

package ptyio

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPTY(t *testing.T, opts *Options) PTY {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestWrite_ReachesSlave(t *testing.T) {
	p := openPTY(t, nil)
	require.NotEmpty(t, p.TTYName())

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()

	n, err := p.Write([]byte("ts,left0\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	require.NoError(t, slave.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	got := 0
	for got < 9 {
		k, err := slave.Read(buf[got:])
		if err != nil {
			// some platforms do not support deadlines on tty files
			if errors.Is(err, os.ErrNoDeadline) {
				t.Skip("tty deadlines unsupported")
			}
			require.NoError(t, err)
		}
		got += k
	}
	assert.Equal(t, "ts,left0\n", string(buf[:got]))

	assert.Eventually(t, func() bool { return p.Stats().WriteBytesTotal == 9 }, time.Second, 5*time.Millisecond)
}

func TestReadCallback_ReceivesSlaveInput(t *testing.T) {
	p := openPTY(t, nil)

	var mu sync.Mutex
	var received []byte
	p.SetReadCallback(func(data []byte) {
		mu.Lock()
		received = append(received, data...)
		mu.Unlock()
	})

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()

	_, err = slave.Write([]byte("stop\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(received) == "stop\n"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRead_BuffersWithoutCallback(t *testing.T) {
	p := openPTY(t, nil)

	buf := make([]byte, 16)
	_, err := p.Read(buf)
	assert.ErrorIs(t, err, syscall.EAGAIN)

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()
	_, err = slave.Write([]byte("x"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := p.Read(buf)
		return err == nil && n == 1 && buf[0] == 'x'
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWrite_OverflowDropsTail(t *testing.T) {
	p := openPTY(t, &Options{WriteCap: 8})

	// nobody reads the slave, so the queue eventually fills
	for i := 0; i < 10000 && p.Stats().DroppedWriteCount == 0; i++ {
		_, err := p.Write([]byte("0123456789abcdef"))
		require.NoError(t, err)
	}
	assert.Positive(t, p.Stats().DroppedWriteCount)
}

func TestClose_Idempotent(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())

	_, err = p.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
}
