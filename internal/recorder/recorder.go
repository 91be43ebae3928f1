// Package recorder writes combined sample blocks as CSV.
//
// Rows are formatted on the caller's goroutine and pushed through a blocking
// byte ring; a background goroutine copies the ring into the destination so
// slow disks or pipes do not stall event delivery until the ring is full.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/groutine"
	"github.com/srg/eegbuds/internal/packet"
)

// DefaultBufferSize holds roughly two seconds of rows at the full frame rate.
const DefaultBufferSize = 256 * 1024

// Header returns the CSV header line without a trailing newline.
func Header() string {
	var b strings.Builder
	b.WriteString("ts")
	for _, side := range []string{"left", "right"} {
		for i := 0; i < packet.SamplesPerBlock; i++ {
			b.WriteByte(',')
			b.WriteString(side)
			b.WriteString(strconv.Itoa(i))
		}
	}
	return b.String()
}

// FormatRow renders one row: unix milliseconds, then 20 left and 20 right samples.
func FormatRow(ts time.Time, left, right packet.Samples) string {
	b := make([]byte, 0, 8*(2*packet.SamplesPerBlock+2))
	b = strconv.AppendInt(b, ts.UnixMilli(), 10)
	for _, v := range left {
		b = append(b, ',')
		b = strconv.AppendInt(b, int64(v), 10)
	}
	for _, v := range right {
		b = append(b, ',')
		b = strconv.AppendInt(b, int64(v), 10)
	}
	return string(b)
}

// CSV is a headset.Sink that records OnSamples events. Other events are ignored.
type CSV struct {
	headset.NopSink

	ring   *ringbuffer.RingBuffer
	logger *logrus.Logger
	now    func() time.Time

	closeOnce sync.Once
	done      chan struct{}
	err       error
	rows      atomic.Int64
	dropped   atomic.Int64
}

// NewCSV starts copying rows into w. bufSize <= 0 uses DefaultBufferSize.
func NewCSV(w io.Writer, bufSize int, logger *logrus.Logger) (*CSV, error) {
	if w == nil {
		return nil, errors.New("recorder: nil writer")
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &CSV{
		ring:   ringbuffer.New(bufSize).SetBlocking(true),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	if _, err := c.ring.Write([]byte(Header() + "\n")); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	groutine.Go(context.Background(), "csv-recorder", func(ctx context.Context) {
		defer close(c.done)
		buf := make([]byte, 32*1024)
		for {
			n, err := c.ring.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					c.err = fmt.Errorf("recorder: write failed: %w", werr)
					// unblock producers; their rows are dropped from now on
					c.ring.CloseWithError(werr)
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.err = fmt.Errorf("recorder: %w", err)
				}
				return
			}
		}
	})
	return c, nil
}

func (c *CSV) OnSamples(left, right headset.Samples) {
	row := FormatRow(c.now(), left, right) + "\n"
	if _, err := c.ring.Write([]byte(row)); err != nil {
		if c.dropped.Add(1) == 1 {
			c.logger.WithError(err).Warn("Recorder is closed, dropping samples")
		}
		return
	}
	c.rows.Add(1)
}

// Rows is the number of sample rows accepted so far.
func (c *CSV) Rows() int64 {
	return c.rows.Load()
}

// Dropped is the number of sample rows refused after the writer failed or closed.
func (c *CSV) Dropped() int64 {
	return c.dropped.Load()
}

// Close flushes buffered rows and stops the copier. It returns the first
// write error, if any.
func (c *CSV) Close() error {
	c.closeOnce.Do(func() {
		c.ring.CloseWriter()
	})
	<-c.done
	return c.err
}
