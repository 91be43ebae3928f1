package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/groutine"
)

// Mode selects when buffered records are handed to the writer.
type Mode string

const (
	// ModeLive writes every record as soon as it is collected.
	ModeLive Mode = "live"
	// ModeBatched writes everything collected once per interval.
	ModeBatched Mode = "batched"
	// ModeLatest writes, once per interval, control events in order and only
	// the newest status, samples and battery values.
	ModeLatest Mode = "latest"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLive, ModeBatched, ModeLatest:
		return m, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q", s)
	}
}

// WriteFunc receives one batch of records. Live mode batches are whatever
// arrived since the previous wakeup.
type WriteFunc func(batch []Record) error

// Drainer feeds a collector's records to a WriteFunc on a background goroutine.
type Drainer struct {
	cancelOnce sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
	err        error
}

// NewDrainer starts draining c. interval is ignored in live mode.
func NewDrainer(ctx context.Context, c *Collector, mode Mode, interval time.Duration, logger *logrus.Logger, write WriteFunc) (*Drainer, error) {
	if mode != ModeLive && interval <= 0 {
		return nil, fmt.Errorf("%s mode needs a positive interval", mode)
	}
	if logger == nil {
		logger = logrus.New()
	}

	d := &Drainer{stop: make(chan struct{})}

	flush := func() error {
		records, err := c.Drain()
		if err != nil {
			return err
		}
		if mode == ModeLatest {
			records = Latest(records)
		}
		if len(records) == 0 {
			return nil
		}
		return write(records)
	}

	d.wg.Add(1)
	groutine.Go(ctx, "collector-drainer", func(ctx context.Context) {
		defer d.wg.Done()
		defer logger.Debugf("%s: exiting", groutine.GetName(ctx))

		var tick <-chan time.Time
		var wake <-chan struct{}
		if mode == ModeLive {
			wake = c.Ready()
		} else {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-wake:
			case <-tick:
			case <-d.stop:
				d.err = flush()
				return
			case <-ctx.Done():
				d.err = flush()
				return
			}
			if err := flush(); err != nil {
				logger.WithError(err).Warn("Drainer: write failed")
				d.err = err
				return
			}
		}
	})
	return d, nil
}

// Cancel stops the drainer after one final flush.
func (d *Drainer) Cancel() {
	d.cancelOnce.Do(func() { close(d.stop) })
}

// Wait blocks until the drainer exits and returns the last write error.
func (d *Drainer) Wait() error {
	d.wg.Wait()
	return d.err
}

// Latest keeps control events in order and collapses status, samples and
// battery events to the newest of each, appended after them.
func Latest(records []Record) []Record {
	latest := orderedmap.New[headset.EventKind, Record]()
	out := make([]Record, 0, len(records))
	for _, r := range records {
		switch r.Event.Kind {
		case headset.EventWearStatus, headset.EventSamples, headset.EventBattery:
			latest.Set(r.Event.Kind, r)
		default:
			out = append(out, r)
		}
	}
	for pair := latest.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
