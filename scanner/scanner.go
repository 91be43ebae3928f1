package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Device Device
}

// Device is what the scanner knows about one earpiece.
type Device struct {
	ID        device.LinkID `json:"id"`
	Name      string        `json:"name"`
	RSSI      int           `json:"rssi"`
	Services  []string      `json:"services"`
	FirstSeen time.Time     `json:"firstSeen"`
	LastSeen  time.Time     `json:"lastSeen"`
	Seen      int           `json:"seen"`
}

// Role guesses the earpiece side from its advertised name ("... L" / "... R").
func (d Device) Role() (device.Role, bool) {
	name := strings.ToUpper(strings.TrimSpace(d.Name))
	switch {
	case strings.HasSuffix(name, " L"), strings.HasSuffix(name, "-L"), strings.HasSuffix(name, "LEFT"):
		return device.Left, true
	case strings.HasSuffix(name, " R"), strings.HasSuffix(name, "-R"), strings.HasSuffix(name, "RIGHT"):
		return device.Right, true
	default:
		return 0, false
	}
}

// Scanner handles earpiece discovery
type Scanner struct {
	adapter device.LinkAdapter
	devices *hashmap.Map[string, Device]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration    time.Duration
	ServiceUUID string
	NamePrefix  string
	AllowList   []device.LinkID
	BlockList   []device.LinkID
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:    10 * time.Second,
		ServiceUUID: device.ScanServiceUUID,
	}
}

// NewScanner creates a scanner over adapter
func NewScanner(adapter device.LinkAdapter, logger *logrus.Logger) (*Scanner, error) {
	if adapter == nil {
		return nil, errors.New("scanner: nil link adapter")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		adapter: adapter,
		devices: hashmap.New[string, Device](),
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
	}, nil
}

// Scan performs discovery with the provided options and returns the devices
// found, sorted by name. The scanner installs itself as the adapter handler
// for the duration of the scan.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Device, error) {
	s.devices = hashmap.New[string, Device]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	s.adapter.SetHandler(&scanHandler{s: s, opts: opts})
	defer s.adapter.SetHandler(device.NopHandler{})

	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable adapter: %w", err)
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if err := s.adapter.Scan(scanCtx, opts.ServiceUUID); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	<-scanCtx.Done()
	if err := s.adapter.StopScan(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop scan")
	}

	// interrupted by the caller, not by the duration
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return s.Devices(), err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("Scan completed")
	progressCallback("Processing results")

	return s.Devices(), nil
}

// Devices returns a snapshot of discovered devices sorted by name, then id.
func (s *Scanner) Devices() []Device {
	devs := make([]Device, 0, s.devices.Len())
	s.devices.Range(func(_ string, d Device) bool {
		devs = append(devs, d)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Name != devs[j].Name {
			return devs[i].Name < devs[j].Name
		}
		return devs[i].ID < devs[j].ID
	})
	return devs
}

// Events returns a read-only channel of device events. Slow readers lose
// the oldest events.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement, opts *ScanOptions) {
	if adv.Name == "" {
		return
	}

	now := time.Now()
	dev, existing := s.devices.Get(string(adv.ID))
	if !existing {
		if !s.shouldIncludeDevice(adv, opts) {
			return
		}
		dev = Device{ID: adv.ID, Name: adv.Name, FirstSeen: now}
	}

	dev.RSSI = adv.RSSI
	dev.Services = adv.Services
	dev.LastSeen = now
	dev.Seen++
	s.devices.Set(string(adv.ID), dev)

	event := DeviceEvent{Device: dev}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device": dev.Name,
			"id":     dev.ID,
			"rssi":   dev.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.ForceSend(event)
}

// shouldIncludeDevice applies allow/block/name filters
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if adv.ID == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if adv.ID == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.NamePrefix != "" && !strings.HasPrefix(adv.Name, opts.NamePrefix) {
		return false
	}
	return true
}

type scanHandler struct {
	device.NopHandler
	s    *Scanner
	opts *ScanOptions
}

func (h *scanHandler) OnDeviceFound(adv device.Advertisement) {
	h.s.handleAdvertisement(adv, h.opts)
}

func (h *scanHandler) OnAdapterState(state device.AdapterState) {
	h.s.logger.WithField("state", state).Debug("Adapter state changed")
}
