package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/eegbuds/internal/bledb"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for earpieces",
	Long: `Scan for earpieces advertising the device information service and
list their names, link ids, signal strength and guessed side.

Example:
  eegbuds scan --duration 5s
  eegbuds scan --format json --name-prefix EEG
  eegbuds scan --watch`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanNamePrefix string
	scanAllowList  []string
	scanBlockList  []string
	scanAll        bool
	scanWatch      bool
)

const (
	maxNameWidth     = 24
	maxServicesWidth = 32
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&scanNamePrefix, "name-prefix", "", "Only show devices whose name starts with this prefix")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these link ids")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these link ids")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Do not filter advertisements by service")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Keep scanning and refresh the table every second")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanWatch && scanFormat == "json" {
		return errors.New("--watch only supports the table format")
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	adapter, release, err := newAdapter(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	s, err := scanner.NewScanner(adapter, logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:    cfg.ScanTimeout,
		ServiceUUID: device.ScanServiceUUID,
		NamePrefix:  scanNamePrefix,
		AllowList:   toLinkIDs(scanAllowList),
		BlockList:   toLinkIDs(scanBlockList),
	}
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	if scanAll {
		opts.ServiceUUID = ""
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	out := cmd.OutOrStdout()
	if scanWatch {
		return runWatch(ctx, s, opts, out, logger)
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for earpieces", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if scanFormat == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

// runWatch scans until interrupted, redrawing the table once per second.
func runWatch(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions, out io.Writer, logger *logrus.Logger) error {
	watchOpts := *opts
	watchOpts.Duration = 0

	scanErr := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, &watchOpts, nil)
		scanErr <- err
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-scanErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			clearScreen(out)
			return displayDevicesTable(out, s.Devices())
		case ev := <-s.Events():
			if ev.Type == scanner.EventNew {
				logger.WithField("device", ev.Device.Name).Debug("New device in watch mode")
			}
		case <-ticker.C:
			clearScreen(out)
			if err := displayDevicesTable(out, s.Devices()); err != nil {
				return err
			}
		}
	}
}

func displayDevicesTable(out io.Writer, devices []scanner.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No earpieces discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIDE\tID\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 88))

	left := color.New(color.FgCyan).SprintFunc()
	right := color.New(color.FgMagenta).SprintFunc()

	for _, d := range devices {
		side := "-"
		if role, ok := d.Role(); ok {
			side = role.String()
			if role == device.Left {
				side = left(side)
			} else {
				side = right(side)
			}
		}
		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s\t%s ago\n",
			runewidth.Truncate(d.Name, maxNameWidth, "..."),
			side,
			d.ID,
			d.RSSI,
			runewidth.Truncate(serviceLabels(d.Services), maxServicesWidth, "..."),
			lastSeen)
	}
	return w.Flush()
}

func serviceLabels(uuids []string) string {
	labels := make([]string, len(uuids))
	for i, u := range uuids {
		labels[i] = bledb.Label(u)
	}
	return strings.Join(labels, ",")
}

func displayDevicesJSON(out io.Writer, devices []scanner.Device) error {
	if devices == nil {
		devices = []scanner.Device{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

func clearScreen(out io.Writer) {
	fmt.Fprint(out, "\033[2J\033[H")
}

func toLinkIDs(ids []string) []device.LinkID {
	out := make([]device.LinkID, 0, len(ids))
	for _, id := range ids {
		out = append(out, device.LinkID(strings.TrimSpace(id)))
	}
	return out
}
