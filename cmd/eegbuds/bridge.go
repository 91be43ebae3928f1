//go:build !windows

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/eegbuds/bridge"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge [left-id] [right-id]",
	Short: "Expose the sample stream on a PTY",
	Long: `Connects the headset and creates a pseudoterminal (e.g. /dev/pts/3)
that carries combined samples as CSV rows. Tools that expect a serial port
can read it directly. Typing "start" or "stop" followed by Enter into the
terminal controls the earpieces.

Example:
  eegbuds bridge --symlink /tmp/eegbuds --start
  cat /tmp/eegbuds`,
	Args: cobra.MaximumNArgs(2),
	RunE: runBridge,
}

var (
	bridgeSymlink   string
	bridgeAutoStart bool
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/eegbuds)")
	bridgeCmd.Flags().BoolVar(&bridgeAutoStart, "start", false, "Send the start command once the PTY is up")
}

func addPlatformCommands(root *cobra.Command) {
	root.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	targets, err := resolveTargets(ctx, cfg, adapter, logger, args)
	if err != nil {
		return err
	}

	opts := &bridge.BridgeOptions{
		ConnectTimeout: cfg.ConnectTimeout,
		AutoStart:      bridgeAutoStart,
		Logger:         logger,
		TTYSymlinkPath: bridgeSymlink,
	}
	for _, t := range targets {
		opts.Targets = append(opts.Targets, bridge.Target{Role: t.Role, ID: t.ID})
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Starting bridge", "Connecting", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	out := cmd.OutOrStdout()
	_, err = bridge.RunHeadsetBridge(ctx, adapter, opts, progress.Callback(), func(b bridge.Bridge) (struct{}, error) {
		progress.Stop()
		fmt.Fprintf(out, "PTY: %s\n", b.GetTTYName())
		if link := b.GetTTYSymlink(); link != "" {
			fmt.Fprintf(out, "Symlink: %s\n", link)
		}
		fmt.Fprintln(out, "Type start or stop into the terminal; press Ctrl+C to exit")

		started := time.Now()
		select {
		case <-ctx.Done():
		case <-bridge.Lost(b):
			return struct{}{}, ErrConnectionLost
		}
		logger.WithField("rows", b.Rows()).WithField("uptime", time.Since(started).Truncate(time.Second)).Info("Bridge shutting down...")
		return struct{}{}, ctx.Err()
	})
	return err
}
