package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/eegbuds/internal/recorder"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record [left-id] [right-id]",
	Short: "Record combined samples to a CSV file",
	Long: `Connects the headset, starts streaming and appends one CSV row per
combined sample block: a timestamp followed by both sides' samples.

The output file defaults to record_path from the config.

Example:
  eegbuds record --output session.csv --duration 5m`,
	Args: cobra.MaximumNArgs(2),
	RunE: runRecord,
}

var (
	recordOutput   string
	recordDuration time.Duration
	recordBuffer   int
)

func init() {
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "CSV file to write (default: record_path from config)")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	recordCmd.Flags().IntVar(&recordBuffer, "buffer", recorder.DefaultBufferSize, "Bytes buffered between the headset and the file")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	path := recordOutput
	if path == "" {
		path = cfg.RecordPath
	}
	if path == "" {
		return errors.New("no output file: pass --output or set record_path in the config")
	}
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

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	csv, err := recorder.NewCSV(f, recordBuffer, logger)
	if err != nil {
		return err
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting headset", "Connecting", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()

	session, watch, err := openSession(ctx, adapter, targets, csv, cfg.ConnectTimeout, logger, progress.Callback())
	if err != nil {
		_ = csv.Close()
		return err
	}

	var runErr error
	if err := session.Start(); err != nil {
		runErr = fmt.Errorf("failed to start streaming: %w", err)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Recording to %s, press Ctrl+C to stop\n", path)
		runErr = runFor(ctx, recordDuration, watch)
		if !errors.Is(runErr, ErrConnectionLost) {
			if err := session.Stop(); err != nil {
				logger.WithError(err).Warn("Failed to stop streaming")
			}
		}
	}
	if err := session.Close(); err != nil {
		logger.WithError(err).Warn("Failed to disconnect headset")
	}

	if err := csv.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}

	logger.WithFields(logrus.Fields{
		"file":    path,
		"rows":    csv.Rows(),
		"dropped": csv.Dropped(),
	}).Info("Recording finished")
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", csv.Rows(), path)

	return runErr
}
