package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/eegbuds/internal/collector"
	"github.com/srg/eegbuds/internal/output"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream [left-id] [right-id]",
	Short: "Stream headset events to stdout",
	Long: `Connects the headset, starts streaming and prints every event:
wearing status, combined samples, battery levels and link changes.

Modes:
  live     print events as they arrive
  batched  print everything collected once per --rate
  latest   once per --rate, print link events plus only the newest status,
           samples and battery values

Formats: text, json (one object per line), csv (samples only).

Example:
  eegbuds stream --format json --duration 10s
  eegbuds stream --mode latest --rate 500ms`,
	Args: cobra.MaximumNArgs(2),
	RunE: runStream,
}

var (
	streamFormat   string
	streamMode     string
	streamRate     time.Duration
	streamDuration time.Duration
	streamNoStart  bool
	streamBuffer   uint32
)

func init() {
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", "", "Output format (text, json, csv; default: output_format from config)")
	streamCmd.Flags().StringVar(&streamMode, "mode", "", "Stream mode (live, batched, latest; default: stream_mode from config)")
	streamCmd.Flags().DurationVar(&streamRate, "rate", 0, "Flush interval for batched and latest modes (default: stream_rate from config)")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	streamCmd.Flags().BoolVar(&streamNoStart, "no-start", false, "Connect and subscribe without sending the start command")
	streamCmd.Flags().Uint32Var(&streamBuffer, "buffer", 4096, "Events buffered between the headset and the writer")
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	if streamFormat != "" {
		cfg.OutputFormat = streamFormat
	}
	if streamMode != "" {
		cfg.StreamMode = streamMode
	}
	if streamRate > 0 {
		cfg.StreamRate = streamRate
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := collector.ParseMode(cfg.StreamMode)
	if err != nil {
		return err
	}
	write, err := output.New(cfg.OutputFormat, cmd.OutOrStdout())
	if err != nil {
		return err
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

	col, err := collector.New(streamBuffer, func(err error) {
		logger.WithError(err).Error("Event buffer failure")
	})
	if err != nil {
		return err
	}
	if err := col.Start(); err != nil {
		return err
	}
	defer func() { _ = col.Stop() }()

	drainer, err := collector.NewDrainer(ctx, col, mode, cfg.StreamRate, logger, write)
	if err != nil {
		return err
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting headset", "Connecting", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()

	session, watch, err := openSession(ctx, adapter, targets, col.Sink(), cfg.ConnectTimeout, logger, progress.Callback())
	if err != nil {
		drainer.Cancel()
		_ = drainer.Wait()
		return err
	}

	if !streamNoStart {
		if err := session.Start(); err != nil {
			_ = session.Close()
			drainer.Cancel()
			_ = drainer.Wait()
			return fmt.Errorf("failed to start streaming: %w", err)
		}
	}

	runErr := runFor(ctx, streamDuration, watch)

	if !errors.Is(runErr, ErrConnectionLost) && !streamNoStart {
		if err := session.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop streaming")
		}
	}
	if err := session.Close(); err != nil {
		logger.WithError(err).Warn("Failed to disconnect headset")
	}

	// Close delivered every queued event; move them into the buffer before
	// the drainer's final flush.
	if err := col.Stop(); err != nil {
		logger.WithError(err).Warn("Failed to stop collector")
	}
	drainer.Cancel()
	if err := drainer.Wait(); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	m := col.GetMetrics()
	logger.WithFields(logrus.Fields{
		"processed":   m.RecordsProcessed,
		"overwritten": m.RecordsOverwritten,
	}).Info("Stream finished")

	return runErr
}
