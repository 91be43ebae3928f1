package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/eegbuds/internal/bledb"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/inspector"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info [left-id] [right-id]",
	Short: "Show model, serial and firmware information of each earpiece",
	Long: `Connects the headset, waits until both earpieces are ready, reads the
device information strings and battery levels, then disconnects.

Example:
  eegbuds info
  eegbuds info AA:BB:CC:DD:EE:01 AA:BB:CC:DD:EE:02 --json`,
	Args: cobra.MaximumNArgs(2),
	RunE: runInfo,
}

var (
	infoJSON        bool
	infoInfoTimeout time.Duration
)

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
	infoCmd.Flags().DurationVar(&infoInfoTimeout, "info-timeout", 2*time.Second, "Extra wait for late information reads")
}

type roleJSON struct {
	Role            string                                 `json:"role"`
	ID              string                                 `json:"id"`
	Characteristics []string                               `json:"characteristics"`
	Info            *orderedmap.OrderedMap[string, string] `json:"info"`
}

type batteryJSON struct {
	Left  uint8 `json:"left"`
	Right uint8 `json:"right"`
}

type reportJSON struct {
	Earpieces []roleJSON   `json:"earpieces"`
	Battery   *batteryJSON `json:"battery,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
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

	opts := &inspector.InspectOptions{
		ConnectTimeout: cfg.ConnectTimeout,
		InfoTimeout:    infoInfoTimeout,
		Logger:         logger,
	}
	for _, t := range targets {
		opts.Targets = append(opts.Targets, inspector.Target{Role: t.Role, ID: t.ID})
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Inspecting headset", "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	out := cmd.OutOrStdout()
	_, err = inspector.InspectHeadset(ctx, adapter, opts, progress.Callback(), func(r *inspector.Report) (struct{}, error) {
		if infoJSON {
			return struct{}{}, writeReportJSON(out, r)
		}
		return struct{}{}, writeReportText(out, r)
	})
	return err
}

func toReportJSON(r *inspector.Report) reportJSON {
	var rep reportJSON
	for _, role := range r.Roles {
		rj := roleJSON{
			Role:            role.Role.String(),
			ID:              string(role.ID),
			Characteristics: make([]string, 0, len(role.Characteristics)),
			Info:            orderedmap.New[string, string](),
		}
		for _, k := range role.Characteristics {
			rj.Characteristics = append(rj.Characteristics, k.String())
		}
		for p := role.Info.Oldest(); p != nil; p = p.Next() {
			rj.Info.Set(p.Key.String(), p.Value)
		}
		rep.Earpieces = append(rep.Earpieces, rj)
	}
	if r.Battery != nil {
		rep.Battery = &batteryJSON{Left: r.Battery[0], Right: r.Battery[1]}
	}
	return rep
}

func writeReportJSON(out io.Writer, r *inspector.Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(toReportJSON(r))
}

func writeReportText(out io.Writer, r *inspector.Report) error {
	for _, role := range r.Roles {
		fmt.Fprintf(out, "%s earpiece (%s)\n", role.Role, role.ID)
		if role.Info.Len() == 0 {
			fmt.Fprintln(out, "  no device information")
		}
		for p := role.Info.Oldest(); p != nil; p = p.Next() {
			fmt.Fprintf(out, "  %-18s %s\n", p.Key.String()+":", p.Value)
		}
		if len(role.Characteristics) > 0 {
			names := make([]string, 0, len(role.Characteristics))
			for _, k := range role.Characteristics {
				names = append(names, bledb.LookupCharacteristic(device.UUIDForKind(k)))
			}
			fmt.Fprintf(out, "  %-18s %s\n", "characteristics:", strings.Join(names, ", "))
		}
	}
	if r.Battery != nil {
		if len(r.Roles) == 1 {
			fmt.Fprintf(out, "Battery: %d%%\n", r.Battery[0])
		} else {
			fmt.Fprintf(out, "Battery: left %d%%, right %d%%\n", r.Battery[0], r.Battery[1])
		}
	}
	return nil
}
