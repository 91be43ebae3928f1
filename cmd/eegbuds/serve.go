package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/collector"
	"github.com/srg/eegbuds/internal/hub"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [left-id] [right-id]",
	Short: "Serve headset events to websocket clients",
	Long: `Connects the headset and broadcasts every event as JSON to websocket
clients connected on /ws. Clients control the earpieces by sending
{"cmd":"start"} or {"cmd":"stop"}. GET /status returns the latest values.

Example:
  eegbuds serve --addr 127.0.0.1:8765
  websocat ws://127.0.0.1:8765/ws`,
	Args: cobra.MaximumNArgs(2),
	RunE: runServe,
}

var (
	serveAddr      string
	serveAutoStart bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8765", "Listen address")
	serveCmd.Flags().BoolVar(&serveAutoStart, "start", false, "Send the start command once the headset is ready")
}

// statusJSON holds per-side values in [left, right] order, null where a
// side never reported.
type statusJSON struct {
	Ready   bool      `json:"ready"`
	Clients int       `json:"clients"`
	Status  [2]*uint8 `json:"status"`
	Battery [2]*uint8 `json:"battery"`
}

func statusHandler(session *headset.Session, h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := session.Snapshot()
		st := statusJSON{
			Ready:   session.Ready(),
			Clients: h.Clients(),
			Status:  snap.Status,
			Battery: snap.Battery,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}

func commandHandler(session *headset.Session) hub.CommandFunc {
	return func(_ context.Context, cmd string) error {
		switch cmd {
		case "start":
			return session.Start()
		case "stop":
			return session.Stop()
		default:
			return fmt.Errorf("unknown command %q (expected start or stop)", cmd)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	mode, err := collector.ParseMode(cfg.StreamMode)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ln, err := net.Listen("tcp", serveAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", serveAddr, err)
	}
	defer ln.Close()

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

	col, err := collector.New(4096, func(err error) {
		logger.WithError(err).Error("Event buffer failure")
	})
	if err != nil {
		return err
	}
	if err := col.Start(); err != nil {
		return err
	}
	defer func() { _ = col.Stop() }()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting headset", "Connecting", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()

	session, watch, err := openSession(ctx, adapter, targets, col.Sink(), cfg.ConnectTimeout, logger, progress.Callback())
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Warn("Failed to disconnect headset")
		}
	}()

	h := hub.New(logger, commandHandler(session))
	drainer, err := collector.NewDrainer(ctx, col, mode, cfg.StreamRate, logger, h.Write)
	if err != nil {
		return err
	}
	defer func() {
		drainer.Cancel()
		_ = drainer.Wait()
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/status", statusHandler(session, h))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		// websocket handlers outlive Shutdown; end them with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	logger.WithField("addr", ln.Addr().String()).Info("Serving websocket clients")
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on ws://%s/ws, press Ctrl+C to stop\n", ln.Addr())

	if serveAutoStart {
		if err := session.Start(); err != nil {
			logger.WithError(err).Warn("Failed to start streaming")
		}
	}

	runDone := make(chan error, 1)
	go func() { runDone <- runFor(ctx, 0, watch) }()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case runErr = <-runDone:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown did not complete")
	}
	logger.WithField("clients", h.Clients()).Info("Server stopped")
	return runErr
}
