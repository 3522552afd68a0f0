package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chaz8081/glancectl/internal/ble"
	"github.com/chaz8081/glancectl/internal/ble/bluez"
	"github.com/chaz8081/glancectl/internal/ble/protocol"
	"github.com/chaz8081/glancectl/internal/clock"
	"github.com/chaz8081/glancectl/internal/config"
	"github.com/chaz8081/glancectl/internal/telemetry"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the clock connected and stream its state",
	Long: `Runs until interrupted. The connection is kept alive and re-established
with backoff when it drops, the battery is polled, and every state change
and battery reading is pushed to WebSocket clients on telemetry.listen:

  GET  /ws      event stream (JSON, latest state sent on connect)
  GET  /state   latest events
  POST /notify  one notification per line of the request body`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

const (
	discoveryInterval = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	adapter := ble.NewTinyGoAdapter()
	store := openPairing(cfg, logger)
	opts := cfg.ManagerOptions()
	if store != nil {
		defer store.Close()
		opts.Pairing = store
	}

	manager := ble.NewManager(adapter, cfg.Device.Address, opts, logger)
	defer manager.Close()

	hub := telemetry.NewHub()
	defer hub.ObserveManager(manager)()

	ws := telemetry.NewWebSocketHub(logger)
	ws.Snapshot = hub.Latest
	defer hub.Register(ws.Broadcast)()
	defer ws.Close()

	clockOpts := cfg.ClockOptions()
	clockOpts.Telemetry = hub
	c := clock.New(manager, clockOpts, logger)

	if cfg.Telemetry.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Telemetry.Listen,
			Handler:           newAPI(hub, ws, clock.NewNotifier(c, protocol.Notification{}), logger).routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.WithField("addr", srv.Addr).Info("telemetry listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("telemetry server failed")
				cancel()
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if store != nil {
		go watchPairing(ctx, store, manager, logger)
	}
	go pollBattery(ctx, c, manager, cfg.Telemetry.BatteryPoll, logger)

	connectOnStart(ctx, adapter, opts.Pairing, manager, cfg, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// connectOnStart brings the link up when device.auto_connect is set,
// discovering the clock first if no address is configured.
func connectOnStart(ctx context.Context, adapter ble.Adapter, pairing ble.PairingStore, m *ble.Manager, cfg *config.Config, logger *logrus.Logger) {
	if !cfg.Device.AutoConnect {
		logger.Info("auto_connect disabled, not connecting")
		return
	}
	if m.Address() == "" {
		go discoverLoop(ctx, adapter, pairing, m, cfg, logger)
		return
	}
	if err := m.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// Transient failures keep retrying in the background.
		logger.WithError(err).Warn("initial connect failed")
	}
}

// discoverLoop scans until the manager has adopted a clock.
func discoverLoop(ctx context.Context, adapter ble.Adapter, pairing ble.PairingStore, m *ble.Manager, cfg *config.Config, logger *logrus.Logger) {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for m.Address() == "" {
		if _, err := ble.Discover(ctx, adapter, pairing, m, cfg.ScanOptions(), logger); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("discovery failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// watchPairing clears a Failed connection when the clock is paired again.
func watchPairing(ctx context.Context, store *bluez.Store, m *ble.Manager, logger *logrus.Logger) {
	err := store.Watch(ctx, func(change bluez.PairingChange) {
		if !change.Paired || change.Address != m.Address() || m.State() != ble.StateFailed {
			return
		}
		logger.WithField("device", change.Address).Info("clock re-paired, reconnecting")
		if err := m.Reset(); err != nil {
			return
		}
		go func() {
			if err := m.Connect(ctx); err != nil {
				logger.WithError(err).Warn("reconnect after pairing failed")
			}
		}()
	})
	if err != nil {
		logger.WithError(err).Warn("pairing watch stopped")
	}
}

// pollBattery reads the battery on every connect and every interval after.
// The reading reaches telemetry through the clock.
func pollBattery(ctx context.Context, c *clock.Clock, m *ble.Manager, interval time.Duration, logger *logrus.Logger) {
	connected := make(chan struct{}, 1)
	defer m.Observe(func(sc ble.StateChange) {
		if sc.To == ble.StateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-connected:
		case <-tick:
			if m.State() != ble.StateConnected {
				continue
			}
		}
		level, err := c.ReadBattery(ctx)
		switch {
		case errors.Is(err, protocol.ErrUnsupported):
			logger.Info("clock has no battery service, polling stopped")
			return
		case err != nil:
			logger.WithError(err).Debug("battery read failed")
		default:
			logger.WithField("battery", level).Debug("battery read")
		}
	}
}

// lineNotifier is the part of clock.Notifier the API needs.
type lineNotifier interface {
	NotifyLines(ctx context.Context, r io.Reader) (int, error)
}

type api struct {
	hub      *telemetry.Hub
	ws       http.Handler
	notifier lineNotifier
	log      *logrus.Logger
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newAPI(hub *telemetry.Hub, ws http.Handler, notifier lineNotifier, logger *logrus.Logger) *api {
	return &api{hub: hub, ws: ws, notifier: notifier, log: logger}
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", a.ws)
	mux.HandleFunc("/state", a.handleState)
	mux.HandleFunc("/notify", a.handleNotify)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *api) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	events := a.hub.Latest()
	if events == nil {
		events = []telemetry.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *api) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	sent, err := a.notifier.NotifyLines(r.Context(), io.LimitReader(r.Body, 64<<10))
	if err != nil {
		status := statusFor(err)
		a.log.WithError(err).WithField("sent", sent).Warn("notify request failed")
		writeJSON(w, status, ErrorResponse{Error: fmt.Sprintf("sent %d: %s", sent, err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrValidation), errors.Is(err, protocol.ErrEncode):
		return http.StatusBadRequest
	case errors.Is(err, ble.ErrNotConnected), errors.Is(err, ble.ErrLinkLost):
		return http.StatusServiceUnavailable
	case errors.Is(err, ble.ErrCommandTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
