package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chaz8081/glancectl/internal/ble"
	"github.com/chaz8081/glancectl/internal/ble/bluez"
	"github.com/chaz8081/glancectl/internal/ble/protocol"
	"github.com/chaz8081/glancectl/internal/clock"
	"github.com/chaz8081/glancectl/internal/config"
)

// loadConfig loads the config named by --config, or the default config file
// if it exists, or built-in defaults. Flags override file values.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultConfigPath())
	}
	if err != nil {
		return nil, nil, err
	}

	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagAddress != "" {
		cfg.Device.Address = flagAddress
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openPairing connects to BlueZ for bond lookups. Hosts without BlueZ
// (macOS, containers) get nil and rely on connect errors alone.
func openPairing(cfg *config.Config, logger *logrus.Logger) *bluez.Store {
	store, err := bluez.Open(cfg.Device.Adapter, logger)
	if err != nil {
		logger.WithError(err).Debug("pairing lookups disabled")
		return nil
	}
	return store
}

// session is one connected clock for the duration of a command.
type session struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *bluez.Store
	manager *ble.Manager
	clock   *clock.Clock
}

// openSession connects to the configured clock. With no address configured
// the nearest paired clock is used.
func openSession(ctx context.Context) (*session, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	adapter := ble.NewTinyGoAdapter()
	s := &session{cfg: cfg, log: logger, store: openPairing(cfg, logger)}

	opts := cfg.ManagerOptions()
	if s.store != nil {
		opts.Pairing = s.store
	}

	address := cfg.Device.Address
	if address == "" {
		dev, err := nearestClock(ctx, adapter, opts.Pairing, cfg.ScanOptions())
		if err != nil {
			s.Close()
			return nil, err
		}
		logger.WithFields(logrus.Fields{"device": dev.Address, "name": dev.Name}).Info("using nearest clock")
		address = dev.Address
	}

	s.manager = ble.NewManager(adapter, address, opts, logger)
	if err := s.manager.Connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.clock = clock.New(s.manager, cfg.ClockOptions(), logger)
	return s, nil
}

// Close disconnects and releases the bus connection.
func (s *session) Close() {
	if s.manager != nil {
		_ = s.manager.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// nearestClock prefers a paired clock, then any clock.
func nearestClock(ctx context.Context, adapter ble.Adapter, store ble.PairingStore, opts ble.ScanOptions) (ble.Device, error) {
	clocks, err := ble.ScanForClocks(ctx, adapter, store, opts)
	if err != nil {
		return ble.Device{}, fmt.Errorf("scanning for clocks: %w", err)
	}
	return pickClock(clocks)
}

// pickClock returns the first paired device, else the first device. Input
// is sorted strongest signal first.
func pickClock(clocks []ble.Device) (ble.Device, error) {
	if len(clocks) == 0 {
		return ble.Device{}, errors.New("no clock found nearby; pass --address or set device.address")
	}
	for _, d := range clocks {
		if d.Paired {
			return d, nil
		}
	}
	return clocks[0], nil
}

// runWithClock opens a session, runs fn and closes the session.
func runWithClock(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	// Arguments are validated by now; runtime errors don't need usage.
	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

var warnColor = color.New(color.FgYellow)

func printWarnings(cmd *cobra.Command, warnings []protocol.Warning) {
	for _, w := range warnings {
		warnColor.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
}

// userError adds a hint to errors a user can act on.
func userError(err error) string {
	var perr *protocol.Error
	switch {
	case errors.Is(err, ble.ErrAuthRejected):
		return fmt.Sprintf("%s\nPair the clock first, for example: bluetoothctl pair <address>", err)
	case errors.Is(err, ble.ErrRetriesExhausted):
		return fmt.Sprintf("%s\nIs the clock powered on and in range?", err)
	case errors.As(err, &perr) && perr.Kind != protocol.KindDecode:
		return fmt.Sprintf("invalid input: %s", err)
	}
	return err.Error()
}
