package ble

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ScanOptions configures a discovery scan.
type ScanOptions struct {
	Timeout time.Duration // how long to listen for advertisements
	// ServiceUUID narrows the scan at the host stack. Many clocks do not
	// advertise their service, so the default is to scan everything and
	// match on name.
	ServiceUUID string
	// All disables the name filter.
	All bool
}

// DefaultScanOptions returns sensible defaults for production use.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{Timeout: 10 * time.Second}
}

// ScanForClocks scans for advertisers and returns the ones that look like a
// Glance Clock, strongest signal first. When store is non-nil each result is
// marked with its bond status.
func ScanForClocks(ctx context.Context, adapter Adapter, store PairingStore, opts ScanOptions) ([]Device, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScanOptions().Timeout
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	found, err := adapter.Scan(sctx, opts.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	var clocks []Device
	for _, d := range found {
		if !opts.All && !IsClock(d.Name) {
			continue
		}
		if store != nil {
			paired, err := store.IsPaired(ctx, d.Address)
			if err == nil {
				d.Paired = paired
			}
		}
		clocks = append(clocks, d)
	}
	sort.SliceStable(clocks, func(i, j int) bool { return clocks[i].RSSI > clocks[j].RSSI })
	return clocks, nil
}

// Discover runs one scan and feeds every clock it finds to m. It returns
// the devices m accepted.
func Discover(ctx context.Context, adapter Adapter, store PairingStore, m *Manager, opts ScanOptions, logger *logrus.Logger) ([]Device, error) {
	if logger == nil {
		logger = logrus.New()
	}
	clocks, err := ScanForClocks(ctx, adapter, store, opts)
	if err != nil {
		return nil, err
	}
	var accepted []Device
	for _, d := range clocks {
		if m.HandleDiscovery(d) {
			accepted = append(accepted, d)
			logger.WithFields(logrus.Fields{"device": d.Address, "name": d.Name, "rssi": d.RSSI}).Debug("ble: discovery matched")
		}
	}
	return accepted, nil
}
