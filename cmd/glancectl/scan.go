package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/glancectl/internal/ble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find nearby Glance Clocks",
	Long: `Scans for advertising Glance Clocks and marks the ones this host is
paired with. --paired skips the radio and lists bonds known to BlueZ.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanPaired   bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "scan duration (default: connection.scan_timeout)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "show every advertiser, not only clocks")
	scanCmd.Flags().BoolVar(&scanPaired, "paired", false, "list paired clocks from BlueZ without scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	store := openPairing(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	var devices []ble.Device
	if scanPaired {
		if store == nil {
			return fmt.Errorf("--paired needs BlueZ on the system bus")
		}
		devices, err = store.PairedClocks(ctx)
	} else {
		opts := cfg.ScanOptions()
		opts.All = scanAll
		if scanDuration > 0 {
			opts.Timeout = scanDuration
		}
		var pairing ble.PairingStore
		if store != nil {
			pairing = store
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", opts.Timeout)
		devices, err = ble.ScanForClocks(ctx, ble.NewTinyGoAdapter(), pairing, opts)
	}
	if err != nil {
		return err
	}
	return printDevices(cmd.OutOrStdout(), devices, scanFormat)
}

func printDevices(out io.Writer, devices []ble.Device, format string) error {
	if format == "json" {
		type jsonDevice struct {
			Name    string `json:"name"`
			Address string `json:"address"`
			RSSI    int    `json:"rssi,omitempty"`
			Paired  bool   `json:"paired"`
		}
		list := make([]jsonDevice, 0, len(devices))
		for _, d := range devices {
			list = append(list, jsonDevice{Name: d.Name, Address: d.Address, RSSI: d.RSSI, Paired: d.Paired})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(devices) == 0 {
		fmt.Fprintln(out, "No clocks found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tPAIRED")
	for _, d := range devices {
		rssi := "-"
		if d.RSSI != 0 {
			rssi = fmt.Sprintf("%d", d.RSSI)
		}
		paired := "no"
		if d.Paired {
			paired = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Address, rssi, paired)
	}
	return w.Flush()
}
