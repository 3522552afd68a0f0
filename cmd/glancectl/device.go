package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// batteryCmd represents the battery command
var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Print the battery level",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithClock(cmd, func(ctx context.Context, s *session) error {
			level, err := s.clock.ReadBattery(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d%%\n", level)
			return nil
		})
	},
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the device information service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithClock(cmd, func(ctx context.Context, s *session) error {
			info, err := s.clock.ReadDeviceInfo(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Address:\t%s\n", s.manager.Address())
			fmt.Fprintf(w, "Manufacturer:\t%s\n", info.Manufacturer)
			fmt.Fprintf(w, "Model:\t%s\n", info.Model)
			fmt.Fprintf(w, "Serial:\t%s\n", info.Serial)
			fmt.Fprintf(w, "Hardware:\t%s\n", info.HardwareRevision)
			fmt.Fprintf(w, "Firmware:\t%s\n", info.FirmwareRevision)
			return w.Flush()
		})
	},
}
