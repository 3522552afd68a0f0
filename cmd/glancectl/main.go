package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glancectl",
	Short: "Control a Glance Clock over Bluetooth LE",
	Long: `glancectl drives a Glance Clock over Bluetooth Low Energy:

- Find nearby and paired clocks
- Show notifications, timers and forecast rings
- Manage the eight scene slots
- Read and change display settings
- Run as a daemon that keeps the link up and streams state over a WebSocket

The clock must already be paired with this computer.`,
	Version: version,
}

var (
	flagConfig   string
	flagLogLevel string
	flagAddress  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "ERROR: ")
		fmt.Fprintln(os.Stderr, userError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(timerCmd)
	rootCmd.AddCommand(batteryCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: ~/.config/glancectl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&flagAddress, "address", "a", "", "clock address; overrides device.address")
}
