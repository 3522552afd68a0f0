package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

// settingsCmd groups the display settings commands.
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change display settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the clock's display settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change display settings",
	Long: `Reads the current settings, applies the given flags and writes the full
record back. --from loads a complete record from a YAML file instead.

A brightness change is previewed on the ring for dispatch.brightness_preview.`,
	Example: `  glancectl settings set --brightness 40 --night-mode=false
  glancectl settings set --date-format month_day
  glancectl settings get > s.yaml && glancectl settings set --from s.yaml`,
	Args: cobra.NoArgs,
	RunE: runSettingsSet,
}

var (
	settingsFormat string
	settingsFrom   string
	settingsVals   protocol.DisplaySettings
	settingsDate   string
)

func init() {
	settingsGetCmd.Flags().StringVarP(&settingsFormat, "format", "f", "yaml", "output format (yaml, json)")

	f := settingsSetCmd.Flags()
	f.StringVar(&settingsFrom, "from", "", "YAML file holding a full settings record")
	f.BoolVar(&settingsVals.NightModeEnabled, "night-mode", false, "dim the display at night")
	f.BoolVar(&settingsVals.PointsAlwaysEnabled, "points", false, "always show the hour points")
	f.IntVar(&settingsVals.Brightness, "brightness", 0, "brightness 0-255")
	f.BoolVar(&settingsVals.TimeModeEnabled, "time-mode", false, "show the time when idle")
	f.BoolVar(&settingsVals.TimeFormat12h, "12h", false, "12 hour time format")
	f.BoolVar(&settingsVals.PermanentDND, "dnd", false, "permanent do not disturb")
	f.BoolVar(&settingsVals.PermanentMute, "mute", false, "permanent mute")
	f.StringVar(&settingsDate, "date-format", "", "date format name or number 0-4")
	f.IntVar(&settingsVals.UserActivityTimeout, "activity-timeout", 0, "seconds of inactivity before idle")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	if settingsFormat != "yaml" && settingsFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be yaml or json", settingsFormat)
	}
	return runWithClock(cmd, func(ctx context.Context, s *session) error {
		current, err := s.clock.ReadSettings(ctx)
		if err != nil {
			return err
		}
		return writeSettings(cmd.OutOrStdout(), current, settingsFormat)
	})
}

func writeSettings(out io.Writer, s protocol.DisplaySettings, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	var from *protocol.DisplaySettings
	if settingsFrom != "" {
		loaded, err := loadSettingsFile(settingsFrom)
		if err != nil {
			return err
		}
		from = &loaded
	} else if !anyChanged(cmd.Flags(), settingsFlagNames...) {
		return errors.New("nothing to change; pass at least one setting flag or --from")
	}

	return runWithClock(cmd, func(ctx context.Context, s *session) error {
		next := protocol.DefaultSettings()
		if from != nil {
			next = *from
		} else {
			current, err := s.clock.ReadSettings(ctx)
			switch {
			case errors.Is(err, protocol.ErrDecode):
				s.log.WithError(err).Warn("settings unreadable, starting from defaults")
			case err != nil:
				return err
			default:
				next = current
			}
		}
		next, err := applySettingsFlags(next, cmd.Flags())
		if err != nil {
			return err
		}
		return s.clock.UpdateSettings(ctx, next)
	})
}

func loadSettingsFile(path string) (protocol.DisplaySettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.DisplaySettings{}, fmt.Errorf("reading settings file: %w", err)
	}
	s := protocol.DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return protocol.DisplaySettings{}, fmt.Errorf("parsing settings file: %w", err)
	}
	return s, s.Validate()
}

var settingsFlagNames = []string{
	"night-mode", "points", "brightness", "time-mode", "12h",
	"dnd", "mute", "date-format", "activity-timeout",
}

func anyChanged(flags *pflag.FlagSet, names ...string) bool {
	for _, n := range names {
		if flags.Changed(n) {
			return true
		}
	}
	return false
}

// applySettingsFlags copies every flag the user set onto base.
func applySettingsFlags(base protocol.DisplaySettings, flags *pflag.FlagSet) (protocol.DisplaySettings, error) {
	set := func(name string) bool { return flags.Changed(name) }
	if set("night-mode") {
		base.NightModeEnabled = settingsVals.NightModeEnabled
	}
	if set("points") {
		base.PointsAlwaysEnabled = settingsVals.PointsAlwaysEnabled
	}
	if set("brightness") {
		base.Brightness = settingsVals.Brightness
	}
	if set("time-mode") {
		base.TimeModeEnabled = settingsVals.TimeModeEnabled
	}
	if set("12h") {
		base.TimeFormat12h = settingsVals.TimeFormat12h
	}
	if set("dnd") {
		base.PermanentDND = settingsVals.PermanentDND
	}
	if set("mute") {
		base.PermanentMute = settingsVals.PermanentMute
	}
	if set("activity-timeout") {
		base.UserActivityTimeout = settingsVals.UserActivityTimeout
	}
	if set("date-format") {
		v, err := parseDateFormat(settingsDate)
		if err != nil {
			return base, err
		}
		base.DateFormat = v
	}
	return base, base.Validate()
}

func parseDateFormat(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	return protocol.DateFormat(s)
}
