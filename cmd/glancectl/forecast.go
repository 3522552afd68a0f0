package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
	"github.com/chaz8081/glancectl/internal/gradient"
)

// forecastCmd represents the forecast command
var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Paint a 24 hour forecast on the ring",
	Long: fmt.Sprintf(`Paints hourly values around the ring, starting at the current hour.

--samples lists the coming hours; "-" marks an hour with no value. The
series is normalized to %d samples: --current, when given, becomes the
first one, short series are padded with their last value and long ones are
cut. Each sample is colored between --min-color and --max-color by its
position between --min and --max, which default to the forecast's range.`, protocol.ForecastSamples),
	Example: `  glancectl forecast --current 6 --samples 4,4,3,3,2,2,3,5,8,11,13,15,16,17,17,16`,
	Args:    cobra.NoArgs,
	RunE:    runForecast,
}

var forecastFlags struct {
	samples            string
	current            float64
	min, max           float64
	minColor, maxColor string
	priority           string
}

func init() {
	f := forecastCmd.Flags()
	f.StringVarP(&forecastFlags.samples, "samples", "s", "", "comma separated hourly values")
	f.Float64Var(&forecastFlags.current, "current", 0, "current value, shown first")
	f.Float64Var(&forecastFlags.min, "min", 0, "value mapped to --min-color")
	f.Float64Var(&forecastFlags.max, "max", 0, "value mapped to --max-color")
	f.StringVar(&forecastFlags.minColor, "min-color", "blue", "color for the low end")
	f.StringVar(&forecastFlags.maxColor, "max-color", "red", "color for the high end")
	f.StringVarP(&forecastFlags.priority, "priority", "p", "", "priority")
	_ = forecastCmd.MarkFlagRequired("samples")
}

func runForecast(cmd *cobra.Command, args []string) error {
	now := time.Now()
	hourly, err := parseHourly(forecastFlags.samples, now)
	if err != nil {
		return err
	}
	var current *float64
	if cmd.Flags().Changed("current") {
		current = &forecastFlags.current
	}
	series, err := gradient.FromHourly(current, hourly, now)
	if err != nil {
		return err
	}

	lo, hi := series.RangeLow, series.RangeHigh
	if cmd.Flags().Changed("min") {
		lo = forecastFlags.min
	}
	if cmd.Flags().Changed("max") {
		hi = forecastFlags.max
	}
	minColor, err := protocol.ParseColor(forecastFlags.minColor)
	if err != nil {
		return err
	}
	maxColor, err := protocol.ParseColor(forecastFlags.maxColor)
	if err != nil {
		return err
	}

	fc := protocol.Forecast{
		Samples:  series.Values,
		MinValue: lo,
		MaxValue: hi,
		MinColor: minColor.RGB,
		MaxColor: maxColor.RGB,
		Start:    now,
		Priority: forecastFlags.priority,
	}
	if _, err := protocol.EncodeForecast(fc); err != nil {
		return err
	}
	return runWithClock(cmd, func(ctx context.Context, s *session) error {
		return s.clock.SendForecast(ctx, fc)
	})
}

// parseHourly reads comma separated values for consecutive hours starting
// at the hour of now. "-" or an empty field is an hour without a value.
func parseHourly(s string, now time.Time) ([]gradient.HourlySample, error) {
	fields := strings.Split(s, ",")
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	hourly := make([]gradient.HourlySample, 0, len(fields))
	for i, f := range fields {
		sample := gradient.HourlySample{Time: hour.Add(time.Duration(i) * time.Hour)}
		if f = strings.TrimSpace(f); f != "" && f != "-" {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("sample %d: %q is not a number", i+1, f)
			}
			sample.Temperature = &v
		}
		hourly = append(hourly, sample)
	}
	return hourly, nil
}
