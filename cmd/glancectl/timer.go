package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

// timerCmd represents the timer command
var timerCmd = &cobra.Command{
	Use:   "timer <duration>",
	Short: "Start a countdown timer",
	Long: `Starts a countdown on the clock. --interval splits it into phases, each
written DURATION[@COUNTDOWN][=TEXT]: the phase length, how much of it is
shown as a countdown (default: all of it) and an optional label.`,
	Example: `  glancectl timer 10m
  glancectl timer 30m --interval 25m=Focus --interval 5m@1m=Break --final Done`,
	Args: cobra.ExactArgs(1),
	RunE: runTimer,
}

var (
	timerIntervals []string
	timerFinal     []string
)

func init() {
	timerCmd.Flags().StringArrayVarP(&timerIntervals, "interval", "i", nil, "phase as DURATION[@COUNTDOWN][=TEXT]; repeatable")
	timerCmd.Flags().StringArrayVar(&timerFinal, "final", nil, "text shown when the timer ends; repeatable")
}

func runTimer(cmd *cobra.Command, args []string) error {
	countdown, err := parseSeconds(args[0])
	if err != nil {
		return err
	}
	t := protocol.Timer{Countdown: countdown, FinalText: timerFinal}
	for _, spec := range timerIntervals {
		iv, err := parseInterval(spec)
		if err != nil {
			return err
		}
		t.Intervals = append(t.Intervals, iv)
	}
	if _, _, err := protocol.EncodeTimer(t); err != nil {
		return err
	}
	return runWithClock(cmd, func(ctx context.Context, s *session) error {
		return s.clock.SendTimer(ctx, t)
	})
}

func parseInterval(spec string) (protocol.TimerInterval, error) {
	var iv protocol.TimerInterval
	timing, text, _ := strings.Cut(spec, "=")
	iv.Text = text

	dur, cd, hasCountdown := strings.Cut(timing, "@")
	var err error
	if iv.Duration, err = parseSeconds(dur); err != nil {
		return iv, fmt.Errorf("interval %q: %w", spec, err)
	}
	iv.Countdown = iv.Duration
	if hasCountdown {
		if iv.Countdown, err = parseSeconds(cd); err != nil {
			return iv, fmt.Errorf("interval %q: %w", spec, err)
		}
	}
	return iv, nil
}

// parseSeconds accepts a Go duration ("90s", "1m30s") and truncates it to
// whole seconds.
func parseSeconds(s string) (int, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return int(d / time.Second), nil
}
