package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
	"github.com/chaz8081/glancectl/internal/clock"
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify [text...]",
	Short: "Show a notification",
	Long: `Shows a notification on the clock.

With no text, or text "-", every non-blank line of stdin becomes its own
notification:

  tail -f build.log | grep --line-buffered FAIL | glancectl notify -

Use --list to print the accepted animation, sound, color, priority and
modifier names.`,
	RunE: runNotify,
}

var notifyFlags struct {
	title     string
	animation string
	sound     string
	color     string
	priority  string
	modifier  string
	duration  time.Duration
	vibrate   bool
	loop      bool
	truncate  bool
	list      bool
}

func init() {
	f := notifyCmd.Flags()
	f.StringVarP(&notifyFlags.title, "title", "t", "", "title shown before the text")
	f.StringVar(&notifyFlags.animation, "animation", "", "animation name (default "+protocol.DefaultAnimation+")")
	f.StringVar(&notifyFlags.sound, "sound", "", "sound name (default "+protocol.DefaultSound+")")
	f.StringVarP(&notifyFlags.color, "color", "c", "", "color name, #rrggbb or r,g,b")
	f.StringVarP(&notifyFlags.priority, "priority", "p", "", "priority (default "+protocol.DefaultPriority+")")
	f.StringVar(&notifyFlags.modifier, "modifier", "", "text modifier")
	f.DurationVar(&notifyFlags.duration, "duration", 0, "how long to show the notification")
	f.BoolVar(&notifyFlags.vibrate, "vibrate", false, "vibrate on arrival")
	f.BoolVar(&notifyFlags.loop, "loop", false, "repeat the animation")
	f.BoolVar(&notifyFlags.truncate, "truncate", false, "cut over-long text instead of failing")
	f.BoolVar(&notifyFlags.list, "list", false, "list accepted names and exit")
}

func runNotify(cmd *cobra.Command, args []string) error {
	if notifyFlags.list {
		printNames(cmd.OutOrStdout())
		return nil
	}

	n := notificationFromFlags()
	text := strings.Join(args, " ")
	if text != "" && text != "-" {
		n.Text = text
		// Catch bad names before touching the radio.
		if _, _, err := protocol.EncodeNotification(n); err != nil {
			return err
		}
	}

	return runWithClock(cmd, func(ctx context.Context, s *session) error {
		if n.Text == "" {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Reading notifications from stdin, one per line. Ctrl+D ends.")
			}
			sent, err := clock.NewNotifier(s.clock, n).NotifyLines(ctx, os.Stdin)
			s.log.WithField("sent", sent).Debug("stdin drained")
			return err
		}
		warnings, err := s.clock.SendNotification(ctx, n)
		printWarnings(cmd, warnings)
		return err
	})
}

func notificationFromFlags() protocol.Notification {
	n := protocol.Notification{
		Title:         notifyFlags.title,
		Animation:     notifyFlags.animation,
		Sound:         notifyFlags.sound,
		Color:         notifyFlags.color,
		Priority:      notifyFlags.priority,
		TextModifier:  notifyFlags.modifier,
		Vibrate:       notifyFlags.vibrate,
		Loop:          notifyFlags.loop,
		AllowTruncate: notifyFlags.truncate,
	}
	if notifyFlags.duration > 0 {
		ms := int(notifyFlags.duration / time.Millisecond)
		n.DurationMS = &ms
	}
	return n
}

func printNames(out io.Writer) {
	fmt.Fprintf(out, "animations:     %s\n", strings.Join(protocol.AnimationNames(), ", "))
	fmt.Fprintf(out, "sounds:         %s\n", strings.Join(protocol.SoundNames(), ", "))
	fmt.Fprintf(out, "colors:         %s\n", strings.Join(protocol.ColorNames(), ", "))
	fmt.Fprintf(out, "priorities:     %s\n", strings.Join(protocol.PriorityNames(), ", "))
	fmt.Fprintf(out, "modifiers:      %s\n", strings.Join(protocol.TextModifierNames(), ", "))
	fmt.Fprintf(out, "display modes:  %s\n", strings.Join(protocol.DisplayModeNames(), ", "))
}
