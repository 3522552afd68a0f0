package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

// sceneCmd groups the scene slot commands.
var sceneCmd = &cobra.Command{
	Use:   "scene",
	Short: "Manage scene slots",
	Long: fmt.Sprintf(`The clock stores up to %d scenes in slots %d-%d and cycles through them.`,
		protocol.MaxSlot-protocol.MinSlot+1, protocol.MinSlot, protocol.MaxSlot),
}

var sceneCreateCmd = &cobra.Command{
	Use:   "create <slot> <text...>",
	Short: "Store text in a scene slot",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSceneCreate,
}

var sceneFlags struct {
	mode     string
	priority string
	modifier string
}

func init() {
	f := sceneCreateCmd.Flags()
	f.StringVarP(&sceneFlags.mode, "mode", "m", "", "display mode")
	f.StringVarP(&sceneFlags.priority, "priority", "p", "", "priority")
	f.StringVar(&sceneFlags.modifier, "modifier", "", "text modifier")

	sceneCmd.AddCommand(sceneCreateCmd)
	for _, op := range []protocol.SceneOp{protocol.SceneNext, protocol.ScenePrev, protocol.SceneClear, protocol.SceneDelete} {
		sceneCmd.AddCommand(sceneControlCmd(op))
	}
}

func runSceneCreate(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}
	scene := protocol.Scene{
		Slot:         slot,
		Text:         strings.Join(args[1:], " "),
		DisplayMode:  sceneFlags.mode,
		Priority:     sceneFlags.priority,
		TextModifier: sceneFlags.modifier,
	}
	if _, _, err := protocol.EncodeSceneCreate(scene); err != nil {
		return err
	}
	return runWithClock(cmd, func(ctx context.Context, s *session) error {
		return s.clock.CreateScene(ctx, scene)
	})
}

func sceneControlCmd(op protocol.SceneOp) *cobra.Command {
	c := &cobra.Command{
		Use:  string(op),
		Args: cobra.NoArgs,
	}
	switch op {
	case protocol.SceneNext:
		c.Short = "Show the next scene"
	case protocol.ScenePrev:
		c.Short = "Show the previous scene"
	case protocol.SceneClear:
		c.Short = "Remove every scene"
	case protocol.SceneDelete:
		c.Use = "delete <slot>"
		c.Short = "Remove one scene"
		c.Args = cobra.ExactArgs(1)
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		var slot *int
		if len(args) == 1 {
			n, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			slot = &n
		}
		if _, _, err := protocol.EncodeSceneControl(op, slot); err != nil {
			return err
		}
		return runWithClock(cmd, func(ctx context.Context, s *session) error {
			return s.clock.ChangeScene(ctx, op, slot)
		})
	}
	return c
}

func parseSlot(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("slot must be a number, got %q", s)
	}
	if n < protocol.MinSlot || n > protocol.MaxSlot {
		return 0, fmt.Errorf("slot must be %d-%d, got %d", protocol.MinSlot, protocol.MaxSlot, n)
	}
	return n, nil
}
