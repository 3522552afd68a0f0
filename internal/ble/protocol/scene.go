package protocol

import (
	"fmt"
	"strings"
)

// Scene slots available on the device.
const (
	MinSlot = 0
	MaxSlot = 7
)

// Scene is the content stored in one device-side scene slot.
type Scene struct {
	Slot         int
	Text         string
	DisplayMode  string
	Priority     string
	TextModifier string
}

// SceneOp is a scene navigation or removal command.
type SceneOp string

const (
	SceneNext   SceneOp = "next"
	ScenePrev   SceneOp = "prev"
	SceneClear  SceneOp = "clear"
	SceneDelete SceneOp = "delete"
)

// ParseSceneOp validates a scene operation name.
func ParseSceneOp(s string) (SceneOp, error) {
	switch op := SceneOp(strings.ToLower(strings.TrimSpace(s))); op {
	case SceneNext, ScenePrev, SceneClear, SceneDelete:
		return op, nil
	}
	return "", invalidSceneOp(s, "unknown scene operation")
}

func invalidSceneOp(op string, msg string) error {
	return &Error{Kind: KindValidation, Code: ErrInvalidSceneOp.Code, Field: "scene_op", Value: op, Msg: msg}
}

func validateSlot(slot int) error {
	if slot < MinSlot || slot > MaxSlot {
		return outOfRange("slot", slot, MinSlot, MaxSlot)
	}
	return nil
}

// EncodeSceneCreate builds [6, priority, display_mode, slot] followed by the
// Scene message.
func EncodeSceneCreate(s Scene) (Frame, []Warning, error) {
	if err := validateSlot(s.Slot); err != nil {
		return Frame{}, nil, err
	}
	mode, err := DisplayMode(s.DisplayMode)
	if err != nil {
		return Frame{}, nil, err
	}
	prio, err := Priority(s.Priority)
	if err != nil {
		return Frame{}, nil, err
	}
	mod, err := TextModifier(s.TextModifier)
	if err != nil {
		return Frame{}, nil, err
	}
	text, warnings, err := EncodeText("text", s.Text)
	if err != nil {
		return Frame{}, warnings, err
	}

	msg := &message{}
	msg.embed(1, textData(text, mod))

	data := append(header(OpSceneCreate, prio, mode, byte(s.Slot)), msg.buf...)
	return newWriteFrame(KindSceneCreate, data), warnings, nil
}

// EncodeSceneControl builds a navigation or removal frame. Delete requires
// a slot. Next, prev and clear act on the device's current position; a slot
// passed to them is ignored and reported as a warning.
func EncodeSceneControl(op SceneOp, slot *int) (Frame, []Warning, error) {
	var warnings []Warning
	ignored := func() {
		if slot != nil {
			warnings = append(warnings, Warning{Field: "slot",
				Msg: fmt.Sprintf("scene %s takes no slot, ignoring %d", op, *slot)})
		}
	}

	switch op {
	case SceneNext:
		ignored()
		return newWriteFrame(KindSceneControl, []byte{OpSceneNext}), warnings, nil
	case ScenePrev:
		ignored()
		return newWriteFrame(KindSceneControl, []byte{OpScenePrev}), warnings, nil
	case SceneClear:
		ignored()
		return newWriteFrame(KindSceneControl, []byte{OpScenesClear}), warnings, nil
	case SceneDelete:
		if slot == nil {
			return Frame{}, nil, invalidSceneOp(string(op), "delete requires a slot")
		}
		if err := validateSlot(*slot); err != nil {
			return Frame{}, nil, err
		}
		return newWriteFrame(KindSceneDelete, []byte{OpSceneDelete, byte(*slot)}), nil, nil
	}
	return Frame{}, nil, invalidSceneOp(string(op), "unknown scene operation")
}
