package protocol

import (
	"errors"
	"math"
)

// Notification is a one-shot message shown on the clock face.
type Notification struct {
	Text  string
	Title string

	Animation    string
	Sound        string
	Color        string // palette name, extra color name, hex or "r,g,b"; empty means white
	Priority     string
	TextModifier string

	DurationMS *int
	Vibrate    bool
	Loop       bool

	// AllowTruncate sends over-long text cut to MaxTextLen and reports a
	// warning instead of failing with ErrTextTooLong.
	AllowTruncate bool
}

// EncodeNotification builds a Notice frame: [2, priority, 0, 0] followed by
// the Notice message.
func EncodeNotification(n Notification) (Frame, []Warning, error) {
	anim, err := Animation(n.Animation)
	if err != nil {
		return Frame{}, nil, err
	}
	sound, err := Sound(n.Sound)
	if err != nil {
		return Frame{}, nil, err
	}
	prio, err := Priority(n.Priority)
	if err != nil {
		return Frame{}, nil, err
	}
	mod, err := TextModifier(n.TextModifier)
	if err != nil {
		return Frame{}, nil, err
	}

	color := DefaultNoticeColor
	if n.Color != "" {
		if color, err = ParseColor(n.Color); err != nil {
			return Frame{}, nil, err
		}
	}

	if n.DurationMS != nil && (*n.DurationMS < 0 || *n.DurationMS > math.MaxInt32) {
		return Frame{}, nil, outOfRange("duration_ms", *n.DurationMS, 0, math.MaxInt32)
	}

	text := n.Text
	if n.Title != "" {
		text = n.Title + ": " + n.Text
	}
	encoded, warnings, err := EncodeText("text", text)
	if err != nil {
		if !n.AllowTruncate || !errors.Is(err, ErrTextTooLong) {
			return Frame{}, warnings, err
		}
		warnings = append(warnings, Warning{Field: "text", Msg: err.Error()})
	}

	msg := &message{}
	msg.uint(1, uint64(anim))
	msg.uint(2, uint64(sound))
	if idx, ok := color.PaletteIndex(); ok {
		msg.uint(3, uint64(idx))
	}
	msg.embed(4, textData(encoded, mod))
	if n.DurationMS != nil {
		msg.uint(5, uint64(*n.DurationMS))
	}
	if n.Vibrate {
		msg.bool(6, true)
	}
	if n.Loop {
		msg.bool(7, true)
	}
	if _, ok := color.PaletteIndex(); !ok {
		msg.uint(8, uint64(color.RGB.Uint32()))
	}

	data := append(header(OpNotice, prio, 0, 0), msg.buf...)
	return newWriteFrame(KindNotification, data), warnings, nil
}
