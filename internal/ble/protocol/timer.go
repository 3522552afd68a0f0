package protocol

import (
	"fmt"
	"math"
)

// TimerInterval is one phase of a countdown timer.
type TimerInterval struct {
	Duration  int    `json:"duration" yaml:"duration"`
	Countdown int    `json:"countdown" yaml:"countdown"`
	Text      string `json:"text" yaml:"text"`
}

// Timer is a countdown shown on the clock, optionally split into intervals.
type Timer struct {
	Countdown int
	Intervals []TimerInterval
	FinalText []string
}

// EncodeTimer builds [3, 0, 0, 0] followed by the Timer message.
func EncodeTimer(t Timer) (Frame, []Warning, error) {
	if err := checkSeconds("countdown", t.Countdown); err != nil {
		return Frame{}, nil, err
	}

	var warnings []Warning
	msg := &message{}
	msg.uint(1, uint64(t.Countdown))

	for i, iv := range t.Intervals {
		if err := checkSeconds(fmt.Sprintf("intervals[%d].duration", i), iv.Duration); err != nil {
			return Frame{}, nil, err
		}
		if err := checkSeconds(fmt.Sprintf("intervals[%d].countdown", i), iv.Countdown); err != nil {
			return Frame{}, nil, err
		}
		sub := &message{}
		sub.uint(1, uint64(iv.Duration))
		sub.uint(2, uint64(iv.Countdown))
		if iv.Text != "" {
			text, w, err := EncodeText(fmt.Sprintf("intervals[%d].text", i), iv.Text)
			warnings = append(warnings, w...)
			if err != nil {
				return Frame{}, warnings, err
			}
			sub.embed(3, textData(text, 0))
		}
		msg.embed(2, sub)
	}

	for i, ft := range t.FinalText {
		text, w, err := EncodeText(fmt.Sprintf("final_text[%d]", i), ft)
		warnings = append(warnings, w...)
		if err != nil {
			return Frame{}, warnings, err
		}
		msg.embed(3, textData(text, 0))
	}

	data := append(header(OpTimer, 0, 0, 0), msg.buf...)
	return newWriteFrame(KindTimer, data), warnings, nil
}

func checkSeconds(field string, v int) error {
	if v < 0 || v > math.MaxInt32 {
		return outOfRange(field, v, 0, math.MaxInt32)
	}
	return nil
}
