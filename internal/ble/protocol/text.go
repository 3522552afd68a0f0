package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxTextLen is the longest encoded text the firmware accepts in one
// TextData field.
const MaxTextLen = 200

// Warning is a non-fatal encoding note, for example an icon marker that
// was replaced by the missing-character glyph.
type Warning struct {
	Field string
	Msg   string
}

func (w Warning) String() string {
	if w.Field == "" {
		return w.Msg
	}
	return w.Field + ": " + w.Msg
}

var iconMarker = regexp.MustCompile(`\[icon:(\d+)\]`)

// EncodeText converts display text to firmware bytes. "[icon:N]" markers
// become the glyph byte N; unknown charcodes and unsupported characters
// become GlyphMissing and add a warning. Text longer than MaxTextLen is
// truncated and returned together with an ErrTextTooLong error so callers
// can decide whether to send it anyway.
func EncodeText(field, text string) ([]byte, []Warning, error) {
	var (
		out      = make([]byte, 0, len(text))
		warnings []Warning
		last     int
	)

	emitLiteral := func(s string) {
		for _, r := range s {
			switch {
			case r < 0x80:
				out = append(out, byte(r))
			case r == '°':
				out = append(out, GlyphDegree)
			default:
				out = append(out, GlyphMissing)
				warnings = append(warnings, Warning{Field: field,
					Msg: fmt.Sprintf("character %q has no glyph, replaced with %d", r, GlyphMissing)})
			}
		}
	}

	for _, m := range iconMarker.FindAllStringSubmatchIndex(text, -1) {
		emitLiteral(text[last:m[0]])
		last = m[1]

		digits := text[m[2]:m[3]]
		n, err := strconv.Atoi(digits)
		if err == nil {
			if _, ok := Glyph(n); ok {
				out = append(out, byte(n))
				continue
			}
		}
		out = append(out, GlyphMissing)
		warnings = append(warnings, Warning{Field: field,
			Msg: fmt.Sprintf("unknown icon %s, replaced with %d", digits, GlyphMissing)})
	}
	emitLiteral(text[last:])

	if len(out) > MaxTextLen {
		err := &Error{Kind: KindEncode, Code: ErrTextTooLong.Code, Field: field, Value: len(out),
			Msg: fmt.Sprintf("encoded text exceeds %d bytes, truncated", MaxTextLen)}
		return out[:MaxTextLen], warnings, err
	}
	return out, warnings, nil
}

// DecodeText renders firmware text bytes back into display text, writing
// glyph bytes as "[icon:N]" markers.
func DecodeText(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "[icon:%d]", c)
	}
	return sb.String()
}

// textData builds the TextData submessage {1 text, 2 modificators}.
func textData(text []byte, modifier byte) *message {
	m := &message{}
	m.bytes(1, text)
	m.uint(2, uint64(modifier))
	return m
}
