package protocol

import (
	"strconv"
	"strings"

	"github.com/chaz8081/glancectl/internal/gradient"
)

// RGB is a 24-bit color.
type RGB = gradient.RGB

// Color is a resolved color. Palette colors also carry the index the
// firmware uses in its notification color field.
type Color struct {
	RGB     RGB
	palette int
}

// PaletteIndex returns the firmware palette index, if the color has one.
func (c Color) PaletteIndex() (int, bool) {
	return c.palette, c.palette >= 0
}

func (c Color) String() string {
	if name, ok := paletteName(c.palette); ok {
		return name
	}
	return c.RGB.String()
}

type namedColor struct {
	name    string
	rgb     RGB
	palette int
}

// palette is the firmware's notification color table, in index order.
var palette = []namedColor{
	{"black", RGB{0, 0, 0}, 0},
	{"dark_golden_rod", RGB{184, 134, 11}, 1},
	{"dark_orange", RGB{255, 140, 0}, 2},
	{"olive", RGB{128, 128, 0}, 3},
	{"orange_red", RGB{255, 69, 0}, 4},
	{"red", RGB{255, 0, 0}, 5},
	{"maroon", RGB{128, 0, 0}, 6},
	{"dark_magenta", RGB{139, 0, 139}, 7},
	{"medium_violet_red", RGB{199, 21, 133}, 8},
	{"brown", RGB{165, 42, 42}, 9},
	{"indigo", RGB{75, 0, 130}, 10},
	{"blue_violet", RGB{138, 43, 226}, 11},
	{"white", RGB{255, 255, 255}, 12},
	{"light_slate_blue", RGB{132, 112, 255}, 13},
	{"royal_blue", RGB{65, 105, 225}, 14},
	{"blue", RGB{0, 0, 255}, 15},
	{"cornflower_blue", RGB{100, 149, 237}, 16},
	{"sky_blue", RGB{135, 206, 235}, 17},
	{"turquoise", RGB{64, 224, 208}, 18},
	{"aqua", RGB{0, 255, 255}, 19},
	{"medium_spring_green", RGB{0, 250, 154}, 20},
	{"lime_green", RGB{50, 205, 50}, 21},
	{"dark_green", RGB{0, 100, 0}, 22},
	{"lime", RGB{0, 255, 0}, 23},
	{"lawn_green", RGB{124, 252, 0}, 24},
}

// extraColors are accepted by name but have no palette slot; notifications
// using them are sent with an explicit RGB value.
var extraColors = []namedColor{
	{"orange", RGB{255, 165, 0}, -1},
	{"yellow", RGB{255, 255, 0}, -1},
	{"green", RGB{0, 128, 0}, -1},
	{"purple", RGB{128, 0, 128}, -1},
	{"pink", RGB{255, 192, 203}, -1},
	{"gray", RGB{128, 128, 128}, -1},
}

var colorsByName = func() map[string]namedColor {
	m := make(map[string]namedColor, len(palette)+len(extraColors))
	for _, c := range palette {
		m[c.name] = c
	}
	for _, c := range extraColors {
		m[c.name] = c
	}
	return m
}()

func paletteName(i int) (string, bool) {
	if i < 0 || i >= len(palette) {
		return "", false
	}
	return palette[i].name, true
}

// DefaultNoticeColor is used when a notification names no color.
var DefaultNoticeColor = Color{RGB: RGB{255, 255, 255}, palette: 12}

// NamedColor resolves a color name.
func NamedColor(name string) (Color, error) {
	c, ok := colorsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Color{}, unknownEnum("color", name)
	}
	return Color{RGB: c.rgb, palette: c.palette}, nil
}

// ColorFromRGB validates each channel against 0..255.
func ColorFromRGB(r, g, b int) (Color, error) {
	for _, ch := range []struct {
		name string
		v    int
	}{{"r", r}, {"g", g}, {"b", b}} {
		if ch.v < 0 || ch.v > 255 {
			return Color{}, &Error{Kind: KindValidation, Code: ErrColorOutOfRange.Code,
				Field: "color." + ch.name, Value: ch.v, Msg: "must be in [0,255]"}
		}
	}
	return Color{RGB: RGB{R: uint8(r), G: uint8(g), B: uint8(b)}, palette: -1}, nil
}

// ParseColor accepts a color name, a hex string ("#ff8800" or "ff8800") or
// an "r,g,b" triple.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if c, err := NamedColor(s); err == nil {
		return c, nil
	}

	if parts := strings.Split(s, ","); len(parts) == 3 {
		var ch [3]int
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return Color{}, unknownEnum("color", s)
			}
			ch[i] = v
		}
		return ColorFromRGB(ch[0], ch[1], ch[2])
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 6 {
		if v, err := strconv.ParseUint(hex, 16, 32); err == nil {
			c := gradient.FromUint32(uint32(v))
			return Color{RGB: c, palette: -1}, nil
		}
	}
	return Color{}, unknownEnum("color", s)
}

// ColorNames lists every accepted color name, palette first.
func ColorNames() []string {
	out := make([]string, 0, len(palette)+len(extraColors))
	for _, c := range palette {
		out = append(out, c.name)
	}
	for _, c := range extraColors {
		out = append(out, c.name)
	}
	return out
}
