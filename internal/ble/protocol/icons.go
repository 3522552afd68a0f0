package protocol

// Charcodes the firmware renders as built-in glyphs.
const (
	GlyphThermometer byte = 143
	GlyphMissing     byte = 154
	GlyphDegree      byte = 176
)

// glyphs maps every built-in charcode to a short name.
var glyphs = map[byte]string{
	128: "arrow_up",
	129: "arrow_down",
	130: "arrow_left",
	131: "arrow_right",
	132: "bell",
	133: "calendar",
	134: "mail",
	135: "phone",
	136: "message",
	137: "heart",
	138: "star",
	139: "sun",
	140: "moon",
	141: "cloud",
	142: "rain",
	143: "thermometer",
	144: "drop",
	145: "snowflake",
	146: "lightning",
	147: "wind",
	148: "home",
	149: "lock",
	150: "unlock",
	151: "battery",
	152: "music",
	153: "check",
	154: "missing",
	176: "degree",
}

// Glyph returns the name of charcode code and whether the firmware knows it.
func Glyph(code int) (string, bool) {
	if code < 0 || code > 255 {
		return "", false
	}
	name, ok := glyphs[byte(code)]
	return name, ok
}

// Glyphs returns all known charcodes in ascending order.
func Glyphs() []byte {
	out := make([]byte, 0, len(glyphs))
	for c := 0; c < 256; c++ {
		if _, ok := glyphs[byte(c)]; ok {
			out = append(out, byte(c))
		}
	}
	return out
}
