package protocol

import (
	"sort"
	"strings"
)

// enumTable is a closed name-to-byte lookup for one protocol field.
type enumTable struct {
	field  string
	values map[string]byte
}

func (t enumTable) lookup(name string) (byte, error) {
	v, ok := t.values[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, unknownEnum(t.field, name)
	}
	return v, nil
}

func (t enumTable) names() []string {
	out := make([]string, 0, len(t.values))
	for n := range t.values {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return t.values[out[i]] < t.values[out[j]] })
	return out
}

var animations = enumTable{field: "animation", values: map[string]byte{
	"none":                      0,
	"pulse":                     1,
	"wave":                      2,
	"fire":                      10,
	"wheel":                     11,
	"flower":                    12,
	"flower2":                   13,
	"fan":                       14,
	"sun":                       15,
	"thunderstorm":              16,
	"cloud":                     17,
	"weather_clear":             101,
	"weather_cloudy":            102,
	"weather_fog":               103,
	"weather_light_rain":        104,
	"weather_rain":              105,
	"weather_thunderstorm":      106,
	"weather_snow":              107,
	"weather_hail":              108,
	"weather_wind":              109,
	"weather_tornado":           110,
	"weather_hurricane":         111,
	"weather_snow_thunderstorm": 112,
}}

var sounds = enumTable{field: "sound", values: map[string]byte{
	"none":      0,
	"waves":     1,
	"rise":      2,
	"charging":  3,
	"steps":     4,
	"radar":     5,
	"bells":     6,
	"bye":       7,
	"hello":     8,
	"flowers":   9,
	"circles":   10,
	"complete":  11,
	"popcorn":   12,
	"break":     13,
	"opening":   14,
	"high":      15,
	"shine":     16,
	"extension": 17,
}}

var priorities = enumTable{field: "priority", values: map[string]byte{
	"low":      1,
	"medium":   16,
	"high":     48,
	"highest":  64,
	"critical": 80,
}}

var textModifiers = enumTable{field: "text_modifier", values: map[string]byte{
	"none":   0,
	"repeat": 1,
	"rapid":  2,
	"delay":  3,
}}

var displayModes = enumTable{field: "display_mode", values: map[string]byte{
	"ring_only":     0,
	"text_only":     1,
	"ring_and_text": 2,
}}

var dateFormats = enumTable{field: "date_format", values: map[string]byte{
	"disabled":    0,
	"day_month":   1,
	"day_weekday": 2,
	"month_day":   3,
	"weekday_day": 4,
}}

// Default enum values applied when a request leaves a field empty.
const (
	DefaultAnimation    = "pulse"
	DefaultSound        = "none"
	DefaultPriority     = "medium"
	DefaultTextModifier = "none"
	DefaultDisplayMode  = "ring_and_text"
)

// MaxDateFormat is the highest date format the firmware understands.
const MaxDateFormat = 4

// Animation maps an animation name to its protocol value.
func Animation(name string) (byte, error) {
	return animations.lookup(orDefault(name, DefaultAnimation))
}

// Sound maps a sound name to its protocol value.
func Sound(name string) (byte, error) { return sounds.lookup(orDefault(name, DefaultSound)) }

// Priority maps a priority band name to its protocol value.
func Priority(name string) (byte, error) { return priorities.lookup(orDefault(name, DefaultPriority)) }

// TextModifier maps a text modifier name to its protocol value.
func TextModifier(name string) (byte, error) {
	return textModifiers.lookup(orDefault(name, DefaultTextModifier))
}

// DisplayMode maps a scene display mode name to its protocol value.
func DisplayMode(name string) (byte, error) {
	return displayModes.lookup(orDefault(name, DefaultDisplayMode))
}

// DateFormat maps a date format name to the integer stored in settings.
func DateFormat(name string) (int, error) {
	v, err := dateFormats.lookup(name)
	return int(v), err
}

// DateFormatName is the inverse of DateFormat.
func DateFormatName(v int) (string, bool) {
	for n, b := range dateFormats.values {
		if int(b) == v {
			return n, true
		}
	}
	return "", false
}

// AnimationNames lists accepted animation names in protocol order.
func AnimationNames() []string { return animations.names() }

// SoundNames lists accepted sound names in protocol order.
func SoundNames() []string { return sounds.names() }

// PriorityNames lists accepted priority names in protocol order.
func PriorityNames() []string { return priorities.names() }

// TextModifierNames lists accepted text modifier names in protocol order.
func TextModifierNames() []string { return textModifiers.names() }

// DisplayModeNames lists accepted display mode names in protocol order.
func DisplayModeNames() []string { return displayModes.names() }

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
