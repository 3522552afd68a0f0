package protocol

import (
	"bytes"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// DisplaySettings is the device's full settings record. The wire format has
// no partial update, so writes always carry every field.
type DisplaySettings struct {
	NightModeEnabled    bool `json:"night_mode_enabled" yaml:"night_mode_enabled"`
	PointsAlwaysEnabled bool `json:"points_always_enabled" yaml:"points_always_enabled"`
	Brightness          int  `json:"brightness" yaml:"brightness"`
	TimeModeEnabled     bool `json:"time_mode_enabled" yaml:"time_mode_enabled"`
	TimeFormat12h       bool `json:"time_format_12h" yaml:"time_format_12h"`
	PermanentDND        bool `json:"permanent_dnd" yaml:"permanent_dnd"`
	PermanentMute       bool `json:"permanent_mute" yaml:"permanent_mute"`
	DateFormat          int  `json:"date_format" yaml:"date_format"`
	UserActivityTimeout int  `json:"user_activity_timeout" yaml:"user_activity_timeout"`
}

// DefaultSettings is the record used when the device cannot be read.
func DefaultSettings() DisplaySettings {
	return DisplaySettings{
		NightModeEnabled:    true,
		Brightness:          128,
		TimeModeEnabled:     true,
		UserActivityTimeout: 600,
	}
}

// Validate checks every ranged field.
func (s DisplaySettings) Validate() error {
	if s.Brightness < 0 || s.Brightness > 255 {
		return outOfRange("brightness", s.Brightness, 0, 255)
	}
	if s.DateFormat < 0 || s.DateFormat > MaxDateFormat {
		return outOfRange("date_format", s.DateFormat, 0, MaxDateFormat)
	}
	if s.UserActivityTimeout < 0 || s.UserActivityTimeout > math.MaxInt32 {
		return outOfRange("user_activity_timeout", s.UserActivityTimeout, 0, math.MaxInt32)
	}
	return nil
}

// Settings message field numbers.
const (
	settingsNightMode = iota + 1
	settingsPointsAlways
	settingsBrightness
	settingsTimeMode
	settingsTimeFormat12
	settingsPermanentDND
	settingsPermanentMute
	settingsDateFormat
	settingsActivityTimeout
)

// EncodeSettingsWrite builds [5, 0, 0, 0] followed by the Settings message.
func EncodeSettingsWrite(s DisplaySettings) (Frame, error) {
	if err := s.Validate(); err != nil {
		return Frame{}, err
	}
	return newWriteFrame(KindSettingsWrite, append(header(OpSettingsWrite, 0, 0, 0), settingsBody(s)...)), nil
}

func settingsBody(s DisplaySettings) []byte {
	m := &message{}
	m.bool(settingsNightMode, s.NightModeEnabled)
	m.bool(settingsPointsAlways, s.PointsAlwaysEnabled)
	m.uint(settingsBrightness, uint64(s.Brightness))
	m.bool(settingsTimeMode, s.TimeModeEnabled)
	m.bool(settingsTimeFormat12, s.TimeFormat12h)
	m.bool(settingsPermanentDND, s.PermanentDND)
	m.bool(settingsPermanentMute, s.PermanentMute)
	m.uint(settingsDateFormat, uint64(s.DateFormat))
	m.uint(settingsActivityTimeout, uint64(s.UserActivityTimeout))
	return m.buf
}

// NewSettingsRead builds the read request for the settings record.
func NewSettingsRead() Frame {
	return newReadFrame(KindSettingsRead, ServiceUUID, MainCharUUID)
}

var settingsDataPrefix = []byte("Data\x00")

// DecodeSettings parses a value read from the settings characteristic. The
// firmware prefixes the record either with the settings opcode or with a
// "Data\x00" descriptor marker; both are stripped.
func DecodeSettings(raw []byte) (DisplaySettings, error) {
	body := raw
	switch {
	case bytes.HasPrefix(body, settingsDataPrefix):
		body = body[len(settingsDataPrefix):]
	case len(body) > 0 && body[0] == OpSettingsWrite:
		body = body[1:]
	}
	if len(body) == 0 {
		return DisplaySettings{}, malformed("settings response has no record (%d bytes)", len(raw))
	}

	var s DisplaySettings
	err := walkFields(body, func(f field) error {
		if f.num < settingsNightMode || f.num > settingsActivityTimeout {
			return nil
		}
		if f.typ != protowire.VarintType {
			return malformed("settings field %d has wire type %d", f.num, f.typ)
		}
		v := f.varint
		switch f.num {
		case settingsNightMode:
			s.NightModeEnabled = v != 0
		case settingsPointsAlways:
			s.PointsAlwaysEnabled = v != 0
		case settingsBrightness:
			if v > 255 {
				return malformed("brightness %d out of range", v)
			}
			s.Brightness = int(v)
		case settingsTimeMode:
			s.TimeModeEnabled = v != 0
		case settingsTimeFormat12:
			s.TimeFormat12h = v != 0
		case settingsPermanentDND:
			s.PermanentDND = v != 0
		case settingsPermanentMute:
			s.PermanentMute = v != 0
		case settingsDateFormat:
			if v > MaxDateFormat {
				return malformed("date format %d out of range", v)
			}
			s.DateFormat = int(v)
		case settingsActivityTimeout:
			if v > math.MaxInt32 {
				return malformed("user activity timeout %d out of range", v)
			}
			s.UserActivityTimeout = int(v)
		}
		return nil
	})
	if err != nil {
		return DisplaySettings{}, err
	}
	return s, nil
}
