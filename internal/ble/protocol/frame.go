// Package protocol implements the Glance Clock wire protocol: typed requests
// are encoded into command frames and raw characteristic values are decoded
// back into settings and telemetry. Everything here is pure; no function
// performs I/O.
package protocol

import (
	"encoding/hex"
	"fmt"
)

// Glance Clock GATT UUIDs.
const (
	ServiceUUID  = "5075f606-1e0e-11e7-93ae-92361f002671"
	MainCharUUID = "5075fb2e-1e0e-11e7-93ae-92361f002671"
)

// Standard Bluetooth SIG services the clock exposes.
const (
	BatteryServiceUUID   = "0000180f-0000-1000-8000-00805f9b34fb"
	BatteryLevelCharUUID = "00002a19-0000-1000-8000-00805f9b34fb"

	DeviceInfoServiceUUID = "0000180a-0000-1000-8000-00805f9b34fb"
	ManufacturerCharUUID  = "00002a29-0000-1000-8000-00805f9b34fb"
	ModelNumberCharUUID   = "00002a24-0000-1000-8000-00805f9b34fb"
	SerialNumberCharUUID  = "00002a25-0000-1000-8000-00805f9b34fb"
	HardwareRevCharUUID   = "00002a27-0000-1000-8000-00805f9b34fb"
	FirmwareRevCharUUID   = "00002a26-0000-1000-8000-00805f9b34fb"
)

// Command opcodes, the first byte of every frame written to the main
// characteristic.
const (
	OpNotice               byte = 2
	OpTimer                byte = 3
	OpSettingsWrite        byte = 5
	OpSceneCreate          byte = 6
	OpForecast             byte = 7
	OpSceneNext            byte = 30
	OpScenePrev            byte = 31
	OpScenesClear          byte = 32
	OpSceneDelete          byte = 33
	OpUpdateData           byte = 35
	OpBrightnessSceneStop  byte = 60
	OpBrightnessSceneStart byte = 61
)

// FrameKind tags a command frame with the operation it encodes.
type FrameKind int

const (
	KindNotification FrameKind = iota
	KindSceneCreate
	KindSceneControl
	KindSceneDelete
	KindSettingsWrite
	KindSettingsRead
	KindForecastWrite
	KindTimer
	KindUpdateData
	KindBrightnessScene
	KindBatteryRead
	KindDeviceInfoRead
)

var frameKindNames = map[FrameKind]string{
	KindNotification:    "notification",
	KindSceneCreate:     "scene_create",
	KindSceneControl:    "scene_control",
	KindSceneDelete:     "scene_delete",
	KindSettingsWrite:   "settings_write",
	KindSettingsRead:    "settings_read",
	KindForecastWrite:   "forecast_write",
	KindTimer:           "timer",
	KindUpdateData:      "update_data",
	KindBrightnessScene: "brightness_scene",
	KindBatteryRead:     "battery_read",
	KindDeviceInfoRead:  "device_info_read",
}

func (k FrameKind) String() string {
	if s, ok := frameKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("frame_kind(%d)", int(k))
}

// Access says how the connection manager transmits a frame.
type Access int

const (
	// AccessWrite writes the payload; completion is the write acknowledgment.
	AccessWrite Access = iota
	// AccessRead reads the target characteristic; the payload is empty.
	AccessRead
)

// Frame is one immutable command frame. Build frames with the New*/Encode*
// functions in this package.
type Frame struct {
	kind    FrameKind
	access  Access
	service string
	char    string
	data    []byte
}

func newWriteFrame(kind FrameKind, data []byte) Frame {
	return Frame{kind: kind, access: AccessWrite, service: ServiceUUID, char: MainCharUUID, data: data}
}

func newReadFrame(kind FrameKind, service, char string) Frame {
	return Frame{kind: kind, access: AccessRead, service: service, char: char}
}

// Kind returns the frame tag.
func (f Frame) Kind() FrameKind { return f.kind }

// Access returns how the frame is transmitted.
func (f Frame) Access() Access { return f.access }

// Service returns the GATT service UUID the frame targets.
func (f Frame) Service() string { return f.service }

// Characteristic returns the GATT characteristic UUID the frame targets.
func (f Frame) Characteristic() string { return f.char }

// Bytes returns a copy of the payload.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// Len returns the payload length.
func (f Frame) Len() int { return len(f.data) }

func (f Frame) String() string {
	if f.access == AccessRead {
		return fmt.Sprintf("%s read %s", f.kind, f.char)
	}
	return fmt.Sprintf("%s [%s]", f.kind, hex.EncodeToString(f.data))
}

// ResponseTag identifies what a response frame carries.
type ResponseTag int

const (
	TagAck ResponseTag = iota
	TagSettings
	TagBattery
	TagDeviceInfo
)

// ResponseFrame is an immutable value received from the device.
type ResponseFrame struct {
	tag  ResponseTag
	char string
	data []byte
}

// NewResponseFrame wraps bytes read from char. The slice is copied.
func NewResponseFrame(tag ResponseTag, char string, data []byte) ResponseFrame {
	cp := make([]byte, len(data))
	copy(cp, data)
	return ResponseFrame{tag: tag, char: char, data: cp}
}

// Tag returns the response tag.
func (r ResponseFrame) Tag() ResponseTag { return r.tag }

// Characteristic returns the characteristic UUID the value arrived on.
func (r ResponseFrame) Characteristic() string { return r.char }

// Bytes returns a copy of the response payload.
func (r ResponseFrame) Bytes() []byte {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// ResponseTagFor returns the tag a response to f carries.
func ResponseTagFor(f Frame) ResponseTag {
	switch f.kind {
	case KindSettingsRead:
		return TagSettings
	case KindBatteryRead:
		return TagBattery
	case KindDeviceInfoRead:
		return TagDeviceInfo
	default:
		return TagAck
	}
}

// header builds the 4-byte command header.
func header(op, a, b, c byte) []byte {
	return []byte{op, a, b, c}
}

// NewUpdateData builds the "prepare for update" control frame the device
// expects before settings and forecast writes.
func NewUpdateData() Frame {
	return newWriteFrame(KindUpdateData, []byte{OpUpdateData})
}

// NewBrightnessScene builds the brightness preview start or stop frame.
func NewBrightnessScene(start bool) Frame {
	op := OpBrightnessSceneStop
	if start {
		op = OpBrightnessSceneStart
	}
	return newWriteFrame(KindBrightnessScene, []byte{op})
}
