package protocol

import (
	"strings"
)

// NewBatteryRead builds the read request for the standard Battery Level
// characteristic.
func NewBatteryRead() Frame {
	return newReadFrame(KindBatteryRead, BatteryServiceUUID, BatteryLevelCharUUID)
}

// DecodeBattery returns the battery percentage carried in byte 0 of a
// Battery Level value. Firmware that does not report battery yields
// ErrUnsupported.
func DecodeBattery(raw []byte) (int, error) {
	if len(raw) == 0 {
		return 0, unsupported("device does not report battery level")
	}
	if raw[0] > 100 {
		return 0, malformed("battery level %d exceeds 100", raw[0])
	}
	return int(raw[0]), nil
}

// DeviceInfo is the Device Information service content.
type DeviceInfo struct {
	Manufacturer     string `json:"manufacturer,omitempty"`
	Model            string `json:"model,omitempty"`
	Serial           string `json:"serial,omitempty"`
	HardwareRevision string `json:"hardware_revision,omitempty"`
	FirmwareRevision string `json:"firmware_revision,omitempty"`
}

var deviceInfoChars = []string{
	ManufacturerCharUUID,
	ModelNumberCharUUID,
	SerialNumberCharUUID,
	HardwareRevCharUUID,
	FirmwareRevCharUUID,
}

// NewDeviceInfoReads builds one read request per Device Information string.
func NewDeviceInfoReads() []Frame {
	out := make([]Frame, len(deviceInfoChars))
	for i, c := range deviceInfoChars {
		out[i] = newReadFrame(KindDeviceInfoRead, DeviceInfoServiceUUID, c)
	}
	return out
}

// DecodeDeviceInfo assembles DeviceInfo from the values read for
// NewDeviceInfoReads. Characteristics the device did not expose are simply
// absent from responses; if none are present the result is ErrUnsupported.
func DecodeDeviceInfo(responses []ResponseFrame) (DeviceInfo, error) {
	var info DeviceInfo
	found := false
	for _, r := range responses {
		v := strings.TrimSpace(strings.TrimRight(string(r.data), "\x00"))
		if v == "" {
			continue
		}
		switch r.char {
		case ManufacturerCharUUID:
			info.Manufacturer = v
		case ModelNumberCharUUID:
			info.Model = v
		case SerialNumberCharUUID:
			info.Serial = v
		case HardwareRevCharUUID:
			info.HardwareRevision = v
		case FirmwareRevCharUUID:
			info.FirmwareRevision = v
		default:
			continue
		}
		found = true
	}
	if !found {
		return DeviceInfo{}, unsupported("device exposes no device information")
	}
	return info, nil
}
