package protocol

// Response is a decoded ResponseFrame: Ack, DisplaySettings, BatteryLevel
// or DeviceInfoValue.
type Response interface {
	responseTag() ResponseTag
}

// Ack is the completion of a write frame.
type Ack struct{}

// BatteryLevel is a battery percentage, 0..100.
type BatteryLevel int

// DeviceInfoValue is one Device Information string.
type DeviceInfoValue struct {
	Characteristic string
	Value          string
}

func (Ack) responseTag() ResponseTag             { return TagAck }
func (DisplaySettings) responseTag() ResponseTag { return TagSettings }
func (BatteryLevel) responseTag() ResponseTag    { return TagBattery }
func (DeviceInfoValue) responseTag() ResponseTag { return TagDeviceInfo }

// Decode turns a response frame into its typed value.
func Decode(r ResponseFrame) (Response, error) {
	switch r.tag {
	case TagAck:
		return Ack{}, nil
	case TagSettings:
		s, err := DecodeSettings(r.data)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TagBattery:
		b, err := DecodeBattery(r.data)
		if err != nil {
			return nil, err
		}
		return BatteryLevel(b), nil
	case TagDeviceInfo:
		info, err := DecodeDeviceInfo([]ResponseFrame{r})
		if err != nil {
			return nil, err
		}
		return DeviceInfoValue{Characteristic: r.char, Value: firstNonEmpty(info)}, nil
	}
	return nil, unsupported("unknown response tag %d", int(r.tag))
}

func firstNonEmpty(info DeviceInfo) string {
	for _, v := range []string{info.Manufacturer, info.Model, info.Serial, info.HardwareRevision, info.FirmwareRevision} {
		if v != "" {
			return v
		}
	}
	return ""
}
