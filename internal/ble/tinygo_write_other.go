//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// Write waits for the write response.
func writeFunc(char bluetooth.DeviceCharacteristic) func([]byte) (int, error) {
	return char.Write
}
