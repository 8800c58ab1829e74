//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

func writeWithResponse(char *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.Write(data)
	return err
}
