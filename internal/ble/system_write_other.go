//go:build !darwin && !windows

package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// writeWithResponse fails on BlueZ and the other tinygo stacks, which only
// expose unacknowledged writes. Requests flagged withResponse are refused
// rather than sent without the acknowledgment they ask for.
func writeWithResponse(char *bluetooth.DeviceCharacteristic, data []byte) error {
	return fmt.Errorf("%w (%d bytes)", ErrWriteWithResponseUnsupported, len(data))
}
