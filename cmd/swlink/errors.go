package main

import (
	"errors"
	"fmt"

	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/internal/firmware"
)

// FormatUserError turns an error chain into a message with a hint for the
// conditions a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrRadioUnavailable):
		return fmt.Sprintf("%s\nBluetooth is off or missing: turn Bluetooth on and try again", msg)
	case errors.As(err, &nf):
		return fmt.Sprintf("%s\nthe device does not expose the Shearwater link: check the model and firmware", msg)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%s\nthe device did not answer in time: wake it up, move it closer and try again", msg)
	case errors.Is(err, device.ErrConnectFailed):
		return fmt.Sprintf("%s\nmake sure the dive computer has Bluetooth enabled and is not connected elsewhere", msg)
	case errors.Is(err, firmware.ErrCatalogUnavailable):
		return fmt.Sprintf("%s\ncheck the network connection or --catalog-url", msg)
	default:
		return msg
	}
}
