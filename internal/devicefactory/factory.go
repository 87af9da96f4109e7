package devicefactory

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/internal/device/go-ble"
)

// NewAdapter opens the platform device.Adapter shared by scanning and dialing.
// This is a variable so that it can be overridden in tests.
var NewAdapter = func(logger *logrus.Logger) (device.Adapter, error) {
	return goble.NewAdapter(logger)
}

// Open opens the platform adapter. Every failure wraps device.ErrRadioUnavailable.
func Open(logger *logrus.Logger) (device.Adapter, error) {
	adapter, err := NewAdapter(logger)
	if err != nil {
		if errors.Is(err, device.ErrRadioUnavailable) {
			return nil, fmt.Errorf("failed to open BLE adapter: %w", err)
		}
		return nil, fmt.Errorf("failed to open BLE adapter: %w: %w", device.ErrRadioUnavailable, err)
	}
	return adapter, nil
}
