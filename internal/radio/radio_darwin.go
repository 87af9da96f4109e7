//go:build darwin

package radio

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	goble "github.com/srg/swlink/internal/device/go-ble"
)

// coreBluetoothChecker checks CoreBluetooth by creating the platform device,
// which fails while the radio is off. A successful check stops the device
// again so the adapter opened for the run is the only one.
type coreBluetoothChecker struct {
	logger *logrus.Logger
}

func newPlatformChecker(logger *logrus.Logger) Checker {
	return &coreBluetoothChecker{logger: logger}
}

func (c *coreBluetoothChecker) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := goble.DeviceFactory()
	if err != nil {
		err = goble.NormalizeError(err)
		c.logger.WithField("error", err).Debug("CoreBluetooth check failed")
		return fmt.Errorf("%w: %w", device.ErrRadioUnavailable, err)
	}
	if err := dev.Stop(); err != nil {
		c.logger.WithField("error", err).Debug("Failed to stop CoreBluetooth check device")
	}
	return nil
}
