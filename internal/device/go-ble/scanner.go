package goble

import (
	"context"
	"sync"

	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
)

// bleAdapter owns one opened ble.Device and serves both scanning and dialing
// through it.
type bleAdapter struct {
	*BLEConnector
	dev ble.Device

	closeOnce sync.Once
	closeErr  error
}

// NewAdapter opens the platform HCI/CoreBluetooth device. The caller owns the
// adapter and must Close it; no second adapter can be opened until then.
func NewAdapter(logger *logrus.Logger) (device.Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleAdapter{BLEConnector: newConnector(dev, logger), dev: dev}, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (a *bleAdapter) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	return NormalizeError(a.dev.Scan(ctx, allowDup, bleHandler))
}

// Close stops the platform device. Only the first call reaches the platform.
func (a *bleAdapter) Close() error {
	a.closeOnce.Do(func() {
		a.logger.Debug("Releasing BLE adapter")
		a.closeErr = NormalizeError(a.dev.Stop())
	})
	return a.closeErr
}
