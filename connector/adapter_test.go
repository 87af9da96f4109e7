package connector_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/connector"
	"github.com/srg/swlink/internal/device"
	goble "github.com/srg/swlink/internal/device/go-ble"
	"github.com/srg/swlink/internal/radio"
	"github.com/srg/swlink/internal/testutils"
	"github.com/srg/swlink/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hciRadio behaves like the Linux HCI user channel: only one device can be
// open at a time.
type hciRadio struct {
	mu     sync.Mutex
	open   bool
	opens  int
	stops  int
	busy   int
	dialed []string
}

func (r *hciRadio) newDevice() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		r.busy++
		return nil, errors.New("can't init hci: can't down device: device or resource busy")
	}
	r.open = true
	r.opens++
	return &hciDevice{radio: r}, nil
}

type hciDevice struct {
	ble.Device
	radio *hciRadio
}

func (d *hciDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	for i := 0; i < 2; i++ {
		h(hciAdvertisement{name: "Petrel", addr: ble.NewAddr(addrPetrel), rssi: -60 + i})
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *hciDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	d.radio.mu.Lock()
	defer d.radio.mu.Unlock()
	d.radio.dialed = append(d.radio.dialed, a.String())
	return nil, errors.New("le-connection-abort")
}

func (d *hciDevice) Stop() error {
	d.radio.mu.Lock()
	defer d.radio.mu.Unlock()
	d.radio.open = false
	d.radio.stops++
	return nil
}

type hciAdvertisement struct {
	ble.Advertisement
	name string
	addr ble.Addr
	rssi int
}

func (a hciAdvertisement) LocalName() string        { return a.name }
func (a hciAdvertisement) ManufacturerData() []byte { return nil }
func (a hciAdvertisement) Services() []ble.UUID     { return nil }
func (a hciAdvertisement) TxPowerLevel() int        { return 127 }
func (a hciAdvertisement) Connectable() bool        { return true }
func (a hciAdvertisement) RSSI() int                { return a.rssi }
func (a hciAdvertisement) Addr() ble.Addr           { return a.addr }

func TestRunUsesOneExclusiveDevice(t *testing.T) {
	// GOAL: Verify a whole run fits on a radio that allows a single open device
	//
	// TEST SCENARIO: Petrel found by the scan → dial reaches the same device
	// (no busy error) → device stopped once when Run returns
	hci := &hciRadio{}
	origFactory := goble.DeviceFactory
	origChecker := radio.NewChecker
	t.Cleanup(func() {
		goble.DeviceFactory = origFactory
		radio.NewChecker = origChecker
	})
	goble.DeviceFactory = hci.newDevice
	radio.NewChecker = func(*logrus.Logger) radio.Checker {
		return radio.CheckerFunc(func(context.Context) error { return nil })
	}

	c := connector.New(&connector.Options{
		Watcher: &watcher.Options{ScanTimeout: 50 * time.Millisecond},
	}, testutils.NewTestHelper(t).Logger)

	report, err := c.Run(context.Background())
	require.Error(t, err, "the only session fails to connect")
	assert.ErrorIs(t, err, device.ErrConnectFailed)
	assert.NotErrorIs(t, err, device.ErrRadioUnavailable, "dialing MUST NOT open a second device")
	require.Len(t, report.Sessions, 1)

	hci.mu.Lock()
	defer hci.mu.Unlock()
	assert.Equal(t, 1, hci.opens, "one run MUST open exactly one device")
	assert.Zero(t, hci.busy, "no open MUST hit a busy radio")
	assert.Equal(t, []string{addrPetrel}, hci.dialed)
	assert.Equal(t, 1, hci.stops, "the device MUST be stopped when Run returns")
	assert.False(t, hci.open)
}
