package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/swlink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdvertisement implements advertisementSource
type stubAdvertisement struct {
	name        string
	addr        ble.Addr
	rssi        int
	services    []ble.UUID
	connectable bool
}

func (a stubAdvertisement) LocalName() string        { return a.name }
func (a stubAdvertisement) ManufacturerData() []byte { return nil }
func (a stubAdvertisement) Services() []ble.UUID     { return a.services }
func (a stubAdvertisement) TxPowerLevel() int        { return 127 }
func (a stubAdvertisement) Connectable() bool        { return a.connectable }
func (a stubAdvertisement) RSSI() int                { return a.rssi }
func (a stubAdvertisement) Addr() ble.Addr           { return a.addr }

func TestNewBLEAdvertisement(t *testing.T) {
	t.Run("exposes advertisement fields", func(t *testing.T) {
		adv := NewBLEAdvertisement(stubAdvertisement{
			name:        "Petrel",
			addr:        ble.NewAddr("aa:bb:cc:dd:ee:01"),
			rssi:        -61,
			services:    []ble.UUID{ble.MustParse(vendorService), ble.UUID16(0x180F)},
			connectable: true,
		})

		assert.Equal(t, "Petrel", adv.LocalName())
		assert.Equal(t, "aa:bb:cc:dd:ee:01", adv.Addr())
		assert.Equal(t, -61, adv.RSSI())
		assert.True(t, adv.Connectable())
		assert.Equal(t, []string{device.NormalizeUUID(vendorService), "180f"}, adv.Services())
	})

	t.Run("tolerates missing address", func(t *testing.T) {
		adv := NewBLEAdvertisement(stubAdvertisement{name: "Perdix"})
		assert.Empty(t, adv.Addr(), "missing platform address MUST map to empty string")
		assert.Empty(t, adv.Services())
	})
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		in     error
		target error
	}{
		{name: "darwin powered off", in: errors.New("central manager has invalid state: have=4 want=5"), target: device.ErrRadioUnavailable},
		{name: "bluetooth off", in: errors.New("Bluetooth is turned off"), target: device.ErrRadioUnavailable},
		{name: "no adapter", in: errors.New("no supported devices available"), target: device.ErrRadioUnavailable},
		{name: "hci init", in: errors.New("can't init hci: permission denied"), target: device.ErrRadioUnavailable},
		{name: "not connected", in: errors.New("device not connected"), target: device.ErrNotConnected},
		{name: "disconnected", in: errors.New("peripheral disconnected"), target: device.ErrNotConnected},
		{name: "already connected", in: errors.New("device already connected"), target: device.ErrAlreadyConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.in)
			require.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.in.Error(), "original message MUST be preserved")
		})
	}

	t.Run("passes through unknown errors", func(t *testing.T) {
		in := errors.New("att: insufficient authentication")
		assert.Same(t, in, NormalizeError(in))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})
}

func TestBLEProperties(t *testing.T) {
	props := NewProperties(ble.CharRead | ble.CharNotify)

	require.NotNil(t, props.Read())
	assert.Equal(t, "Read", props.Read().KnownName())
	assert.Equal(t, int(ble.CharRead), props.Read().Value())
	require.NotNil(t, props.Notify())
	assert.Equal(t, "Notify", props.Notify().KnownName())

	assert.Nil(t, props.Indicate())
	assert.Nil(t, props.Write())
	assert.Nil(t, props.WriteWithoutResponse())
	assert.Nil(t, props.Broadcast())
	assert.Nil(t, props.AuthenticatedSignedWrites())
	assert.Nil(t, props.ExtendedProperties())

	assert.Equal(t, []string{"Read", "Notify"}, props.(*BLEProperties).Names())
}

// fakeScanDevice embeds ble.Device so only Scan needs an implementation
type fakeScanDevice struct {
	ble.Device
	ads []ble.Advertisement
	err error
}

func (f *fakeScanDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	for _, a := range f.ads {
		h(a)
	}
	return f.err
}

type bleAdv struct {
	ble.Advertisement
	stubAdvertisement
}

func (a bleAdv) LocalName() string        { return a.stubAdvertisement.LocalName() }
func (a bleAdv) ManufacturerData() []byte { return nil }
func (a bleAdv) Services() []ble.UUID     { return a.stubAdvertisement.Services() }
func (a bleAdv) TxPowerLevel() int        { return 127 }
func (a bleAdv) Connectable() bool        { return a.stubAdvertisement.Connectable() }
func (a bleAdv) RSSI() int                { return a.stubAdvertisement.RSSI() }
func (a bleAdv) Addr() ble.Addr           { return a.stubAdvertisement.Addr() }

func TestScannerConvertsAdvertisements(t *testing.T) {
	orig := DeviceFactory
	t.Cleanup(func() { DeviceFactory = orig })

	dev := &fakeScanDevice{
		ads: []ble.Advertisement{
			bleAdv{stubAdvertisement: stubAdvertisement{name: "Perdix", addr: ble.NewAddr("aa:bb:cc:dd:ee:02"), rssi: -70}},
		},
		err: context.DeadlineExceeded,
	}
	DeviceFactory = func() (ble.Device, error) { return dev, nil }

	scanner, err := NewAdapter(nil)
	require.NoError(t, err)

	var got []device.Advertisement
	err = scanner.Scan(context.Background(), true, func(a device.Advertisement) {
		got = append(got, a)
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, got, 1)
	assert.Equal(t, "Perdix", got[0].LocalName())
	assert.Equal(t, "aa:bb:cc:dd:ee:02", got[0].Addr())
}

// exclusiveRadio hands out at most one open device, like the Linux HCI user channel.
type exclusiveRadio struct {
	mu     sync.Mutex
	open   bool
	opens  int
	stops  int
	dialed []string
}

func (r *exclusiveRadio) factory() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return nil, errors.New("can't init hci: can't down device: device or resource busy")
	}
	r.open = true
	r.opens++
	return &exclusiveDevice{radio: r}, nil
}

type exclusiveDevice struct {
	ble.Device
	radio *exclusiveRadio
}

func (d *exclusiveDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	h(bleAdv{stubAdvertisement: stubAdvertisement{name: "Petrel", addr: ble.NewAddr("aa:bb:cc:dd:ee:03")}})
	<-ctx.Done()
	return ctx.Err()
}

func (d *exclusiveDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	d.radio.mu.Lock()
	defer d.radio.mu.Unlock()
	d.radio.dialed = append(d.radio.dialed, a.String())
	return nil, errors.New("le-connection-abort")
}

func (d *exclusiveDevice) Stop() error {
	d.radio.mu.Lock()
	defer d.radio.mu.Unlock()
	d.radio.open = false
	d.radio.stops++
	return nil
}

func TestAdapterScansAndDialsOnOneDevice(t *testing.T) {
	// GOAL: Verify scanning and dialing share a single opened platform device
	//
	// TEST SCENARIO: Exclusive radio → one open serves Scan and Dial → Close releases it → reopen succeeds
	radio := &exclusiveRadio{}
	orig := DeviceFactory
	t.Cleanup(func() { DeviceFactory = orig })
	DeviceFactory = radio.factory

	adapter, err := NewAdapter(nil)
	require.NoError(t, err)

	_, err = NewAdapter(nil)
	require.ErrorIs(t, err, device.ErrRadioUnavailable, "second open on an exclusive radio MUST fail")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var seen []string
	err = adapter.Scan(ctx, true, func(a device.Advertisement) { seen = append(seen, a.LocalName()) })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"Petrel"}, seen)

	_, err = adapter.Dial(context.Background(), "aa:bb:cc:dd:ee:03")
	require.ErrorIs(t, err, device.ErrConnectFailed)
	assert.NotErrorIs(t, err, device.ErrRadioUnavailable, "dial MUST reuse the scanning device")

	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())

	radio.mu.Lock()
	assert.Equal(t, 1, radio.opens)
	assert.Equal(t, 1, radio.stops, "Close MUST stop the device exactly once")
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:03"}, radio.dialed)
	assert.False(t, radio.open)
	radio.mu.Unlock()

	reopened, err := NewAdapter(nil)
	require.NoError(t, err, "a released radio MUST be reopenable")
	require.NoError(t, reopened.Close())
}
