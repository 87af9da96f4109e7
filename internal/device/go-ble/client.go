package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/internal/groutine"
)

// gattClient is the subset of ble.Client used by BLELink.
type gattClient interface {
	Addr() ble.Addr
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// dialer is the subset of ble.Device used by BLEConnector.
type dialer interface {
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// ----------------------------
// Connector
// ----------------------------

// BLEConnector dials peripherals through a ble.Device.
type BLEConnector struct {
	dev    dialer
	logger *logrus.Logger
}

func newConnector(dev dialer, logger *logrus.Logger) *BLEConnector {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLEConnector{dev: dev, logger: logger}
}

// Dial connects to the peripheral with the given address. The returned link
// is owned by the caller, who must Close it.
func (c *BLEConnector) Dial(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: device address is empty", device.ErrConnectFailed)
	}

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("%w: address %q: %w", device.ErrConnectFailed, address, NormalizeError(err))
	}
	if client == nil {
		return nil, fmt.Errorf("%w: address %q: platform returned no connection", device.ErrConnectFailed, address)
	}

	return newLink(client, c.logger), nil
}

// ----------------------------
// GATT handles
// ----------------------------

// BLEService wraps a discovered *ble.Service.
type BLEService struct {
	svc  *ble.Service
	uuid string
}

func (s *BLEService) UUID() string { return s.uuid }

// BLECharacteristic wraps a discovered *ble.Characteristic.
type BLECharacteristic struct {
	char  *ble.Characteristic
	uuid  string
	props device.Properties
}

func (c *BLECharacteristic) UUID() string                     { return c.uuid }
func (c *BLECharacteristic) GetProperties() device.Properties { return c.props }

// ----------------------------
// Link
// ----------------------------

// BLELink is a device.Link over a go-ble client connection.
type BLELink struct {
	client       gattClient
	logger       *logrus.Logger
	disconnected <-chan struct{}

	mu         sync.Mutex
	subscribed map[*ble.Characteristic]device.ClientConfig
	closed     bool
}

func newLink(client gattClient, logger *logrus.Logger) *BLELink {
	l := &BLELink{
		client:     client,
		logger:     logger,
		subscribed: make(map[*ble.Characteristic]device.ClientConfig),
	}
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		l.disconnected = dc.Disconnected()
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}
	return l
}

func (l *BLELink) Address() string {
	addr := l.client.Addr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Disconnected is closed when the platform reports the link dropped. It is
// nil (never ready) when the platform cannot report disconnections.
func (l *BLELink) Disconnected() <-chan struct{} {
	return l.disconnected
}

func (l *BLELink) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	svcs, err := callWithContext(ctx, "gatt-discover-services", func() ([]*ble.Service, error) {
		return l.client.DiscoverServices(nil)
	})
	if err != nil {
		return nil, err
	}

	result := make([]device.Service, 0, len(svcs))
	for _, s := range svcs {
		if s == nil {
			continue
		}
		result = append(result, &BLEService{svc: s, uuid: device.NormalizeUUID(s.UUID.String())})
	}
	l.logger.WithField("services", len(result)).Debug("Services discovered")
	return result, nil
}

func (l *BLELink) DiscoverCharacteristics(ctx context.Context, svc device.Service) ([]device.Characteristic, error) {
	bs, ok := svc.(*BLEService)
	if !ok || bs.svc == nil {
		return nil, fmt.Errorf("%w: service %T was not discovered on this link", device.ErrUnsupported, svc)
	}

	chars, err := callWithContext(ctx, "gatt-discover-characteristics", func() ([]*ble.Characteristic, error) {
		chars, err := l.client.DiscoverCharacteristics(nil, bs.svc)
		if err != nil {
			return nil, err
		}
		// Descriptors are needed so the client configuration descriptor can be written.
		for _, c := range chars {
			if _, derr := l.client.DiscoverDescriptors(nil, c); derr != nil {
				l.logger.WithFields(logrus.Fields{
					"char_uuid": c.UUID.String(),
					"error":     derr,
				}).Debug("Descriptor discovery failed")
			}
		}
		return chars, nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		if c == nil {
			continue
		}
		result = append(result, &BLECharacteristic{
			char:  c,
			uuid:  device.NormalizeUUID(c.UUID.String()),
			props: NewProperties(c.Property),
		})
	}
	return result, nil
}

// WriteClientConfig writes the client configuration descriptor of char.
// Notify and indicate register handler for incoming values; none removes the
// current subscription, if any.
func (l *BLELink) WriteClientConfig(ctx context.Context, char device.Characteristic, cfg device.ClientConfig, handler device.NotificationHandler) error {
	bc, ok := char.(*BLECharacteristic)
	if !ok || bc.char == nil {
		return fmt.Errorf("%w: characteristic %T was not discovered on this link", device.ErrUnsupported, char)
	}
	if handler == nil {
		handler = func([]byte) {}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return device.ErrNotConnected
	}
	prev := l.subscribed[bc.char]
	l.mu.Unlock()

	_, err := callWithContext(ctx, "gatt-write-cccd", func() (struct{}, error) {
		if prev != device.ClientConfigNone && prev != cfg {
			if err := l.client.Unsubscribe(bc.char, prev == device.ClientConfigIndicate); err != nil {
				return struct{}{}, err
			}
		}
		switch cfg {
		case device.ClientConfigNone:
			return struct{}{}, nil
		case device.ClientConfigNotify, device.ClientConfigIndicate:
			return struct{}{}, l.client.Subscribe(bc.char, cfg == device.ClientConfigIndicate, ble.NotificationHandler(handler))
		default:
			return struct{}{}, fmt.Errorf("%w: client configuration %s", device.ErrUnsupported, cfg)
		}
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	if cfg == device.ClientConfigNone {
		delete(l.subscribed, bc.char)
	} else {
		l.subscribed[bc.char] = cfg
	}
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"char_uuid": bc.uuid,
		"config":    cfg.String(),
	}).Debug("Client configuration written")
	return nil
}

// Close removes remaining subscriptions and cancels the connection. It is
// safe to call more than once.
func (l *BLELink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := l.subscribed
	l.subscribed = make(map[*ble.Characteristic]device.ClientConfig)
	l.mu.Unlock()

	for c, cfg := range subs {
		if err := NormalizeError(l.client.Unsubscribe(c, cfg == device.ClientConfigIndicate)); err != nil {
			l.logger.WithFields(logrus.Fields{
				"char_uuid": c.UUID.String(),
				"error":     err,
			}).Warn("Failed to unsubscribe during close")
		}
	}

	if err := NormalizeError(l.client.CancelConnection()); err != nil {
		l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return err
	}
	l.logger.Info("BLE device disconnected successfully")
	return nil
}

// callWithContext runs a blocking go-ble call on its own goroutine and
// returns early when ctx ends. go-ble GATT calls take no context, so an
// abandoned call is left to finish in the background.
func callWithContext[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	groutine.Go(context.Background(), name, func(context.Context) {
		v, err := fn()
		done <- result{val: v, err: err}
	})

	select {
	case r := <-done:
		return r.val, NormalizeError(r.err)
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w", name, device.ErrTimeout)
		}
		return zero, ctx.Err()
	}
}
