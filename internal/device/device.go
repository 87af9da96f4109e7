package device

import (
	"context"
	"fmt"
)

// ScanningDevice represents a BLE device capable of scanning for advertisements
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is a single advertising report as delivered by the platform.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() string
}

// Connector dials a peripheral by its transport address.
type Connector interface {
	Dial(ctx context.Context, address string) (Link, error)
}

// Adapter is one opened platform radio. The platform allows a single open
// adapter at a time, so scanning and dialing share it. Close releases it.
type Adapter interface {
	ScanningDevice
	Connector
	Close() error
}

// NotificationHandler receives the raw value of a notify/indicate delivery.
type NotificationHandler func(data []byte)

// Link is an exclusively owned GATT client connection to one peripheral.
//
// Every blocking method honours the context deadline; the platform call is
// abandoned (and ErrTimeout returned) when the deadline passes first.
type Link interface {
	Address() string
	DiscoverServices(ctx context.Context) ([]Service, error)
	DiscoverCharacteristics(ctx context.Context, svc Service) ([]Characteristic, error)
	WriteClientConfig(ctx context.Context, char Characteristic, cfg ClientConfig, handler NotificationHandler) error
	Disconnected() <-chan struct{}
	Close() error
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
}

// Characteristic represents a discovered GATT characteristic
type Characteristic interface {
	UUID() string
	GetProperties() Properties
}

// Property represents a single BLE characteristic property
type Property interface {
	Value() int
	KnownName() string
}

// Properties represent a collection of BLE characteristic properties.
// Accessors return nil when the property is absent.
type Properties interface {
	Broadcast() Property
	Read() Property
	Write() Property
	WriteWithoutResponse() Property
	Notify() Property
	Indicate() Property
	AuthenticatedSignedWrites() Property
	ExtendedProperties() Property
}

// ClientConfig is the value written to a characteristic's Client
// Characteristic Configuration Descriptor (0x2902).
type ClientConfig uint16

const (
	ClientConfigNone     ClientConfig = 0x0000
	ClientConfigNotify   ClientConfig = 0x0001
	ClientConfigIndicate ClientConfig = 0x0002
)

func (c ClientConfig) String() string {
	switch c {
	case ClientConfigNone:
		return "none"
	case ClientConfigNotify:
		return "notify"
	case ClientConfigIndicate:
		return "indicate"
	default:
		return fmt.Sprintf("ClientConfig(0x%04x)", uint16(c))
	}
}
