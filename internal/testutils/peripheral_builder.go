package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/swlink/internal/device"
	"github.com/stretchr/testify/mock"
)

// Vendor GATT layout used by the dive computers.
const (
	VendorServiceUUID        = "fe25c237-0ece-443c-b0aa-e02033e7029d"
	VendorCharacteristicUUID = "27b7570b-359e-45a3-91bb-cf7e70049bd2"
)

// CharacteristicConfig describes a mocked characteristic
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,writenr,notify"
}

// ServiceConfig describes a mocked service
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ProfileConfig is the complete GATT profile of a mocked peripheral
type ProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder configures a MockLink that answers GATT calls from a
// profile, plus the failures to inject.
type PeripheralBuilder struct {
	address         string
	reportedAddress *string
	profile         ProfileConfig

	dialErr      error
	servicesErr  error
	charsErr     error
	subscribeErr error
	closeErr     error
}

// NewPeripheralBuilder starts a peripheral at address with an empty profile.
func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{address: address}
}

// NewVendorPeripheral creates a peripheral exposing the vendor service with
// a characteristic carrying props.
func NewVendorPeripheral(address, props string) *PeripheralBuilder {
	return NewPeripheralBuilder(address).
		WithService(VendorServiceUUID).
		WithCharacteristic(VendorCharacteristicUUID, props)
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON replaces the profile
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var cfg ProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = cfg
	return b
}

// WithReportedAddress makes the link report a different address than dialed.
func (b *PeripheralBuilder) WithReportedAddress(addr string) *PeripheralBuilder {
	b.reportedAddress = &addr
	return b
}

func (b *PeripheralBuilder) WithDialError(err error) *PeripheralBuilder {
	b.dialErr = err
	return b
}

func (b *PeripheralBuilder) WithServiceDiscoveryError(err error) *PeripheralBuilder {
	b.servicesErr = err
	return b
}

func (b *PeripheralBuilder) WithCharacteristicDiscoveryError(err error) *PeripheralBuilder {
	b.charsErr = err
	return b
}

func (b *PeripheralBuilder) WithSubscribeError(err error) *PeripheralBuilder {
	b.subscribeErr = err
	return b
}

func (b *PeripheralBuilder) WithCloseError(err error) *PeripheralBuilder {
	b.closeErr = err
	return b
}

// Address returns the dial address of the peripheral.
func (b *PeripheralBuilder) Address() string { return b.address }

// Build returns a MockLink with expectations for every profile entry.
func (b *PeripheralBuilder) Build() *MockLink {
	link := NewMockLink()

	reported := b.address
	if b.reportedAddress != nil {
		reported = *b.reportedAddress
	}
	link.On("Address").Return(reported).Maybe()

	services := make([]device.Service, 0, len(b.profile.Services))
	for _, sc := range b.profile.Services {
		svc := &FakeService{ID: sc.UUID}
		services = append(services, svc)

		chars := make([]device.Characteristic, 0, len(sc.Characteristics))
		for _, cc := range sc.Characteristics {
			chars = append(chars, &FakeCharacteristic{ID: cc.UUID, Props: ParseProperties(cc.Properties)})
		}
		if b.charsErr != nil {
			link.On("DiscoverCharacteristics", mock.Anything, svc).Return(nil, b.charsErr).Maybe()
		} else {
			link.On("DiscoverCharacteristics", mock.Anything, svc).Return(chars, nil).Maybe()
		}
	}

	if b.servicesErr != nil {
		link.On("DiscoverServices", mock.Anything).Return(nil, b.servicesErr).Maybe()
	} else {
		link.On("DiscoverServices", mock.Anything).Return(services, nil).Maybe()
	}

	link.On("WriteClientConfig", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(b.subscribeErr).Maybe()
	link.On("Close").Return(b.closeErr).Maybe()
	return link
}

// NewMockConnectorFor builds a connector that dials each peripheral by
// address. The built links are returned keyed by address.
func NewMockConnectorFor(peripherals ...*PeripheralBuilder) (*MockConnector, map[string]*MockLink) {
	conn := &MockConnector{}
	links := make(map[string]*MockLink, len(peripherals))
	for _, p := range peripherals {
		if p.dialErr != nil {
			conn.On("Dial", mock.Anything, p.address).Return(nil, p.dialErr).Maybe()
			continue
		}
		link := p.Build()
		links[p.address] = link
		conn.On("Dial", mock.Anything, p.address).Return(link, nil).Maybe()
	}
	return conn, links
}
