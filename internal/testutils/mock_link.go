package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/srg/swlink/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockConnector implements device.Connector for testing
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Dial(ctx context.Context, address string) (device.Link, error) {
	args := m.Called(ctx, address)
	link, _ := args.Get(0).(device.Link)
	return link, args.Error(1)
}

// MockLink implements device.Link for testing. Notify and Disconnect drive
// the platform side of an armed link.
type MockLink struct {
	mock.Mock

	mu             sync.Mutex
	handler        device.NotificationHandler
	writes         []device.ClientConfig
	disconnected   chan struct{}
	disconnectOnce sync.Once
}

// NewMockLink creates a link whose Disconnected channel is live.
func NewMockLink() *MockLink {
	return &MockLink{disconnected: make(chan struct{})}
}

func (m *MockLink) Address() string {
	return m.Called().String(0)
}

func (m *MockLink) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	args := m.Called(ctx)
	svcs, _ := args.Get(0).([]device.Service)
	return svcs, args.Error(1)
}

func (m *MockLink) DiscoverCharacteristics(ctx context.Context, svc device.Service) ([]device.Characteristic, error) {
	args := m.Called(ctx, svc)
	chars, _ := args.Get(0).([]device.Characteristic)
	return chars, args.Error(1)
}

func (m *MockLink) WriteClientConfig(ctx context.Context, char device.Characteristic, cfg device.ClientConfig, handler device.NotificationHandler) error {
	args := m.Called(ctx, char, cfg, handler)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.writes = append(m.writes, cfg)
	if cfg == device.ClientConfigNone {
		m.handler = nil
	} else {
		m.handler = handler
	}
	m.mu.Unlock()
	return nil
}

func (m *MockLink) Disconnected() <-chan struct{} {
	return m.disconnected
}

func (m *MockLink) Close() error {
	return m.Called().Error(0)
}

// Notify delivers data to the armed handler. It reports false when the link
// is not armed.
func (m *MockLink) Notify(data []byte) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Armed reports whether a notification handler is registered.
func (m *MockLink) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

// ConfigWrites returns every successfully written client configuration in order.
func (m *MockLink) ConfigWrites() []device.ClientConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]device.ClientConfig(nil), m.writes...)
}

// Disconnect simulates the peripheral dropping the link.
func (m *MockLink) Disconnect() {
	m.disconnectOnce.Do(func() { close(m.disconnected) })
}

// FakeService is a discovered service with a fixed UUID.
type FakeService struct {
	ID string
}

func (s *FakeService) UUID() string { return device.NormalizeUUID(s.ID) }

// FakeCharacteristic is a discovered characteristic with fixed properties.
type FakeCharacteristic struct {
	ID    string
	Props device.Properties
}

func (c *FakeCharacteristic) UUID() string                     { return device.NormalizeUUID(c.ID) }
func (c *FakeCharacteristic) GetProperties() device.Properties { return c.Props }

type fakeProperty struct {
	value int
	name  string
}

func (p *fakeProperty) Value() int        { return p.value }
func (p *fakeProperty) KnownName() string { return p.name }

// FakeProperties is a set of characteristic properties keyed by short name.
type FakeProperties map[string]*fakeProperty

var propertyBits = []struct {
	key   string
	value int
	name  string
}{
	{"broadcast", 0x01, "Broadcast"},
	{"read", 0x02, "Read"},
	{"write-without-response", 0x04, "WriteWithoutResponse"},
	{"write", 0x08, "Write"},
	{"notify", 0x10, "Notify"},
	{"indicate", 0x20, "Indicate"},
	{"signed-write", 0x40, "AuthenticatedSignedWrites"},
	{"extended", 0x80, "ExtendedProperties"},
}

// ParseProperties builds properties from a comma separated list such as
// "read,notify". "writenr" is accepted for write-without-response.
func ParseProperties(list string) FakeProperties {
	props := FakeProperties{}
	for _, raw := range strings.Split(list, ",") {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "writenr" {
			key = "write-without-response"
		}
		for _, pb := range propertyBits {
			if pb.key == key {
				props[key] = &fakeProperty{value: pb.value, name: pb.name}
			}
		}
	}
	return props
}

func (p FakeProperties) get(key string) device.Property {
	if v, ok := p[key]; ok {
		return v
	}
	return nil
}

func (p FakeProperties) Broadcast() device.Property { return p.get("broadcast") }
func (p FakeProperties) Read() device.Property      { return p.get("read") }
func (p FakeProperties) Write() device.Property     { return p.get("write") }
func (p FakeProperties) WriteWithoutResponse() device.Property {
	return p.get("write-without-response")
}
func (p FakeProperties) Notify() device.Property   { return p.get("notify") }
func (p FakeProperties) Indicate() device.Property { return p.get("indicate") }
func (p FakeProperties) AuthenticatedSignedWrites() device.Property {
	return p.get("signed-write")
}
func (p FakeProperties) ExtendedProperties() device.Property { return p.get("extended") }
