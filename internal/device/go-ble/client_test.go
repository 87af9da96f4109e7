package goble

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	vendorService = "fe25c237-0ece-443c-b0aa-e02033e7029d"
	vendorChar    = "27b7570b-359e-45a3-91bb-cf7e70049bd2"
)

// mockGattClient implements gattClient for testing
type mockGattClient struct {
	mock.Mock
	disconnected chan struct{}
}

func (m *mockGattClient) Addr() ble.Addr {
	args := m.Called()
	if a := args.Get(0); a != nil {
		return a.(ble.Addr)
	}
	return nil
}

func (m *mockGattClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *mockGattClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *mockGattClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	descs, _ := args.Get(0).([]*ble.Descriptor)
	return descs, args.Error(1)
}

func (m *mockGattClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *mockGattClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *mockGattClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

// disconnectingClient adds the optional Disconnected() capability
type disconnectingClient struct {
	*mockGattClient
}

func (d disconnectingClient) Disconnected() <-chan struct{} {
	return d.disconnected
}

// mockDialer implements dialer for testing
type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

type LinkTestSuite struct {
	suite.Suite

	logger *logrus.Logger
	client *mockGattClient
	link   *BLELink

	svc  *ble.Service
	char *ble.Characteristic
}

func (s *LinkTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)

	s.svc = &ble.Service{UUID: ble.MustParse(vendorService)}
	s.char = &ble.Characteristic{
		UUID:     ble.MustParse(vendorChar),
		Property: ble.CharRead | ble.CharWriteNR | ble.CharNotify | ble.CharIndicate,
	}

	s.client = &mockGattClient{disconnected: make(chan struct{})}
	s.link = newLink(s.client, s.logger)
}

func (s *LinkTestSuite) discoverVendorCharacteristic() device.Characteristic {
	s.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{s.svc}, nil).Once()
	s.client.On("DiscoverCharacteristics", mock.Anything, s.svc).Return([]*ble.Characteristic{s.char}, nil).Once()
	s.client.On("DiscoverDescriptors", mock.Anything, s.char).Return([]*ble.Descriptor{}, nil).Once()

	svcs, err := s.link.DiscoverServices(context.Background())
	s.Require().NoError(err)
	s.Require().Len(svcs, 1)

	chars, err := s.link.DiscoverCharacteristics(context.Background(), svcs[0])
	s.Require().NoError(err)
	s.Require().Len(chars, 1)
	return chars[0]
}

func (s *LinkTestSuite) TestAddress() {
	s.client.On("Addr").Return(ble.NewAddr("aa:bb:cc:dd:ee:ff")).Once()
	s.Equal("aa:bb:cc:dd:ee:ff", s.link.Address())
}

func (s *LinkTestSuite) TestDiscoverServicesNormalizesUUIDs() {
	// GOAL: Verify discovered services are exposed with normalized UUIDs
	//
	// TEST SCENARIO: Client reports the vendor service and a SIG service → both returned in order, normalized
	battery := &ble.Service{UUID: ble.UUID16(0x180F)}
	s.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{s.svc, battery}, nil).Once()

	svcs, err := s.link.DiscoverServices(context.Background())
	s.Require().NoError(err)
	s.Require().Len(svcs, 2)
	s.Equal(device.NormalizeUUID(vendorService), svcs[0].UUID(), "vendor service UUID MUST be normalized")
	s.Equal("180f", svcs[1].UUID(), "SIG service UUID MUST be normalized to short form")
}

func (s *LinkTestSuite) TestDiscoverServicesPropagatesErrors() {
	s.client.On("DiscoverServices", mock.Anything).Return(nil, errors.New("device not connected")).Once()

	_, err := s.link.DiscoverServices(context.Background())
	s.Require().Error(err)
	s.True(device.IsConnectionState(err, device.NotConnected), "platform error MUST be normalized")
}

func (s *LinkTestSuite) TestDiscoverServicesHonoursDeadline() {
	// GOAL: Verify a stuck platform call is abandoned when the deadline passes
	//
	// TEST SCENARIO: DiscoverServices blocks past the context deadline → ErrTimeout returned promptly
	release := make(chan struct{})
	defer close(release)
	s.client.On("DiscoverServices", mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil, nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.link.DiscoverServices(ctx)
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrTimeout, "deadline MUST surface as ErrTimeout")
	s.Less(time.Since(start), time.Second, "call MUST return soon after the deadline")
}

func (s *LinkTestSuite) TestDiscoverCharacteristicsPopulatesProperties() {
	char := s.discoverVendorCharacteristic()

	s.Equal(device.NormalizeUUID(vendorChar), char.UUID())
	props := char.GetProperties()
	s.NotNil(props.Read(), "read property MUST be reported")
	s.NotNil(props.WriteWithoutResponse(), "write-without-response property MUST be reported")
	s.NotNil(props.Notify(), "notify property MUST be reported")
	s.NotNil(props.Indicate(), "indicate property MUST be reported")
	s.Nil(props.Write(), "absent write property MUST be nil")
	s.client.AssertExpectations(s.T())
}

func (s *LinkTestSuite) TestDiscoverCharacteristicsToleratesDescriptorFailure() {
	s.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{s.svc}, nil).Once()
	s.client.On("DiscoverCharacteristics", mock.Anything, s.svc).Return([]*ble.Characteristic{s.char}, nil).Once()
	s.client.On("DiscoverDescriptors", mock.Anything, s.char).Return(nil, errors.New("att: attribute not found")).Once()

	svcs, err := s.link.DiscoverServices(context.Background())
	s.Require().NoError(err)
	chars, err := s.link.DiscoverCharacteristics(context.Background(), svcs[0])
	s.Require().NoError(err, "descriptor discovery failure MUST NOT fail characteristic discovery")
	s.Len(chars, 1)
}

func (s *LinkTestSuite) TestDiscoverCharacteristicsRejectsForeignService() {
	_, err := s.link.DiscoverCharacteristics(context.Background(), foreignService{})
	s.ErrorIs(err, device.ErrUnsupported)
}

func (s *LinkTestSuite) TestWriteClientConfig() {
	// GOAL: Verify each client configuration maps onto the right subscribe call
	//
	// TEST SCENARIO: notify → Subscribe(ind=false); indicate → Unsubscribe notify then Subscribe(ind=true); none → Unsubscribe(ind=true)
	char := s.discoverVendorCharacteristic()
	ctx := context.Background()

	s.client.On("Subscribe", s.char, false, mock.Anything).Return(nil).Once()
	s.Require().NoError(s.link.WriteClientConfig(ctx, char, device.ClientConfigNotify, nil))

	s.client.On("Unsubscribe", s.char, false).Return(nil).Once()
	s.client.On("Subscribe", s.char, true, mock.Anything).Return(nil).Once()
	s.Require().NoError(s.link.WriteClientConfig(ctx, char, device.ClientConfigIndicate, nil))

	s.client.On("Unsubscribe", s.char, true).Return(nil).Once()
	s.Require().NoError(s.link.WriteClientConfig(ctx, char, device.ClientConfigNone, nil))

	s.client.AssertExpectations(s.T())
}

func (s *LinkTestSuite) TestWriteClientConfigNoneWithoutSubscriptionIsNoop() {
	char := s.discoverVendorCharacteristic()

	s.Require().NoError(s.link.WriteClientConfig(context.Background(), char, device.ClientConfigNone, nil))
	s.client.AssertNotCalled(s.T(), "Subscribe", mock.Anything, mock.Anything, mock.Anything)
	s.client.AssertNotCalled(s.T(), "Unsubscribe", mock.Anything, mock.Anything)
}

func (s *LinkTestSuite) TestWriteClientConfigDeliversNotifications() {
	char := s.discoverVendorCharacteristic()

	var received []byte
	s.client.On("Subscribe", s.char, true, mock.Anything).
		Run(func(args mock.Arguments) {
			h := args.Get(2).(ble.NotificationHandler)
			h([]byte{0x01, 0x02, 0x03})
		}).
		Return(nil).Once()

	err := s.link.WriteClientConfig(context.Background(), char, device.ClientConfigIndicate, func(data []byte) {
		received = append([]byte(nil), data...)
	})
	s.Require().NoError(err)
	s.Equal([]byte{0x01, 0x02, 0x03}, received, "notification payload MUST reach the handler")
}

func (s *LinkTestSuite) TestCloseIsIdempotent() {
	// GOAL: Verify Close releases subscriptions and the connection exactly once
	//
	// TEST SCENARIO: armed link closed twice → one Unsubscribe, one CancelConnection, later writes fail
	char := s.discoverVendorCharacteristic()
	s.client.On("Subscribe", s.char, false, mock.Anything).Return(nil).Once()
	s.Require().NoError(s.link.WriteClientConfig(context.Background(), char, device.ClientConfigNotify, nil))

	s.client.On("Unsubscribe", s.char, false).Return(nil).Once()
	s.client.On("CancelConnection").Return(nil).Once()

	s.Require().NoError(s.link.Close())
	s.Require().NoError(s.link.Close(), "second Close MUST be a no-op")
	s.client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)

	err := s.link.WriteClientConfig(context.Background(), char, device.ClientConfigNotify, nil)
	s.True(device.IsConnectionState(err, device.NotConnected), "write after close MUST report not connected")
}

func (s *LinkTestSuite) TestDisconnectedChannel() {
	s.Nil(s.link.Disconnected(), "client without disconnect support MUST yield a nil channel")

	link := newLink(disconnectingClient{s.client}, s.logger)
	s.Require().NotNil(link.Disconnected())
	close(s.client.disconnected)
	select {
	case <-link.Disconnected():
	case <-time.After(time.Second):
		s.Fail("Disconnected channel MUST be closed when the platform drops the link")
	}
}

type foreignService struct{}

func (foreignService) UUID() string { return vendorService }

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}

func TestConnectorDial(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	t.Run("rejects empty address", func(t *testing.T) {
		d := &mockDialer{}
		c := newConnector(d, logger)

		_, err := c.Dial(context.Background(), "  ")
		require.ErrorIs(t, err, device.ErrConnectFailed)
		d.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything)
	})

	t.Run("wraps dial failure as connect failed", func(t *testing.T) {
		d := &mockDialer{}
		d.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("can't dial: connection refused")).Once()
		c := newConnector(d, logger)

		_, err := c.Dial(context.Background(), "aa:bb:cc:dd:ee:ff")
		require.ErrorIs(t, err, device.ErrConnectFailed)
		require.Contains(t, err.Error(), "connection refused")
	})

	t.Run("maps radio failures during dial", func(t *testing.T) {
		d := &mockDialer{}
		d.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("bluetooth is turned off")).Once()
		c := newConnector(d, logger)

		_, err := c.Dial(context.Background(), "aa:bb:cc:dd:ee:ff")
		require.ErrorIs(t, err, device.ErrConnectFailed)
		require.ErrorIs(t, err, device.ErrRadioUnavailable)
	})

	t.Run("rejects nil client", func(t *testing.T) {
		d := &mockDialer{}
		d.On("Dial", mock.Anything, mock.Anything).Return(nil, nil).Once()
		c := newConnector(d, logger)

		_, err := c.Dial(context.Background(), "aa:bb:cc:dd:ee:ff")
		require.ErrorIs(t, err, device.ErrConnectFailed)
	})
}

func TestNewAdapterUsesDeviceFactory(t *testing.T) {
	orig := DeviceFactory
	t.Cleanup(func() { DeviceFactory = orig })

	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("can't init hci: no devices available")
	}

	_, err := NewAdapter(nil)
	require.ErrorIs(t, err, device.ErrRadioUnavailable)
}
