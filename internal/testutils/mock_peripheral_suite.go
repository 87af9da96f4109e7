package testutils

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/internal/devicefactory"
	"github.com/srg/swlink/internal/radio"
	"github.com/stretchr/testify/suite"
)

// MockPeripheralSuite provides a reusable testify suite with the platform
// factories replaced by fakes.
//
// Usage:
//
//	type ConnectSuite struct {
//	    testutils.MockPeripheralSuite
//	}
//
//	func (s *ConnectSuite) SetupTest() {
//	    s.WithAdvertisements(testutils.Advertise("Petrel", "aa:bb:cc:dd:ee:01", -60))
//	    s.WithPeripherals(testutils.NewVendorPeripheral("aa:bb:cc:dd:ee:01", "read,notify"))
//	    s.MockPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Scanner replays the configured advertisements
	Scanner *FakeScanner
	// Connector dials the configured peripherals
	Connector *MockConnector
	// Links are the links handed out by Connector, keyed by address
	Links map[string]*MockLink
	// Adapter is returned by every platform adapter open
	Adapter *FakeAdapter
	// AdapterOpens counts platform adapter opens
	AdapterOpens atomic.Int32
	// RadioErr is returned by the radio check when set
	RadioErr error
	// RadioChecks counts radio checks
	RadioChecks atomic.Int32

	ads         []device.Advertisement
	peripherals []*PeripheralBuilder
	scanErr     error

	origAdapter func(*logrus.Logger) (device.Adapter, error)
	origRadio   func(*logrus.Logger) radio.Checker
}

// SetupSuite initializes shared helpers; called once before all tests.
func (s *MockPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest installs the fakes; embedding suites configure first and call this last.
func (s *MockPeripheralSuite) SetupTest() {
	s.Scanner = NewFakeScanner(s.ads...).WithInterval(time.Millisecond)
	if s.scanErr != nil {
		s.Scanner.WithError(s.scanErr)
	}
	s.Connector, s.Links = NewMockConnectorFor(s.peripherals...)

	s.Adapter = &FakeAdapter{Scanner: s.Scanner, Connector: s.Connector}

	s.origAdapter = devicefactory.NewAdapter
	s.origRadio = radio.NewChecker

	devicefactory.NewAdapter = func(*logrus.Logger) (device.Adapter, error) {
		s.AdapterOpens.Add(1)
		return s.Adapter, nil
	}
	radio.NewChecker = func(*logrus.Logger) radio.Checker {
		return radio.CheckerFunc(func(context.Context) error {
			s.RadioChecks.Add(1)
			return s.RadioErr
		})
	}
}

// TearDownTest restores the factories and clears configuration.
func (s *MockPeripheralSuite) TearDownTest() {
	if s.origAdapter != nil {
		devicefactory.NewAdapter = s.origAdapter
	}
	if s.origRadio != nil {
		radio.NewChecker = s.origRadio
	}
	s.ads = nil
	s.peripherals = nil
	s.scanErr = nil
	s.RadioErr = nil
	s.RadioChecks.Store(0)
	s.AdapterOpens.Store(0)
}

// WithAdvertisements queues advertisements for the fake scanner.
func (s *MockPeripheralSuite) WithAdvertisements(ads ...device.Advertisement) {
	s.ads = append(s.ads, ads...)
}

// WithPeripherals registers dialable peripherals.
func (s *MockPeripheralSuite) WithPeripherals(p ...*PeripheralBuilder) {
	s.peripherals = append(s.peripherals, p...)
}

// WithScanError makes the fake scan fail after replaying advertisements.
func (s *MockPeripheralSuite) WithScanError(err error) {
	s.scanErr = err
}
