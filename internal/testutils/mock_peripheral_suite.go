package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// Default identity of the peripheral the suite provides.
const (
	DefaultPeerAddress = "AA:BB:CC:DD:EE:01"
	DefaultPeerName    = "comma-1a2b3c"
)

// MockPeripheralSuite provides a testify suite with a fake central serving
// one JSON-RPC peripheral.
//
// Basic usage (default well-formed peer):
//
//	type SessionSuite struct {
//	    testutils.MockPeripheralSuite
//	}
//
//	func TestSessionSuite(t *testing.T) {
//	    suite.Run(t, new(SessionSuite))
//	}
//
// Custom profile usage:
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithPeripheral().FromJSON(`{"address": "AA:BB", "services": []}`)
//	    s.MockPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockPeripheralSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	// PeripheralBuilder configures the peripheral created by SetupTest.
	PeripheralBuilder *PeripheralBuilder

	Central    *FakeCentral
	Peripheral *FakePeripheral
}

// SetupSuite is called once before all tests in the suite.
func (s *MockPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds the configured peripheral and a central serving it.
func (s *MockPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewRPCPeripheralBuilder(DefaultPeerAddress, DefaultPeerName)
	}
	s.Peripheral = s.PeripheralBuilder.Build()
	s.Central = NewFakeCentral(s.Peripheral)
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the builder so each test starts from the default peer.
func (s *MockPeripheralSuite) TearDownTest() {
	s.PeripheralBuilder = nil
	s.Central = nil
	s.Peripheral = nil
}

// WithPeripheral returns the builder for the peripheral created by SetupTest.
func (s *MockPeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	return s.PeripheralBuilder
}
