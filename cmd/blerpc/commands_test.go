package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/srg/blerpc/internal/rpc"
	"github.com/srg/blerpc/internal/testutils"
	"github.com/srg/blerpc/pkg/client"
	"github.com/stretchr/testify/suite"
)

type CommandsSuite struct {
	CommandTestSuite
}

func TestCommandsSuite(t *testing.T) {
	suite.Run(t, new(CommandsSuite))
}

func (s *CommandsSuite) TestScan_JSON() {
	// GOAL: Verify scan prints the discovered JSON-RPC peers as JSON
	//
	// TEST SCENARIO: default peer + unrelated advertisement → scan --format json → only the peer is listed

	s.Central.AddAdvertisements(testutils.NewAdvertisementBuilder().
		WithAddress("11:22:33:44:55:66").
		WithName("headphones").
		WithServices("180d").
		Build())

	output, err := s.ExecuteCommand("scan", "--format", "json", "--duration", "100ms")
	s.Require().NoError(err, "scan MUST succeed")

	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("seen_at", "services")).
		Assert(output, `[{"address": "AA:BB:CC:DD:EE:01", "name": "comma-1a2b3c", "rssi": -50, "connectable": true}]`)
}

func (s *CommandsSuite) TestScan_AllIncludesOtherDevices() {
	s.Central.AddAdvertisements(testutils.NewAdvertisementBuilder().
		WithAddress("11:22:33:44:55:66").
		WithName("headphones").
		Build())

	output, err := s.ExecuteCommand("scan", "--all", "--duration", "100ms")
	s.Require().NoError(err)
	s.Contains(output, "headphones", "--all MUST drop the service filter")
	s.Contains(output, "comma-1a2b3c")
	s.Contains(output, "NAME")
}

func (s *CommandsSuite) TestScan_Empty() {
	s.Central = testutils.NewFakeCentral()

	output, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)
	s.Contains(output, "No devices discovered")
}

func (s *CommandsSuite) TestScan_InvalidFormat() {
	_, err := s.ExecuteCommand("scan", "--format=invalid")
	s.Require().Error(err, "invalid format MUST return error")
	s.Contains(err.Error(), "invalid format 'invalid': must be one of [table json]")
}

func (s *CommandsSuite) TestCall_KeyValueParams() {
	// GOAL: Verify call sends ordered key=value params and prints the indented result
	//
	// TEST SCENARIO: call <addr> setLed on=true color=red → params {"on":true,"color":"red"} → result printed

	responder := testutils.NewResponder(func(req testutils.ReceivedRequest) (any, *rpc.Error, bool) {
		return map[string]any{"applied": true}, nil, true
	}).Attach(s.Peripheral)

	output, err := s.ExecuteCommand("call", testutils.DefaultPeerAddress, "setLed", "on=true", "color=red")
	s.Require().NoError(err)
	s.Equal("{\n  \"applied\": true\n}\n", output)

	reqs := responder.Requests()
	s.Require().Len(reqs, 1)
	s.Equal("setLed", reqs[0].Method)
	s.Equal(`{"on":true,"color":"red"}`, string(reqs[0].Params), "params MUST keep argument order")
}

func (s *CommandsSuite) TestCall_Auto() {
	// GOAL: Verify call auto discovers, verifies and remembers the peer

	responder := testutils.NewResponder(testutils.Echo).Attach(s.Peripheral)

	output, err := s.ExecuteCommand("call", "auto", "ping", "--raw")
	s.Require().NoError(err)
	s.Equal("\"ping\"\n", output)

	methods := []string{}
	for _, r := range responder.Requests() {
		methods = append(methods, r.Method)
	}
	s.Equal([]string{"getDeviceInfo", "ping"}, methods)

	dev, ok, err := client.NewStore(s.StorePath).Load()
	s.Require().NoError(err)
	s.True(ok, "auto-connected device MUST be remembered")
	s.Equal(testutils.DefaultPeerAddress, dev.Address)

	output, err = s.ExecuteCommand("forget")
	s.Require().NoError(err)
	s.Contains(output, "Remembered device cleared")
	_, ok, _ = client.NewStore(s.StorePath).Load()
	s.False(ok)
}

func (s *CommandsSuite) TestCall_RPCError() {
	testutils.NewResponder(func(testutils.ReceivedRequest) (any, *rpc.Error, bool) {
		return nil, &rpc.Error{Code: -32601, Message: "method not found"}, true
	}).Attach(s.Peripheral)

	_, err := s.ExecuteCommand("call", testutils.DefaultPeerAddress, "nope")
	var rpcErr *rpc.Error
	s.Require().True(errors.As(err, &rpcErr))
	s.Equal("device returned error -32601: method not found", FormatUserError(err))
}

func (s *CommandsSuite) TestCall_ConnectFailure() {
	_, err := s.ExecuteCommand("call", "11:22:33:44:55:66", "ping")
	s.Require().Error(err)
	s.Contains(FormatUserError(err), "check that the device is powered and in range")
}

func (s *CommandsSuite) TestCall_BadArguments() {
	_, err := s.ExecuteCommand("call", testutils.DefaultPeerAddress)
	s.Error(err, "call MUST require a method")

	_, err = s.ExecuteCommand("call", testutils.DefaultPeerAddress, "m", "novalue")
	s.Require().Error(err)
	s.Contains(err.Error(), "expected key=value")
	s.Empty(s.Central.Dials(), "invalid params MUST fail before connecting")
}

func (s *CommandsSuite) TestStatus_PrintsTransitions() {
	// GOAL: Verify status prints each transition in order until Ready

	output, err := s.ExecuteCommand("status", testutils.DefaultPeerAddress)
	s.Require().NoError(err)

	connecting := strings.Index(output, "connecting")
	connected := strings.Index(output, "connected ")
	ready := strings.Index(output, "ready")
	s.Require().True(connecting >= 0 && connected >= 0 && ready >= 0, "all transitions MUST be printed: %q", output)
	s.Less(connecting, connected)
	s.Less(connected, ready)
	s.Contains(output, testutils.DefaultPeerAddress)
}

func (s *CommandsSuite) TestInvalidLogLevel() {
	_, err := s.ExecuteCommand("scan", "--log-level", "loud")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid log level")
}

func (s *CommandsSuite) TestInvalidConfig() {
	s.WriteConfig("backend: nope")
	_, err := s.ExecuteCommand("scan")
	s.Require().Error(err)
	s.Contains(err.Error(), "backend")
}
