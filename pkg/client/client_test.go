package client_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/rpc"
	"github.com/srg/blerpc/internal/session"
	"github.com/srg/blerpc/internal/testutils"
	"github.com/srg/blerpc/pkg/client"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ClientSuite struct {
	testutils.MockPeripheralSuite

	opts client.Options
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.MockPeripheralSuite.SetupTest()
	s.opts = client.DefaultOptions()
	s.opts.ScanWindow = 100 * time.Millisecond
	s.opts.StorePath = filepath.Join(s.T().TempDir(), "device.yaml")
}

func (s *ClientSuite) newClient(gate device.PermissionGate) *client.Client {
	c, err := client.New(s.Central, gate, s.opts, s.Logger)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

func (s *ClientSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *ClientSuite) addPeer(address, name string, rssi int) *testutils.FakePeripheral {
	p := testutils.NewRPCPeripheralBuilder(address, name).WithRSSI(rssi).Build()
	s.Central.AddPeripheral(p)
	return p
}

func (s *ClientSuite) connect(c *client.Client) {
	s.Require().NoError(c.Connect(s.ctx(), testutils.DefaultPeerAddress))
	s.Require().NoError(c.WaitReady(s.ctx()))
}

func (s *ClientSuite) TestCallReturnsResult() {
	// GOAL: Verify Call returns the raw result member of the response

	testutils.NewResponder(func(req testutils.ReceivedRequest) (any, *rpc.Error, bool) {
		return map[string]any{"method": req.Method, "ok": true}, nil, true
	}).Attach(s.Peripheral)

	c := s.newClient(nil)
	s.connect(c)

	result, err := c.Call(s.ctx(), "status", map[string]int{"verbose": 1})
	s.Require().NoError(err)
	s.JSONEq(`{"method":"status","ok":true}`, string(result))
}

func (s *ClientSuite) TestCallErrorMember() {
	// GOAL: Verify a JSON-RPC error member surfaces as *rpc.Error and -32001 as unauthorized

	testutils.NewResponder(func(req testutils.ReceivedRequest) (any, *rpc.Error, bool) {
		if req.Method == "secret" {
			return nil, &rpc.Error{Code: rpc.CodeUnauthorized, Message: "unauthorized"}, true
		}
		return nil, &rpc.Error{Code: -32601, Message: "method not found"}, true
	}).Attach(s.Peripheral)

	c := s.newClient(nil)
	s.connect(c)

	_, err := c.Call(s.ctx(), "nope", nil)
	var rpcErr *rpc.Error
	s.Require().True(errors.As(err, &rpcErr), "error member MUST be returned as *rpc.Error")
	s.Equal(-32601, rpcErr.Code)
	s.False(errors.Is(err, device.ErrUnauthorized))

	_, err = c.Call(s.ctx(), "secret", nil)
	s.ErrorIs(err, device.ErrUnauthorized, "code -32001 MUST map to unauthorized")
	s.Require().True(errors.As(err, &rpcErr), "unauthorized MUST keep the rpc error")
	s.Equal("unauthorized", rpcErr.Message)
}

func (s *ClientSuite) TestStatusChanged() {
	// GOAL: Verify status transitions reach the client channel in order

	c := s.newClient(nil)
	s.connect(c)
	c.Disconnect()

	evs := testutils.ReceiveN(s.T(), c.StatusChanged(), 4, s.TestTimeout)
	got := make([]session.Status, len(evs))
	for i, ev := range evs {
		got[i] = ev.Status
	}
	s.Equal([]session.Status{session.Connecting, session.Connected, session.Ready, session.Disconnected}, got)
	s.Equal(session.Disconnected, c.Status())
}

func (s *ClientSuite) TestDeviceFound() {
	// GOAL: Verify StartScan delivers discovered peers on DeviceFound

	c := s.newClient(nil)
	s.Require().NoError(c.StartScan(s.ctx()))
	defer c.StopScan()

	dev := testutils.Receive(s.T(), c.DeviceFound(), s.TestTimeout)
	s.Equal(testutils.DefaultPeerAddress, dev.Address)
	s.Equal(testutils.DefaultPeerName, dev.Name)
}

func (s *ClientSuite) TestDeviceFoundDropsOldest() {
	// GOAL: Verify a slow DeviceFound consumer loses the oldest events and the loss is counted

	s.addPeer("11:22:33:44:55:66", "RPC-Second", -40)
	s.opts.Scanner.BufferSize = 1
	c := s.newClient(nil)
	s.Require().NoError(c.StartScan(s.ctx()))
	defer c.StopScan()

	s.Eventually(func() bool { return c.DroppedDevices() == 1 }, s.TestTimeout, 10*time.Millisecond,
		"unread events MUST be overwritten, not block discovery")
	dev := testutils.Receive(s.T(), c.DeviceFound(), s.TestTimeout)
	s.Equal("11:22:33:44:55:66", dev.Address, "newest event MUST survive")
}

func (s *ClientSuite) TestPermissionRequested() {
	// GOAL: Verify a missing permission is requested once and then scanning proceeds

	gate := &testutils.MockPermissionGate{}
	gate.On("HasPermissions").Return(false).Once()
	gate.On("RequestPermissions", mock.Anything).Return(true, nil).Once()
	gate.On("HasPermissions").Return(true)

	c := s.newClient(gate)
	s.Require().NoError(c.StartScan(s.ctx()))
	c.StopScan()

	gate.AssertExpectations(s.T())
}

func (s *ClientSuite) TestPermissionDenied() {
	// GOAL: Verify a refused permission fails Connect and StartScan without touching the radio

	gate := &testutils.MockPermissionGate{}
	gate.On("HasPermissions").Return(false)
	gate.On("RequestPermissions", mock.Anything).Return(false, nil)

	c := s.newClient(gate)
	s.ErrorIs(c.Connect(s.ctx(), testutils.DefaultPeerAddress), device.ErrPermissionDenied)
	s.ErrorIs(c.StartScan(s.ctx()), device.ErrPermissionDenied)
	s.Empty(s.Central.Dials(), "denied permission MUST NOT dial")
	s.Zero(s.Central.ScanCount(), "denied permission MUST NOT scan")
}

func (s *ClientSuite) TestPermissionRequestError() {
	gate := &testutils.MockPermissionGate{}
	gate.On("HasPermissions").Return(false)
	gate.On("RequestPermissions", mock.Anything).Return(false, device.ErrUnavailable)

	c := s.newClient(gate)
	s.ErrorIs(c.Connect(s.ctx(), testutils.DefaultPeerAddress), device.ErrUnavailable)
}

func (s *ClientSuite) TestAutoConnectPicksStrongest() {
	// GOAL: Verify auto-connect picks the strongest prefixed peer, verifies it and remembers it
	//
	// TEST SCENARIO: peers comma-weak(-80), comma-strong(-40), other(-10) → dial comma-strong → getDeviceInfo → stored

	s.Central = testutils.NewFakeCentral()
	s.addPeer("AA:00:00:00:00:01", "comma-weak", -80)
	strong := s.addPeer("AA:00:00:00:00:02", "comma-strong", -40)
	s.addPeer("AA:00:00:00:00:03", "other", -10)
	responder := testutils.NewResponder(testutils.Echo).Attach(strong)

	c := s.newClient(nil)
	dev, err := c.AutoConnect(s.ctx())
	s.Require().NoError(err)

	s.Equal(client.RememberedDevice{Address: "AA:00:00:00:00:02", Name: "comma-strong"}, dev)
	s.Equal([]string{"AA:00:00:00:00:02"}, s.Central.Dials())
	s.Equal(session.Ready, c.Status())

	reqs := responder.Requests()
	s.Require().Len(reqs, 1)
	s.Equal("getDeviceInfo", reqs[0].Method, "peer MUST be verified before it is remembered")

	stored, ok, err := client.NewStore(s.opts.StorePath).Load()
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(dev, stored)
}

func (s *ClientSuite) TestAutoConnectRemembered() {
	// GOAL: Verify a remembered device is dialled directly without scanning

	s.Require().NoError(client.NewStore(s.opts.StorePath).Save(client.RememberedDevice{
		Address: testutils.DefaultPeerAddress,
		Name:    testutils.DefaultPeerName,
	}))
	testutils.NewResponder(testutils.Echo).Attach(s.Peripheral)

	c := s.newClient(nil)
	dev, err := c.AutoConnect(s.ctx())
	s.Require().NoError(err)

	s.Equal(testutils.DefaultPeerAddress, dev.Address)
	s.Zero(s.Central.ScanCount(), "remembered device MUST NOT trigger a scan")
}

func (s *ClientSuite) TestAutoConnectRememberedUnreachable() {
	// GOAL: Verify an unreachable remembered device falls back to scanning

	s.Require().NoError(client.NewStore(s.opts.StorePath).Save(client.RememberedDevice{Address: "11:22:33:44:55:66"}))
	testutils.NewResponder(testutils.Echo).Attach(s.Peripheral)

	c := s.newClient(nil)
	dev, err := c.AutoConnect(s.ctx())
	s.Require().NoError(err)

	s.Equal(testutils.DefaultPeerAddress, dev.Address)
	s.Equal([]string{"11:22:33:44:55:66", testutils.DefaultPeerAddress}, s.Central.Dials())
	s.Equal(1, s.Central.ScanCount())
}

func (s *ClientSuite) TestAutoConnectVerifyFails() {
	// GOAL: Verify a peer failing verification is disconnected and not remembered

	testutils.NewResponder(func(testutils.ReceivedRequest) (any, *rpc.Error, bool) {
		return nil, &rpc.Error{Code: -32601, Message: "method not found"}, true
	}).Attach(s.Peripheral)

	c := s.newClient(nil)
	_, err := c.AutoConnect(s.ctx())
	var rpcErr *rpc.Error
	s.Require().True(errors.As(err, &rpcErr))
	s.Equal(session.Disconnected, c.Status())

	_, ok, err := client.NewStore(s.opts.StorePath).Load()
	s.Require().NoError(err)
	s.False(ok, "unverified peer MUST NOT be remembered")
}

func (s *ClientSuite) TestAutoConnectVerifyDisabled() {
	s.opts.VerifyMethod = ""

	c := s.newClient(nil)
	_, err := c.AutoConnect(s.ctx())
	s.Require().NoError(err)
	s.Empty(s.Peripheral.RequestChar().Writes(), "disabled verification MUST NOT send requests")
}

func (s *ClientSuite) TestAutoConnectNoDevice() {
	// GOAL: Verify auto-connect fails when no advertised name carries the prefix

	s.opts.NamePrefix = "nomatch-"

	c := s.newClient(nil)
	_, err := c.AutoConnect(s.ctx())
	s.ErrorIs(err, device.ErrConnectFailed)
	s.Empty(s.Central.Dials())
}

func (s *ClientSuite) TestForget() {
	store := client.NewStore(s.opts.StorePath)
	s.Require().NoError(store.Save(client.RememberedDevice{Address: "AA"}))

	c := s.newClient(nil)
	s.Require().NoError(c.Forget())

	_, ok, err := store.Load()
	s.Require().NoError(err)
	s.False(ok)
}
