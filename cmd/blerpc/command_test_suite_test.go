package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/testutils"
)

// CommandTestSuite runs blerpc commands against the fake central.
// All cmd/blerpc test suites should embed this instead of MockPeripheralSuite.
type CommandTestSuite struct {
	testutils.MockPeripheralSuite

	ConfigPath string
	StorePath  string

	origCentral func(string, *logrus.Logger) (device.Central, error)
	origGate    func(*logrus.Logger) device.PermissionGate
}

func (s *CommandTestSuite) SetupTest() {
	s.MockPeripheralSuite.SetupTest()

	dir := s.T().TempDir()
	s.StorePath = filepath.Join(dir, "device.yaml")
	s.ConfigPath = filepath.Join(dir, "blerpc.yaml")
	s.WriteConfig("")

	s.origCentral, s.origGate = newCentral, newGate
	newCentral = func(string, *logrus.Logger) (device.Central, error) { return s.Central, nil }
	newGate = func(*logrus.Logger) device.PermissionGate { return device.AllowAll{} }
}

func (s *CommandTestSuite) TearDownTest() {
	newCentral, newGate = s.origCentral, s.origGate
	s.MockPeripheralSuite.TearDownTest()
}

// WriteConfig writes a config file with short timings plus extra YAML lines.
func (s *CommandTestSuite) WriteConfig(extra string) {
	content := fmt.Sprintf(`log_level: error
scan_timeout: 200ms
scan_window: 100ms
connect_timeout: 2s
request_timeout: 2s
store_path: %q
%s`, s.StorePath, extra)
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(content), 0o600))
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", s.ConfigPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}
