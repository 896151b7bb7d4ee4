package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockPermissionGate is a testify mock of device.PermissionGate.
type MockPermissionGate struct {
	mock.Mock
}

func (m *MockPermissionGate) HasPermissions() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockPermissionGate) RequestPermissions(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}
