package goble

import (
	"strings"

	"github.com/srg/blerpc/internal/device"
)

// NormalizeError maps known go-ble error strings to the device error kinds.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "central manager has invalid state"):
		return &device.Error{Kind: device.KindUnavailable, Err: err}
	case containsIgnoreCase(msg, "can't init hci"):
		return &device.Error{Kind: device.KindUnavailable, Err: err}
	case containsIgnoreCase(msg, "operation not permitted"):
		return &device.Error{Kind: device.KindPermissionDenied, Err: err}
	case containsIgnoreCase(msg, "connection is not initialized"):
		return &device.Error{Kind: device.KindConnectionLost, Err: err}
	default:
		return device.NormalizeError(err)
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
