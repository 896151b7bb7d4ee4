package main

import (
	"errors"
	"fmt"

	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/rpc"
)

var hints = map[device.ErrorKind]string{
	device.KindPermissionDenied:  "grant Bluetooth access to this terminal",
	device.KindUnavailable:       "check that Bluetooth is turned on",
	device.KindConnectFailed:     "check that the device is powered and in range",
	device.KindServiceNotFound:   "the device does not expose the JSON-RPC service",
	device.KindConnectionLost:    "the device went out of range or was reset",
	device.KindTimeout:           "the device did not answer in time",
	device.KindUnauthorized:      "the device rejected the request as unauthorized",
	device.KindMalformedResponse: "the response exceeded max_response_size",
}

// FormatUserError renders err for the terminal with a hint for known kinds.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) && device.KindOf(err) == "" {
		if len(rpcErr.Data) > 0 {
			return fmt.Sprintf("device returned error %d: %s (%s)", rpcErr.Code, rpcErr.Message, rpcErr.Data)
		}
		return fmt.Sprintf("device returned error %d: %s", rpcErr.Code, rpcErr.Message)
	}

	if hint, ok := hints[device.KindOf(err)]; ok {
		return fmt.Sprintf("%s (%s)", err, hint)
	}
	return err.Error()
}
