package session

import (
	"fmt"
	"strings"
)

// Status is the connection state of a Session.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Ready
)

var statusNames = [...]string{"disconnected", "connecting", "connected", "ready"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText parses a lowercase status name.
func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

// StatusEvent is published on every transition.
type StatusEvent struct {
	Status  Status `json:"status"`
	Address string `json:"address,omitempty"`
	Err     error  `json:"-"`
}
