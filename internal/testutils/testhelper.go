package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Receive waits for one value from ch, failing the test on timeout or close.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for value")
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %s waiting for value", timeout)
	}
	var zero T
	return zero
}

// ReceiveN collects n values from ch.
func ReceiveN[T any](t testing.TB, ch <-chan T, n int, timeout time.Duration) []T {
	t.Helper()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Receive(t, ch, timeout))
	}
	return out
}
