package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// defaultTimeout bounds TestContext; generous enough for race-detector runs.
const defaultTimeout = 30 * time.Second

// TestContext returns a context that is cancelled when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	return TestContextWithTimeout(t, defaultTimeout)
}

// TestContextWithTimeout returns a context with an explicit deadline,
// cancelled on test cleanup.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitFor polls cond every 10ms until it reports true, failing the test
// with msg when the timeout passes first.
func WaitFor(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// AssertEventuallyTrue is WaitFor with a generic failure message.
func AssertEventuallyTrue(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	WaitFor(t, cond, timeout, "condition stayed false")
}

// WaitForChannel reads one value from ch or fails the test with msg after
// the timeout.
func WaitForChannel[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("nothing received within %v: %s", timeout, msg)
		panic("unreachable")
	}
}

// MustJSON marshals v, failing the test on error.
func MustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	return string(data)
}
