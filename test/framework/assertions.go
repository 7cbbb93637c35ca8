package framework

import (
	"context"
	"strings"
	"time"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// NodeHealthy asserts that a node's health endpoint responds.
func (a *Assertions) NodeHealthy(client *Client) {
	a.t.Helper()

	if err := client.Health(); err != nil {
		a.t.Fatalf("node is not healthy: %v", err)
	}
}

// CotoPosted asserts that posting a coto with the given content
// succeeds, returning its UUID.
func (a *Assertions) CotoPosted(client *Client, content string) string {
	a.t.Helper()

	uuid, err := client.PostCoto(content)
	if err != nil {
		a.t.Fatalf("failed to post coto %q: %v", content, err)
	}
	if uuid == "" {
		a.t.Fatalf("posted coto %q has no UUID", content)
	}
	return uuid
}

// CotonomaPosted asserts that posting a cotonoma with the given name
// succeeds, returning its UUID.
func (a *Assertions) CotonomaPosted(client *Client, name string) string {
	a.t.Helper()

	uuid, err := client.PostCotonoma(name)
	if err != nil {
		a.t.Fatalf("failed to post cotonoma %q: %v", name, err)
	}
	if uuid == "" {
		a.t.Fatalf("posted cotonoma %q has no UUID", name)
	}
	return uuid
}

// PeerKnown asserts that client's node list includes peerNodeID.
func (a *Assertions) PeerKnown(client *Client, peerNodeID string) {
	a.t.Helper()

	nodes, err := client.ListNodes()
	if err != nil {
		a.t.Fatalf("failed to list nodes: %v", err)
	}
	for _, n := range nodes {
		if id, ok := n["UUID"].(string); ok && id == peerNodeID {
			return
		}
	}
	a.t.Fatalf("peer %s not found among known nodes", peerNodeID)
}

// ChangeCountAtLeast asserts that a node's changelog has at least n entries.
func (a *Assertions) ChangeCountAtLeast(client *Client, n int) {
	a.t.Helper()

	entries, err := client.ChangesSince(0, 500)
	if err != nil {
		a.t.Fatalf("failed to fetch changelog: %v", err)
	}
	if len(entries) < n {
		a.t.Fatalf("changelog has %d entries, expected at least %d", len(entries), n)
	}
}

// ProcessRunning asserts that a node's process is still running.
func (a *Assertions) ProcessRunning(p *Process) {
	a.t.Helper()

	if !p.IsRunning() {
		a.t.Fatalf("process %s is not running (logs: %s)", p.Binary, p.Logs())
	}
}

// Eventually repeatedly runs a condition until it returns true or timeout occurs
func (a *Assertions) Eventually(condition func() bool, timeout, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("Timeout waiting for condition: %s (timeout: %v)", msg, timeout)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// EventuallyWithContext is like Eventually but uses a provided context
func (a *Assertions) EventuallyWithContext(ctx context.Context, condition func() bool, interval time.Duration, msg string) {
	a.t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("Context cancelled waiting for condition: %s (error: %v)", msg, ctx.Err())
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// NoError asserts that the error is nil
func (a *Assertions) NoError(err error, msg string) {
	a.t.Helper()

	if err != nil {
		a.t.Fatalf("%s: %v", msg, err)
	}
}

// Error asserts that the error is not nil
func (a *Assertions) Error(err error, msg string) {
	a.t.Helper()

	if err == nil {
		a.t.Fatalf("%s: expected error but got nil", msg)
	}
}

// Equal asserts that two values are equal
func (a *Assertions) Equal(expected, actual interface{}, msg string) {
	a.t.Helper()

	if expected != actual {
		a.t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// NotEqual asserts that two values are not equal
func (a *Assertions) NotEqual(expected, actual interface{}, msg string) {
	a.t.Helper()

	if expected == actual {
		a.t.Fatalf("%s: expected values to be different, but both are %v", msg, expected)
	}
}

// True asserts that a condition is true
func (a *Assertions) True(condition bool, msg string) {
	a.t.Helper()

	if !condition {
		a.t.Fatalf("%s: expected true, got false", msg)
	}
}

// False asserts that a condition is false
func (a *Assertions) False(condition bool, msg string) {
	a.t.Helper()

	if condition {
		a.t.Fatalf("%s: expected false, got true", msg)
	}
}

// Contains asserts that a string contains a substring
func (a *Assertions) Contains(haystack, needle, msg string) {
	a.t.Helper()

	if !strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q to contain %q", msg, haystack, needle)
	}
}

// NotContains asserts that a string does not contain a substring
func (a *Assertions) NotContains(haystack, needle, msg string) {
	a.t.Helper()

	if strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q not to contain %q", msg, haystack, needle)
	}
}

// Len asserts that a slice or map has a specific length
func (a *Assertions) Len(obj interface{}, expected int, msg string) {
	a.t.Helper()

	var length int

	switch v := obj.(type) {
	case []interface{}:
		length = len(v)
	case map[string]interface{}:
		length = len(v)
	case string:
		length = len(v)
	default:
		a.t.Fatalf("%s: unsupported type for Len assertion: %T", msg, obj)
		return
	}

	if length != expected {
		a.t.Fatalf("%s: expected length %d, got %d", msg, expected, length)
	}
}

// Nil asserts that a value is nil
func (a *Assertions) Nil(obj interface{}, msg string) {
	a.t.Helper()

	if obj != nil {
		a.t.Fatalf("%s: expected nil, got %v", msg, obj)
	}
}

// NotNil asserts that a value is not nil
func (a *Assertions) NotNil(obj interface{}, msg string) {
	a.t.Helper()

	if obj == nil {
		a.t.Fatalf("%s: expected non-nil value", msg)
	}
}

// Logf logs a formatted message (non-failing)
func (a *Assertions) Logf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Logf(format, args...)
}

// Log logs a message (non-failing)
func (a *Assertions) Log(msg string) {
	a.t.Helper()
	a.t.Logf("%s", msg)
}

// Step logs a test step (for visibility in test output)
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Success logs a success message
func (a *Assertions) Success(msg string) {
	a.t.Helper()
	a.t.Logf("✓ %s", msg)
}

// Info logs an informational message
func (a *Assertions) Info(msg string) {
	a.t.Helper()
	a.t.Logf("ℹ %s", msg)
}

// Warning logs a warning message
func (a *Assertions) Warning(msg string) {
	a.t.Helper()
	a.t.Logf("⚠ %s", msg)
}

// Errorf logs an error and fails the test
func (a *Assertions) Errorf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Errorf(format, args...)
}

// Fatalf logs a fatal error and stops the test immediately
func (a *Assertions) Fatalf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Fatalf(format, args...)
}

// FailNow fails the test immediately without logging
func (a *Assertions) FailNow() {
	a.t.Helper()
	a.t.FailNow()
}

// Fail marks the test as failed but continues execution
func (a *Assertions) Fail(msg string) {
	a.t.Helper()
	a.t.Errorf("Test failed: %s", msg)
}
