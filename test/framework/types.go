package framework

import (
	"context"
	"time"
)

// FederationConfig defines the topology of a test federation: a set of
// cotoami-node processes, optionally wired together as parent/child
// peers before the test body runs.
type FederationConfig struct {
	// NumNodes is the number of cotoami-node instances to start.
	NumNodes int
	// DataDir is the base directory under which each node gets its own
	// subdirectory.
	DataDir string
	// Binary is the path to the cotoami-node executable.
	Binary string
	// KeepOnFailure leaves node data directories and processes running
	// if the test fails, for post-mortem inspection.
	KeepOnFailure bool
	// LogLevel is passed to every node via --log-level.
	LogLevel string
	// OwnerPassword is used for every node's owner account.
	OwnerPassword string
}

// Federation represents a set of running cotoami-node instances under
// test.
type Federation struct {
	Config *FederationConfig
	Nodes  []*Node

	ctx    context.Context
	cancel context.CancelFunc
}

// Node represents one cotoami-node instance in a test federation.
type Node struct {
	// Index is this node's position in Federation.Nodes.
	Index int
	// HTTPAddr is the node's HTTP/WebSocket listen address.
	HTTPAddr string
	// MetricsAddr is the node's Prometheus listen address.
	MetricsAddr string
	// NodeID is the node's UUID, set once InitOwner has run.
	NodeID string
	// DataDir is this node's data directory.
	DataDir string
	// Process is the running cotoami-node serve process.
	Process *Process
	// Client is an HTTP client bound to this node's HTTPAddr.
	Client *Client
}

// TestContext provides utilities for test execution
type TestContext struct {
	// T is the testing.T instance
	T TestingT
	// Ctx is the context for test operations
	Ctx context.Context
	// Cancel cancels the test context
	Cancel context.CancelFunc
	// Timeout is the default timeout for operations
	Timeout time.Duration
	// Cleanup functions to run after test
	cleanup []func()
}

// NewTestContext creates a TestContext bound to t with the given
// per-operation timeout.
func NewTestContext(t TestingT, timeout time.Duration) *TestContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &TestContext{T: t, Ctx: ctx, Cancel: cancel, Timeout: timeout}
}

// AddCleanup registers a function to run when Close is called, in
// reverse registration order (last registered, first run).
func (tc *TestContext) AddCleanup(fn func()) {
	tc.cleanup = append(tc.cleanup, fn)
}

// Close cancels the context and runs every registered cleanup.
func (tc *TestContext) Close() {
	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}
	tc.Cancel()
}

// TestingT is an interface matching testing.T
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}
