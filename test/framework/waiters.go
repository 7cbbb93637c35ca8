package framework

import (
	"context"
	"fmt"
	"time"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with sensible defaults (30s timeout, 1s interval)
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 1*time.Second)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForNodeHealthy waits for a node's HTTP health endpoint to respond.
func (w *Waiter) WaitForNodeHealthy(ctx context.Context, client *Client) error {
	return w.WaitFor(ctx, func() bool {
		return client.Health() == nil
	}, "node to answer its health endpoint")
}

// WaitForPeerConnected waits for node to report the given peer node id
// among its known nodes, which only happens once a peer connection has
// completed its handshake.
func (w *Waiter) WaitForPeerConnected(ctx context.Context, node *Client, peerNodeID string) error {
	return w.WaitFor(ctx, func() bool {
		nodes, err := node.ListNodes()
		if err != nil {
			return false
		}
		for _, n := range nodes {
			if id, ok := n["UUID"].(string); ok && id == peerNodeID {
				return true
			}
		}
		return false
	}, fmt.Sprintf("peer %s to appear in node list", peerNodeID))
}

// WaitForChangeCount waits for a node's changelog to reach at least
// count entries, used to confirm replication caught up after a post.
func (w *Waiter) WaitForChangeCount(ctx context.Context, node *Client, count int) error {
	return w.WaitFor(ctx, func() bool {
		entries, err := node.ChangesSince(0, 500)
		if err != nil {
			return false
		}
		return len(entries) >= count
	}, fmt.Sprintf("changelog to reach %d entries", count))
}

// WaitForProcessExit waits for a process to stop running.
func (w *Waiter) WaitForProcessExit(ctx context.Context, p *Process) error {
	return w.WaitFor(ctx, func() bool {
		return !p.IsRunning()
	}, "process to exit")
}

// WaitForConditionWithRetry waits for a condition with exponential backoff retry
func (w *Waiter) WaitForConditionWithRetry(ctx context.Context, condition func() (bool, error), description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	interval := w.interval
	maxInterval := 10 * time.Second

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("error checking condition '%s': %w", description, err)
		}

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-time.After(interval):
			// Exponential backoff
			interval = interval * 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}

// PollUntil polls a condition until it returns true or context is cancelled
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// PollUntilWithError polls a condition that can return an error
func PollUntilWithError(ctx context.Context, interval time.Duration, condition func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Check immediately
	if ok, err := condition(); err != nil {
		return err
	} else if ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ok, err := condition(); err != nil {
				return err
			} else if ok {
				return nil
			}
		}
	}
}

// Retry retries an operation with exponential backoff
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, operation func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay = delay * 2
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}
