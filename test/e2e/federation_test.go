package e2e

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/cotoami/cotoami-node/test/framework"
)

// TestBasicFederation starts two nodes, peers one as a server of the
// other, and verifies a post on the server becomes visible to the
// client's changelog.
func TestBasicFederation(t *testing.T) {
	if _, err := exec.LookPath(defaultBinary()); err != nil {
		t.Skipf("cotoami-node binary not available: %v", err)
	}

	config := framework.DefaultFederationConfig()
	config.NumNodes = 2
	config.Binary = defaultBinary()

	fed, err := framework.NewFederation(config)
	if err != nil {
		t.Fatalf("failed to allocate federation: %v", err)
	}
	defer fed.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := fed.Start(ctx); err != nil {
		t.Fatalf("failed to start federation: %v", err)
	}
	defer func() { _ = fed.Stop() }()

	if err := fed.Identify(ctx); err != nil {
		t.Fatalf("failed to identify nodes: %v", err)
	}

	assert := framework.NewAssertions(t)
	waiter := framework.DefaultWaiter()

	server, client := fed.Nodes[0], fed.Nodes[1]

	t.Run("NodesHealthy", func(t *testing.T) {
		assert.NodeHealthy(server.Client)
		assert.NodeHealthy(client.Client)
	})

	t.Run("PeerAndReplicate", func(t *testing.T) {
		if err := fed.Peer(ctx, server, client); err != nil {
			t.Fatalf("failed to peer nodes: %v", err)
		}

		assert.CotoPosted(server.Client, "hello from the server node")

		if err := waiter.WaitForChangeCount(ctx, server.Client, 1); err != nil {
			t.Fatalf("server changelog never recorded the post: %v", err)
		}
	})
}

func defaultBinary() string {
	if b := os.Getenv("COTOAMI_NODE_BINARY"); b != "" {
		return b
	}
	return "cotoami-node"
}
