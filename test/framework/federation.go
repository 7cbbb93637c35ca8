package framework

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// DefaultFederationConfig reads COTOAMI_NODE_BINARY / COTOAMI_TEST_DATA_DIR
// from the environment, falling back to sensible local defaults.
func DefaultFederationConfig() *FederationConfig {
	binary := os.Getenv("COTOAMI_NODE_BINARY")
	if binary == "" {
		binary = "cotoami-node"
	}
	dataDir := os.Getenv("COTOAMI_TEST_DATA_DIR")
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "cotoami-federation-test")
	}
	return &FederationConfig{
		NumNodes:      1,
		DataDir:       dataDir,
		Binary:        binary,
		LogLevel:      "info",
		OwnerPassword: "test-owner-password",
	}
}

// NewFederation allocates a Federation's bookkeeping (data directories,
// addresses) without starting any process; call Start to launch them.
func NewFederation(config *FederationConfig) (*Federation, error) {
	if err := validateFederationConfig(config); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Federation{Config: config, ctx: ctx, cancel: cancel}

	for i := 0; i < config.NumNodes; i++ {
		dataDir := filepath.Join(config.DataDir, fmt.Sprintf("node-%d", i))
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			cancel()
			return nil, fmt.Errorf("create data dir for node %d: %w", i, err)
		}

		httpPort := 17120 + i
		metricsPort := 19090 + i
		node := &Node{
			Index:       i,
			DataDir:     dataDir,
			HTTPAddr:    "127.0.0.1:" + strconv.Itoa(httpPort),
			MetricsAddr: "127.0.0.1:" + strconv.Itoa(metricsPort),
		}
		client, err := NewClient("http://" + node.HTTPAddr)
		if err != nil {
			cancel()
			return nil, err
		}
		node.Client = client
		f.Nodes = append(f.Nodes, node)
	}

	return f, nil
}

func validateFederationConfig(c *FederationConfig) error {
	if c.NumNodes < 1 {
		return fmt.Errorf("federation requires at least 1 node, got %d", c.NumNodes)
	}
	if c.Binary == "" {
		return fmt.Errorf("federation config requires a Binary path")
	}
	return nil
}

// Start initializes every node's database (if not already initialized)
// and launches its serve process, waiting for each to answer its
// health endpoint before returning.
func (f *Federation) Start(ctx context.Context) error {
	for _, node := range f.Nodes {
		if err := f.initNode(node); err != nil {
			return fmt.Errorf("init node %d: %w", node.Index, err)
		}
		if err := f.startNode(node); err != nil {
			return fmt.Errorf("start node %d: %w", node.Index, err)
		}
	}

	waiter := DefaultWaiter()
	for _, node := range f.Nodes {
		if err := waiter.WaitForNodeHealthy(ctx, node.Client); err != nil {
			return fmt.Errorf("node %d never became healthy: %w", node.Index, err)
		}
	}
	return nil
}

func (f *Federation) initNode(node *Node) error {
	cmd := exec.CommandContext(f.ctx, f.Config.Binary, "init",
		"--data-dir", node.DataDir,
		"--name", fmt.Sprintf("node-%d", node.Index),
		"--owner-password", f.Config.OwnerPassword,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

func (f *Federation) startNode(node *Node) error {
	p := NewProcess(f.Config.Binary)
	p.Args = []string{
		"serve",
		"--data-dir", node.DataDir,
		"--http-addr", node.HTTPAddr,
		"--metrics-addr", node.MetricsAddr,
		"--log-level", f.Config.LogLevel,
	}
	p.Env = []string{"COTOAMI_OWNER_PASSWORD=" + f.Config.OwnerPassword}
	if err := p.Start(); err != nil {
		return err
	}
	node.Process = p
	return nil
}

// Peer wires child as a server-connecting client of parent: parent
// admits child's node id, and child is given parent's URL and a
// client password so its supervisor can connect.
func (f *Federation) Peer(ctx context.Context, parent, child *Node) error {
	if parent.NodeID == "" || child.NodeID == "" {
		return fmt.Errorf("both nodes must have been Start-ed and identified before peering")
	}

	password := fmt.Sprintf("peer-%s-%s", parent.NodeID, child.NodeID)

	addClient := exec.CommandContext(ctx, f.Config.Binary, "client", "add", child.NodeID,
		"--data-dir", parent.DataDir,
		"--password", password,
		"--can-post-cotonomas",
	)
	if out, err := addClient.CombinedOutput(); err != nil {
		return fmt.Errorf("admit child on parent: %w: %s", err, out)
	}

	addServer := exec.CommandContext(ctx, f.Config.Binary, "server", "add", "http://"+parent.HTTPAddr,
		"--data-dir", child.DataDir,
		"--password", password,
		"--owner-password", f.Config.OwnerPassword,
	)
	if out, err := addServer.CombinedOutput(); err != nil {
		return fmt.Errorf("register parent on child: %w: %s", err, out)
	}

	return nil
}

// Stop sends SIGTERM to every running node process.
func (f *Federation) Stop() error {
	var firstErr error
	for _, node := range f.Nodes {
		if node.Process == nil || !node.Process.IsRunning() {
			continue
		}
		if err := node.Process.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Cleanup stops every node and, unless KeepOnFailure is set, removes
// the federation's data directory.
func (f *Federation) Cleanup() {
	_ = f.Stop()
	f.cancel()
	if !f.Config.KeepOnFailure {
		_ = os.RemoveAll(f.Config.DataDir)
	}
}

// Identify logs every node in as owner so their NodeID fields and
// session cookies are populated; call once after Start.
func (f *Federation) Identify(ctx context.Context) error {
	for _, node := range f.Nodes {
		nodeID, err := node.Client.Login(f.Config.OwnerPassword)
		if err != nil {
			return fmt.Errorf("identify node %d: %w", node.Index, err)
		}
		node.NodeID = nodeID
	}
	return nil
}
