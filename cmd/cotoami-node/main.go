package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cotoami/cotoami-node/pkg/changelog"
	"github.com/cotoami/cotoami-node/pkg/config"
	"github.com/cotoami/cotoami-node/pkg/conn"
	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/log"
	"github.com/cotoami/cotoami-node/pkg/metrics"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/security"
	"github.com/cotoami/cotoami-node/pkg/service"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cotoami-node",
	Short: "Cotoami node — a federated, offline-first note-taking substrate",
	Long: `cotoami-node runs a single Cotoami node: a SQLite-backed graph of
cotos and itos that replicates by pushing and pulling changelog entries
to and from the parent/child peers it is configured with.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cotoami-node version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./cotoami-data", "Directory holding the node's SQLite database")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (flags override its values)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(ownerCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
}

func initLogging() {
	cfg, err := resolvedConfig(rootCmd)
	if err != nil {
		// Fall back to flag defaults; the command itself will surface
		// the same config error when it tries to open the database.
		cfg = config.Default()
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
}

// resolvedConfig loads --config (if given), then lets any explicitly
// passed flag of the same name override it, so a deployment can keep
// its defaults in a file and still tweak one value ad hoc.
func resolvedConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	} else if cfg.DataDir == "" {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}
	if f := cmd.Flags().Lookup("http-addr"); f != nil && cmd.Flags().Changed("http-addr") {
		cfg.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
	}
	if f := cmd.Flags().Lookup("metrics-addr"); f != nil && cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	return cfg, nil
}

func dbPath(cmd *cobra.Command) (string, error) {
	cfg, err := resolvedConfig(cmd)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return filepath.Join(cfg.DataDir, "cotoami.db"), nil
}

func openEngine(ctx context.Context, cmd *cobra.Command) (*storage.Engine, error) {
	path, err := dbPath(cmd)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, path)
}

// requireLocalNode reads the singleton local_node row, failing with a
// message pointing at `init` if the node has never been initialized.
func requireLocalNode(ctx context.Context, e *storage.Engine) (*model.LocalNode, error) {
	local, err := storage.Read(ctx, e, ops.GetLocalNode())
	if err != nil {
		return nil, fmt.Errorf("read local node: %w", err)
	}
	if local == nil {
		return nil, fmt.Errorf("this node has not been initialized; run 'cotoami-node init' first")
	}
	return local, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize this node's database and owner credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		password, _ := cmd.Flags().GetString("owner-password")
		if password == "" {
			return fmt.Errorf("--owner-password is required")
		}

		cfg, err := resolvedConfig(cmd)
		if err != nil {
			return err
		}

		ctx := context.Background()
		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if existing, err := storage.Read(ctx, e, ops.GetLocalNode()); err != nil {
			return fmt.Errorf("check existing node: %w", err)
		} else if existing != nil {
			return fmt.Errorf("this node is already initialized (node id %s)", existing.NodeID)
		}

		nodeID := id.New[id.NodeKind]()
		now := time.Now().UTC()
		hash, err := security.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash owner password: %w", err)
		}

		op := storage.AndThenWrite(
			ops.InsertNode(model.Node{UUID: nodeID, Name: name, Version: 1, CreatedAt: now}),
			func(struct{}) storage.WriteOperation[struct{}] {
				return ops.UpsertLocalNode(model.LocalNode{NodeID: nodeID, OwnerPasswordHash: hash, ImageMaxSize: cfg.ImageMaxSize})
			},
		)
		if _, err := storage.Write(ctx, e, op); err != nil {
			return fmt.Errorf("initialize node: %w", err)
		}

		fmt.Println("✓ Node initialized")
		fmt.Printf("  Node ID: %s\n", nodeID)
		fmt.Printf("  Name: %s\n", name)
		return nil
	},
}

func init() {
	initCmd.Flags().String("name", "cotoami", "Display name for this node")
	initCmd.Flags().String("owner-password", "", "Owner password (required)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node's HTTP/WebSocket service and peer connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig(cmd)
		if err != nil {
			return err
		}
		httpAddr := cfg.HTTPAddr
		metricsAddr := cfg.MetricsAddr
		ownerPassword, _ := cmd.Flags().GetString("owner-password")
		if ownerPassword == "" {
			ownerPassword = os.Getenv("COTOAMI_OWNER_PASSWORD")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		local, err := requireLocalNode(ctx, e)
		if err != nil {
			return err
		}

		changeBroker := events.NewChangeBroker()
		nodeEvents := events.NewNodeEventBroker()
		dispatcher := service.NewDispatcher(e, local.NodeID, changeBroker, nodeEvents)
		registry := conn.NewRegistry()

		httpServer := service.NewHTTPServer(dispatcher, e, changeBroker, service.WithSessionDuration(cfg.SessionDuration))
		httpServer.OnPeerConnected = registry.AddPrincipal
		httpServer.OnPeerDisconnected = registry.Remove

		servers, err := storage.Read(ctx, e, ops.ListServerNodes())
		if err != nil {
			return fmt.Errorf("list server nodes: %w", err)
		}
		if len(servers) > 0 && ownerPassword == "" {
			return fmt.Errorf("--owner-password (or COTOAMI_OWNER_PASSWORD) is required to decrypt %d configured peer connection(s)", len(servers))
		}

		var supervisors []*conn.PeerConnection
		if ownerPassword != "" {
			cipher, err := security.NewPeerPasswordCipher(security.DeriveKeyFromOwnerPassword(ownerPassword))
			if err != nil {
				return fmt.Errorf("build peer password cipher: %w", err)
			}
			for _, sn := range servers {
				pc := conn.NewPeerConnection(sn, local.NodeID, cipher, dispatcher, changeBroker, nodeEvents)
				supervisors = append(supervisors, pc)
				go pc.Run(ctx)
			}
		}
		fmt.Printf("✓ %d peer connection(s) supervised\n", len(supervisors))

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("cotoami-node").Error().Err(err).Msg("metrics server error")
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		apiSrv := &http.Server{Addr: httpAddr, Handler: httpServer}
		errCh := make(chan error, 1)
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		fmt.Printf("✓ HTTP/WebSocket service listening on %s\n", httpAddr)
		fmt.Println("\nNode is running. Press Ctrl+C to stop.")

		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nservice error: %v\n", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("http-addr", "127.0.0.1:7120", "Address for the HTTP/WebSocket service")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics endpoint")
	serveCmd.Flags().String("owner-password", "", "Owner password, used to decrypt configured peer connections (or set COTOAMI_OWNER_PASSWORD)")
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect and update this node's own identity",
}

var nodeShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display this node's identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		local, err := requireLocalNode(ctx, e)
		if err != nil {
			return err
		}
		n, err := storage.Read(ctx, e, ops.GetNode(local.NodeID))
		if err != nil {
			return fmt.Errorf("read node: %w", err)
		}

		fmt.Printf("Node ID: %s\n", local.NodeID)
		if n != nil {
			fmt.Printf("Name: %s\n", n.Name)
			fmt.Printf("Version: %d\n", n.Version)
			fmt.Printf("Icon: %d bytes\n", len(n.Icon))
		}
		fmt.Printf("Anonymous reads: %v\n", local.AnonymousReadEnabled)
		return nil
	},
}

var nodeSetIconCmd = &cobra.Command{
	Use:   "set-icon FILE",
	Short: "Replace this node's icon image and replicate the change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		iconPath := args[0]
		icon, err := os.ReadFile(iconPath)
		if err != nil {
			return fmt.Errorf("read icon file: %w", err)
		}

		ctx := context.Background()
		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		local, err := requireLocalNode(ctx, e)
		if err != nil {
			return err
		}
		n, err := storage.Read(ctx, e, ops.GetNode(local.NodeID))
		if err != nil {
			return fmt.Errorf("read node: %w", err)
		}
		if n == nil {
			return fmt.Errorf("node identity row missing for %s", local.NodeID)
		}

		n.Icon = icon
		n.Version++
		if _, err := changelog.SetNodeProfile(ctx, e, local.NodeID, *n, time.Now().UTC()); err != nil {
			return fmt.Errorf("set node icon: %w", err)
		}

		fmt.Printf("✓ Icon updated (%d bytes, version %d)\n", len(icon), n.Version)
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeShowCmd)
	nodeCmd.AddCommand(nodeSetIconCmd)
}

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Manage this node's owner credentials",
}

var ownerSetPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Change the owner password, re-encrypting every configured peer password",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, _ := cmd.Flags().GetString("current")
		newPassword, _ := cmd.Flags().GetString("new")
		if current == "" || newPassword == "" {
			return fmt.Errorf("--current and --new are both required")
		}

		ctx := context.Background()
		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		local, err := requireLocalNode(ctx, e)
		if err != nil {
			return err
		}
		servers, err := storage.Read(ctx, e, ops.ListServerNodes())
		if err != nil {
			return fmt.Errorf("list server nodes: %w", err)
		}

		peers := make([]security.ServerNodePassword, len(servers))
		for i, sn := range servers {
			peers[i] = security.ServerNodePassword{NodeID: sn.NodeID.String(), Encrypted: sn.EncryptedPassword}
		}

		newHash, rotated, err := security.ChangeOwnerPassword(local.OwnerPasswordHash, current, newPassword, peers)
		if err != nil {
			return fmt.Errorf("change owner password: %w", err)
		}

		op := storage.AndThenWrite(
			ops.UpsertLocalNode(model.LocalNode{
				NodeID: local.NodeID, OwnerPasswordHash: newHash,
				ImageMaxSize: local.ImageMaxSize, AnonymousReadEnabled: local.AnonymousReadEnabled,
			}),
			func(struct{}) storage.WriteOperation[struct{}] {
				return rotateServerNodes(servers, rotated)
			},
		)
		if _, err := storage.Write(ctx, e, op); err != nil {
			return fmt.Errorf("persist rotated credentials: %w", err)
		}

		fmt.Printf("✓ Owner password changed, %d peer password(s) re-encrypted\n", len(rotated))
		return nil
	},
}

// rotateServerNodes writes back every ServerNode's re-encrypted
// password in one write, chained after the owner password update so
// both succeed or both roll back together.
func rotateServerNodes(servers []model.ServerNode, rotated []security.ServerNodePassword) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		for i, sn := range servers {
			sn.EncryptedPassword = rotated[i].Encrypted
			if _, err := ops.UpsertServerNode(sn)(ctx, x); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	}
}

func init() {
	ownerSetPasswordCmd.Flags().String("current", "", "Current owner password")
	ownerSetPasswordCmd.Flags().String("new", "", "New owner password")
	ownerCmd.AddCommand(ownerSetPasswordCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage parent nodes this node connects to as a client",
}

var serverAddCmd = &cobra.Command{
	Use:   "add URL_PREFIX",
	Short: "Register a parent node to connect to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		urlPrefix := args[0]
		password, _ := cmd.Flags().GetString("password")
		ownerPassword, _ := cmd.Flags().GetString("owner-password")
		if password == "" || ownerPassword == "" {
			return fmt.Errorf("--password and --owner-password are both required")
		}

		ctx := context.Background()
		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		local, err := requireLocalNode(ctx, e)
		if err != nil {
			return err
		}

		cipher, err := security.NewPeerPasswordCipher(security.DeriveKeyFromOwnerPassword(ownerPassword))
		if err != nil {
			return fmt.Errorf("build peer password cipher: %w", err)
		}
		encrypted, err := cipher.Encrypt([]byte(password))
		if err != nil {
			return fmt.Errorf("encrypt peer password: %w", err)
		}

		serverNodeID := id.New[id.NodeKind]()
		op := storage.AndThenWrite(
			ops.UpsertServerNode(model.ServerNode{NodeID: serverNodeID, URLPrefix: urlPrefix, EncryptedPassword: encrypted}),
			func(struct{}) storage.WriteOperation[struct{}] {
				return ops.UpsertParentNode(model.ParentNode{NodeID: serverNodeID})
			},
		)
		if _, err := storage.Write(ctx, e, op); err != nil {
			return fmt.Errorf("register server node: %w", err)
		}

		fmt.Printf("✓ Server registered: %s\n", urlPrefix)
		fmt.Printf("  Server node ID: %s\n", serverNodeID)
		fmt.Printf("  This node: %s\n", local.NodeID)
		return nil
	},
}

func init() {
	serverAddCmd.Flags().String("password", "", "Password to authenticate with the parent (required)")
	serverAddCmd.Flags().String("owner-password", "", "This node's owner password, used to derive the peer-password encryption key (required)")
	serverCmd.AddCommand(serverAddCmd)
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage child nodes admitted to connect to this node",
}

var clientAddCmd = &cobra.Command{
	Use:   "add NODE_ID",
	Short: "Admit a node as a client, with login credentials and write permissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, err := id.Parse[id.NodeKind](args[0])
		if err != nil {
			return fmt.Errorf("invalid node id: %w", err)
		}
		password, _ := cmd.Flags().GetString("password")
		asOwner, _ := cmd.Flags().GetBool("as-owner")
		canPostCotonomas, _ := cmd.Flags().GetBool("can-post-cotonomas")
		canEditItos, _ := cmd.Flags().GetBool("can-edit-itos")
		if password == "" {
			return fmt.Errorf("--password is required")
		}

		ctx := context.Background()
		e, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := requireLocalNode(ctx, e); err != nil {
			return err
		}

		hash, err := security.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash client password: %w", err)
		}

		op := storage.AndThenWrite(
			ops.UpsertClientNode(model.ClientNode{NodeID: nodeID, PasswordHash: hash}),
			func(struct{}) storage.WriteOperation[struct{}] {
				return ops.UpsertChildNode(model.ChildNode{
					NodeID: nodeID, AsOwner: asOwner,
					CanPostCotonomas: canPostCotonomas, CanEditItos: canEditItos,
				})
			},
		)
		if _, err := storage.Write(ctx, e, op); err != nil {
			return fmt.Errorf("admit client node: %w", err)
		}

		fmt.Printf("✓ Client admitted: %s\n", nodeID)
		fmt.Printf("  As owner: %v\n", asOwner)
		fmt.Printf("  Can post cotonomas: %v\n", canPostCotonomas)
		fmt.Printf("  Can edit itos: %v\n", canEditItos)
		return nil
	},
}

func init() {
	clientAddCmd.Flags().String("password", "", "Login password for this client (required)")
	clientAddCmd.Flags().Bool("as-owner", false, "Grant this client owner permissions")
	clientAddCmd.Flags().Bool("can-post-cotonomas", false, "Allow this client to create cotonomas")
	clientAddCmd.Flags().Bool("can-edit-itos", false, "Allow this client to edit connections it did not create")
	clientCmd.AddCommand(clientAddCmd)
}
