package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/security"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a peer topology file",
	Long: `Apply a declarative file describing this node's parent and child
peers. Existing rows are left untouched; only peers absent from the
database are created.

Example:
  cotoami-node apply -f topology.yaml --owner-password secret`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Topology YAML file to apply (required)")
	applyCmd.Flags().String("owner-password", "", "Owner password, used to encrypt any new server peer passwords")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

// Topology is the apply file's root shape: a list of parent nodes this
// node should connect to as a client, and a list of child nodes this
// node should admit as clients.
type Topology struct {
	Servers []ServerSpec `yaml:"servers"`
	Clients []ClientSpec `yaml:"clients"`
}

type ServerSpec struct {
	URLPrefix string `yaml:"urlPrefix"`
	Password  string `yaml:"password"`
	Disabled  bool   `yaml:"disabled,omitempty"`
}

type ClientSpec struct {
	NodeID           string `yaml:"nodeId"`
	Password         string `yaml:"password"`
	AsOwner          bool   `yaml:"asOwner,omitempty"`
	CanPostCotonomas bool   `yaml:"canPostCotonomas,omitempty"`
	CanEditItos      bool   `yaml:"canEditItos,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	ownerPassword, _ := cmd.Flags().GetString("owner-password")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read topology file: %w", err)
	}

	var topology Topology
	if err := yaml.Unmarshal(data, &topology); err != nil {
		return fmt.Errorf("parse topology file: %w", err)
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

	var cipher *security.PeerPasswordCipher
	if len(topology.Servers) > 0 {
		if ownerPassword == "" {
			return fmt.Errorf("--owner-password is required to apply %d server spec(s)", len(topology.Servers))
		}
		cipher, err = security.NewPeerPasswordCipher(security.DeriveKeyFromOwnerPassword(ownerPassword))
		if err != nil {
			return fmt.Errorf("build peer password cipher: %w", err)
		}
	}

	existingServers, err := storage.Read(ctx, e, ops.ListServerNodes())
	if err != nil {
		return fmt.Errorf("list server nodes: %w", err)
	}
	knownURLs := make(map[string]bool, len(existingServers))
	for _, sn := range existingServers {
		knownURLs[sn.URLPrefix] = true
	}

	for _, spec := range topology.Servers {
		if knownURLs[spec.URLPrefix] {
			fmt.Printf("Server already registered, skipping: %s\n", spec.URLPrefix)
			continue
		}

		encrypted, err := cipher.Encrypt([]byte(spec.Password))
		if err != nil {
			return fmt.Errorf("encrypt password for %s: %w", spec.URLPrefix, err)
		}
		serverNodeID := id.New[id.NodeKind]()
		op := storage.AndThenWrite(
			ops.UpsertServerNode(model.ServerNode{
				NodeID: serverNodeID, URLPrefix: spec.URLPrefix,
				EncryptedPassword: encrypted, Disabled: spec.Disabled,
			}),
			func(struct{}) storage.WriteOperation[struct{}] {
				return ops.UpsertParentNode(model.ParentNode{NodeID: serverNodeID})
			},
		)
		if _, err := storage.Write(ctx, e, op); err != nil {
			return fmt.Errorf("apply server %s: %w", spec.URLPrefix, err)
		}
		fmt.Printf("✓ Server created: %s (node id %s)\n", spec.URLPrefix, serverNodeID)
	}

	for _, spec := range topology.Clients {
		nodeID, err := id.Parse[id.NodeKind](spec.NodeID)
		if err != nil {
			return fmt.Errorf("invalid client node id %q: %w", spec.NodeID, err)
		}

		existing, err := storage.Read(ctx, e, ops.GetClientNode(nodeID))
		if err != nil {
			return fmt.Errorf("check existing client %s: %w", spec.NodeID, err)
		}
		if existing != nil {
			fmt.Printf("Client already admitted, skipping: %s\n", spec.NodeID)
			continue
		}

		hash, err := security.HashPassword(spec.Password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", spec.NodeID, err)
		}
		op := storage.AndThenWrite(
			ops.UpsertClientNode(model.ClientNode{NodeID: nodeID, PasswordHash: hash}),
			func(struct{}) storage.WriteOperation[struct{}] {
				return ops.UpsertChildNode(model.ChildNode{
					NodeID: nodeID, AsOwner: spec.AsOwner,
					CanPostCotonomas: spec.CanPostCotonomas, CanEditItos: spec.CanEditItos,
				})
			},
		)
		if _, err := storage.Write(ctx, e, op); err != nil {
			return fmt.Errorf("apply client %s: %w", spec.NodeID, err)
		}
		fmt.Printf("✓ Client admitted: %s\n", spec.NodeID)
	}

	return nil
}
