// Package operator evaluates whether a given principal may perform a
// given mutation.
package operator

import (
	"errors"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
)

// ErrPermissionDenied is returned by every Can* check that fails. The
// service boundary (pkg/service) maps it to ServiceError{Permission}.
var ErrPermissionDenied = errors.New("permission denied")

// Kind discriminates the four principal shapes.
type Kind int

const (
	KindLocalOwner Kind = iota
	KindChildPeer
	KindAgent
	KindAnonymous
)

// Principal is the authenticated actor on whose behalf a command runs.
// Exactly one of the Kind-specific fields is meaningful, selected by
// Kind; see LocalOwner, ChildPeer, Agent and Anonymous constructors.
type Principal struct {
	kind                Kind
	nodeID              id.NodeID
	child               model.ChildNode
	canEditUserContent  bool
}

// LocalOwner constructs the principal representing the node's own owner
// acting locally (always has owner permission).
func LocalOwner(nodeID id.NodeID) Principal {
	return Principal{kind: KindLocalOwner, nodeID: nodeID}
}

// ChildPeer constructs the principal representing a registered child
// node acting through its granted role flags.
func ChildPeer(child model.ChildNode) Principal {
	return Principal{kind: KindChildPeer, nodeID: child.NodeID, child: child}
}

// Agent constructs the principal representing an automated agent acting
// on behalf of nodeID, optionally permitted to edit other users' cotos.
func Agent(nodeID id.NodeID, canEditUserContent bool) Principal {
	return Principal{kind: KindAgent, nodeID: nodeID, canEditUserContent: canEditUserContent}
}

// Anonymous constructs the principal representing an unauthenticated
// read-only visitor (only meaningful when LocalNode.AnonymousReadEnabled).
func Anonymous() Principal {
	return Principal{kind: KindAnonymous}
}

// Kind reports which of the four principal shapes this is.
func (p Principal) Kind() Kind { return p.kind }

// NodeID returns the node id this principal acts as. Anonymous has none;
// callers must check Kind() != KindAnonymous first.
func (p Principal) NodeID() id.NodeID { return p.nodeID }

// IsAnonymous reports whether this is the anonymous read-only principal.
func (p Principal) IsAnonymous() bool { return p.kind == KindAnonymous }

// HasOwnerPermission reports whether the principal may perform
// owner-only operations: register a peer, change the node icon, enable
// anonymous read, fork, mark-read.
func (p Principal) HasOwnerPermission() bool {
	switch p.kind {
	case KindLocalOwner:
		return true
	case KindChildPeer:
		return p.child.AsOwner
	default:
		return false
	}
}

// RequireOwner returns ErrPermissionDenied unless the principal has
// owner permission.
func (p Principal) RequireOwner() error {
	if p.HasOwnerPermission() {
		return nil
	}
	return ErrPermissionDenied
}

// CanPostCoto reports whether the principal may post a coto: any
// principal with a node id.
func (p Principal) CanPostCoto() bool {
	return p.kind != KindAnonymous
}

// CanPostCotonoma reports whether the principal may post a cotonoma:
// owner, a can_post_cotonomas child, or any Agent.
func (p Principal) CanPostCotonoma() bool {
	switch p.kind {
	case KindLocalOwner, KindAgent:
		return true
	case KindChildPeer:
		return p.child.AsOwner || p.child.CanPostCotonomas
	default:
		return false
	}
}

// CanUpdateCoto reports whether the principal may edit coto (author of
// the coto, plus owner if it backs a cotonoma, plus an Agent with
// CanEditUserContent).
func (p Principal) CanUpdateCoto(coto model.Coto, ownsContainingCotonoma bool) bool {
	if p.kind != KindAnonymous && p.nodeID == coto.PostedByID {
		return true
	}
	if ownsContainingCotonoma && p.HasOwnerPermission() {
		return true
	}
	if p.kind == KindAgent && p.canEditUserContent {
		return true
	}
	return false
}

// CanDeleteCoto reports whether the principal may delete coto: as
// CanUpdateCoto, plus the owner may always delete.
func (p Principal) CanDeleteCoto(coto model.Coto, ownsContainingCotonoma bool) bool {
	return p.CanUpdateCoto(coto, ownsContainingCotonoma) || p.HasOwnerPermission()
}

// CanEditIto reports whether the principal may create/edit/reorder/
// delete an ito: owner, a can_edit_itos child, or any Agent.
func (p Principal) CanEditIto() bool {
	switch p.kind {
	case KindLocalOwner, KindAgent:
		return true
	case KindChildPeer:
		return p.child.AsOwner || p.child.CanEditItos
	default:
		return false
	}
}
