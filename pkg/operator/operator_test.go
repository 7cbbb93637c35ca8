package operator_test

import (
	"testing"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/operator"
	"github.com/stretchr/testify/assert"
)

func TestChildWithoutRolesCannotEditItos(t *testing.T) {
	nodeID := id.New[id.NodeKind]()
	child := operator.ChildPeer(model.ChildNode{NodeID: nodeID})
	assert.False(t, child.CanEditIto())

	child = operator.ChildPeer(model.ChildNode{NodeID: nodeID, CanEditItos: true})
	assert.True(t, child.CanEditIto())
}

func TestAuthorCanUpdateOwnCoto(t *testing.T) {
	author := id.New[id.NodeKind]()
	coto := model.Coto{PostedByID: author}

	assert.True(t, operator.LocalOwner(author).CanUpdateCoto(coto, false))
}

func TestNonAuthorNonOwnerCannotUpdateCoto(t *testing.T) {
	author := id.New[id.NodeKind]()
	other := id.New[id.NodeKind]()
	coto := model.Coto{PostedByID: author}

	child := operator.ChildPeer(model.ChildNode{NodeID: other})
	assert.False(t, child.CanUpdateCoto(coto, false))
	assert.False(t, child.CanDeleteCoto(coto, false))
}

func TestOwnerMayAlwaysDeleteContainingCotonomaCoto(t *testing.T) {
	author := id.New[id.NodeKind]()
	coto := model.Coto{PostedByID: author}
	owner := operator.LocalOwner(id.New[id.NodeKind]())
	assert.True(t, owner.CanDeleteCoto(coto, true))
}

func TestAnonymousCannotPost(t *testing.T) {
	assert.False(t, operator.Anonymous().CanPostCoto())
	assert.False(t, operator.Anonymous().CanPostCotonoma())
}
