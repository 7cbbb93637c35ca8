package changelog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotoami/cotoami-node/pkg/changelog"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

func openTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	e, err := storage.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func seedNode(t *testing.T, e *storage.Engine, nodeID id.NodeID, now time.Time) {
	t.Helper()
	_, err := storage.Write(context.Background(), e, ops.InsertNode(model.Node{
		UUID: nodeID, Name: "node-" + nodeID.String(), Version: 1, CreatedAt: now,
	}))
	require.NoError(t, err)
}

func TestPostCotoRecordsMatchingChangelogEntry(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	localNodeID := id.New[id.NodeKind]()
	seedNode(t, e, localNodeID, now)

	summary := "hello"
	coto := model.Coto{
		UUID:       id.New[id.CotoKind](),
		NodeID:     localNodeID,
		PostedByID: localNodeID,
		Summary:    &summary,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, entry, err := changelog.PostCoto(ctx, e, localNodeID, coto)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeCreateCoto, entry.Change.Kind)
	assert.Equal(t, int64(1), entry.OriginSerialNumber)
	assert.Equal(t, localNodeID, entry.OriginNodeID)

	stored, err := storage.Read(ctx, e, ops.GetCoto(coto.UUID))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, summary, *stored.Summary)
}

func TestPostCotoSerialNumbersIncrementPerNode(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	localNodeID := id.New[id.NodeKind]()
	seedNode(t, e, localNodeID, now)

	for i := int64(1); i <= 3; i++ {
		coto := model.Coto{
			UUID: id.New[id.CotoKind](), NodeID: localNodeID, PostedByID: localNodeID,
			CreatedAt: now, UpdatedAt: now,
		}
		_, entry, err := changelog.PostCoto(ctx, e, localNodeID, coto)
		require.NoError(t, err)
		assert.Equal(t, i, entry.OriginSerialNumber)
		assert.Equal(t, i, entry.SerialNumber)
	}
}

func TestImportAppliesChangeAndAdvancesParentCursor(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	parentNodeID := id.New[id.NodeKind]()
	postedByID := id.New[id.NodeKind]()
	seedNode(t, e, parentNodeID, now)
	seedNode(t, e, postedByID, now)

	coto := model.Coto{
		UUID: id.New[id.CotoKind](), NodeID: parentNodeID, PostedByID: postedByID,
		CreatedAt: now, UpdatedAt: now,
	}
	incoming := model.ChangelogEntry{
		OriginNodeID:       parentNodeID,
		OriginSerialNumber: 1,
		Change:             model.Change{Kind: model.ChangeCreateCoto, CreateCoto: &coto},
		CreatedAt:          now,
	}

	imported, err := changelog.Import(ctx, e, parentNodeID, incoming)
	require.NoError(t, err)
	assert.Equal(t, int64(1), imported.OriginSerialNumber)
	assert.NotNil(t, imported.ParentNodeID)
	assert.Equal(t, parentNodeID, *imported.ParentNodeID)

	stored, err := storage.Read(ctx, e, ops.GetCoto(coto.UUID))
	require.NoError(t, err)
	require.NotNil(t, stored)

	parent, err := storage.Read(ctx, e, ops.GetParentNode(parentNodeID))
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, int64(1), parent.ChangesReceived)
}

func TestImportRejectsOutOfOrderSerialNumber(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	parentNodeID := id.New[id.NodeKind]()

	skippedFirst := model.ChangelogEntry{
		OriginNodeID:       parentNodeID,
		OriginSerialNumber: 2,
		Change: model.Change{
			Kind:       model.ChangeDeleteCoto,
			DeleteCoto: &model.DeleteCotoChange{CotoID: id.New[id.CotoKind](), DeletedAt: now},
		},
		CreatedAt: now,
	}

	_, err := changelog.Import(ctx, e, parentNodeID, skippedFirst)
	require.Error(t, err)
	var unexpected *changelog.UnexpectedChangeNumberError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, int64(1), unexpected.Expected)
	assert.Equal(t, int64(2), unexpected.Actual)
}

func TestImportOfUnknownChangeKindFails(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	parentNodeID := id.New[id.NodeKind]()

	entry := model.ChangelogEntry{
		OriginNodeID:       parentNodeID,
		OriginSerialNumber: 1,
		Change:             model.Change{Kind: "SomeFutureChange"},
		CreatedAt:          now,
	}

	_, err := changelog.Import(ctx, e, parentNodeID, entry)
	require.Error(t, err)
	var unknown *changelog.UnknownChangeKindError
	require.ErrorAs(t, err, &unknown)
}

func TestRenameCotonomaRecordsEntry(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	localNodeID := id.New[id.NodeKind]()
	seedNode(t, e, localNodeID, now)

	summary := "Earth"
	coto := model.Coto{
		UUID: id.New[id.CotoKind](), NodeID: localNodeID, PostedByID: localNodeID,
		Summary: &summary, IsCotonoma: true, CreatedAt: now, UpdatedAt: now,
	}
	cotonoma := model.Cotonoma{
		UUID: id.New[id.CotonomaKind](), NodeID: localNodeID, CotoID: coto.UUID,
		Name: summary, CreatedAt: now, UpdatedAt: now,
	}

	_, _, _, err := changelog.PostCotonoma(ctx, e, localNodeID, coto, cotonoma)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	entry, err := changelog.RenameCotonoma(ctx, e, localNodeID, cotonoma.UUID, "Earth (renamed)", later)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeRenameCotonoma, entry.Change.Kind)

	stored, err := storage.Read(ctx, e, ops.GetCotonoma(cotonoma.UUID))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Earth (renamed)", stored.Name)
}

func TestForkMarksParentAndRecordsOwnershipChange(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	localNodeID := id.New[id.NodeKind]()
	parentNodeID := id.New[id.NodeKind]()
	seedNode(t, e, localNodeID, now)
	seedNode(t, e, parentNodeID, now)

	_, err := storage.Write(ctx, e, ops.UpsertParentNode(model.ParentNode{
		NodeID: parentNodeID, ChangesReceived: 42,
	}))
	require.NoError(t, err)

	entry, err := changelog.Fork(ctx, e, localNodeID, parentNodeID, 42, now)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeOwnerNodeKind, entry.Change.Kind)
	require.NotNil(t, entry.Change.ChangeOwner)
	assert.Equal(t, int64(42), entry.Change.ChangeOwner.LastChangeNumber)

	parent, err := storage.Read(ctx, e, ops.GetParentNode(parentNodeID))
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.True(t, parent.Forked)
	assert.Equal(t, int64(42), parent.ChangesReceived)
}
