package changelog

import (
	"context"
	"time"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

// The functions below are the write path proper: each performs one
// entity mutation and records the matching changelog entry inside a
// single transaction, so a mutation is never observable without the
// replication record that will carry it to subscribers.

// PostCoto inserts a new coto and logs a CreateCoto entry.
func PostCoto(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, c model.Coto) (model.Coto, model.ChangelogEntry, error) {
	op := storage.AndThenWrite(ops.InsertCoto(c), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return RecordOp(localNodeID, model.Change{Kind: model.ChangeCreateCoto, CreateCoto: &c}, c.CreatedAt)
	})
	entry, err := storage.Write(ctx, e, op)
	return c, entry, err
}

// EditCoto applies diff to an existing coto and logs an EditCoto entry.
func EditCoto(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, cotoID id.CotoID, diff model.CotoDiff, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{
		Kind: model.ChangeEditCoto,
		EditCoto: &model.EditCotoChange{
			CotoID:    cotoID,
			Diff:      diff,
			UpdatedAt: now,
		},
	}
	op := storage.AndThenWrite(
		ops.UpdateCoto(cotoID, diff, formatTime(now)),
		func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
			return RecordOp(localNodeID, change, now)
		},
	)
	return storage.Write(ctx, e, op)
}

// DeleteCoto removes a coto (and any itos pointing at it must already
// have been removed by the caller) and logs a DeleteCoto entry.
func DeleteCoto(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, cotoID id.CotoID, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{
		Kind:       model.ChangeDeleteCoto,
		DeleteCoto: &model.DeleteCotoChange{CotoID: cotoID, DeletedAt: now},
	}
	op := storage.AndThenWrite(ops.DeleteCoto(cotoID), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return RecordOp(localNodeID, change, now)
	})
	return storage.Write(ctx, e, op)
}

// PostCotonoma inserts a cotonoma's backing coto and the cotonoma row
// itself, and logs a single CreateCotonoma entry covering both.
func PostCotonoma(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, coto model.Coto, cotonoma model.Cotonoma) (model.Coto, model.Cotonoma, model.ChangelogEntry, error) {
	change := model.Change{
		Kind:           model.ChangeCreateCotonoma,
		CreateCotonoma: &model.CreateCotonomaChange{Cotonoma: cotonoma, Coto: coto},
	}
	op := storage.AndThenWrite(ops.InsertCoto(coto), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return storage.AndThenWrite(ops.InsertCotonoma(cotonoma), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
			return RecordOp(localNodeID, change, coto.CreatedAt)
		})
	})
	entry, err := storage.Write(ctx, e, op)
	return coto, cotonoma, entry, err
}

// RenameCotonoma updates a cotonoma's name and logs a RenameCotonoma
// entry.
func RenameCotonoma(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, cotonomaID id.CotonomaID, name string, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{
		Kind: model.ChangeRenameCotonoma,
		RenameCotonoma: &model.RenameCotonomaChange{
			CotonomaID: cotonomaID,
			Name:       name,
			UpdatedAt:  now,
		},
	}
	op := storage.AndThenWrite(
		ops.RenameCotonoma(cotonomaID, name, formatTime(now)),
		func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
			return RecordOp(localNodeID, change, now)
		},
	)
	return storage.Write(ctx, e, op)
}

// Promote turns an existing coto into a cotonoma using its own Summary
// as the new cotonoma's name, and logs a Promote entry.
func Promote(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, cotoID id.CotoID, cotonomaID id.CotonomaID, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{
		Kind: model.ChangePromote,
		Promote: &model.PromoteChange{
			CotoID:     cotoID,
			CotonomaID: cotonomaID,
			UpdatedAt:  now,
		},
	}
	op := storage.AndThenWrite(applyPromote(*change.Promote), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return RecordOp(localNodeID, change, now)
	})
	return storage.Write(ctx, e, op)
}

// PostIto creates a new ito and logs a CreateIto entry.
func PostIto(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, i model.Ito) (model.Ito, model.ChangelogEntry, error) {
	op := storage.AndThenWrite(ops.InsertIto(i), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return RecordOp(localNodeID, model.Change{Kind: model.ChangeCreateIto, CreateIto: &i}, i.CreatedAt)
	})
	entry, err := storage.Write(ctx, e, op)
	return i, entry, err
}

// EditIto applies diff to an existing ito and logs an EditIto entry.
func EditIto(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, itoID id.ItoID, diff model.ItoDiff, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{
		Kind: model.ChangeEditIto,
		EditIto: &model.EditItoChange{
			ItoID:     itoID,
			Diff:      diff,
			UpdatedAt: now,
		},
	}
	op := storage.AndThenWrite(
		ops.UpdateIto(itoID, diff, formatTime(now)),
		func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
			return RecordOp(localNodeID, change, now)
		},
	)
	return storage.Write(ctx, e, op)
}

// ReorderItos rewrites the ordinal of every ito in itoIDs and logs a
// ChangeItoOrder entry.
func ReorderItos(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, sourceCotoID id.CotoID, itoIDs []id.ItoID, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{
		Kind: model.ChangeItoOrder,
		ItoOrder: &model.ItoOrderChange{
			SourceCotoID: sourceCotoID,
			ItoIDs:       itoIDs,
		},
	}
	op := storage.AndThenWrite(ops.ReorderItos(itoIDs), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return RecordOp(localNodeID, change, now)
	})
	return storage.Write(ctx, e, op)
}

// DeleteIto removes an ito and logs a DeleteIto entry.
func DeleteIto(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, itoID id.ItoID, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{Kind: model.ChangeDeleteIto, DeleteIto: &model.DeleteItoChange{ItoID: itoID}}
	op := storage.AndThenWrite(ops.DeleteIto(itoID), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return RecordOp(localNodeID, change, now)
	})
	return storage.Write(ctx, e, op)
}

// SetNodeProfile overwrites a node's name/icon and bumps its version,
// logging an UpsertNode entry so the change replicates the same way a
// first-time UpsertNode import does.
func SetNodeProfile(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, n model.Node, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{Kind: model.ChangeUpsertNode, UpsertNode: &n}
	op := storage.AndThenWrite(ops.UpsertNode(n), func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
		return RecordOp(localNodeID, change, now)
	})
	return storage.Write(ctx, e, op)
}
