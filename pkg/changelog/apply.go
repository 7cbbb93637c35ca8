package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

// applyChange dispatches a Change to the storage.ops function that
// reproduces it locally. It never originates a new changelog entry;
// callers (Import, Fork) are responsible for recording one alongside it
// in the same transaction.
func applyChange(change model.Change, createdAt time.Time) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		switch change.Kind {
		case model.ChangeCreateCoto:
			if change.CreateCoto == nil {
				return struct{}{}, fmt.Errorf("CreateCoto change missing payload")
			}
			return ops.InsertCoto(*change.CreateCoto)(ctx, x)

		case model.ChangeEditCoto:
			if change.EditCoto == nil {
				return struct{}{}, fmt.Errorf("EditCoto change missing payload")
			}
			return ops.UpdateCoto(change.EditCoto.CotoID, change.EditCoto.Diff, formatTime(change.EditCoto.UpdatedAt))(ctx, x)

		case model.ChangeDeleteCoto:
			if change.DeleteCoto == nil {
				return struct{}{}, fmt.Errorf("DeleteCoto change missing payload")
			}
			return ops.DeleteCoto(change.DeleteCoto.CotoID)(ctx, x)

		case model.ChangeCreateCotonoma:
			if change.CreateCotonoma == nil {
				return struct{}{}, fmt.Errorf("CreateCotonoma change missing payload")
			}
			if _, err := ops.InsertCoto(change.CreateCotonoma.Coto)(ctx, x); err != nil {
				return struct{}{}, err
			}
			return ops.InsertCotonoma(change.CreateCotonoma.Cotonoma)(ctx, x)

		case model.ChangeRenameCotonoma:
			if change.RenameCotonoma == nil {
				return struct{}{}, fmt.Errorf("RenameCotonoma change missing payload")
			}
			return ops.RenameCotonoma(
				change.RenameCotonoma.CotonomaID,
				change.RenameCotonoma.Name,
				formatTime(change.RenameCotonoma.UpdatedAt),
			)(ctx, x)

		case model.ChangePromote:
			if change.Promote == nil {
				return struct{}{}, fmt.Errorf("Promote change missing payload")
			}
			return applyPromote(*change.Promote)(ctx, x)

		case model.ChangeCreateIto:
			if change.CreateIto == nil {
				return struct{}{}, fmt.Errorf("CreateIto change missing payload")
			}
			return ops.InsertIto(*change.CreateIto)(ctx, x)

		case model.ChangeEditIto:
			if change.EditIto == nil {
				return struct{}{}, fmt.Errorf("EditIto change missing payload")
			}
			return ops.UpdateIto(change.EditIto.ItoID, change.EditIto.Diff, formatTime(change.EditIto.UpdatedAt))(ctx, x)

		case model.ChangeItoOrder:
			if change.ItoOrder == nil {
				return struct{}{}, fmt.Errorf("ChangeItoOrder change missing payload")
			}
			return ops.ReorderItos(change.ItoOrder.ItoIDs)(ctx, x)

		case model.ChangeDeleteIto:
			if change.DeleteIto == nil {
				return struct{}{}, fmt.Errorf("DeleteIto change missing payload")
			}
			return ops.DeleteIto(change.DeleteIto.ItoID)(ctx, x)

		case model.ChangeUpsertNode:
			if change.UpsertNode == nil {
				return struct{}{}, fmt.Errorf("UpsertNode change missing payload")
			}
			return ops.UpsertNode(*change.UpsertNode)(ctx, x)

		case model.ChangeOwnerNodeKind:
			if change.ChangeOwner == nil {
				return struct{}{}, fmt.Errorf("ChangeOwnerNode change missing payload")
			}
			return applyChangeOwner(*change.ChangeOwner)(ctx, x)

		default:
			return struct{}{}, &UnknownChangeKindError{Kind: string(change.Kind)}
		}
	}
}

// applyPromote marks the backing coto as a cotonoma and inserts the new
// cotonomas row, reusing the coto's own Summary as the cotonoma's name —
// the same value validate.PromoteSummary required before the change was
// recorded.
func applyPromote(p model.PromoteChange) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		coto, err := ops.GetCoto(p.CotoID)(ctx, x)
		if err != nil {
			return struct{}{}, err
		}
		if coto == nil {
			return struct{}{}, fmt.Errorf("promote: coto %s not found", p.CotoID)
		}
		if coto.Summary == nil {
			return struct{}{}, fmt.Errorf("promote: coto %s has no summary to use as cotonoma name", p.CotoID)
		}

		if _, err := ops.MarkCotoAsCotonoma(p.CotoID, formatTime(p.UpdatedAt))(ctx, x); err != nil {
			return struct{}{}, err
		}

		cotonoma := model.Cotonoma{
			UUID:      p.CotonomaID,
			NodeID:    coto.NodeID,
			CotoID:    p.CotoID,
			Name:      *coto.Summary,
			CreatedAt: p.UpdatedAt,
			UpdatedAt: p.UpdatedAt,
		}
		return ops.InsertCotonoma(cotonoma)(ctx, x)
	}
}

// applyChangeOwner transfers the "as owner" flag on a child_node row
// from the node that used to be recognised as owner to the one that
// forked this database.
// applyChangeOwner reassigns every coto, cotonoma, and ito owned by
// FromNodeID to ToNodeID, then flips the AsOwner flags on the child
// node rows tracking that delegation.
func applyChangeOwner(c model.ChangeOwnerNodeChange) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		if _, err := ops.ChangeCotoOwnerNode(c.FromNodeID, c.ToNodeID)(ctx, x); err != nil {
			return struct{}{}, err
		}
		if _, err := ops.ChangeCotonomaOwnerNode(c.FromNodeID, c.ToNodeID)(ctx, x); err != nil {
			return struct{}{}, err
		}
		if _, err := ops.ChangeItoOwnerNode(c.FromNodeID, c.ToNodeID)(ctx, x); err != nil {
			return struct{}{}, err
		}

		from, err := ops.GetChildNode(c.FromNodeID)(ctx, x)
		if err != nil {
			return struct{}{}, err
		}
		if from != nil && from.AsOwner {
			from.AsOwner = false
			if _, err := ops.UpsertChildNode(*from)(ctx, x); err != nil {
				return struct{}{}, err
			}
		}

		to, err := ops.GetChildNode(c.ToNodeID)(ctx, x)
		if err != nil {
			return struct{}{}, err
		}
		if to == nil {
			to = &model.ChildNode{NodeID: c.ToNodeID}
		}
		to.AsOwner = true
		return ops.UpsertChildNode(*to)(ctx, x)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
