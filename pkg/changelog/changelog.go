// Package changelog ties entity mutations to the append-only changelog
// that drives replication: every write to a coto, cotonoma or ito is
// composed, inside one transaction, with a changelog entry describing
// it, and every entry arriving from a parent is applied to local
// storage in strict arrival order.
package changelog

import (
	"context"
	"time"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

// RecordOp assigns the next origin serial number for localNodeID and
// appends change as a locally-originated changelog entry. It composes
// with an entity mutation via storage.AndThenWrite so both land in the
// same write transaction.
func RecordOp(localNodeID id.NodeID, change model.Change, now time.Time) storage.WriteOperation[model.ChangelogEntry] {
	return storage.AndThenWrite(
		storage.ReadOnly(ops.MaxOriginSerialNumber(localNodeID)),
		func(max int64) storage.WriteOperation[model.ChangelogEntry] {
			return ops.AppendEntry(localNodeID, max+1, nil, change, now)
		},
	)
}

// Record runs RecordOp on its own, for callers that only need to log a
// change without any accompanying entity mutation (used by tests and by
// Fork below).
func Record(ctx context.Context, e *storage.Engine, localNodeID id.NodeID, change model.Change, now time.Time) (model.ChangelogEntry, error) {
	return storage.Write(ctx, e, RecordOp(localNodeID, change, now))
}

// Import applies a changelog entry received from a parent node to local
// storage and records it as a local (imported) changelog row. The
// entry's OriginSerialNumber must be exactly one more than the last one
// imported from that same parent; any other value means the parent's
// stream has a gap and the caller must resync before retrying.
func Import(ctx context.Context, e *storage.Engine, parentNodeID id.NodeID, entry model.ChangelogEntry) (model.ChangelogEntry, error) {
	op := storage.AndThenWrite(
		storage.ReadOnly(ops.GetParentNode(parentNodeID)),
		func(parent *model.ParentNode) storage.WriteOperation[model.ChangelogEntry] {
			return func(ctx context.Context, x storage.Execer) (model.ChangelogEntry, error) {
				var expected int64 = 1
				if parent != nil {
					expected = parent.ChangesReceived + 1
				}
				if entry.OriginSerialNumber != expected {
					return model.ChangelogEntry{}, &UnexpectedChangeNumberError{
						Expected: expected,
						Actual:   entry.OriginSerialNumber,
					}
				}

				if _, err := applyChange(entry.Change, entry.CreatedAt)(ctx, x); err != nil {
					return model.ChangelogEntry{}, err
				}

				imported, err := ops.AppendEntry(
					entry.OriginNodeID, entry.OriginSerialNumber, &parentNodeID,
					entry.Change, entry.CreatedAt,
				)(ctx, x)
				if err != nil {
					return model.ChangelogEntry{}, err
				}

				next := model.ParentNode{
					NodeID:          parentNodeID,
					ChangesReceived: entry.OriginSerialNumber,
					LastReceivedAt:  timePtr(entry.CreatedAt),
				}
				if parent != nil {
					next.LastReadAt = parent.LastReadAt
					next.Forked = parent.Forked
				}
				if _, err := ops.UpsertParentNode(next)(ctx, x); err != nil {
					return model.ChangelogEntry{}, err
				}

				return imported, nil
			}
		},
	)
	return storage.Write(ctx, e, op)
}

// Fork transfers ownership of replication from parentNodeID to
// localNodeID: it rewrites every coto, cotonoma, and ito the parent
// owns to the local node, marks the parent row as forked, and records
// a ChangeOwnerNode entry so any further descendant importing this
// history learns the ownership change too.
func Fork(ctx context.Context, e *storage.Engine, localNodeID, parentNodeID id.NodeID, lastChangeNumber int64, now time.Time) (model.ChangelogEntry, error) {
	change := model.Change{
		Kind: model.ChangeOwnerNodeKind,
		ChangeOwner: &model.ChangeOwnerNodeChange{
			FromNodeID:       parentNodeID,
			ToNodeID:         localNodeID,
			LastChangeNumber: lastChangeNumber,
		},
	}
	op := storage.AndThenWrite(
		storage.ReadOnly(ops.GetParentNode(parentNodeID)),
		func(parent *model.ParentNode) storage.WriteOperation[model.ChangelogEntry] {
			return storage.AndThenWrite(
				ops.ChangeCotoOwnerNode(parentNodeID, localNodeID),
				func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
					return storage.AndThenWrite(
						ops.ChangeCotonomaOwnerNode(parentNodeID, localNodeID),
						func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
							return storage.AndThenWrite(
								ops.ChangeItoOwnerNode(parentNodeID, localNodeID),
								func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
									return storage.AndThenWrite(
										func(ctx context.Context, x storage.Execer) (struct{}, error) {
											updated := model.ParentNode{NodeID: parentNodeID, Forked: true}
											if parent != nil {
												updated.ChangesReceived = parent.ChangesReceived
												updated.LastReceivedAt = parent.LastReceivedAt
												updated.LastReadAt = parent.LastReadAt
											}
											return ops.UpsertParentNode(updated)(ctx, x)
										},
										func(struct{}) storage.WriteOperation[model.ChangelogEntry] {
											return RecordOp(localNodeID, change, now)
										},
									)
								},
							)
						},
					)
				},
			)
		},
	)
	return storage.Write(ctx, e, op)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
