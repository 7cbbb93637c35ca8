package model

import (
	"time"

	"github.com/cotoami/cotoami-node/pkg/id"
)

// ChangeKind names a Change variant explicitly (never an ordinal) so the
// changelog's wire encoding stays forward-compatible across versions.
type ChangeKind string

const (
	ChangeCreateCoto      ChangeKind = "CreateCoto"
	ChangeEditCoto        ChangeKind = "EditCoto"
	ChangeDeleteCoto      ChangeKind = "DeleteCoto"
	ChangeCreateCotonoma  ChangeKind = "CreateCotonoma"
	ChangeRenameCotonoma  ChangeKind = "RenameCotonoma"
	ChangePromote         ChangeKind = "Promote"
	ChangeCreateIto       ChangeKind = "CreateIto"
	ChangeEditIto         ChangeKind = "EditIto"
	ChangeItoOrder        ChangeKind = "ChangeItoOrder"
	ChangeDeleteIto       ChangeKind = "DeleteIto"
	ChangeUpsertNode      ChangeKind = "UpsertNode"
	ChangeOwnerNodeKind   ChangeKind = "ChangeOwnerNode"
)

// Change is the tagged-union payload recorded for every mutation.
// Exactly one of the typed fields is populated; Kind says which.
//
// Unknown Kind values encountered on import are a hard error and freeze
// replication for that parent until the importing node's software is
// upgraded to recognise the new variant — see pkg/changelog.Import.
type Change struct {
	Kind ChangeKind

	CreateCoto     *Coto
	EditCoto       *EditCotoChange
	DeleteCoto     *DeleteCotoChange
	CreateCotonoma *CreateCotonomaChange
	RenameCotonoma *RenameCotonomaChange
	Promote        *PromoteChange
	CreateIto      *Ito
	EditIto        *EditItoChange
	ItoOrder       *ItoOrderChange
	DeleteIto      *DeleteItoChange
	UpsertNode     *Node
	ChangeOwner    *ChangeOwnerNodeChange
}

type EditCotoChange struct {
	CotoID    id.CotoID
	Diff      CotoDiff
	UpdatedAt time.Time
}

type DeleteCotoChange struct {
	CotoID    id.CotoID
	DeletedAt time.Time
}

type CreateCotonomaChange struct {
	Cotonoma Cotonoma
	Coto     Coto
}

type RenameCotonomaChange struct {
	CotonomaID id.CotonomaID
	Name       string
	UpdatedAt  time.Time
}

type PromoteChange struct {
	CotoID     id.CotoID
	CotonomaID id.CotonomaID
	UpdatedAt  time.Time
}

type EditItoChange struct {
	ItoID     id.ItoID
	Diff      ItoDiff
	UpdatedAt time.Time
}

type ItoOrderChange struct {
	SourceCotoID id.CotoID
	ItoIDs       []id.ItoID
}

type DeleteItoChange struct {
	ItoID id.ItoID
}

type ChangeOwnerNodeChange struct {
	FromNodeID        id.NodeID
	ToNodeID          id.NodeID
	LastChangeNumber  int64
}

// ChangelogEntry is an append-only record of one mutation. SerialNumber
// is local and dense;
// OriginSerialNumber is dense per OriginNodeID. For locally-originated
// changes OriginNodeID is the local node and the two numbers coincide.
type ChangelogEntry struct {
	SerialNumber       int64
	OriginNodeID       id.NodeID
	OriginSerialNumber int64
	ParentNodeID       *id.NodeID
	Change             Change
	CreatedAt          time.Time
}
