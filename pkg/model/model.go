// Package model defines Cotoami's entities: their value shapes, the
// Insertable shapes used at creation time, and the validation rules that
// must hold before any row reaches storage.
//
// Field-level diffs and the Change changelog payload live in diff.go and
// change.go respectively; permission predicates live in pkg/operator.
package model

import (
	"time"

	"github.com/cotoami/cotoami-node/pkg/id"
)

// Node is a single Cotoami database and its published identity.
type Node struct {
	UUID            id.NodeID
	Name            string
	Icon            []byte
	RootCotonomaID  *id.CotonomaID
	Version         int32
	CreatedAt       time.Time
}

// LocalNode is the singleton record describing this database's own
// identity and owner credentials.
type LocalNode struct {
	NodeID              id.NodeID
	OwnerPasswordHash   string
	OwnerSessionToken   *string
	OwnerSessionExpires *time.Time
	ImageMaxSize        int64
	AnonymousReadEnabled bool
}

// ServerNode records that the local node acts as a client of another node
// reachable at URLPrefix.
type ServerNode struct {
	NodeID              id.NodeID
	URLPrefix           string
	EncryptedPassword   []byte
	Disabled            bool
}

// ClientNode records a peer the local node admits as a client.
type ClientNode struct {
	NodeID             id.NodeID
	PasswordHash       string
	SessionToken       *string
	SessionExpires     *time.Time
	Disabled           bool
	LastSessionCreated *time.Time
}

// ParentNode tracks replication progress from a node the local database
// subscribes to.
type ParentNode struct {
	NodeID          id.NodeID
	ChangesReceived int64
	LastReceivedAt  *time.Time
	LastReadAt      *time.Time
	Forked          bool
}

// ChildNode grants another node write access into the local graph.
type ChildNode struct {
	NodeID             id.NodeID
	AsOwner            bool
	CanPostCotonomas   bool
	CanEditItos        bool
}

// Geolocation is an optional coto attribute (longitude/latitude).
type Geolocation struct {
	Longitude float64
	Latitude  float64
}

// DateTimeRange is an optional coto attribute spanning a start instant and
// an optional end instant, with a flag for date-only (no time-of-day)
// precision.
type DateTimeRange struct {
	Start    time.Time
	End      *time.Time
	DateOnly bool
}

// Coto is an atomic note.
type Coto struct {
	UUID           id.CotoID
	NodeID         id.NodeID
	PostedInID     *id.CotonomaID
	PostedByID     id.NodeID
	Content        *string
	Summary        *string
	MediaContent   []byte
	MediaType      *string
	IsCotonoma     bool
	Geolocation    *Geolocation
	DateTimeRange  *DateTimeRange
	RepostOfID     *id.CotoID
	RepostedInIDs  []id.CotonomaID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsRepost reports whether this coto is a repost of another.
func (c *Coto) IsRepost() bool { return c.RepostOfID != nil }

// Cotonoma is a coto that additionally acts as a named container: its
// Name must match the backing Coto's Summary.
type Cotonoma struct {
	UUID      id.CotonomaID
	NodeID    id.NodeID
	CotoID    id.CotoID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MaxCotonomaNameLength is the hard cap on Cotonoma.Name.
const MaxCotonomaNameLength = 50

// Ito is a typed directed link from one coto to another, ordered among
// siblings sharing the same SourceCotoID.
type Ito struct {
	UUID          id.ItoID
	NodeID        id.NodeID
	CreatedByID   id.NodeID
	SourceCotoID  id.CotoID
	TargetCotoID  id.CotoID
	Description   *string
	Ordinal       int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
