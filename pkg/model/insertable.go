package model

import (
	"time"

	"github.com/cotoami/cotoami-node/pkg/id"
)

// NewCoto is the Insertable shape for Coto: the fields a caller supplies
// when posting a coto, distinct from the full row (which also carries
// UUID, NodeID, timestamps assigned by the storage layer).
type NewCoto struct {
	Content       *string
	Summary       *string
	MediaContent  []byte
	MediaType     *string
	Geolocation   *Geolocation
	DateTimeRange *DateTimeRange
}

// Validate checks a NewCoto in isolation (content/media presence, length
// caps, geolocation bounds).
func (n NewCoto) Validate() error {
	if err := ValidateCotoContent(n.Content, n.Summary, len(n.MediaContent) > 0); err != nil {
		return err
	}
	if n.Geolocation != nil {
		if err := ValidateGeolocation(*n.Geolocation); err != nil {
			return err
		}
	}
	return nil
}

// ToCoto materialises a full Coto row from a NewCoto plus the fields the
// storage layer is responsible for assigning.
func (n NewCoto) ToCoto(nodeID id.NodeID, postedIn *id.CotonomaID, postedBy id.NodeID, now time.Time) Coto {
	return Coto{
		UUID:          id.New[id.CotoKind](),
		NodeID:        nodeID,
		PostedInID:    postedIn,
		PostedByID:    postedBy,
		Content:       n.Content,
		Summary:       n.Summary,
		MediaContent:  n.MediaContent,
		MediaType:     n.MediaType,
		Geolocation:   n.Geolocation,
		DateTimeRange: n.DateTimeRange,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewCotonoma is the Insertable shape for Cotonoma.
type NewCotonoma struct {
	Name string
}

func (n NewCotonoma) Validate() error {
	return ValidateCotonomaName(n.Name)
}

// ToCotonomaAndCoto materialises the pair of rows `post_cotonoma` must
// insert together: a backing Coto with IsCotonoma=true and a Cotonoma
// whose Name mirrors the coto's Summary.
func (n NewCotonoma) ToCotonomaAndCoto(nodeID id.NodeID, postedIn *id.CotonomaID, postedBy id.NodeID, now time.Time) (Cotonoma, Coto) {
	cotoID := id.New[id.CotoKind]()
	cotonomaID := id.New[id.CotonomaKind]()
	name := n.Name
	coto := Coto{
		UUID:       cotoID,
		NodeID:     nodeID,
		PostedInID: postedIn,
		PostedByID: postedBy,
		Summary:    &name,
		IsCotonoma: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	cotonoma := Cotonoma{
		UUID:      cotonomaID,
		NodeID:    nodeID,
		CotoID:    cotoID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return cotonoma, coto
}

// NewIto is the Insertable shape for Ito.
type NewIto struct {
	SourceCotoID id.CotoID
	TargetCotoID id.CotoID
	Description  *string
}

func (n NewIto) Validate() error {
	if n.SourceCotoID.IsNil() || n.TargetCotoID.IsNil() {
		return &ValidationError{Errors: []FieldError{{Field: "coto_id", Code: "required", Message: "source and target coto ids are required"}}}
	}
	return nil
}

func (n NewIto) ToIto(nodeID id.NodeID, createdBy id.NodeID, ordinal int32, now time.Time) Ito {
	return Ito{
		UUID:         id.New[id.ItoKind](),
		NodeID:       nodeID,
		CreatedByID:  createdBy,
		SourceCotoID: n.SourceCotoID,
		TargetCotoID: n.TargetCotoID,
		Description:  n.Description,
		Ordinal:      ordinal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
