// Package id defines phantom-typed entity identifiers.
//
// Every entity in Cotoami is addressed by a 128-bit UUID, but a CotoID and
// a CotonomaID are not interchangeable even though both are, underneath,
// plain UUIDs. Id[K] carries its entity kind at the type level so that
// passing a CotonomaID where a CotoID is expected is a compile error
// rather than a runtime bug.
package id

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// Kind markers. Each is a zero-sized type used only to parameterise Id.
type (
	NodeKind        struct{}
	CotoKind        struct{}
	CotonomaKind    struct{}
	ItoKind         struct{}
	ChangelogKind   struct{}
	ChildNodeKind   struct{}
	ServerNodeKind  struct{}
	ClientNodeKind  struct{}
	ParentNodeKind  struct{}
	RequestKind     struct{}
)

// Id is a UUID tagged with an entity kind K.
type Id[K any] struct {
	v uuid.UUID
}

// New generates a fresh random Id of kind K.
func New[K any]() Id[K] {
	return Id[K]{v: uuid.New()}
}

// Nil is the zero value Id (all zero bytes).
func Nil[K any]() Id[K] {
	return Id[K]{}
}

// Of wraps an existing uuid.UUID as an Id of kind K.
func Of[K any](u uuid.UUID) Id[K] {
	return Id[K]{v: u}
}

// Parse parses the canonical UUID string form into an Id of kind K.
func Parse[K any](s string) (Id[K], error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Id[K]{}, fmt.Errorf("parse id: %w", err)
	}
	return Id[K]{v: u}, nil
}

// MustParse is Parse but panics on error; intended for constants in tests.
func MustParse[K any](s string) Id[K] {
	id, err := Parse[K](s)
	if err != nil {
		panic(err)
	}
	return id
}

// UUID returns the underlying uuid.UUID value.
func (id Id[K]) UUID() uuid.UUID { return id.v }

// IsNil reports whether this is the zero-value Id.
func (id Id[K]) IsNil() bool { return id.v == uuid.Nil }

// String renders the canonical UUID string form.
func (id Id[K]) String() string { return id.v.String() }

// MarshalText implements encoding.TextMarshaler so Id marshals as its
// plain UUID string in both JSON and msgpack (which falls back to text
// marshaling for unknown struct types with one field).
func (id Id[K]) MarshalText() ([]byte, error) {
	return []byte(id.v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Id[K]) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("unmarshal id: %w", err)
	}
	id.v = u
	return nil
}

// Value implements driver.Valuer so an Id can be bound directly into a
// goqu/database/sql query as its canonical string form.
func (id Id[K]) Value() (driver.Value, error) {
	if id.IsNil() {
		return nil, nil
	}
	return id.v.String(), nil
}

// Scan implements sql.Scanner so rows.Scan(&id) works for TEXT columns.
func (id *Id[K]) Scan(src any) error {
	if src == nil {
		*id = Id[K]{}
		return nil
	}
	switch v := src.(type) {
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("scan id: %w", err)
		}
		id.v = u
		return nil
	case []byte:
		u, err := uuid.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("scan id: %w", err)
		}
		id.v = u
		return nil
	default:
		return fmt.Errorf("scan id: unsupported type %T", src)
	}
}

// Node/Coto/... are the concrete id aliases used throughout the codebase.
type (
	NodeID       = Id[NodeKind]
	CotoID       = Id[CotoKind]
	CotonomaID   = Id[CotonomaKind]
	ItoID        = Id[ItoKind]
	ChangelogID  = Id[ChangelogKind]
	ChildNodeID  = Id[ChildNodeKind]
	ServerNodeID = Id[ServerNodeKind]
	ClientNodeID = Id[ClientNodeKind]
	ParentNodeID = Id[ParentNodeKind]
	RequestID    = Id[RequestKind]
)
