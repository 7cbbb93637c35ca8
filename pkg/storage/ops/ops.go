// Package ops implements the per-entity storage operations: CRUD and
// graph traversal for nodes, cotos, cotonomas and itos, plus changelog
// append/scan. Every exported function returns a storage.ReadOperation
// or storage.WriteOperation built with goqu, left unrun until a caller
// passes it to storage.Read or storage.Write.
package ops

import (
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
)

var dialect = goqu.Dialect("sqlite3")

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
