package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/storage"
)

// InsertIto inserts a new Ito row.
func InsertIto(i model.Ito) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Insert("itos").Rows(goqu.Record{
			"uuid":           i.UUID.String(),
			"node_id":        i.NodeID.String(),
			"created_by_id":  i.CreatedByID.String(),
			"source_coto_id": i.SourceCotoID.String(),
			"target_coto_id": i.TargetCotoID.String(),
			"description":    nullString(i.Description),
			"ordinal":        i.Ordinal,
			"created_at":     formatTime(i.CreatedAt),
			"updated_at":     formatTime(i.UpdatedAt),
		}).ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build insert ito query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// GetIto reads a single Ito by id.
func GetIto(itoID id.ItoID) storage.ReadOperation[*model.Ito] {
	return func(ctx context.Context, q storage.Querier) (*model.Ito, error) {
		sqlStr, args, err := dialect.From("itos").
			Select("uuid", "node_id", "created_by_id", "source_coto_id", "target_coto_id",
				"description", "ordinal", "created_at", "updated_at").
			Where(goqu.C("uuid").Eq(itoID.String())).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get ito query: %w", err)
		}
		i, err := scanIto(q.QueryRowContext(ctx, sqlStr, args...).Scan)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return i, err
	}
}

// ListItosBySource reads every Ito from a source coto, in ordinal order.
func ListItosBySource(sourceCotoID id.CotoID) storage.ReadOperation[[]model.Ito] {
	return func(ctx context.Context, q storage.Querier) ([]model.Ito, error) {
		sqlStr, args, err := dialect.From("itos").
			Select("uuid", "node_id", "created_by_id", "source_coto_id", "target_coto_id",
				"description", "ordinal", "created_at", "updated_at").
			Where(goqu.C("source_coto_id").Eq(sourceCotoID.String())).
			Order(goqu.C("ordinal").Asc()).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build list itos query: %w", err)
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Ito
		for rows.Next() {
			i, err := scanIto(rows.Scan)
			if err != nil {
				return nil, err
			}
			out = append(out, *i)
		}
		return out, rows.Err()
	}
}

// UpdateIto applies an ItoDiff's changed fields plus updated_at.
func UpdateIto(itoID id.ItoID, diff model.ItoDiff, updatedAt string) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		set := goqu.Record{"updated_at": updatedAt}
		diff.Description.Apply(
			func(v string) { set["description"] = v },
			func() { set["description"] = nil },
		)

		sqlStr, args, err := dialect.Update("itos").Set(set).
			Where(goqu.C("uuid").Eq(itoID.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build update ito query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// ReorderItos rewrites the ordinal of every ito in itoIDs to match its
// position in the slice.
func ReorderItos(itoIDs []id.ItoID) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		for ordinal, itoID := range itoIDs {
			sqlStr, args, err := dialect.Update("itos").
				Set(goqu.Record{"ordinal": ordinal}).
				Where(goqu.C("uuid").Eq(itoID.String())).
				ToSQL()
			if err != nil {
				return struct{}{}, fmt.Errorf("build reorder ito query: %w", err)
			}
			if _, err := x.ExecContext(ctx, sqlStr, args...); err != nil {
				return struct{}{}, fmt.Errorf("reorder ito %s: %w", itoID, err)
			}
		}
		return struct{}{}, nil
	}
}

// DeleteIto removes an Ito row.
func DeleteIto(itoID id.ItoID) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Delete("itos").
			Where(goqu.C("uuid").Eq(itoID.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build delete ito query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// ChangeItoOwnerNode reassigns every Ito owned by `from` to `to`, used
// when forking from a parent so its itos become locally owned.
func ChangeItoOwnerNode(from, to id.NodeID) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Update("itos").
			Set(goqu.Record{"node_id": to.String()}).
			Where(goqu.C("node_id").Eq(from.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build change ito owner query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

func scanIto(scan func(dest ...any) error) (*model.Ito, error) {
	var (
		uuidStr, nodeID, createdByID, sourceCotoID, targetCotoID string
		description                                              sql.NullString
		ordinal                                                   int32
		createdAt, updatedAt                                      string
	)
	if err := scan(&uuidStr, &nodeID, &createdByID, &sourceCotoID, &targetCotoID,
		&description, &ordinal, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &model.Ito{
		UUID:         id.MustParse[id.ItoKind](uuidStr),
		NodeID:       id.MustParse[id.NodeKind](nodeID),
		CreatedByID:  id.MustParse[id.NodeKind](createdByID),
		SourceCotoID: id.MustParse[id.CotoKind](sourceCotoID),
		TargetCotoID: id.MustParse[id.CotoKind](targetCotoID),
		Description:  stringPtr(description),
		Ordinal:      ordinal,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}
