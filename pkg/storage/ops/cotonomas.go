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

// InsertCotonoma inserts a new Cotonoma row.
func InsertCotonoma(c model.Cotonoma) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Insert("cotonomas").Rows(goqu.Record{
			"uuid":       c.UUID.String(),
			"node_id":    c.NodeID.String(),
			"coto_id":    c.CotoID.String(),
			"name":       c.Name,
			"created_at": formatTime(c.CreatedAt),
			"updated_at": formatTime(c.UpdatedAt),
		}).ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build insert cotonoma query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// GetCotonoma reads a single Cotonoma by id.
func GetCotonoma(cotonomaID id.CotonomaID) storage.ReadOperation[*model.Cotonoma] {
	return func(ctx context.Context, q storage.Querier) (*model.Cotonoma, error) {
		sqlStr, args, err := dialect.From("cotonomas").
			Select("uuid", "node_id", "coto_id", "name", "created_at", "updated_at").
			Where(goqu.C("uuid").Eq(cotonomaID.String())).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get cotonoma query: %w", err)
		}
		row := q.QueryRowContext(ctx, sqlStr, args...)
		c, err := scanCotonoma(row.Scan)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return c, err
	}
}

// GetCotonomaByName reads a Cotonoma by its (node_id, name) unique key.
func GetCotonomaByName(nodeID id.NodeID, name string) storage.ReadOperation[*model.Cotonoma] {
	return func(ctx context.Context, q storage.Querier) (*model.Cotonoma, error) {
		sqlStr, args, err := dialect.From("cotonomas").
			Select("uuid", "node_id", "coto_id", "name", "created_at", "updated_at").
			Where(goqu.C("node_id").Eq(nodeID.String()), goqu.C("name").Eq(name)).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get cotonoma by name query: %w", err)
		}
		row := q.QueryRowContext(ctx, sqlStr, args...)
		c, err := scanCotonoma(row.Scan)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return c, err
	}
}

// RenameCotonoma updates name and updated_at for an existing Cotonoma.
func RenameCotonoma(cotonomaID id.CotonomaID, name string, updatedAt string) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Update("cotonomas").
			Set(goqu.Record{"name": name, "updated_at": updatedAt}).
			Where(goqu.C("uuid").Eq(cotonomaID.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build rename cotonoma query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// ChangeCotonomaOwnerNode reassigns every Cotonoma owned by `from` to
// `to`, used when forking from a parent so its cotonomas become
// locally owned.
func ChangeCotonomaOwnerNode(from, to id.NodeID) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Update("cotonomas").
			Set(goqu.Record{"node_id": to.String()}).
			Where(goqu.C("node_id").Eq(from.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build change cotonoma owner query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// ListCotonomas reads every Cotonoma belonging to a node, most recently
// updated first.
func ListCotonomas(nodeID id.NodeID) storage.ReadOperation[[]model.Cotonoma] {
	return func(ctx context.Context, q storage.Querier) ([]model.Cotonoma, error) {
		sqlStr, args, err := dialect.From("cotonomas").
			Select("uuid", "node_id", "coto_id", "name", "created_at", "updated_at").
			Where(goqu.C("node_id").Eq(nodeID.String())).
			Order(goqu.C("updated_at").Desc()).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build list cotonomas query: %w", err)
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Cotonoma
		for rows.Next() {
			c, err := scanCotonoma(rows.Scan)
			if err != nil {
				return nil, err
			}
			out = append(out, *c)
		}
		return out, rows.Err()
	}
}

func scanCotonoma(scan func(dest ...any) error) (*model.Cotonoma, error) {
	var uuidStr, nodeID, cotoID, name, createdAt, updatedAt string
	if err := scan(&uuidStr, &nodeID, &cotoID, &name, &createdAt, &updatedAt); err != nil {
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
	return &model.Cotonoma{
		UUID:      id.MustParse[id.CotonomaKind](uuidStr),
		NodeID:    id.MustParse[id.NodeKind](nodeID),
		CotoID:    id.MustParse[id.CotoKind](cotoID),
		Name:      name,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
