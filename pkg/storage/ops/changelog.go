package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/storage"
)

// AppendEntry inserts a new changelog row. SerialNumber is assigned by
// SQLite's AUTOINCREMENT and returned on the entry; callers supply
// OriginSerialNumber themselves (local for locally-originated changes,
// carried over from the parent for imported ones).
func AppendEntry(originNodeID id.NodeID, originSerialNumber int64, parentNodeID *id.NodeID, change model.Change, createdAt time.Time) storage.WriteOperation[model.ChangelogEntry] {
	return func(ctx context.Context, x storage.Execer) (model.ChangelogEntry, error) {
		payload, err := msgpack.Marshal(change)
		if err != nil {
			return model.ChangelogEntry{}, fmt.Errorf("encode change payload: %w", err)
		}

		record := goqu.Record{
			"origin_node_id":       originNodeID.String(),
			"origin_serial_number": originSerialNumber,
			"kind":                 string(change.Kind),
			"payload":              payload,
			"created_at":           formatTime(createdAt),
		}
		if parentNodeID != nil {
			record["parent_node_id"] = parentNodeID.String()
		}

		sqlStr, args, err := dialect.Insert("changelog").Rows(record).ToSQL()
		if err != nil {
			return model.ChangelogEntry{}, fmt.Errorf("build append changelog query: %w", err)
		}
		res, err := x.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return model.ChangelogEntry{}, fmt.Errorf("append changelog entry: %w", err)
		}
		serialNumber, err := res.LastInsertId()
		if err != nil {
			return model.ChangelogEntry{}, fmt.Errorf("read changelog serial number: %w", err)
		}

		return model.ChangelogEntry{
			SerialNumber:       serialNumber,
			OriginNodeID:       originNodeID,
			OriginSerialNumber: originSerialNumber,
			ParentNodeID:       parentNodeID,
			Change:             change,
			CreatedAt:          createdAt,
		}, nil
	}
}

// MaxOriginSerialNumber returns the highest origin_serial_number
// recorded for originNodeID, or 0 if none exists yet — the value
// pkg/changelog.Record increments to assign the next one.
func MaxOriginSerialNumber(originNodeID id.NodeID) storage.ReadOperation[int64] {
	return func(ctx context.Context, q storage.Querier) (int64, error) {
		sqlStr, args, err := dialect.From("changelog").
			Select(goqu.COALESCE(goqu.MAX("origin_serial_number"), 0)).
			Where(goqu.C("origin_node_id").Eq(originNodeID.String())).
			ToSQL()
		if err != nil {
			return 0, fmt.Errorf("build max origin serial query: %w", err)
		}
		var max int64
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&max); err != nil {
			return 0, fmt.Errorf("read max origin serial number: %w", err)
		}
		return max, nil
	}
}

// ListSince reads up to limit changelog entries with serial_number >
// afterSerial, in serial order — the shape used both to replay local
// history to a subscribing child and to resync a chunk of changes from
// a parent.
func ListSince(afterSerial int64, limit int) storage.ReadOperation[[]model.ChangelogEntry] {
	return func(ctx context.Context, q storage.Querier) ([]model.ChangelogEntry, error) {
		sqlStr, args, err := dialect.From("changelog").
			Select("serial_number", "origin_node_id", "origin_serial_number",
				"parent_node_id", "kind", "payload", "created_at").
			Where(goqu.C("serial_number").Gt(afterSerial)).
			Order(goqu.C("serial_number").Asc()).
			Limit(uint(limit)).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build list changelog query: %w", err)
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, fmt.Errorf("list changelog entries: %w", err)
		}
		defer rows.Close()

		var out []model.ChangelogEntry
		for rows.Next() {
			e, err := scanChangelogEntry(rows.Scan)
			if err != nil {
				return nil, err
			}
			out = append(out, *e)
		}
		return out, rows.Err()
	}
}

// MaxSerialNumber returns the local changelog's current high-water
// mark, or 0 if it is empty.
func MaxSerialNumber() storage.ReadOperation[int64] {
	return func(ctx context.Context, q storage.Querier) (int64, error) {
		sqlStr, args, err := dialect.From("changelog").
			Select(goqu.COALESCE(goqu.MAX("serial_number"), 0)).
			ToSQL()
		if err != nil {
			return 0, fmt.Errorf("build max serial query: %w", err)
		}
		var max int64
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&max); err != nil {
			return 0, fmt.Errorf("read max serial number: %w", err)
		}
		return max, nil
	}
}

func scanChangelogEntry(scan func(dest ...any) error) (*model.ChangelogEntry, error) {
	var (
		serialNumber, originSerialNumber int64
		originNodeID, kind, createdAt    string
		parentNodeID                     sql.NullString
		payload                          []byte
	)
	if err := scan(&serialNumber, &originNodeID, &originSerialNumber,
		&parentNodeID, &kind, &payload, &createdAt); err != nil {
		return nil, err
	}

	var change model.Change
	if err := msgpack.Unmarshal(payload, &change); err != nil {
		return nil, fmt.Errorf("decode change payload for serial %d: %w", serialNumber, err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	entry := &model.ChangelogEntry{
		SerialNumber:       serialNumber,
		OriginNodeID:       id.MustParse[id.NodeKind](originNodeID),
		OriginSerialNumber: originSerialNumber,
		Change:             change,
		CreatedAt:          created,
	}
	if parentNodeID.Valid {
		pid := id.MustParse[id.NodeKind](parentNodeID.String)
		entry.ParentNodeID = &pid
	}
	return entry, nil
}
