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

// InsertCoto inserts a new Coto row, along with any extra
// coto_reposted_in rows for a repost appearing in more than one
// cotonoma.
func InsertCoto(c model.Coto) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		record := goqu.Record{
			"uuid":         c.UUID.String(),
			"node_id":      c.NodeID.String(),
			"posted_by_id": c.PostedByID.String(),
			"content":      nullString(c.Content),
			"summary":      nullString(c.Summary),
			"media_content": c.MediaContent,
			"media_type":    nullString(c.MediaType),
			"is_cotonoma":   boolToInt(c.IsCotonoma),
			"datetime_date_only": boolToInt(false),
			"created_at":   formatTime(c.CreatedAt),
			"updated_at":   formatTime(c.UpdatedAt),
		}
		if c.PostedInID != nil {
			record["posted_in_id"] = c.PostedInID.String()
		}
		if c.RepostOfID != nil {
			record["repost_of_id"] = c.RepostOfID.String()
		}
		if c.Geolocation != nil {
			record["geolocation_long"] = c.Geolocation.Longitude
			record["geolocation_lat"] = c.Geolocation.Latitude
		}
		if c.DateTimeRange != nil {
			record["datetime_start"] = formatTime(c.DateTimeRange.Start)
			record["datetime_end"] = nullTime(c.DateTimeRange.End)
			record["datetime_date_only"] = boolToInt(c.DateTimeRange.DateOnly)
		}

		sqlStr, args, err := dialect.Insert("cotos").Rows(record).ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build insert coto query: %w", err)
		}
		if _, err := x.ExecContext(ctx, sqlStr, args...); err != nil {
			return struct{}{}, fmt.Errorf("insert coto: %w", err)
		}

		for _, cotonomaID := range c.RepostedInIDs {
			linkSQL, linkArgs, err := dialect.Insert("coto_reposted_in").Rows(goqu.Record{
				"coto_id":     c.UUID.String(),
				"cotonoma_id": cotonomaID.String(),
			}).ToSQL()
			if err != nil {
				return struct{}{}, fmt.Errorf("build insert coto_reposted_in query: %w", err)
			}
			if _, err := x.ExecContext(ctx, linkSQL, linkArgs...); err != nil {
				return struct{}{}, fmt.Errorf("insert coto_reposted_in: %w", err)
			}
		}
		return struct{}{}, nil
	}
}

// GetCoto reads a single Coto by id.
func GetCoto(cotoID id.CotoID) storage.ReadOperation[*model.Coto] {
	return func(ctx context.Context, q storage.Querier) (*model.Coto, error) {
		sqlStr, args, err := dialect.From("cotos").
			Select("uuid", "node_id", "posted_in_id", "posted_by_id", "content", "summary",
				"media_content", "media_type", "is_cotonoma", "geolocation_long", "geolocation_lat",
				"datetime_start", "datetime_end", "datetime_date_only", "repost_of_id",
				"created_at", "updated_at").
			Where(goqu.C("uuid").Eq(cotoID.String())).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get coto query: %w", err)
		}
		c, err := scanCoto(q.QueryRowContext(ctx, sqlStr, args...).Scan)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		reposted, err := listRepostedIn(ctx, q, cotoID)
		if err != nil {
			return nil, err
		}
		c.RepostedInIDs = reposted
		return c, nil
	}
}

// ListCotosByCotonoma reads every Coto posted directly in a cotonoma,
// newest first.
func ListCotosByCotonoma(cotonomaID id.CotonomaID) storage.ReadOperation[[]model.Coto] {
	return func(ctx context.Context, q storage.Querier) ([]model.Coto, error) {
		sqlStr, args, err := dialect.From("cotos").
			Select("uuid", "node_id", "posted_in_id", "posted_by_id", "content", "summary",
				"media_content", "media_type", "is_cotonoma", "geolocation_long", "geolocation_lat",
				"datetime_start", "datetime_end", "datetime_date_only", "repost_of_id",
				"created_at", "updated_at").
			Where(goqu.C("posted_in_id").Eq(cotonomaID.String())).
			Order(goqu.C("created_at").Desc()).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build list cotos query: %w", err)
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Coto
		for rows.Next() {
			c, err := scanCoto(rows.Scan)
			if err != nil {
				return nil, err
			}
			out = append(out, *c)
		}
		return out, rows.Err()
	}
}

// UpdateCoto applies a CotoDiff's changed fields plus updated_at.
func UpdateCoto(cotoID id.CotoID, diff model.CotoDiff, updatedAt string) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		set := goqu.Record{"updated_at": updatedAt}

		diff.Content.Apply(
			func(v string) { set["content"] = v },
			func() { set["content"] = nil },
		)
		diff.Summary.Apply(
			func(v string) { set["summary"] = v },
			func() { set["summary"] = nil },
		)
		diff.MediaContent.Apply(
			func(v []byte) { set["media_content"] = v },
			func() { set["media_content"] = nil },
		)
		diff.MediaType.Apply(
			func(v string) { set["media_type"] = v },
			func() { set["media_type"] = nil },
		)
		diff.Geolocation.Apply(
			func(v model.Geolocation) { set["geolocation_long"], set["geolocation_lat"] = v.Longitude, v.Latitude },
			func() { set["geolocation_long"], set["geolocation_lat"] = nil, nil },
		)
		diff.DateTimeRange.Apply(
			func(v model.DateTimeRange) {
				set["datetime_start"] = formatTime(v.Start)
				set["datetime_end"] = nullTime(v.End)
				set["datetime_date_only"] = boolToInt(v.DateOnly)
			},
			func() {
				set["datetime_start"], set["datetime_end"] = nil, nil
				set["datetime_date_only"] = 0
			},
		)

		sqlStr, args, err := dialect.Update("cotos").Set(set).
			Where(goqu.C("uuid").Eq(cotoID.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build update coto query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// MarkCotoAsCotonoma flips a coto's is_cotonoma flag on, the other half
// of promoting it alongside InsertCotonoma.
func MarkCotoAsCotonoma(cotoID id.CotoID, updatedAt string) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Update("cotos").
			Set(goqu.Record{"is_cotonoma": 1, "updated_at": updatedAt}).
			Where(goqu.C("uuid").Eq(cotoID.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build mark coto as cotonoma query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// DeleteCoto removes a Coto row. Itos referencing it are expected to be
// deleted by the caller first (changelog.Record enforces the order).
func DeleteCoto(cotoID id.CotoID) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Delete("cotos").
			Where(goqu.C("uuid").Eq(cotoID.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build delete coto query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// ChangeCotoOwnerNode reassigns every Coto owned by `from` to `to`, used
// when forking from a parent so its cotos become locally owned.
func ChangeCotoOwnerNode(from, to id.NodeID) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Update("cotos").
			Set(goqu.Record{"node_id": to.String()}).
			Where(goqu.C("node_id").Eq(from.String())).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build change coto owner query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// SearchCotos runs a full-text query against coto_fts and returns
// matching Cotos ranked by relevance.
func SearchCotos(nodeID id.NodeID, query string, limit int) storage.ReadOperation[[]model.Coto] {
	return func(ctx context.Context, q storage.Querier) ([]model.Coto, error) {
		const sqlStr = `
			SELECT cotos.uuid, cotos.node_id, cotos.posted_in_id, cotos.posted_by_id,
			       cotos.content, cotos.summary, cotos.media_content, cotos.media_type,
			       cotos.is_cotonoma, cotos.geolocation_long, cotos.geolocation_lat,
			       cotos.datetime_start, cotos.datetime_end, cotos.datetime_date_only,
			       cotos.repost_of_id, cotos.created_at, cotos.updated_at
			FROM coto_fts
			JOIN cotos ON cotos.rowid = coto_fts.rowid
			WHERE coto_fts MATCH ? AND cotos.node_id = ?
			ORDER BY rank
			LIMIT ?
		`
		rows, err := q.QueryContext(ctx, sqlStr, query, nodeID.String(), limit)
		if err != nil {
			return nil, fmt.Errorf("search cotos: %w", err)
		}
		defer rows.Close()

		var out []model.Coto
		for rows.Next() {
			c, err := scanCoto(rows.Scan)
			if err != nil {
				return nil, err
			}
			out = append(out, *c)
		}
		return out, rows.Err()
	}
}

func listRepostedIn(ctx context.Context, q storage.Querier, cotoID id.CotoID) ([]id.CotonomaID, error) {
	sqlStr, args, err := dialect.From("coto_reposted_in").
		Select("cotonoma_id").
		Where(goqu.C("coto_id").Eq(cotoID.String())).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list reposted_in query: %w", err)
	}
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []id.CotonomaID
	for rows.Next() {
		var cotonomaID string
		if err := rows.Scan(&cotonomaID); err != nil {
			return nil, err
		}
		out = append(out, id.MustParse[id.CotonomaKind](cotonomaID))
	}
	return out, rows.Err()
}

func scanCoto(scan func(dest ...any) error) (*model.Coto, error) {
	var (
		uuidStr, nodeID, postedByID string
		postedInID, repostOfID      sql.NullString
		content, summary, mediaType sql.NullString
		mediaContent                []byte
		isCotonomaInt               int
		geoLong, geoLat             sql.NullFloat64
		dtStart, dtEnd              sql.NullString
		dtDateOnlyInt               int
		createdAt, updatedAt        string
	)
	if err := scan(&uuidStr, &nodeID, &postedInID, &postedByID, &content, &summary,
		&mediaContent, &mediaType, &isCotonomaInt, &geoLong, &geoLat,
		&dtStart, &dtEnd, &dtDateOnlyInt, &repostOfID, &createdAt, &updatedAt); err != nil {
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

	c := &model.Coto{
		UUID:         id.MustParse[id.CotoKind](uuidStr),
		NodeID:       id.MustParse[id.NodeKind](nodeID),
		PostedByID:   id.MustParse[id.NodeKind](postedByID),
		Content:      stringPtr(content),
		Summary:      stringPtr(summary),
		MediaContent: mediaContent,
		MediaType:    stringPtr(mediaType),
		IsCotonoma:   isCotonomaInt != 0,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
	if postedInID.Valid {
		cid := id.MustParse[id.CotonomaKind](postedInID.String)
		c.PostedInID = &cid
	}
	if repostOfID.Valid {
		rid := id.MustParse[id.CotoKind](repostOfID.String)
		c.RepostOfID = &rid
	}
	if geoLong.Valid && geoLat.Valid {
		c.Geolocation = &model.Geolocation{Longitude: geoLong.Float64, Latitude: geoLat.Float64}
	}
	if dtStart.Valid {
		start, err := parseTime(dtStart.String)
		if err != nil {
			return nil, err
		}
		end, err := timePtr(dtEnd)
		if err != nil {
			return nil, err
		}
		c.DateTimeRange = &model.DateTimeRange{Start: start, End: end, DateOnly: dtDateOnlyInt != 0}
	}
	return c, nil
}
