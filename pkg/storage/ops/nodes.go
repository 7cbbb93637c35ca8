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

// InsertNode records a newly-registered node's identity row.
func InsertNode(n model.Node) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		var rootID any
		if n.RootCotonomaID != nil {
			rootID = n.RootCotonomaID.String()
		}
		sqlStr, args, err := dialect.Insert("nodes").Rows(goqu.Record{
			"uuid":             n.UUID.String(),
			"name":             n.Name,
			"icon":             n.Icon,
			"root_cotonoma_id": rootID,
			"version":          n.Version,
			"created_at":       formatTime(n.CreatedAt),
		}).ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build insert node query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// UpsertNode inserts a node's identity row or overwrites name/icon/
// version on an already-known node — the shape a ChangeUpsertNode entry
// applies on import, since a node's profile can change after it was
// first registered.
func UpsertNode(n model.Node) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		var rootID any
		if n.RootCotonomaID != nil {
			rootID = n.RootCotonomaID.String()
		}
		record := goqu.Record{
			"uuid":             n.UUID.String(),
			"name":             n.Name,
			"icon":             n.Icon,
			"root_cotonoma_id": rootID,
			"version":          n.Version,
			"created_at":       formatTime(n.CreatedAt),
		}
		sqlStr, args, err := dialect.Insert("nodes").
			Rows(record).
			OnConflict(goqu.DoUpdate("uuid", goqu.Record{
				"name":             n.Name,
				"icon":             n.Icon,
				"root_cotonoma_id": rootID,
				"version":          n.Version,
			})).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build upsert node query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// GetNode reads a single node by id.
func GetNode(nodeID id.NodeID) storage.ReadOperation[*model.Node] {
	return func(ctx context.Context, q storage.Querier) (*model.Node, error) {
		sqlStr, args, err := dialect.From("nodes").
			Select("uuid", "name", "icon", "root_cotonoma_id", "version", "created_at").
			Where(goqu.C("uuid").Eq(nodeID.String())).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get node query: %w", err)
		}
		row := q.QueryRowContext(ctx, sqlStr, args...)
		n, err := scanNode(row.Scan)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return n, err
	}
}

// ListNodes reads every registered node.
func ListNodes() storage.ReadOperation[[]model.Node] {
	return func(ctx context.Context, q storage.Querier) ([]model.Node, error) {
		sqlStr, args, err := dialect.From("nodes").
			Select("uuid", "name", "icon", "root_cotonoma_id", "version", "created_at").
			Order(goqu.C("created_at").Asc()).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build list nodes query: %w", err)
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		defer rows.Close()

		var out []model.Node
		for rows.Next() {
			n, err := scanNode(rows.Scan)
			if err != nil {
				return nil, err
			}
			out = append(out, *n)
		}
		return out, rows.Err()
	}
}

func scanNode(scan func(dest ...any) error) (*model.Node, error) {
	var (
		uuidStr, name  string
		icon           []byte
		rootCotonomaID sql.NullString
		version        int32
		createdAt      string
	)
	if err := scan(&uuidStr, &name, &icon, &rootCotonomaID, &version, &createdAt); err != nil {
		return nil, err
	}
	n := &model.Node{
		UUID:    id.MustParse[id.NodeKind](uuidStr),
		Name:    name,
		Icon:    icon,
		Version: version,
	}
	if rootCotonomaID.Valid {
		cid := id.MustParse[id.CotonomaKind](rootCotonomaID.String)
		n.RootCotonomaID = &cid
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = t
	return n, nil
}

// UpsertLocalNode inserts or replaces the singleton local_node row.
func UpsertLocalNode(ln model.LocalNode) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		sqlStr, args, err := dialect.Insert("local_node").
			Rows(goqu.Record{
				"node_id":                ln.NodeID.String(),
				"owner_password_hash":    ln.OwnerPasswordHash,
				"owner_session_token":    nullString(ln.OwnerSessionToken),
				"owner_session_expires":  nullTime(ln.OwnerSessionExpires),
				"image_max_size":         ln.ImageMaxSize,
				"anonymous_read_enabled": boolToInt(ln.AnonymousReadEnabled),
			}).
			OnConflict(goqu.DoUpdate("node_id", goqu.Record{
				"owner_password_hash":    ln.OwnerPasswordHash,
				"owner_session_token":    nullString(ln.OwnerSessionToken),
				"owner_session_expires":  nullTime(ln.OwnerSessionExpires),
				"image_max_size":         ln.ImageMaxSize,
				"anonymous_read_enabled": boolToInt(ln.AnonymousReadEnabled),
			})).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build upsert local_node query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// GetLocalNode reads the singleton local_node row, if it exists.
func GetLocalNode() storage.ReadOperation[*model.LocalNode] {
	return func(ctx context.Context, q storage.Querier) (*model.LocalNode, error) {
		sqlStr, args, err := dialect.From("local_node").
			Select("node_id", "owner_password_hash", "owner_session_token",
				"owner_session_expires", "image_max_size", "anonymous_read_enabled").
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get local_node query: %w", err)
		}
		var (
			nodeID, hash         string
			sessionToken         sql.NullString
			sessionExpires       sql.NullString
			imageMaxSize         int64
			anonymousReadEnabled int
		)
		err = q.QueryRowContext(ctx, sqlStr, args...).Scan(
			&nodeID, &hash, &sessionToken, &sessionExpires, &imageMaxSize, &anonymousReadEnabled,
		)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		expires, err := timePtr(sessionExpires)
		if err != nil {
			return nil, err
		}
		return &model.LocalNode{
			NodeID:               id.MustParse[id.NodeKind](nodeID),
			OwnerPasswordHash:    hash,
			OwnerSessionToken:    stringPtr(sessionToken),
			OwnerSessionExpires:  expires,
			ImageMaxSize:         imageMaxSize,
			AnonymousReadEnabled: anonymousReadEnabled != 0,
		}, nil
	}
}

// UpsertServerNode inserts or replaces a ServerNode row.
func UpsertServerNode(sn model.ServerNode) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		record := goqu.Record{
			"node_id":            sn.NodeID.String(),
			"url_prefix":         sn.URLPrefix,
			"encrypted_password": sn.EncryptedPassword,
			"disabled":           boolToInt(sn.Disabled),
		}
		sqlStr, args, err := dialect.Insert("server_nodes").
			Rows(record).
			OnConflict(goqu.DoUpdate("node_id", record)).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build upsert server_node query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// ListServerNodes reads every registered ServerNode (parents this node
// acts as a client of).
func ListServerNodes() storage.ReadOperation[[]model.ServerNode] {
	return func(ctx context.Context, q storage.Querier) ([]model.ServerNode, error) {
		sqlStr, args, err := dialect.From("server_nodes").
			Select("node_id", "url_prefix", "encrypted_password", "disabled").
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build list server_nodes query: %w", err)
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.ServerNode
		for rows.Next() {
			var (
				nodeID     string
				urlPrefix  string
				encrypted  []byte
				disabledInt int
			)
			if err := rows.Scan(&nodeID, &urlPrefix, &encrypted, &disabledInt); err != nil {
				return nil, err
			}
			out = append(out, model.ServerNode{
				NodeID:            id.MustParse[id.NodeKind](nodeID),
				URLPrefix:         urlPrefix,
				EncryptedPassword: encrypted,
				Disabled:          disabledInt != 0,
			})
		}
		return out, rows.Err()
	}
}

// UpsertChildNode inserts or replaces a ChildNode row (a peer this node
// trusts to write through its local write connection).
func UpsertChildNode(cn model.ChildNode) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		record := goqu.Record{
			"node_id":            cn.NodeID.String(),
			"as_owner":           boolToInt(cn.AsOwner),
			"can_post_cotonomas": boolToInt(cn.CanPostCotonomas),
			"can_edit_itos":      boolToInt(cn.CanEditItos),
		}
		sqlStr, args, err := dialect.Insert("child_nodes").
			Rows(record).
			OnConflict(goqu.DoUpdate("node_id", record)).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build upsert child_node query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// GetChildNode reads a single ChildNode row.
func GetChildNode(nodeID id.NodeID) storage.ReadOperation[*model.ChildNode] {
	return func(ctx context.Context, q storage.Querier) (*model.ChildNode, error) {
		sqlStr, args, err := dialect.From("child_nodes").
			Select("node_id", "as_owner", "can_post_cotonomas", "can_edit_itos").
			Where(goqu.C("node_id").Eq(nodeID.String())).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get child_node query: %w", err)
		}
		var (
			nid                              string
			asOwner, canPostCotonomas, canEditItos int
		)
		err = q.QueryRowContext(ctx, sqlStr, args...).Scan(&nid, &asOwner, &canPostCotonomas, &canEditItos)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &model.ChildNode{
			NodeID:           id.MustParse[id.NodeKind](nid),
			AsOwner:          asOwner != 0,
			CanPostCotonomas: canPostCotonomas != 0,
			CanEditItos:      canEditItos != 0,
		}, nil
	}
}

// UpsertClientNode inserts or replaces a ClientNode row (a peer's login
// credentials for connecting to this node as a client).
func UpsertClientNode(cn model.ClientNode) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		record := goqu.Record{
			"node_id":              cn.NodeID.String(),
			"password_hash":        cn.PasswordHash,
			"session_token":        nullString(cn.SessionToken),
			"session_expires":      nullTime(cn.SessionExpires),
			"disabled":             boolToInt(cn.Disabled),
			"last_session_created": nullTime(cn.LastSessionCreated),
		}
		sqlStr, args, err := dialect.Insert("client_nodes").
			Rows(record).
			OnConflict(goqu.DoUpdate("node_id", record)).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build upsert client_node query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// GetClientNode reads a single ClientNode row.
func GetClientNode(nodeID id.NodeID) storage.ReadOperation[*model.ClientNode] {
	return func(ctx context.Context, q storage.Querier) (*model.ClientNode, error) {
		sqlStr, args, err := dialect.From("client_nodes").
			Select("node_id", "password_hash", "session_token", "session_expires", "disabled", "last_session_created").
			Where(goqu.C("node_id").Eq(nodeID.String())).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get client_node query: %w", err)
		}
		var (
			nid, passwordHash                    string
			sessionToken, sessionExpires         sql.NullString
			disabledInt                          int
			lastSessionCreated                   sql.NullString
		)
		err = q.QueryRowContext(ctx, sqlStr, args...).Scan(
			&nid, &passwordHash, &sessionToken, &sessionExpires, &disabledInt, &lastSessionCreated,
		)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		expires, err := timePtr(sessionExpires)
		if err != nil {
			return nil, err
		}
		lastCreated, err := timePtr(lastSessionCreated)
		if err != nil {
			return nil, err
		}
		return &model.ClientNode{
			NodeID:             id.MustParse[id.NodeKind](nid),
			PasswordHash:       passwordHash,
			SessionToken:       stringPtr(sessionToken),
			SessionExpires:     expires,
			Disabled:           disabledInt != 0,
			LastSessionCreated: lastCreated,
		}, nil
	}
}

// UpsertParentNode inserts or replaces a ParentNode replication-tracking row.
func UpsertParentNode(pn model.ParentNode) storage.WriteOperation[struct{}] {
	return func(ctx context.Context, x storage.Execer) (struct{}, error) {
		record := goqu.Record{
			"node_id":          pn.NodeID.String(),
			"changes_received": pn.ChangesReceived,
			"last_received_at": nullTime(pn.LastReceivedAt),
			"last_read_at":     nullTime(pn.LastReadAt),
			"forked":           boolToInt(pn.Forked),
		}
		sqlStr, args, err := dialect.Insert("parent_nodes").
			Rows(record).
			OnConflict(goqu.DoUpdate("node_id", record)).
			ToSQL()
		if err != nil {
			return struct{}{}, fmt.Errorf("build upsert parent_node query: %w", err)
		}
		_, err = x.ExecContext(ctx, sqlStr, args...)
		return struct{}{}, err
	}
}

// GetParentNode reads a single ParentNode row.
func GetParentNode(nodeID id.NodeID) storage.ReadOperation[*model.ParentNode] {
	return func(ctx context.Context, q storage.Querier) (*model.ParentNode, error) {
		sqlStr, args, err := dialect.From("parent_nodes").
			Select("node_id", "changes_received", "last_received_at", "last_read_at", "forked").
			Where(goqu.C("node_id").Eq(nodeID.String())).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build get parent_node query: %w", err)
		}
		var (
			nid                                string
			changesReceived                    int64
			lastReceivedAt, lastReadAt         sql.NullString
			forkedInt                          int
		)
		err = q.QueryRowContext(ctx, sqlStr, args...).Scan(&nid, &changesReceived, &lastReceivedAt, &lastReadAt, &forkedInt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		received, err := timePtr(lastReceivedAt)
		if err != nil {
			return nil, err
		}
		read, err := timePtr(lastReadAt)
		if err != nil {
			return nil, err
		}
		return &model.ParentNode{
			NodeID:          id.MustParse[id.NodeKind](nid),
			ChangesReceived: changesReceived,
			LastReceivedAt:  received,
			LastReadAt:      read,
			Forked:          forkedInt != 0,
		}, nil
	}
}
