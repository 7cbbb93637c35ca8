// Package service is the single boundary every mutation and query
// crosses, whether it originates from a local caller, an HTTP client,
// or a peer over a WebSocket connection. A Command names the
// operation; Dispatch runs it against storage/changelog under the
// calling Principal's permissions and returns a Response.
package service

import "github.com/cotoami/cotoami-node/pkg/id"

// Command names one service operation. New commands are added rather
// than versioned, mirroring Change's forward-compatible Kind strings.
type Command string

const (
	CommandPostCoto       Command = "PostCoto"
	CommandEditCoto        Command = "EditCoto"
	CommandDeleteCoto      Command = "DeleteCoto"
	CommandGetCoto         Command = "GetCoto"
	CommandListCotosByCotonoma Command = "ListCotosByCotonoma"
	CommandSearchCotos     Command = "SearchCotos"

	CommandPostCotonoma    Command = "PostCotonoma"
	CommandRenameCotonoma  Command = "RenameCotonoma"
	CommandGetCotonoma     Command = "GetCotonoma"
	CommandListCotonomas   Command = "ListCotonomas"
	CommandPromote         Command = "Promote"

	CommandPostIto    Command = "PostIto"
	CommandEditIto    Command = "EditIto"
	CommandReorderItos Command = "ReorderItos"
	CommandDeleteIto  Command = "DeleteIto"
	CommandListItosBySource Command = "ListItosBySource"

	CommandGetNode    Command = "GetNode"
	CommandListNodes  Command = "ListNodes"

	CommandChangesSince Command = "ChangesSince"
)

// Request is one service call: the Command to run, its msgpack-encoded
// argument Body, and the Principal identity it runs as.
type Request struct {
	ID      id.RequestID
	Command Command
	Body    []byte
}

// Response carries either a successful msgpack-encoded Result or a
// ServiceError, never both.
type Response struct {
	ID     id.RequestID
	Result []byte
	Err    *ServiceError
}
