package service

import (
	"context"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cotoami/cotoami-node/pkg/changelog"
	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/log"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/operator"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

// Dispatcher is the single point every Command, from whatever
// transport, is run through. It owns the storage engine and publishes
// every locally-recorded change to the change broker so subscribing
// children see it without polling.
type Dispatcher struct {
	engine       *storage.Engine
	localNodeID  id.NodeID
	changeBroker *events.ChangeBroker
	nodeEvents   *events.NodeEventBroker
}

// NewDispatcher builds a Dispatcher over an already-open storage engine.
func NewDispatcher(engine *storage.Engine, localNodeID id.NodeID, changeBroker *events.ChangeBroker, nodeEvents *events.NodeEventBroker) *Dispatcher {
	return &Dispatcher{engine: engine, localNodeID: localNodeID, changeBroker: changeBroker, nodeEvents: nodeEvents}
}

// Dispatch runs req.Command as principal and returns a Response that
// never itself errors — transport failures aside, every outcome
// (success or ServiceError) is carried in the Response so callers across
// a wire boundary see the same shape a local caller would.
func (d *Dispatcher) Dispatch(ctx context.Context, principal operator.Principal, req Request) Response {
	result, svcErr := d.handle(ctx, principal, req.Command, req.Body)
	resp := Response{ID: req.ID}
	if svcErr != nil {
		resp.Err = svcErr
		return resp
	}
	encoded, err := msgpack.Marshal(result)
	if err != nil {
		resp.Err = Internal(err)
		return resp
	}
	resp.Result = encoded
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, p operator.Principal, cmd Command, body []byte) (any, *ServiceError) {
	switch cmd {
	case CommandPostCoto:
		return d.postCoto(ctx, p, body)
	case CommandEditCoto:
		return d.editCoto(ctx, p, body)
	case CommandDeleteCoto:
		return d.deleteCoto(ctx, p, body)
	case CommandGetCoto:
		return d.getCoto(ctx, body)
	case CommandListCotosByCotonoma:
		return d.listCotosByCotonoma(ctx, body)
	case CommandSearchCotos:
		return d.searchCotos(ctx, body)

	case CommandPostCotonoma:
		return d.postCotonoma(ctx, p, body)
	case CommandRenameCotonoma:
		return d.renameCotonoma(ctx, p, body)
	case CommandGetCotonoma:
		return d.getCotonoma(ctx, body)
	case CommandListCotonomas:
		return d.listCotonomas(ctx, body)
	case CommandPromote:
		return d.promote(ctx, p, body)

	case CommandPostIto:
		return d.postIto(ctx, p, body)
	case CommandEditIto:
		return d.editIto(ctx, p, body)
	case CommandReorderItos:
		return d.reorderItos(ctx, p, body)
	case CommandDeleteIto:
		return d.deleteIto(ctx, p, body)
	case CommandListItosBySource:
		return d.listItosBySource(ctx, body)

	case CommandGetNode:
		return d.getNode(ctx, body)
	case CommandListNodes:
		return d.listNodes(ctx)

	case CommandChangesSince:
		return d.changesSince(ctx, body)

	default:
		return nil, Invalid("unknown command %q", cmd)
	}
}

func decode[T any](body []byte) (T, *ServiceError) {
	var v T
	if err := msgpack.Unmarshal(body, &v); err != nil {
		return v, Invalid("malformed request body: %s", err)
	}
	return v, nil
}

func mapDomainError(err error) *ServiceError {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return Invalid(ve.Error())
	}
	if errors.Is(err, operator.ErrPermissionDenied) {
		return PermissionDenied("operation not permitted")
	}
	return Internal(err)
}

// publish fans a newly-recorded or imported entry out to local_changes
// subscribers.
func (d *Dispatcher) publish(entry model.ChangelogEntry) {
	d.changeBroker.Publish(events.TopicLocalChanges, entry)
}

type postCotoRequest struct {
	Coto model.Coto
}

func (d *Dispatcher) postCoto(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[postCotoRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if !p.CanPostCoto() {
		return nil, PermissionDenied("not permitted to post a coto")
	}
	if err := model.ValidateCotoContent(req.Coto.Content, req.Coto.Summary, len(req.Coto.MediaContent) > 0); err != nil {
		return nil, mapDomainError(err)
	}
	if req.Coto.UUID.IsNil() {
		req.Coto.UUID = id.New[id.CotoKind]()
	}
	now := time.Now().UTC()
	req.Coto.NodeID = d.localNodeID
	req.Coto.PostedByID = p.NodeID()
	req.Coto.CreatedAt, req.Coto.UpdatedAt = now, now

	coto, entry, err := changelog.PostCoto(ctx, d.engine, d.localNodeID, req.Coto)
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return coto, nil
}

type editCotoRequest struct {
	CotoID id.CotoID
	Diff   model.CotoDiff
}

func (d *Dispatcher) editCoto(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[editCotoRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	coto, err := storage.Read(ctx, d.engine, ops.GetCoto(req.CotoID))
	if err != nil {
		return nil, Internal(err)
	}
	if coto == nil {
		return nil, NotFound("coto %s not found", req.CotoID)
	}
	if !p.CanUpdateCoto(*coto, d.ownsContainingCotonoma(ctx, coto, p)) {
		return nil, PermissionDenied("not permitted to edit this coto")
	}
	entry, err := changelog.EditCoto(ctx, d.engine, d.localNodeID, req.CotoID, req.Diff, time.Now().UTC())
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return struct{}{}, nil
}

type deleteCotoRequest struct {
	CotoID id.CotoID
}

func (d *Dispatcher) deleteCoto(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[deleteCotoRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	coto, err := storage.Read(ctx, d.engine, ops.GetCoto(req.CotoID))
	if err != nil {
		return nil, Internal(err)
	}
	if coto == nil {
		return nil, NotFound("coto %s not found", req.CotoID)
	}
	if !p.CanDeleteCoto(*coto, d.ownsContainingCotonoma(ctx, coto, p)) {
		return nil, PermissionDenied("not permitted to delete this coto")
	}
	entry, err := changelog.DeleteCoto(ctx, d.engine, d.localNodeID, req.CotoID, time.Now().UTC())
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return struct{}{}, nil
}

func (d *Dispatcher) ownsContainingCotonoma(ctx context.Context, coto *model.Coto, p operator.Principal) bool {
	if coto.PostedInID == nil {
		return false
	}
	cotonoma, err := storage.Read(ctx, d.engine, ops.GetCotonoma(*coto.PostedInID))
	if err != nil || cotonoma == nil {
		return false
	}
	return cotonoma.NodeID == p.NodeID()
}

type cotoIDRequest struct{ CotoID id.CotoID }

func (d *Dispatcher) getCoto(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[cotoIDRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	coto, err := storage.Read(ctx, d.engine, ops.GetCoto(req.CotoID))
	if err != nil {
		return nil, Internal(err)
	}
	if coto == nil {
		return nil, NotFound("coto %s not found", req.CotoID)
	}
	return coto, nil
}

type cotonomaIDRequest struct{ CotonomaID id.CotonomaID }

func (d *Dispatcher) listCotosByCotonoma(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[cotonomaIDRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	cotos, err := storage.Read(ctx, d.engine, ops.ListCotosByCotonoma(req.CotonomaID))
	if err != nil {
		return nil, Internal(err)
	}
	return cotos, nil
}

type searchCotosRequest struct {
	NodeID id.NodeID
	Query  string
	Limit  int
}

func (d *Dispatcher) searchCotos(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[searchCotosRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	cotos, err := storage.Read(ctx, d.engine, ops.SearchCotos(req.NodeID, req.Query, req.Limit))
	if err != nil {
		return nil, Internal(err)
	}
	return cotos, nil
}

type postCotonomaRequest struct {
	Name       string
	Content    *string
	PostedInID *id.CotonomaID
}

func (d *Dispatcher) postCotonoma(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[postCotonomaRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if !p.CanPostCotonoma() {
		return nil, PermissionDenied("not permitted to post a cotonoma")
	}
	if err := model.ValidateCotonomaName(req.Name); err != nil {
		return nil, mapDomainError(err)
	}

	now := time.Now().UTC()
	cotoID := id.New[id.CotoKind]()
	cotonomaID := id.New[id.CotonomaKind]()
	summary := req.Name

	coto := model.Coto{
		UUID: cotoID, NodeID: d.localNodeID, PostedByID: p.NodeID(), PostedInID: req.PostedInID,
		Content: req.Content, Summary: &summary, IsCotonoma: true, CreatedAt: now, UpdatedAt: now,
	}
	cotonoma := model.Cotonoma{
		UUID: cotonomaID, NodeID: d.localNodeID, CotoID: cotoID, Name: req.Name, CreatedAt: now, UpdatedAt: now,
	}

	_, _, entry, err := changelog.PostCotonoma(ctx, d.engine, d.localNodeID, coto, cotonoma)
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return cotonoma, nil
}

type renameCotonomaRequest struct {
	CotonomaID id.CotonomaID
	Name       string
}

func (d *Dispatcher) renameCotonoma(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[renameCotonomaRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if err := model.ValidateCotonomaName(req.Name); err != nil {
		return nil, mapDomainError(err)
	}
	cotonoma, err := storage.Read(ctx, d.engine, ops.GetCotonoma(req.CotonomaID))
	if err != nil {
		return nil, Internal(err)
	}
	if cotonoma == nil {
		return nil, NotFound("cotonoma %s not found", req.CotonomaID)
	}
	coto, err := storage.Read(ctx, d.engine, ops.GetCoto(cotonoma.CotoID))
	if err != nil {
		return nil, Internal(err)
	}
	if coto == nil || !p.CanUpdateCoto(*coto, cotonoma.NodeID == p.NodeID()) {
		return nil, PermissionDenied("not permitted to rename this cotonoma")
	}
	entry, err := changelog.RenameCotonoma(ctx, d.engine, d.localNodeID, req.CotonomaID, req.Name, time.Now().UTC())
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return struct{}{}, nil
}

func (d *Dispatcher) getCotonoma(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[cotonomaIDRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	cotonoma, err := storage.Read(ctx, d.engine, ops.GetCotonoma(req.CotonomaID))
	if err != nil {
		return nil, Internal(err)
	}
	if cotonoma == nil {
		return nil, NotFound("cotonoma %s not found", req.CotonomaID)
	}
	return cotonoma, nil
}

type listCotonomasRequest struct{ NodeID id.NodeID }

func (d *Dispatcher) listCotonomas(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[listCotonomasRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	cotonomas, err := storage.Read(ctx, d.engine, ops.ListCotonomas(req.NodeID))
	if err != nil {
		return nil, Internal(err)
	}
	return cotonomas, nil
}

type promoteRequest struct{ CotoID id.CotoID }

func (d *Dispatcher) promote(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[promoteRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	coto, err := storage.Read(ctx, d.engine, ops.GetCoto(req.CotoID))
	if err != nil {
		return nil, Internal(err)
	}
	if coto == nil {
		return nil, NotFound("coto %s not found", req.CotoID)
	}
	if coto.IsCotonoma {
		return nil, Conflict("coto %s is already a cotonoma", req.CotoID)
	}
	if !p.CanUpdateCoto(*coto, false) {
		return nil, PermissionDenied("not permitted to promote this coto")
	}
	if coto.Summary == nil {
		return nil, Invalid("coto must have a summary before it can be promoted")
	}
	if err := model.ValidateCotonomaName(*coto.Summary); err != nil {
		return nil, mapDomainError(err)
	}

	cotonomaID := id.New[id.CotonomaKind]()
	entry, err := changelog.Promote(ctx, d.engine, d.localNodeID, req.CotoID, cotonomaID, time.Now().UTC())
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return cotonomaID, nil
}

type postItoRequest struct {
	SourceCotoID id.CotoID
	TargetCotoID id.CotoID
	Description  *string
}

func (d *Dispatcher) postIto(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[postItoRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if !p.CanEditIto() {
		return nil, PermissionDenied("not permitted to create an ito")
	}
	existing, err := storage.Read(ctx, d.engine, ops.ListItosBySource(req.SourceCotoID))
	if err != nil {
		return nil, Internal(err)
	}
	now := time.Now().UTC()
	ito := model.Ito{
		UUID: id.New[id.ItoKind](), NodeID: d.localNodeID, CreatedByID: p.NodeID(),
		SourceCotoID: req.SourceCotoID, TargetCotoID: req.TargetCotoID, Description: req.Description,
		Ordinal: int32(len(existing)), CreatedAt: now, UpdatedAt: now,
	}
	created, entry, err := changelog.PostIto(ctx, d.engine, d.localNodeID, ito)
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return created, nil
}

type editItoRequest struct {
	ItoID id.ItoID
	Diff  model.ItoDiff
}

func (d *Dispatcher) editIto(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[editItoRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if !p.CanEditIto() {
		return nil, PermissionDenied("not permitted to edit an ito")
	}
	entry, err := changelog.EditIto(ctx, d.engine, d.localNodeID, req.ItoID, req.Diff, time.Now().UTC())
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return struct{}{}, nil
}

type reorderItosRequest struct {
	SourceCotoID id.CotoID
	ItoIDs       []id.ItoID
}

func (d *Dispatcher) reorderItos(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[reorderItosRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if !p.CanEditIto() {
		return nil, PermissionDenied("not permitted to reorder itos")
	}
	entry, err := changelog.ReorderItos(ctx, d.engine, d.localNodeID, req.SourceCotoID, req.ItoIDs, time.Now().UTC())
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return struct{}{}, nil
}

type deleteItoRequest struct{ ItoID id.ItoID }

func (d *Dispatcher) deleteIto(ctx context.Context, p operator.Principal, body []byte) (any, *ServiceError) {
	req, svcErr := decode[deleteItoRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if !p.CanEditIto() {
		return nil, PermissionDenied("not permitted to delete an ito")
	}
	entry, err := changelog.DeleteIto(ctx, d.engine, d.localNodeID, req.ItoID, time.Now().UTC())
	if err != nil {
		return nil, Internal(err)
	}
	d.publish(entry)
	return struct{}{}, nil
}

type listItosBySourceRequest struct{ SourceCotoID id.CotoID }

func (d *Dispatcher) listItosBySource(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[listItosBySourceRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	itos, err := storage.Read(ctx, d.engine, ops.ListItosBySource(req.SourceCotoID))
	if err != nil {
		return nil, Internal(err)
	}
	return itos, nil
}

type nodeIDRequest struct{ NodeID id.NodeID }

func (d *Dispatcher) getNode(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[nodeIDRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	node, err := storage.Read(ctx, d.engine, ops.GetNode(req.NodeID))
	if err != nil {
		return nil, Internal(err)
	}
	if node == nil {
		return nil, NotFound("node %s not found", req.NodeID)
	}
	return node, nil
}

func (d *Dispatcher) listNodes(ctx context.Context) (any, *ServiceError) {
	nodes, err := storage.Read(ctx, d.engine, ops.ListNodes())
	if err != nil {
		return nil, Internal(err)
	}
	return nodes, nil
}

type changesSinceRequest struct {
	AfterSerial int64
	Limit       int
}

// changesSince serves a chunk of local changelog history to a
// subscribing child catching up or resyncing.
func (d *Dispatcher) changesSince(ctx context.Context, body []byte) (any, *ServiceError) {
	req, svcErr := decode[changesSinceRequest](body)
	if svcErr != nil {
		return nil, svcErr
	}
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 100
	}
	entries, err := storage.Read(ctx, d.engine, ops.ListSince(req.AfterSerial, req.Limit))
	if err != nil {
		return nil, Internal(err)
	}
	log.WithComponent("service").Debug().Int("count", len(entries)).Msg("served changelog chunk")
	return entries, nil
}
