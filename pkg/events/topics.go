package events

import (
	"fmt"

	"github.com/cotoami/cotoami-node/pkg/model"
)

// Well-known topic names. Parametrised topics (remote changes per
// parent, responses per request) are built with the helpers below
// rather than embedded as constants.
const (
	TopicLocalChanges = "local_changes"
	TopicEvents       = "events"
	TopicRequests     = "requests"
)

// RemoteChangesTopic names the topic carrying ChangelogEntry values
// imported from the given parent node, in arrival order.
func RemoteChangesTopic(parentNodeID string) string {
	return fmt.Sprintf("remote_changes:%s", parentNodeID)
}

// ResponseTopic names the one-shot topic a single request's response is
// published to. Callers publish at most once and then the broker tears
// the topic down via PublishAndClose.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("responses:%s", requestID)
}

// ChangeBroker distributes ChangelogEntry values on TopicLocalChanges
// and per-parent RemoteChangesTopic topics.
type ChangeBroker = Broker[model.ChangelogEntry]

// NewChangeBroker creates a ChangeBroker with a buffer sized for
// ordinary replication fan-out.
func NewChangeBroker() *ChangeBroker {
	return NewBroker[model.ChangelogEntry](100)
}

// NodeEventKind names a connection-lifecycle or administrative event
// published on TopicEvents.
type NodeEventKind string

const (
	EventPeerConnected    NodeEventKind = "peer_connected"
	EventPeerDisconnected NodeEventKind = "peer_disconnected"
	EventNodeIconChanged  NodeEventKind = "node_icon_changed"
	EventParentForked     NodeEventKind = "parent_forked"
	EventOwnerPasswordSet NodeEventKind = "owner_password_changed"
)

// NodeEvent is the payload published on TopicEvents.
type NodeEvent struct {
	Kind    NodeEventKind
	NodeID  string
	Message string
}

// NodeEventBroker distributes NodeEvent values on TopicEvents.
type NodeEventBroker = Broker[NodeEvent]

// NewNodeEventBroker creates a NodeEventBroker with a small buffer; these
// events are low-frequency compared to changelog traffic.
func NewNodeEventBroker() *NodeEventBroker {
	return NewBroker[NodeEvent](20)
}
