package events

import (
	"time"

	"github.com/google/uuid"
)

const EventVersionV1 = "v1"

// Kind is one of the three mutation classes the invalidation broker
// subscribes to.
type Kind string

const (
	KindGrantChange     Kind = "grant.changed"
	KindHierarchyChange Kind = "hierarchy.changed"
	KindOwnershipChange Kind = "ownership.changed"

	EntityWorkstream = "workstream"
	EntityGrant      = "permission_grant"
	EntityOwnership  = "ownership"
)

// WorkstreamEventV1 describes one committed mutation. WorkstreamID is the
// node whose subtree the mutation affects; EntityType/EntityID identify the
// mutated record itself (a node, a grant, an ownership edge).
type WorkstreamEventV1 struct {
	EventID      uuid.UUID
	EventVersion string
	RequestID    string
	Kind         Kind
	EntityType   string
	EntityID     uuid.UUID
	WorkstreamID uuid.UUID
	InitiatorID  uuid.UUID
	OccurredAt   time.Time

	// AncestorIDs snapshots the parent chains involved in the mutation
	// (for a move: both the old and the new chain) so the broker can evict
	// derived state for nodes the post-commit tree no longer reaches.
	AncestorIDs []uuid.UUID
}

// NewV1 builds an event with a fresh event id. An empty requestID gets a
// generated one so audit rows always correlate.
func NewV1(requestID string, kind Kind, entityType string, entityID, workstreamID, initiatorID uuid.UUID) WorkstreamEventV1 {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return WorkstreamEventV1{
		EventID:      uuid.New(),
		EventVersion: EventVersionV1,
		RequestID:    requestID,
		Kind:         kind,
		EntityType:   entityType,
		EntityID:     entityID,
		WorkstreamID: workstreamID,
		InitiatorID:  initiatorID,
		OccurredAt:   time.Now().UTC(),
	}
}
