package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/reviewtask"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
)

// Repository is the persistence surface of the engine. Implementations read
// the active transaction from the context (composables.UseTx) so every
// service operation runs against a single consistent snapshot.
type Repository interface {
	// Workstream nodes.
	InsertWorkstream(ctx context.Context, ws WorkstreamInsert) (uuid.UUID, error)
	GetWorkstream(ctx context.Context, id uuid.UUID) (workstream.Workstream, error)
	GetWorkstreams(ctx context.Context, ids []uuid.UUID) ([]workstream.Workstream, error)
	GetChildren(ctx context.Context, parentIDs []uuid.UUID) ([]workstream.Workstream, error)
	HasChildren(ctx context.Context, id uuid.UUID) (bool, error)

	// LockWorkstream and LockSubtree take row locks (FOR UPDATE) so
	// concurrent structural mutations on overlapping subtrees serialize.
	LockWorkstream(ctx context.Context, id uuid.UUID) (workstream.Workstream, error)
	LockSubtree(ctx context.Context, rootID uuid.UUID) ([]workstream.Workstream, error)
	LockOwnedBy(ctx context.Context, ownerID uuid.UUID) ([]workstream.Workstream, error)

	UpdateWorkstreamAttrs(ctx context.Context, id uuid.UUID, update WorkstreamUpdate) error
	SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	UpdateDepths(ctx context.Context, updates []DepthUpdate) error
	SetOwner(ctx context.Context, id uuid.UUID, ownerID *uuid.UUID) error
	DeleteWorkstream(ctx context.Context, id uuid.UUID) error

	// Permission grants.
	InsertGrant(ctx context.Context, g GrantInsert) (uuid.UUID, error)
	GetGrant(ctx context.Context, id uuid.UUID) (grant.Grant, error)
	GetGrantsFor(ctx context.Context, workstreamID, userID uuid.UUID) ([]grant.Grant, error)
	ListGrantsOn(ctx context.Context, workstreamID uuid.UUID) ([]grant.Grant, error)
	UpdateGrant(ctx context.Context, id uuid.UUID, level grant.Level, scope grant.Scope) error
	DeleteGrant(ctx context.Context, id uuid.UUID) error
	DeleteGrantsOn(ctx context.Context, workstreamID uuid.UUID) (int64, error)
	DeleteGrantsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// Append-only invalidation audit log.
	InsertInvalidationEvent(ctx context.Context, ev InvalidationEventInsert) (uuid.UUID, error)

	// Ownership review tasks.
	InsertReviewTask(ctx context.Context, task reviewtask.ReviewTask) (uuid.UUID, error)
	ListReviewTasks(ctx context.Context, status reviewtask.Status) ([]reviewtask.ReviewTask, error)
	CompleteReviewTask(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error
}

type WorkstreamInsert struct {
	Name        string
	Description string
	Type        workstream.Type
	Status      workstream.Status
	OwnerID     *uuid.UUID
	ParentID    *uuid.UUID
	Depth       int
}

// WorkstreamUpdate patches mutable attributes; nil fields are left as-is.
type WorkstreamUpdate struct {
	Name        *string
	Description *string
	Status      *workstream.Status
}

type DepthUpdate struct {
	ID    uuid.UUID
	Depth int
}

type GrantInsert struct {
	WorkstreamID uuid.UUID
	UserID       uuid.UUID
	Level        grant.Level
	Scope        grant.Scope
	GrantedBy    uuid.UUID
}

// InvalidationEventInsert is one append-only audit row. Rows are never
// updated or deleted by the engine.
type InvalidationEventInsert struct {
	RequestID    string
	Kind         string
	EntityType   string
	EntityID     uuid.UUID
	WorkstreamID uuid.UUID
	KeysEvicted  int
	Duration     time.Duration
	OccurredAt   time.Time
}
