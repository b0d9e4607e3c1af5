package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/events"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
	"github.com/cadenzahq/cadenza/pkg/composables"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
)

type CreateWorkstreamInput struct {
	Name        string
	Description string
	Type        string
	Status      string
	ParentID    *uuid.UUID
}

// UpdateWorkstreamInput patches mutable attributes; nil fields are left
// untouched. Status changes go through Transition, not Update.
type UpdateWorkstreamInput struct {
	Name        *string
	Description *string
}

// WorkstreamService owns the hierarchy: node CRUD, moves, status
// transitions and ownership transfer. Every mutation runs in a single
// transaction and publishes a v1 event after commit; the invalidation
// broker handles the event synchronously, so a mutation only reports
// success once derived cache state is consistent again.
type WorkstreamService struct {
	repo      Repository
	perms     *PermissionService
	validator *HierarchyValidator
	cache     PermissionCache
	bus       eventbus.EventBusWithError
	logger    *logrus.Logger
}

func NewWorkstreamService(
	repo Repository,
	perms *PermissionService,
	validator *HierarchyValidator,
	cache PermissionCache,
	bus eventbus.EventBusWithError,
	logger *logrus.Logger,
) *WorkstreamService {
	return &WorkstreamService{
		repo:      repo,
		perms:     perms,
		validator: validator,
		cache:     cache,
		bus:       bus,
		logger:    logger,
	}
}

func (s *WorkstreamService) Create(ctx context.Context, input CreateWorkstreamInput) (workstream.Workstream, error) {
	var zero workstream.Workstream
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return zero, newValidation("WS_INVALID_BODY", "name is required")
	}
	typ, err := workstream.ParseType(input.Type)
	if err != nil {
		return zero, newValidation("WS_INVALID_TYPE", err.Error())
	}
	status := workstream.StatusDraft
	if input.Status != "" {
		status, err = workstream.ParseStatus(input.Status)
		if err != nil {
			return zero, newValidation("WS_INVALID_STATUS", err.Error())
		}
	}
	if input.ParentID != nil {
		if err := s.perms.RequireCan(ctx, actor, *input.ParentID, ActionCreateChild); err != nil {
			return zero, err
		}
	}

	var ancestorIDs []uuid.UUID
	created, err := inTx(ctx, func(txCtx context.Context) (workstream.Workstream, error) {
		depth := 1
		if input.ParentID != nil {
			parent, err := s.repo.LockWorkstream(txCtx, *input.ParentID)
			if err != nil {
				return zero, mapPgError(err)
			}
			depth = parent.Depth + 1
		}
		owner := actor.UserID
		id, err := s.repo.InsertWorkstream(txCtx, WorkstreamInsert{
			Name:        name,
			Description: input.Description,
			Type:        typ,
			Status:      status,
			OwnerID:     &owner,
			ParentID:    input.ParentID,
			Depth:       depth,
		})
		if err != nil {
			return zero, mapPgError(err)
		}
		chain, err := GetAncestors(txCtx, s.repo, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		ancestorIDs = workstreamIDs(chain)
		ws, err := s.repo.GetWorkstream(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		return ws, nil
	})
	if err != nil {
		return zero, err
	}
	if err := s.publishChange(ctx, actor, events.KindHierarchyChange, events.EntityWorkstream, created.ID, created.ID, ancestorIDs); err != nil {
		return zero, err
	}
	return created, nil
}

func (s *WorkstreamService) Get(ctx context.Context, id uuid.UUID) (workstream.Workstream, error) {
	var zero workstream.Workstream
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionView); err != nil {
		return zero, err
	}
	ws, err := s.repo.GetWorkstream(ctx, id)
	if err != nil {
		return zero, mapPgError(err)
	}
	return ws, nil
}

func (s *WorkstreamService) Update(ctx context.Context, id uuid.UUID, input UpdateWorkstreamInput) (workstream.Workstream, error) {
	var zero workstream.Workstream
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return zero, newValidation("WS_INVALID_BODY", "name cannot be empty")
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionUpdate); err != nil {
		return zero, err
	}
	updated, err := inTx(ctx, func(txCtx context.Context) (workstream.Workstream, error) {
		if _, err := s.repo.LockWorkstream(txCtx, id); err != nil {
			return zero, mapPgError(err)
		}
		update := WorkstreamUpdate{Description: input.Description}
		if input.Name != nil {
			trimmed := strings.TrimSpace(*input.Name)
			update.Name = &trimmed
		}
		if err := s.repo.UpdateWorkstreamAttrs(txCtx, id, update); err != nil {
			return zero, mapPgError(err)
		}
		ws, err := s.repo.GetWorkstream(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		return ws, nil
	})
	if err != nil {
		return zero, err
	}
	// Cached subtree snapshots carry names, so attribute edits still have
	// to flush them.
	if err := s.publishChange(ctx, actor, events.KindHierarchyChange, events.EntityWorkstream, id, id, nil); err != nil {
		return zero, err
	}
	return updated, nil
}

// Transition advances the workstream status along the lifecycle state
// machine. Disallowed edges fail with a conflict since the outcome
// depends on the node's current state, not on the request body alone.
func (s *WorkstreamService) Transition(ctx context.Context, id uuid.UUID, next string) (workstream.Workstream, error) {
	var zero workstream.Workstream
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	target, err := workstream.ParseStatus(next)
	if err != nil {
		return zero, newValidation("WS_INVALID_STATUS", err.Error())
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionUpdate); err != nil {
		return zero, err
	}
	transitioned, err := inTx(ctx, func(txCtx context.Context) (workstream.Workstream, error) {
		ws, err := s.repo.LockWorkstream(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		if !ws.Status.CanTransitionTo(target) {
			return zero, newConflict(
				"WS_INVALID_TRANSITION",
				"cannot transition from "+string(ws.Status)+" to "+string(target),
			)
		}
		if err := s.repo.UpdateWorkstreamAttrs(txCtx, id, WorkstreamUpdate{Status: &target}); err != nil {
			return zero, mapPgError(err)
		}
		ws, err = s.repo.GetWorkstream(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		return ws, nil
	})
	if err != nil {
		return zero, err
	}
	if err := s.publishChange(ctx, actor, events.KindHierarchyChange, events.EntityWorkstream, id, id, nil); err != nil {
		return zero, err
	}
	return transitioned, nil
}

// Move reparents a node. A nil newParentID promotes the node to a root.
// The node, its subtree and the destination parent are all row-locked so
// two concurrent moves over overlapping subtrees serialize instead of
// racing the cycle check.
func (s *WorkstreamService) Move(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) (workstream.Workstream, error) {
	var zero workstream.Workstream
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionUpdate); err != nil {
		return zero, err
	}
	if newParentID != nil {
		if err := s.perms.RequireCan(ctx, actor, *newParentID, ActionCreateChild); err != nil {
			return zero, err
		}
	}

	var ancestorIDs []uuid.UUID
	moved, err := inTx(ctx, func(txCtx context.Context) (workstream.Workstream, error) {
		node, err := s.repo.LockWorkstream(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		newParentDepth := 0
		if newParentID != nil {
			parent, err := s.repo.LockWorkstream(txCtx, *newParentID)
			if err != nil {
				return zero, mapPgError(err)
			}
			newParentDepth = parent.Depth
		}
		subtree, err := s.repo.LockSubtree(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		// Validation runs only after the node, its subtree and the
		// destination are all row-locked. A concurrent move that would
		// reroute the destination's chain into this subtree either
		// committed before the locks (the walk below sees it) or blocks
		// on one of them until this transaction is done.
		oldChain, err := GetAncestors(txCtx, s.repo, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		if newParentID != nil {
			cyclic, err := s.validator.WouldCreateCycle(txCtx, id, *newParentID)
			if err != nil {
				return zero, mapPgError(err)
			}
			if cyclic {
				return zero, newValidation("WS_CYCLIC_PARENT", "move would create a cycle in the hierarchy")
			}
			newChain, err := GetAncestors(txCtx, s.repo, *newParentID)
			if err != nil {
				return zero, mapPgError(err)
			}
			ancestorIDs = append(workstreamIDs(oldChain), *newParentID)
			ancestorIDs = append(ancestorIDs, workstreamIDs(newChain)...)
		} else {
			ancestorIDs = workstreamIDs(oldChain)
		}
		if err := s.repo.SetParent(txCtx, id, newParentID); err != nil {
			return zero, mapPgError(err)
		}
		if err := s.repo.UpdateDepths(txCtx, RecomputeDepths(node, newParentDepth, subtree)); err != nil {
			return zero, mapPgError(err)
		}
		ws, err := s.repo.GetWorkstream(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		return ws, nil
	})
	if err != nil {
		return zero, err
	}
	if err := s.publishChange(ctx, actor, events.KindHierarchyChange, events.EntityWorkstream, moved.ID, moved.ID, ancestorIDs); err != nil {
		return zero, err
	}
	return moved, nil
}

// Delete removes a childless node. Grant revocation is an explicit first
// step rather than a schema-level cascade so a failure between the two
// statements rolls both back.
func (s *WorkstreamService) Delete(ctx context.Context, id uuid.UUID) error {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return err
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionDelete); err != nil {
		return err
	}

	var ancestorIDs []uuid.UUID
	_, err = inTx(ctx, func(txCtx context.Context) (struct{}, error) {
		var none struct{}
		if _, err := s.repo.LockWorkstream(txCtx, id); err != nil {
			return none, mapPgError(err)
		}
		hasChildren, err := s.repo.HasChildren(txCtx, id)
		if err != nil {
			return none, mapPgError(err)
		}
		if hasChildren {
			return none, newConflict("WS_HAS_CHILDREN", "workstream has children and cannot be deleted")
		}
		chain, err := GetAncestors(txCtx, s.repo, id)
		if err != nil {
			return none, mapPgError(err)
		}
		ancestorIDs = workstreamIDs(chain)
		if _, err := s.repo.DeleteGrantsOn(txCtx, id); err != nil {
			return none, mapPgError(err)
		}
		if err := s.repo.DeleteWorkstream(txCtx, id); err != nil {
			return none, mapPgError(err)
		}
		return none, nil
	})
	if err != nil {
		return err
	}
	return s.publishChange(ctx, actor, events.KindHierarchyChange, events.EntityWorkstream, id, id, ancestorIDs)
}

// Ancestors returns the parent chain of a node, nearest first.
func (s *WorkstreamService) Ancestors(ctx context.Context, id uuid.UUID) ([]workstream.Workstream, error) {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionView); err != nil {
		return nil, err
	}
	return inTx(ctx, func(txCtx context.Context) ([]workstream.Workstream, error) {
		chain, err := GetAncestors(txCtx, s.repo, id)
		if err != nil {
			return nil, mapPgError(err)
		}
		return chain, nil
	})
}

// Descendants returns the full subtree below a node in breadth-first
// order, excluding the node itself.
func (s *WorkstreamService) Descendants(ctx context.Context, id uuid.UUID) ([]workstream.Workstream, error) {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionView); err != nil {
		return nil, err
	}
	return inTx(ctx, func(txCtx context.Context) ([]workstream.Workstream, error) {
		nodes, err := GetDescendants(txCtx, s.repo, id)
		if err != nil {
			return nil, mapPgError(err)
		}
		return nodes, nil
	})
}

// Tree returns the node followed by its full subtree, served from the
// permission cache when a consistent copy is available.
func (s *WorkstreamService) Tree(ctx context.Context, rootID uuid.UUID) ([]workstream.Workstream, error) {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireCan(ctx, actor, rootID, ActionView); err != nil {
		return nil, err
	}
	if nodes, ok := s.cache.GetTree(ctx, rootID); ok {
		return nodes, nil
	}
	epoch := s.cache.Epoch(ctx, rootID)
	nodes, err := inTx(ctx, func(txCtx context.Context) ([]workstream.Workstream, error) {
		root, err := s.repo.GetWorkstream(txCtx, rootID)
		if err != nil {
			return nil, mapPgError(err)
		}
		descendants, err := GetDescendants(txCtx, s.repo, rootID)
		if err != nil {
			return nil, mapPgError(err)
		}
		return append([]workstream.Workstream{root}, descendants...), nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.SetTree(ctx, rootID, nodes, epoch)
	return nodes, nil
}

// BulkGet returns the subset of the requested workstreams the actor may
// view. Inaccessible and missing ids are silently omitted.
func (s *WorkstreamService) BulkGet(ctx context.Context, ids []uuid.UUID) ([]workstream.Workstream, error) {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.perms.FilterViewable(ctx, actor, ids)
}

func (s *WorkstreamService) TransferOwnership(ctx context.Context, id, newOwnerID uuid.UUID) (workstream.Workstream, error) {
	var zero workstream.Workstream
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	if err := s.perms.RequireCan(ctx, actor, id, ActionTransferOwnership); err != nil {
		return zero, err
	}
	updated, err := inTx(ctx, func(txCtx context.Context) (workstream.Workstream, error) {
		if _, err := s.repo.LockWorkstream(txCtx, id); err != nil {
			return zero, mapPgError(err)
		}
		owner := newOwnerID
		if err := s.repo.SetOwner(txCtx, id, &owner); err != nil {
			return zero, mapPgError(err)
		}
		ws, err := s.repo.GetWorkstream(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		return ws, nil
	})
	if err != nil {
		return zero, err
	}
	if err := s.publishChange(ctx, actor, events.KindOwnershipChange, events.EntityOwnership, id, id, nil); err != nil {
		return zero, err
	}
	return updated, nil
}

func (s *WorkstreamService) publishChange(
	ctx context.Context,
	actor composables.Actor,
	kind events.Kind,
	entityType string,
	entityID, workstreamID uuid.UUID,
	ancestorIDs []uuid.UUID,
) error {
	ev := events.NewV1(composables.UseRequestID(ctx), kind, entityType, entityID, workstreamID, actor.UserID)
	ev.AncestorIDs = ancestorIDs
	if err := s.bus.PublishE(ctx, ev); err != nil {
		return mapPgError(err)
	}
	return nil
}

func workstreamIDs(nodes []workstream.Workstream) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.ID)
	}
	return ids
}
