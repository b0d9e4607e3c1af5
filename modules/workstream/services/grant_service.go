package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/events"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/pkg/composables"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
)

type CreateGrantInput struct {
	WorkstreamID uuid.UUID
	UserID       uuid.UUID
	Level        string
	Scope        string
}

type UpdateGrantInput struct {
	Level string
	Scope string
}

// GrantService manages permission grants. Every mutation is gated on
// manage_grants for the target workstream, which resolves to admin level
// or ownership, and publishes a grant.changed event after commit.
type GrantService struct {
	repo   Repository
	perms  *PermissionService
	bus    eventbus.EventBusWithError
	logger *logrus.Logger
}

func NewGrantService(repo Repository, perms *PermissionService, bus eventbus.EventBusWithError, logger *logrus.Logger) *GrantService {
	return &GrantService{
		repo:   repo,
		perms:  perms,
		bus:    bus,
		logger: logger,
	}
}

func (s *GrantService) Create(ctx context.Context, input CreateGrantInput) (grant.Grant, error) {
	var zero grant.Grant
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	if input.UserID == uuid.Nil {
		return zero, newValidation("WS_INVALID_BODY", "user id is required")
	}
	level, err := grant.ParseLevel(input.Level)
	if err != nil || !level.Grantable() {
		return zero, newValidation("WS_INVALID_LEVEL", "level must be one of view, edit, admin")
	}
	scope, err := grant.ParseScope(input.Scope)
	if err != nil {
		return zero, newValidation("WS_INVALID_SCOPE", err.Error())
	}
	if err := s.perms.RequireCan(ctx, actor, input.WorkstreamID, ActionManageGrants); err != nil {
		return zero, err
	}

	created, err := inTx(ctx, func(txCtx context.Context) (grant.Grant, error) {
		// Lock the node so the grant serializes with structural mutations
		// on the same subtree.
		if _, err := s.repo.LockWorkstream(txCtx, input.WorkstreamID); err != nil {
			return zero, mapPgError(err)
		}
		id, err := s.repo.InsertGrant(txCtx, GrantInsert{
			WorkstreamID: input.WorkstreamID,
			UserID:       input.UserID,
			Level:        level,
			Scope:        scope,
			GrantedBy:    actor.UserID,
		})
		if err != nil {
			return zero, mapPgError(err)
		}
		g, err := s.repo.GetGrant(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		return g, nil
	})
	if err != nil {
		return zero, err
	}
	if err := s.publishChange(ctx, actor, created.ID, created.WorkstreamID); err != nil {
		return zero, err
	}
	return created, nil
}

func (s *GrantService) Update(ctx context.Context, id uuid.UUID, input UpdateGrantInput) (grant.Grant, error) {
	var zero grant.Grant
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return zero, err
	}
	level, err := grant.ParseLevel(input.Level)
	if err != nil || !level.Grantable() {
		return zero, newValidation("WS_INVALID_LEVEL", "level must be one of view, edit, admin")
	}
	scope, err := grant.ParseScope(input.Scope)
	if err != nil {
		return zero, newValidation("WS_INVALID_SCOPE", err.Error())
	}
	existing, err := s.repo.GetGrant(ctx, id)
	if err != nil {
		return zero, mapPgError(err)
	}
	if err := s.perms.RequireCan(ctx, actor, existing.WorkstreamID, ActionManageGrants); err != nil {
		return zero, err
	}

	updated, err := inTx(ctx, func(txCtx context.Context) (grant.Grant, error) {
		if _, err := s.repo.GetGrant(txCtx, id); err != nil {
			return zero, mapPgError(err)
		}
		if err := s.repo.UpdateGrant(txCtx, id, level, scope); err != nil {
			return zero, mapPgError(err)
		}
		g, err := s.repo.GetGrant(txCtx, id)
		if err != nil {
			return zero, mapPgError(err)
		}
		return g, nil
	})
	if err != nil {
		return zero, err
	}
	if err := s.publishChange(ctx, actor, updated.ID, updated.WorkstreamID); err != nil {
		return zero, err
	}
	return updated, nil
}

func (s *GrantService) Revoke(ctx context.Context, id uuid.UUID) error {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return err
	}
	existing, err := s.repo.GetGrant(ctx, id)
	if err != nil {
		return mapPgError(err)
	}
	if err := s.perms.RequireCan(ctx, actor, existing.WorkstreamID, ActionManageGrants); err != nil {
		return err
	}

	_, err = inTx(ctx, func(txCtx context.Context) (struct{}, error) {
		var none struct{}
		if err := s.repo.DeleteGrant(txCtx, id); err != nil {
			return none, mapPgError(err)
		}
		return none, nil
	})
	if err != nil {
		return err
	}
	return s.publishChange(ctx, actor, id, existing.WorkstreamID)
}

// List returns all grants on a workstream, newest first.
func (s *GrantService) List(ctx context.Context, workstreamID uuid.UUID) ([]grant.Grant, error) {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireCan(ctx, actor, workstreamID, ActionManageGrants); err != nil {
		return nil, err
	}
	grants, err := s.repo.ListGrantsOn(ctx, workstreamID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return grants, nil
}

func (s *GrantService) publishChange(ctx context.Context, actor composables.Actor, grantID, workstreamID uuid.UUID) error {
	ev := events.NewV1(
		composables.UseRequestID(ctx),
		events.KindGrantChange,
		events.EntityGrant,
		grantID,
		workstreamID,
		actor.UserID,
	)
	if err := s.bus.PublishE(ctx, ev); err != nil {
		return mapPgError(err)
	}
	return nil
}
