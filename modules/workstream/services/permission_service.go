package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

// OverridePolicy decides whether a user holds the platform-wide override
// role. It is injected so privileged identities live in policy configuration
// rather than in a compiled-in list.
type OverridePolicy interface {
	HasGlobalOverride(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Source records which rule produced an effective permission.
type Source string

const (
	SourceOverride  Source = "override"
	SourceOwner     Source = "owner"
	SourceDirect    Source = "direct"
	SourceInherited Source = "inherited"
	SourceNone      Source = "none"
)

// Resolution is the outcome of EffectivePermission. FromAncestorID is set
// only for inherited results and names the ancestor whose grant applied.
type Resolution struct {
	Level          grant.Level
	Source         Source
	FromAncestorID *uuid.UUID
}

// Action names an operation checked through CanPerform.
type Action string

const (
	ActionView              Action = "view"
	ActionUpdate            Action = "update"
	ActionCreateChild       Action = "create_child"
	ActionDelete            Action = "delete"
	ActionManageGrants      Action = "manage_grants"
	ActionTransferOwnership Action = "transfer_ownership"
)

// minimumLevel maps an action to the weakest level allowed to perform it.
// Ownership needs no special casing here: owners resolve to admin.
func (a Action) minimumLevel() (grant.Level, bool) {
	switch a {
	case ActionView:
		return grant.LevelView, true
	case ActionUpdate, ActionCreateChild:
		return grant.LevelEdit, true
	case ActionDelete, ActionManageGrants, ActionTransferOwnership:
		return grant.LevelAdmin, true
	}
	return grant.LevelNone, false
}

type PermissionService struct {
	repo     Repository
	cache    PermissionCache
	override OverridePolicy
	logger   *logrus.Entry
}

func NewPermissionService(repo Repository, cache PermissionCache, override OverridePolicy, logger *logrus.Logger) *PermissionService {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if logger != nil {
		entry = logger.WithField("component", "permissions")
	}
	return &PermissionService{
		repo:     repo,
		cache:    cache,
		override: override,
		logger:   entry,
	}
}

// EffectivePermission resolves the access level of actor on the workstream:
// global override, then ownership, then a grant directly on the node, then
// the nearest ancestor grant scoped to descendants, unbounded distance. A
// direct grant always wins over inheritance, even when it is weaker.
func (s *PermissionService) EffectivePermission(ctx context.Context, actor composables.Actor, workstreamID uuid.UUID) (Resolution, error) {
	if actor.UserID == uuid.Nil {
		return Resolution{}, newValidation("WS_INVALID_ACTOR", "user id is required")
	}
	if workstreamID == uuid.Nil {
		return Resolution{}, newValidation("WS_INVALID_BODY", "workstream id is required")
	}

	if actor.GlobalOverride {
		return Resolution{Level: grant.LevelAdmin, Source: SourceOverride}, nil
	}
	if s.override != nil {
		elevated, err := s.override.HasGlobalOverride(ctx, actor.UserID)
		if err != nil {
			return Resolution{}, err
		}
		if elevated {
			return Resolution{Level: grant.LevelAdmin, Source: SourceOverride}, nil
		}
	}

	if res, ok := s.cache.GetResolution(ctx, workstreamID, actor.UserID); ok {
		recordResolution(string(res.Source), true)
		return res, nil
	}

	// The epoch is taken before the resolving read begins. If an eviction
	// lands in between, the fill below is dropped instead of writing a
	// result computed from the pre-eviction snapshot.
	epoch := s.cache.Epoch(ctx, workstreamID)
	res, err := inTx(ctx, func(txCtx context.Context) (Resolution, error) {
		return s.resolve(txCtx, actor.UserID, workstreamID)
	})
	if err != nil {
		return Resolution{}, err
	}

	s.cache.SetResolution(ctx, workstreamID, actor.UserID, res, epoch)
	recordResolution(string(res.Source), false)
	return res, nil
}

// resolve runs inside one transaction snapshot.
func (s *PermissionService) resolve(ctx context.Context, userID, workstreamID uuid.UUID) (Resolution, error) {
	ws, err := s.repo.GetWorkstream(ctx, workstreamID)
	if err != nil {
		return Resolution{}, mapPgError(err)
	}

	if ws.OwnedBy(userID) {
		return Resolution{Level: grant.LevelAdmin, Source: SourceOwner}, nil
	}

	direct, err := s.repo.GetGrantsFor(ctx, workstreamID, userID)
	if err != nil {
		return Resolution{}, mapPgError(err)
	}
	if len(direct) > 0 {
		// Any scope: a direct grant applies to its own node regardless of
		// how far it propagates.
		return Resolution{Level: strongest(direct), Source: SourceDirect}, nil
	}

	ancestors, err := GetAncestors(ctx, s.repo, workstreamID)
	if err != nil {
		return Resolution{}, mapPgError(err)
	}
	for _, ancestor := range ancestors {
		grants, err := s.repo.GetGrantsFor(ctx, ancestor.ID, userID)
		if err != nil {
			return Resolution{}, mapPgError(err)
		}
		propagating := grants[:0:0]
		for _, g := range grants {
			if g.Scope == grant.ScopeSelfAndDescendants {
				propagating = append(propagating, g)
			}
		}
		if len(propagating) > 0 {
			ancestorID := ancestor.ID
			return Resolution{
				Level:          strongest(propagating),
				Source:         SourceInherited,
				FromAncestorID: &ancestorID,
			}, nil
		}
	}

	return Resolution{Level: grant.LevelNone, Source: SourceNone}, nil
}

// strongest picks the highest level among grants on one node. Multiple
// levels can coexist per user because the uniqueness constraint is per
// (workstream, user, level).
func strongest(grants []grant.Grant) grant.Level {
	level := grant.LevelNone
	for _, g := range grants {
		level = grant.Max(level, g.Level)
	}
	return level
}

// CanPerform reports whether actor may carry out action on the workstream.
func (s *PermissionService) CanPerform(ctx context.Context, actor composables.Actor, workstreamID uuid.UUID, action Action) (bool, error) {
	minimum, ok := action.minimumLevel()
	if !ok {
		return false, newValidation("WS_INVALID_ACTION", "unknown action: "+string(action))
	}
	res, err := s.EffectivePermission(ctx, actor, workstreamID)
	if err != nil {
		return false, err
	}
	return res.Level.AtLeast(minimum), nil
}

// RequireCan is CanPerform as a guard: a denial comes back as a
// PermissionDenied service error.
func (s *PermissionService) RequireCan(ctx context.Context, actor composables.Actor, workstreamID uuid.UUID, action Action) error {
	allowed, err := s.CanPerform(ctx, actor, workstreamID, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logger.WithFields(logrus.Fields{
			"user_id":       actor.UserID,
			"workstream_id": workstreamID,
			"action":        action,
		}).Debug("permission denied")
		return newPermissionDenied("not allowed to " + string(action))
	}
	return nil
}

// FilterViewable returns the subset of the given workstreams the actor may
// view, preserving input order. Inaccessible and missing ids are silently
// omitted; they never surface as per-item errors.
func (s *PermissionService) FilterViewable(ctx context.Context, actor composables.Actor, ids []uuid.UUID) ([]workstream.Workstream, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	visible := make([]workstream.Workstream, 0, len(ids))
	for _, id := range ids {
		res, err := s.EffectivePermission(ctx, actor, id)
		if err != nil {
			var svcErr *ServiceError
			if errors.As(err, &svcErr) && svcErr.Kind() == KindNotFound {
				continue
			}
			return nil, err
		}
		if !res.Level.AtLeast(grant.LevelView) {
			continue
		}
		ws, err := inTx(ctx, func(txCtx context.Context) (workstream.Workstream, error) {
			return s.repo.GetWorkstream(txCtx, id)
		})
		if err != nil {
			var svcErr *ServiceError
			if mapped := mapPgError(err); errors.As(mapped, &svcErr) && svcErr.Kind() == KindNotFound {
				continue
			}
			return nil, err
		}
		visible = append(visible, ws)
	}
	return visible, nil
}
