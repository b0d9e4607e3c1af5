package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/events"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/reviewtask"
	"github.com/cadenzahq/cadenza/pkg/composables"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
)

const reasonOwnerRemoved = "owner removed"

// OwnershipService reacts to user removal: every workstream the user owned
// is orphaned (owner set to null) and gets exactly one open review task so
// a human can reassign ownership later. The task stores the previous owner
// as plain text, so it stays referentially valid after the user row is
// gone. Orphaning is not an error condition for the caller that removed
// the user.
type OwnershipService struct {
	repo     Repository
	override OverridePolicy
	bus      eventbus.EventBusWithError
	logger   *logrus.Entry
}

func NewOwnershipService(repo Repository, override OverridePolicy, bus eventbus.EventBusWithError, logger *logrus.Logger) *OwnershipService {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if logger != nil {
		entry = logger.WithField("component", "ownership")
	}
	return &OwnershipService{
		repo:     repo,
		override: override,
		bus:      bus,
		logger:   entry,
	}
}

// HandleUserRemoved orphans all workstreams owned by the removed user and
// revokes every grant held by them. It returns the created review tasks.
func (s *OwnershipService) HandleUserRemoved(ctx context.Context, removedUserID uuid.UUID) ([]reviewtask.ReviewTask, error) {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.requireOverride(ctx, actor); err != nil {
		return nil, err
	}
	if removedUserID == uuid.Nil {
		return nil, newValidation("WS_INVALID_BODY", "user id is required")
	}

	var orphanedIDs []uuid.UUID
	var grantWorkstreamIDs []uuid.UUID
	tasks, err := inTx(ctx, func(txCtx context.Context) ([]reviewtask.ReviewTask, error) {
		owned, err := s.repo.LockOwnedBy(txCtx, removedUserID)
		if err != nil {
			return nil, mapPgError(err)
		}
		created := make([]reviewtask.ReviewTask, 0, len(owned))
		for _, ws := range owned {
			if err := s.repo.SetOwner(txCtx, ws.ID, nil); err != nil {
				return nil, mapPgError(err)
			}
			task := reviewtask.ReviewTask{
				ID:               uuid.New(),
				WorkstreamID:     ws.ID,
				WorkstreamName:   ws.Name,
				PreviousOwnerRef: removedUserID.String(),
				Reason:           reasonOwnerRemoved,
				Status:           reviewtask.StatusOpen,
				CreatedAt:        time.Now().UTC(),
			}
			if _, err := s.repo.InsertReviewTask(txCtx, task); err != nil {
				return nil, mapPgError(err)
			}
			created = append(created, task)
			orphanedIDs = append(orphanedIDs, ws.ID)
		}
		grantWorkstreamIDs, err = s.repo.DeleteGrantsForUser(txCtx, removedUserID)
		if err != nil {
			return nil, mapPgError(err)
		}
		return created, nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range orphanedIDs {
		ev := events.NewV1(composables.UseRequestID(ctx), events.KindOwnershipChange, events.EntityOwnership, id, id, actor.UserID)
		if err := s.bus.PublishE(ctx, ev); err != nil {
			return nil, mapPgError(err)
		}
	}
	for _, id := range grantWorkstreamIDs {
		ev := events.NewV1(composables.UseRequestID(ctx), events.KindGrantChange, events.EntityGrant, id, id, actor.UserID)
		if err := s.bus.PublishE(ctx, ev); err != nil {
			return nil, mapPgError(err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"removed_user_id": removedUserID,
		"orphaned":        len(orphanedIDs),
	}).Info("ownership orphaned after user removal")
	return tasks, nil
}

// ListReviewTasks returns review tasks with the given status, newest first.
func (s *OwnershipService) ListReviewTasks(ctx context.Context, status reviewtask.Status) ([]reviewtask.ReviewTask, error) {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.requireOverride(ctx, actor); err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListReviewTasks(ctx, status)
	if err != nil {
		return nil, mapPgError(err)
	}
	return tasks, nil
}

// CompleteReviewTask marks an open task as done.
func (s *OwnershipService) CompleteReviewTask(ctx context.Context, id uuid.UUID) error {
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return err
	}
	if err := s.requireOverride(ctx, actor); err != nil {
		return err
	}
	_, err = inTx(ctx, func(txCtx context.Context) (struct{}, error) {
		var none struct{}
		if err := s.repo.CompleteReviewTask(txCtx, id, time.Now().UTC()); err != nil {
			return none, mapPgError(err)
		}
		return none, nil
	})
	return err
}

// requireOverride gates operations that are not scoped to a single node on
// the platform-wide override role.
func (s *OwnershipService) requireOverride(ctx context.Context, actor composables.Actor) error {
	if actor.GlobalOverride {
		return nil
	}
	if s.override != nil {
		elevated, err := s.override.HasGlobalOverride(ctx, actor.UserID)
		if err != nil {
			return err
		}
		if elevated {
			return nil
		}
	}
	return newPermissionDenied("platform override required")
}
