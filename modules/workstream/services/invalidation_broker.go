package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/events"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
)

// CacheInvalidationBroker evicts derived permission state after every
// committed mutation. It runs synchronously on the event bus: the
// triggering service publishes with PublishE, so an eviction failure fails
// the mutation itself and no caller ever observes success over a stale
// cache. Over-eviction is harmless, under-eviction is a correctness bug,
// so the affected set is computed generously.
type CacheInvalidationBroker struct {
	repo   Repository
	cache  PermissionCache
	logger *logrus.Entry
}

func NewCacheInvalidationBroker(repo Repository, cache PermissionCache, logger *logrus.Logger) *CacheInvalidationBroker {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if logger != nil {
		entry = logger.WithField("component", "invalidation")
	}
	return &CacheInvalidationBroker{
		repo:   repo,
		cache:  cache,
		logger: entry,
	}
}

// Register subscribes the broker to the event bus.
func (b *CacheInvalidationBroker) Register(bus eventbus.EventBusWithError) {
	bus.Subscribe(b.handle)
}

func (b *CacheInvalidationBroker) handle(ctx context.Context, ev events.WorkstreamEventV1) error {
	start := time.Now()

	affected, err := b.affectedNodes(ctx, ev)
	if err != nil {
		return err
	}

	evicted, err := b.cache.Evict(ctx, affected)
	if err != nil {
		return newServiceError(500, "WS_CACHE_EVICTION_FAILED", "cache eviction failed", err)
	}
	elapsed := time.Since(start)

	_, err = inTx(ctx, func(txCtx context.Context) (uuid.UUID, error) {
		id, err := b.repo.InsertInvalidationEvent(txCtx, InvalidationEventInsert{
			RequestID:    ev.RequestID,
			Kind:         string(ev.Kind),
			EntityType:   ev.EntityType,
			EntityID:     ev.EntityID,
			WorkstreamID: ev.WorkstreamID,
			KeysEvicted:  evicted,
			Duration:     elapsed,
			OccurredAt:   time.Now().UTC(),
		})
		if err != nil {
			return uuid.Nil, mapPgError(err)
		}
		return id, nil
	})
	if err != nil {
		return err
	}

	recordInvalidation(string(ev.Kind), evicted, elapsed)
	b.logger.WithFields(logrus.Fields{
		"kind":          ev.Kind,
		"workstream_id": ev.WorkstreamID,
		"nodes":         len(affected),
		"keys_evicted":  evicted,
		"duration":      elapsed,
	}).Debug("cache invalidated")
	return nil
}

// affectedNodes is the node set whose cache keys a mutation can have
// stale: the node itself, its whole subtree (inherited resolutions), its
// ancestors (cached tree representations containing it), and the ancestor
// chains snapshotted on the event. The snapshot covers nodes the
// post-commit tree no longer reaches, such as the old parents of a moved
// node or the chain above a deleted one.
func (b *CacheInvalidationBroker) affectedNodes(ctx context.Context, ev events.WorkstreamEventV1) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]struct{}{ev.WorkstreamID: {}}
	affected := []uuid.UUID{ev.WorkstreamID}
	add := func(ids []uuid.UUID) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			affected = append(affected, id)
		}
	}
	add(ev.AncestorIDs)

	reachable, err := inTx(ctx, func(txCtx context.Context) ([]uuid.UUID, error) {
		if _, err := b.repo.GetWorkstream(txCtx, ev.WorkstreamID); err != nil {
			// The node is gone after a delete; the event snapshot is all
			// that remains to evict.
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, mapPgError(err)
		}
		descendants, err := GetDescendants(txCtx, b.repo, ev.WorkstreamID)
		if err != nil {
			return nil, mapPgError(err)
		}
		ancestors, err := GetAncestors(txCtx, b.repo, ev.WorkstreamID)
		if err != nil {
			return nil, mapPgError(err)
		}
		return append(workstreamIDs(descendants), workstreamIDs(ancestors)...), nil
	})
	if err != nil {
		return nil, err
	}
	add(reachable)
	return affected, nil
}
