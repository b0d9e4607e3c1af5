package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/events"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

func TestBroker_GrantChangeEvictsDescendantResolutions(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	user := uuid.New()
	root, child, grandchild := threeLevelTree(t, env, owner)

	// Warm resolutions at every level of the subtree.
	userCtx := env.ctx(composables.Actor{UserID: user})
	for _, id := range []uuid.UUID{root, child, grandchild} {
		_, err := env.perms.EffectivePermission(userCtx, composables.Actor{UserID: user}, id)
		require.NoError(t, err)
		_, ok := env.cache.GetResolution(userCtx, id, user)
		require.True(t, ok)
	}

	ownerCtx := env.ctx(composables.Actor{UserID: owner})
	_, err := env.grants.Create(ownerCtx, CreateGrantInput{
		WorkstreamID: child,
		UserID:       user,
		Level:        "view",
		Scope:        "self_and_descendants",
	})
	require.NoError(t, err)

	// A grant on child touches child, its descendants and its ancestors.
	for _, id := range []uuid.UUID{root, child, grandchild} {
		_, ok := env.cache.GetResolution(userCtx, id, user)
		require.False(t, ok, "resolution on %s survived eviction", id)
	}
}

func TestBroker_AppendsOneAuditRowPerMutation(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})

	ws := env.mustCreate(t, ctx, "audited", "initiative", nil)
	require.Equal(t, 1, env.repo.invalidationCount())

	_, err := env.workstreams.Transition(ctx, ws.ID, "active")
	require.NoError(t, err)
	require.Equal(t, 2, env.repo.invalidationCount())

	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID,
		UserID:       uuid.New(),
		Level:        "view",
		Scope:        "self",
	})
	require.NoError(t, err)
	require.Equal(t, 3, env.repo.invalidationCount())

	last := env.repo.invalidations[len(env.repo.invalidations)-1]
	require.Equal(t, string(events.KindGrantChange), last.Kind)
	require.Equal(t, events.EntityGrant, last.EntityType)
	require.Equal(t, ws.ID, last.WorkstreamID)
	require.False(t, last.OccurredAt.IsZero())
}

func TestBroker_RecordsEvictedKeyCount(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	user := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	ws := env.mustCreate(t, ctx, "counted", "experiment", nil)

	userCtx := env.ctx(composables.Actor{UserID: user})
	_, err := env.perms.EffectivePermission(userCtx, composables.Actor{UserID: user}, ws.ID)
	require.NoError(t, err)

	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID,
		UserID:       user,
		Level:        "view",
		Scope:        "self",
	})
	require.NoError(t, err)

	last := env.repo.invalidations[len(env.repo.invalidations)-1]
	require.GreaterOrEqual(t, last.KeysEvicted, 1)
}

func TestBroker_DeletedNodeEvictedThroughAncestorSnapshot(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	root := env.mustCreate(t, ctx, "parent", "product_line", nil)
	leaf := env.mustCreate(t, ctx, "leaf", "experiment", &root.ID)

	// Warm a resolution on the leaf, then delete it. The node is gone by
	// the time the broker runs, so eviction must rely on the ancestor
	// snapshot carried in the event.
	_, err := env.perms.EffectivePermission(ctx, composables.Actor{UserID: owner}, leaf.ID)
	require.NoError(t, err)

	require.NoError(t, env.workstreams.Delete(ctx, leaf.ID))

	_, ok := env.cache.GetResolution(ctx, leaf.ID, owner)
	require.False(t, ok)
	_, ok = env.cache.GetResolution(ctx, root.ID, owner)
	require.False(t, ok)
}
