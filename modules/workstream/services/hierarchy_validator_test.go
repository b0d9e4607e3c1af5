package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

func TestWouldCreateCycle(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	root, child, grandchild := threeLevelTree(t, env, owner)
	other := env.mustCreate(t, env.ctx(composables.Actor{UserID: owner}), "other", "product_line", nil)

	validator := NewHierarchyValidator(env.repo)
	ctx := env.ctx(composables.Actor{UserID: owner})

	cyclic, err := validator.WouldCreateCycle(ctx, root, root)
	require.NoError(t, err)
	require.True(t, cyclic, "a node cannot be its own parent")

	cyclic, err = validator.WouldCreateCycle(ctx, root, grandchild)
	require.NoError(t, err)
	require.True(t, cyclic, "a node cannot move under its own descendant")

	cyclic, err = validator.WouldCreateCycle(ctx, grandchild, root)
	require.NoError(t, err)
	require.False(t, cyclic)

	cyclic, err = validator.WouldCreateCycle(ctx, child, other.ID)
	require.NoError(t, err)
	require.False(t, cyclic)
}

func TestRecomputeDepths(t *testing.T) {
	moved := workstream.Workstream{ID: uuid.New(), Depth: 4}
	childA := workstream.Workstream{ID: uuid.New(), Depth: 5}
	leaf := workstream.Workstream{ID: uuid.New(), Depth: 6}

	// Moving a depth-4 node under a depth-1 parent shifts the whole
	// subtree up by two.
	updates := RecomputeDepths(moved, 1, []workstream.Workstream{childA, leaf})
	require.Len(t, updates, 3)
	byID := map[uuid.UUID]int{}
	for _, u := range updates {
		byID[u.ID] = u.Depth
	}
	require.Equal(t, 2, byID[moved.ID])
	require.Equal(t, 3, byID[childA.ID])
	require.Equal(t, 4, byID[leaf.ID])

	// Promotion to root.
	updates = RecomputeDepths(moved, 0, []workstream.Workstream{childA})
	byID = map[uuid.UUID]int{}
	for _, u := range updates {
		byID[u.ID] = u.Depth
	}
	require.Equal(t, 1, byID[moved.ID])
	require.Equal(t, 2, byID[childA.ID])

	// The moved node itself is skipped when the subtree slice includes it.
	updates = RecomputeDepths(moved, 3, []workstream.Workstream{moved, childA})
	require.Len(t, updates, 2)
}
