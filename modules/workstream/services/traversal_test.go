package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/composables"
)

func TestGetAncestors_NearestFirst(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	root, child, grandchild := threeLevelTree(t, env, owner)
	ctx := context.Background()

	chain, err := GetAncestors(ctx, env.repo, grandchild)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, child, chain[0].ID)
	require.Equal(t, root, chain[1].ID)

	chain, err = GetAncestors(ctx, env.repo, root)
	require.NoError(t, err)
	require.Empty(t, chain)
}

func TestGetDescendants_FullSubtree(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	root := env.mustCreate(t, ctx, "root", "product_line", nil)
	left := env.mustCreate(t, ctx, "left", "initiative", &root.ID)
	right := env.mustCreate(t, ctx, "right", "initiative", &root.ID)
	leaf := env.mustCreate(t, ctx, "leaf", "experiment", &left.ID)

	nodes, err := GetDescendants(context.Background(), env.repo, root.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	seen := map[uuid.UUID]bool{}
	for _, n := range nodes {
		seen[n.ID] = true
	}
	require.True(t, seen[left.ID] && seen[right.ID] && seen[leaf.ID])

	nodes, err = GetDescendants(context.Background(), env.repo, leaf.ID)
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestTraversal_DetectsCorruptedChains(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	a := env.mustCreate(t, ctx, "a", "product_line", nil)
	b := env.mustCreate(t, ctx, "b", "initiative", &a.ID)

	// Corrupt the store directly: a's parent becomes its own child.
	env.repo.mu.Lock()
	ws := env.repo.workstreams[a.ID]
	ws.ParentID = &b.ID
	env.repo.workstreams[a.ID] = ws
	env.repo.mu.Unlock()

	_, err := GetAncestors(context.Background(), env.repo, b.ID)
	require.ErrorIs(t, err, errHierarchyCorrupted)

	_, err = GetDescendants(context.Background(), env.repo, a.ID)
	require.ErrorIs(t, err, errHierarchyCorrupted)
}

func TestGetAncestors_MissingNode(t *testing.T) {
	env := newTestEnv(t)
	_, err := GetAncestors(context.Background(), env.repo, uuid.New())
	require.Error(t, err)
}

// Verify the fake honors the interfaces the traversal helpers expect.
var (
	_ AncestorSource   = (*fakeRepo)(nil)
	_ DescendantSource = (*fakeRepo)(nil)
)
