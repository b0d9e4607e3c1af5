package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
)

func TestMemoryCache_ResolutionRoundTrip(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	wsID := uuid.New()
	userID := uuid.New()

	_, ok := cache.GetResolution(ctx, wsID, userID)
	require.False(t, ok)

	want := Resolution{Level: grant.LevelEdit, Source: SourceDirect}
	cache.SetResolution(ctx, wsID, userID, want, cache.Epoch(ctx, wsID))

	got, ok := cache.GetResolution(ctx, wsID, userID)
	require.True(t, ok)
	require.Equal(t, want, got)

	// Same workstream, different user is a distinct entry.
	_, ok = cache.GetResolution(ctx, wsID, uuid.New())
	require.False(t, ok)
}

func TestMemoryCache_EvictByNode(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()
	user := uuid.New()

	cache.SetResolution(ctx, a, user, Resolution{Level: grant.LevelView, Source: SourceDirect}, 0)
	cache.SetResolution(ctx, a, uuid.New(), Resolution{Level: grant.LevelNone, Source: SourceNone}, 0)
	cache.SetResolution(ctx, b, user, Resolution{Level: grant.LevelAdmin, Source: SourceOwner}, 0)
	cache.SetTree(ctx, a, []workstream.Workstream{{ID: a}}, 0)

	evicted, err := cache.Evict(ctx, []uuid.UUID{a})
	require.NoError(t, err)
	require.Equal(t, 3, evicted)

	_, ok := cache.GetResolution(ctx, a, user)
	require.False(t, ok)
	_, ok = cache.GetTree(ctx, a)
	require.False(t, ok)

	// Entries for other nodes survive.
	res, ok := cache.GetResolution(ctx, b, user)
	require.True(t, ok)
	require.Equal(t, grant.LevelAdmin, res.Level)

	// Evicting again is a no-op.
	evicted, err = cache.Evict(ctx, []uuid.UUID{a, uuid.New()})
	require.NoError(t, err)
	require.Zero(t, evicted)
}

func TestMemoryCache_StaleEpochFillIsDropped(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	wsID := uuid.New()
	userID := uuid.New()

	// An eviction between reading the epoch and writing the fill
	// supersedes the value; the write must be a no-op.
	epoch := cache.Epoch(ctx, wsID)
	_, err := cache.Evict(ctx, []uuid.UUID{wsID})
	require.NoError(t, err)
	require.NotEqual(t, epoch, cache.Epoch(ctx, wsID))

	cache.SetResolution(ctx, wsID, userID, Resolution{Level: grant.LevelView, Source: SourceDirect}, epoch)
	_, ok := cache.GetResolution(ctx, wsID, userID)
	require.False(t, ok)

	cache.SetTree(ctx, wsID, []workstream.Workstream{{ID: wsID}}, epoch)
	_, ok = cache.GetTree(ctx, wsID)
	require.False(t, ok)

	// A fill carrying the current epoch lands.
	cache.SetResolution(ctx, wsID, userID, Resolution{Level: grant.LevelView, Source: SourceDirect}, cache.Epoch(ctx, wsID))
	res, ok := cache.GetResolution(ctx, wsID, userID)
	require.True(t, ok)
	require.Equal(t, grant.LevelView, res.Level)
}

func TestMemoryCache_TreeRoundTrip(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	root := uuid.New()
	nodes := []workstream.Workstream{{ID: root, Name: "root", Depth: 1}}

	cache.SetTree(ctx, root, nodes, cache.Epoch(ctx, root))
	got, ok := cache.GetTree(ctx, root)
	require.True(t, ok)
	require.Equal(t, nodes, got)
}
