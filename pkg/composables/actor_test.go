package composables_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/composables"
)

func TestActorRoundTrip(t *testing.T) {
	actor := composables.Actor{UserID: uuid.New(), GlobalOverride: true}
	ctx := composables.WithActor(context.Background(), actor)

	got, err := composables.UseActor(ctx)
	require.NoError(t, err)
	require.Equal(t, actor, got)
}

func TestUseActor_Missing(t *testing.T) {
	_, err := composables.UseActor(context.Background())
	require.ErrorIs(t, err, composables.ErrNoActor)

	// A nil user id never counts as an authenticated actor.
	ctx := composables.WithActor(context.Background(), composables.Actor{})
	_, err = composables.UseActor(ctx)
	require.ErrorIs(t, err, composables.ErrNoActor)
}

func TestRequestID(t *testing.T) {
	ctx := composables.WithRequestID(context.Background(), "req-123")
	require.Equal(t, "req-123", composables.UseRequestID(ctx))

	// Without one in context a fresh id is minted per call.
	generated := composables.UseRequestID(context.Background())
	require.NotEmpty(t, generated)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
}
