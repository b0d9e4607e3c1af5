package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

func TestCreateGrant_Validation(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	ws := env.mustCreate(t, ctx, "guarded", "initiative", nil)

	_, err := env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: uuid.Nil, Level: "view", Scope: "self",
	})
	requireKind(t, err, KindValidation)

	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: uuid.New(), Level: "supreme", Scope: "self",
	})
	requireKind(t, err, KindValidation)

	// "none" is a resolution result, never a grantable level.
	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: uuid.New(), Level: "none", Scope: "self",
	})
	requireKind(t, err, KindValidation)

	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: uuid.New(), Level: "view", Scope: "subtree",
	})
	requireKind(t, err, KindValidation)

	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: uuid.New(), UserID: uuid.New(), Level: "view", Scope: "self",
	})
	requireKind(t, err, KindNotFound)
}

func TestCreateGrant_DuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	user := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	ws := env.mustCreate(t, ctx, "guarded", "initiative", nil)

	first, err := env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: user, Level: "view", Scope: "self",
	})
	require.NoError(t, err)
	require.Equal(t, owner, first.GrantedBy)

	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: user, Level: "view", Scope: "self_and_descendants",
	})
	requireKind(t, err, KindConflict)

	// A different level for the same user is a distinct grant.
	_, err = env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: user, Level: "edit", Scope: "self",
	})
	require.NoError(t, err)
}

func TestGrantMutations_RequireManageGrants(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	editor := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	ws := env.mustCreate(t, ctx, "guarded", "initiative", nil)

	// Edit level is not enough to manage grants.
	_, err := env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: editor, Level: "edit", Scope: "self",
	})
	require.NoError(t, err)

	editorCtx := env.ctx(composables.Actor{UserID: editor})
	_, err = env.grants.Create(editorCtx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: uuid.New(), Level: "view", Scope: "self",
	})
	requireKind(t, err, KindPermissionDenied)

	_, err = env.grants.List(editorCtx, ws.ID)
	requireKind(t, err, KindPermissionDenied)
}

func TestUpdateAndRevokeGrant(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	user := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	ws := env.mustCreate(t, ctx, "guarded", "initiative", nil)

	created, err := env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: user, Level: "view", Scope: "self",
	})
	require.NoError(t, err)

	updated, err := env.grants.Update(ctx, created.ID, UpdateGrantInput{
		Level: "view", Scope: "self_and_descendants",
	})
	require.NoError(t, err)
	require.Equal(t, grant.ScopeSelfAndDescendants, updated.Scope)

	require.NoError(t, env.grants.Revoke(ctx, created.ID))

	listed, err := env.grants.List(ctx, ws.ID)
	require.NoError(t, err)
	require.Empty(t, listed)

	err = env.grants.Revoke(ctx, created.ID)
	requireKind(t, err, KindNotFound)

	_, err = env.grants.Update(ctx, uuid.New(), UpdateGrantInput{Level: "view", Scope: "self"})
	requireKind(t, err, KindNotFound)
}

func TestRevokeGrant_TakesEffectImmediately(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	user := uuid.New()
	ctx := env.ctx(composables.Actor{UserID: owner})
	ws := env.mustCreate(t, ctx, "guarded", "initiative", nil)

	created, err := env.grants.Create(ctx, CreateGrantInput{
		WorkstreamID: ws.ID, UserID: user, Level: "view", Scope: "self",
	})
	require.NoError(t, err)

	userCtx := env.ctx(composables.Actor{UserID: user})
	actor := composables.Actor{UserID: user}
	res, err := env.perms.EffectivePermission(userCtx, actor, ws.ID)
	require.NoError(t, err)
	require.Equal(t, grant.LevelView, res.Level)

	require.NoError(t, env.grants.Revoke(ctx, created.ID))

	res, err = env.perms.EffectivePermission(userCtx, actor, ws.ID)
	require.NoError(t, err)
	require.Equal(t, grant.LevelNone, res.Level)
}
