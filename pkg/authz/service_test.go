package authz_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/authz"
)

const testModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

func writeTestPolicy(t *testing.T, dir string, admin uuid.UUID) (model, policy string) {
	t.Helper()
	model = filepath.Join(dir, "model.conf")
	policy = filepath.Join(dir, "policy.csv")

	require.NoError(t, os.WriteFile(model, []byte(testModel), 0o600))
	lines := "p, role:platform_admin, global, workstreams, override\n" +
		"g, user:" + admin.String() + ", role:platform_admin, global\n"
	require.NoError(t, os.WriteFile(policy, []byte(lines), 0o600))
	return model, policy
}

func newTestService(t *testing.T, mode authz.Mode, admin uuid.UUID) *authz.Service {
	t.Helper()
	model, policy := writeTestPolicy(t, t.TempDir(), admin)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc, err := authz.NewService(authz.Config{
		ModelPath:    model,
		PolicyPath:   policy,
		Logger:       logger,
		FlagProvider: authz.StaticFlagProvider(mode),
	})
	require.NoError(t, err)
	return svc
}

func TestHasGlobalOverride_Enforce(t *testing.T) {
	admin := uuid.New()
	svc := newTestService(t, authz.ModeEnforce, admin)
	ctx := context.Background()

	elevated, err := svc.HasGlobalOverride(ctx, admin)
	require.NoError(t, err)
	require.True(t, elevated)

	elevated, err = svc.HasGlobalOverride(ctx, uuid.New())
	require.NoError(t, err)
	require.False(t, elevated)

	elevated, err = svc.HasGlobalOverride(ctx, uuid.Nil)
	require.NoError(t, err)
	require.False(t, elevated)
}

func TestHasGlobalOverride_ShadowMatchesButDenies(t *testing.T) {
	admin := uuid.New()
	svc := newTestService(t, authz.ModeShadow, admin)

	elevated, err := svc.HasGlobalOverride(context.Background(), admin)
	require.NoError(t, err)
	require.False(t, elevated)
}

func TestHasGlobalOverride_DisabledNeverGrants(t *testing.T) {
	admin := uuid.New()
	svc := newTestService(t, authz.ModeDisabled, admin)

	elevated, err := svc.HasGlobalOverride(context.Background(), admin)
	require.NoError(t, err)
	require.False(t, elevated)
}

func TestCheck_DirectPolicyEvaluation(t *testing.T) {
	admin := uuid.New()
	svc := newTestService(t, authz.ModeEnforce, admin)
	ctx := context.Background()

	allowed, err := svc.Check(ctx, authz.NewRequest(authz.SubjectForUser(admin), authz.ObjectWorkstreams, authz.ActionOverride))
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = svc.Check(ctx, authz.NewRequest(authz.SubjectForUser(admin), authz.ObjectWorkstreams, "delete"))
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestNewService_ConfigValidation(t *testing.T) {
	_, err := authz.NewService(authz.Config{PolicyPath: "p.csv", FlagMode: authz.ModeEnforce, FlagPath: "f.yaml"})
	require.Error(t, err)

	_, err = authz.NewService(authz.Config{ModelPath: "m.conf", FlagMode: authz.ModeEnforce, FlagPath: "f.yaml"})
	require.Error(t, err)

	_, err = authz.NewService(authz.Config{ModelPath: "m.conf", PolicyPath: "p.csv"})
	require.Error(t, err)
}

func TestSubjectForUser(t *testing.T) {
	id := uuid.New()
	require.Equal(t, "user:"+id.String(), authz.SubjectForUser(id))
	require.Equal(t, "user:anonymous", authz.SubjectForUser(uuid.Nil))
}
