package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/reviewtask"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
	"github.com/cadenzahq/cadenza/pkg/composables"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
)

// stubTx satisfies the transaction context slot; the fake repository keeps
// its state in memory and never touches it.
type stubTx struct{ pgx.Tx }

// fakeRepo is an in-memory Repository that mimics the constraint behavior
// of the real schema, including the pg error codes the services translate.
type fakeRepo struct {
	mu            sync.Mutex
	workstreams   map[uuid.UUID]workstream.Workstream
	order         []uuid.UUID
	grants        map[uuid.UUID]grant.Grant
	grantOrder    []uuid.UUID
	invalidations []InvalidationEventInsert
	reviewTasks   map[uuid.UUID]reviewtask.ReviewTask

	// Interleave hooks. Each fires once, is cleared before running, and
	// runs outside the mutex so it may call back into the repo.
	onLockSubtree func()
	onGrantsRead  func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		workstreams: make(map[uuid.UUID]workstream.Workstream),
		grants:      make(map[uuid.UUID]grant.Grant),
		reviewTasks: make(map[uuid.UUID]reviewtask.ReviewTask),
	}
}

func (r *fakeRepo) InsertWorkstream(_ context.Context, ws WorkstreamInsert) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ws.ParentID != nil {
		if _, ok := r.workstreams[*ws.ParentID]; !ok {
			return uuid.Nil, &pgconn.PgError{Code: "23503", ConstraintName: "workstreams_parent_id_fkey"}
		}
	}
	id := uuid.New()
	now := time.Now().UTC()
	r.workstreams[id] = workstream.Workstream{
		ID:          id,
		Name:        ws.Name,
		Description: ws.Description,
		Type:        ws.Type,
		Status:      ws.Status,
		OwnerID:     ws.OwnerID,
		ParentID:    ws.ParentID,
		Depth:       ws.Depth,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.order = append(r.order, id)
	return id, nil
}

func (r *fakeRepo) GetWorkstream(_ context.Context, id uuid.UUID) (workstream.Workstream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workstreams[id]
	if !ok {
		return workstream.Workstream{}, pgx.ErrNoRows
	}
	return ws, nil
}

func (r *fakeRepo) GetWorkstreams(_ context.Context, ids []uuid.UUID) ([]workstream.Workstream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []workstream.Workstream
	for _, id := range ids {
		if ws, ok := r.workstreams[id]; ok {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetChildren(_ context.Context, parentIDs []uuid.UUID) ([]workstream.Workstream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parents := make(map[uuid.UUID]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	var out []workstream.Workstream
	for _, id := range r.order {
		ws := r.workstreams[id]
		if ws.ParentID == nil {
			continue
		}
		if _, ok := parents[*ws.ParentID]; ok {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (r *fakeRepo) HasChildren(ctx context.Context, id uuid.UUID) (bool, error) {
	children, err := r.GetChildren(ctx, []uuid.UUID{id})
	return len(children) > 0, err
}

func (r *fakeRepo) LockWorkstream(ctx context.Context, id uuid.UUID) (workstream.Workstream, error) {
	return r.GetWorkstream(ctx, id)
}

func (r *fakeRepo) LockSubtree(ctx context.Context, rootID uuid.UUID) ([]workstream.Workstream, error) {
	r.mu.Lock()
	hook := r.onLockSubtree
	r.onLockSubtree = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	root, err := r.GetWorkstream(ctx, rootID)
	if err != nil {
		return nil, err
	}
	descendants, err := GetDescendants(ctx, r, rootID)
	if err != nil {
		return nil, err
	}
	return append([]workstream.Workstream{root}, descendants...), nil
}

func (r *fakeRepo) LockOwnedBy(_ context.Context, ownerID uuid.UUID) ([]workstream.Workstream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []workstream.Workstream
	for _, id := range r.order {
		ws := r.workstreams[id]
		if ws.OwnedBy(ownerID) {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateWorkstreamAttrs(_ context.Context, id uuid.UUID, update WorkstreamUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workstreams[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if update.Name != nil {
		ws.Name = *update.Name
	}
	if update.Description != nil {
		ws.Description = *update.Description
	}
	if update.Status != nil {
		ws.Status = *update.Status
	}
	ws.UpdatedAt = time.Now().UTC()
	r.workstreams[id] = ws
	return nil
}

func (r *fakeRepo) SetParent(_ context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workstreams[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ws.ParentID = parentID
	ws.UpdatedAt = time.Now().UTC()
	r.workstreams[id] = ws
	return nil
}

func (r *fakeRepo) UpdateDepths(_ context.Context, updates []DepthUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		ws, ok := r.workstreams[u.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		ws.Depth = u.Depth
		r.workstreams[u.ID] = ws
	}
	return nil
}

func (r *fakeRepo) SetOwner(_ context.Context, id uuid.UUID, ownerID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workstreams[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ws.OwnerID = ownerID
	ws.UpdatedAt = time.Now().UTC()
	r.workstreams[id] = ws
	return nil
}

func (r *fakeRepo) DeleteWorkstream(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workstreams[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.workstreams, id)
	for i, orderedID := range r.order {
		if orderedID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *fakeRepo) InsertGrant(_ context.Context, g GrantInsert) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workstreams[g.WorkstreamID]; !ok {
		return uuid.Nil, &pgconn.PgError{Code: "23503", ConstraintName: "permission_grants_workstream_id_fkey"}
	}
	for _, existing := range r.grants {
		if existing.WorkstreamID == g.WorkstreamID && existing.UserID == g.UserID && existing.Level == g.Level {
			return uuid.Nil, &pgconn.PgError{Code: "23505", ConstraintName: "permission_grants_workstream_user_level_key"}
		}
	}
	id := uuid.New()
	now := time.Now().UTC()
	r.grants[id] = grant.Grant{
		ID:           id,
		WorkstreamID: g.WorkstreamID,
		UserID:       g.UserID,
		Level:        g.Level,
		Scope:        g.Scope,
		GrantedBy:    g.GrantedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.grantOrder = append(r.grantOrder, id)
	return id, nil
}

func (r *fakeRepo) GetGrant(_ context.Context, id uuid.UUID) (grant.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[id]
	if !ok {
		return grant.Grant{}, pgx.ErrNoRows
	}
	return g, nil
}

func (r *fakeRepo) GetGrantsFor(_ context.Context, workstreamID, userID uuid.UUID) ([]grant.Grant, error) {
	r.mu.Lock()
	var out []grant.Grant
	for _, id := range r.grantOrder {
		g, ok := r.grants[id]
		if !ok {
			continue
		}
		if g.WorkstreamID == workstreamID && g.UserID == userID {
			out = append(out, g)
		}
	}
	hook := r.onGrantsRead
	r.onGrantsRead = nil
	r.mu.Unlock()
	// The hook sees the state after this read was taken, mimicking a
	// mutation that commits while the resolution is still in flight.
	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *fakeRepo) ListGrantsOn(_ context.Context, workstreamID uuid.UUID) ([]grant.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []grant.Grant
	for _, id := range r.grantOrder {
		g, ok := r.grants[id]
		if !ok {
			continue
		}
		if g.WorkstreamID == workstreamID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateGrant(_ context.Context, id uuid.UUID, level grant.Level, scope grant.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[id]
	if !ok {
		return pgx.ErrNoRows
	}
	g.Level = level
	g.Scope = scope
	g.UpdatedAt = time.Now().UTC()
	r.grants[id] = g
	return nil
}

func (r *fakeRepo) DeleteGrant(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grants[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.grants, id)
	return nil
}

func (r *fakeRepo) DeleteGrantsOn(_ context.Context, workstreamID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, g := range r.grants {
		if g.WorkstreamID == workstreamID {
			delete(r.grants, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) DeleteGrantsForUser(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for id, g := range r.grants {
		if g.UserID != userID {
			continue
		}
		delete(r.grants, id)
		if _, ok := seen[g.WorkstreamID]; !ok {
			seen[g.WorkstreamID] = struct{}{}
			out = append(out, g.WorkstreamID)
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertInvalidationEvent(_ context.Context, ev InvalidationEventInsert) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidations = append(r.invalidations, ev)
	return uuid.New(), nil
}

func (r *fakeRepo) InsertReviewTask(_ context.Context, task reviewtask.ReviewTask) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviewTasks[task.ID] = task
	return task.ID, nil
}

func (r *fakeRepo) ListReviewTasks(_ context.Context, status reviewtask.Status) ([]reviewtask.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []reviewtask.ReviewTask
	for _, task := range r.reviewTasks {
		if task.Status == status {
			out = append(out, task)
		}
	}
	return out, nil
}

func (r *fakeRepo) CompleteReviewTask(_ context.Context, id uuid.UUID, resolvedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.reviewTasks[id]
	if !ok || task.Status != reviewtask.StatusOpen {
		return pgx.ErrNoRows
	}
	task.Status = reviewtask.StatusDone
	task.ResolvedAt = &resolvedAt
	r.reviewTasks[id] = task
	return nil
}

func (r *fakeRepo) invalidationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invalidations)
}

// staticOverride grants the platform override to a fixed user set.
type staticOverride struct {
	elevated map[uuid.UUID]bool
}

func (o staticOverride) HasGlobalOverride(_ context.Context, userID uuid.UUID) (bool, error) {
	return o.elevated[userID], nil
}

type testEnv struct {
	repo        *fakeRepo
	cache       PermissionCache
	bus         eventbus.EventBusWithError
	perms       *PermissionService
	workstreams *WorkstreamService
	grants      *GrantService
	ownership   *OwnershipService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := newFakeRepo()
	cache := NewMemoryCache()
	bus := eventbus.NewEventPublisher(logger)
	override := staticOverride{elevated: map[uuid.UUID]bool{}}

	perms := NewPermissionService(repo, cache, override, logger)
	workstreams := NewWorkstreamService(repo, perms, NewHierarchyValidator(repo), cache, bus, logger)
	grants := NewGrantService(repo, perms, bus, logger)
	ownership := NewOwnershipService(repo, override, bus, logger)
	NewCacheInvalidationBroker(repo, cache, logger).Register(bus)

	return &testEnv{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		perms:       perms,
		workstreams: workstreams,
		grants:      grants,
		ownership:   ownership,
	}
}

func (e *testEnv) ctx(actor composables.Actor) context.Context {
	ctx := composables.WithTx(context.Background(), stubTx{})
	return composables.WithActor(ctx, actor)
}

func (e *testEnv) mustCreate(t *testing.T, ctx context.Context, name, typ string, parentID *uuid.UUID) workstream.Workstream {
	t.Helper()
	ws, err := e.workstreams.Create(ctx, CreateWorkstreamInput{
		Name:     name,
		Type:     typ,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return ws
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, kind, svcErr.Kind())
}
