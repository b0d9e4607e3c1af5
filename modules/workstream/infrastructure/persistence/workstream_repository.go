package persistence

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

// WorkstreamRepository is the pgx implementation of services.Repository.
// It is stateless: the transaction (or the pool, for plain reads) comes
// from the context.
type WorkstreamRepository struct{}

func NewWorkstreamRepository() services.Repository {
	return &WorkstreamRepository{}
}

const workstreamColumns = `id, name, description, type, status, owner_id, parent_id, depth, created_at, updated_at`

func (r *WorkstreamRepository) InsertWorkstream(ctx context.Context, ws services.WorkstreamInsert) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	if err := tx.QueryRow(ctx, `
INSERT INTO workstreams (name, description, type, status, owner_id, parent_id, depth)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`,
		ws.Name,
		ws.Description,
		string(ws.Type),
		string(ws.Status),
		pgNullableUUID(ws.OwnerID),
		pgNullableUUID(ws.ParentID),
		ws.Depth,
	).Scan(&id); err != nil {
		return uuid.Nil, gerrors.Wrap(err, "failed to insert workstream")
	}
	return id, nil
}

func (r *WorkstreamRepository) GetWorkstream(ctx context.Context, id uuid.UUID) (workstream.Workstream, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workstream.Workstream{}, err
	}
	return scanWorkstream(tx.QueryRow(ctx, `SELECT `+workstreamColumns+` FROM workstreams WHERE id = $1`, pgUUID(id)))
}

func (r *WorkstreamRepository) GetWorkstreams(ctx context.Context, ids []uuid.UUID) ([]workstream.Workstream, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+workstreamColumns+`
FROM workstreams
WHERE id = ANY($1)
ORDER BY depth, created_at
`, pgUUIDArray(ids))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to query workstreams")
	}
	return collectWorkstreams(rows)
}

func (r *WorkstreamRepository) GetChildren(ctx context.Context, parentIDs []uuid.UUID) ([]workstream.Workstream, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+workstreamColumns+`
FROM workstreams
WHERE parent_id = ANY($1)
ORDER BY created_at
`, pgUUIDArray(parentIDs))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to query children")
	}
	return collectWorkstreams(rows)
}

func (r *WorkstreamRepository) HasChildren(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workstreams WHERE parent_id = $1)`, pgUUID(id)).Scan(&exists); err != nil {
		return false, gerrors.Wrap(err, "failed to check children")
	}
	return exists, nil
}

func (r *WorkstreamRepository) LockWorkstream(ctx context.Context, id uuid.UUID) (workstream.Workstream, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workstream.Workstream{}, err
	}
	return scanWorkstream(tx.QueryRow(ctx, `SELECT `+workstreamColumns+` FROM workstreams WHERE id = $1 FOR UPDATE`, pgUUID(id)))
}

// LockSubtree row-locks a node and every descendant so concurrent
// structural mutations on overlapping subtrees serialize.
func (r *WorkstreamRepository) LockSubtree(ctx context.Context, rootID uuid.UUID) ([]workstream.Workstream, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
WITH RECURSIVE subtree AS (
	SELECT id FROM workstreams WHERE id = $1
	UNION ALL
	SELECT w.id FROM workstreams w JOIN subtree s ON w.parent_id = s.id
)
SELECT `+workstreamColumns+`
FROM workstreams
WHERE id IN (SELECT id FROM subtree)
ORDER BY depth, created_at
FOR UPDATE
`, pgUUID(rootID))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to lock subtree")
	}
	return collectWorkstreams(rows)
}

func (r *WorkstreamRepository) LockOwnedBy(ctx context.Context, ownerID uuid.UUID) ([]workstream.Workstream, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+workstreamColumns+`
FROM workstreams
WHERE owner_id = $1
ORDER BY created_at
FOR UPDATE
`, pgUUID(ownerID))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to lock owned workstreams")
	}
	return collectWorkstreams(rows)
}

func (r *WorkstreamRepository) UpdateWorkstreamAttrs(ctx context.Context, id uuid.UUID, update services.WorkstreamUpdate) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	var status *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}
	tag, err := tx.Exec(ctx, `
UPDATE workstreams
SET name = COALESCE($2, name),
	description = COALESCE($3, description),
	status = COALESCE($4, status),
	updated_at = now()
WHERE id = $1
`, pgUUID(id), pgNullableText(update.Name), pgNullableText(update.Description), pgNullableText(status))
	if err != nil {
		return gerrors.Wrap(err, "failed to update workstream")
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *WorkstreamRepository) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE workstreams SET parent_id = $2, updated_at = now() WHERE id = $1`, pgUUID(id), pgNullableUUID(parentID))
	if err != nil {
		return gerrors.Wrap(err, "failed to set parent")
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *WorkstreamRepository) UpdateDepths(ctx context.Context, updates []services.DepthUpdate) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if _, err := tx.Exec(ctx, `UPDATE workstreams SET depth = $2, updated_at = now() WHERE id = $1`, pgUUID(u.ID), u.Depth); err != nil {
			return gerrors.Wrap(err, "failed to update depth")
		}
	}
	return nil
}

func (r *WorkstreamRepository) SetOwner(ctx context.Context, id uuid.UUID, ownerID *uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE workstreams SET owner_id = $2, updated_at = now() WHERE id = $1`, pgUUID(id), pgNullableUUID(ownerID))
	if err != nil {
		return gerrors.Wrap(err, "failed to set owner")
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *WorkstreamRepository) DeleteWorkstream(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM workstreams WHERE id = $1`, pgUUID(id))
	if err != nil {
		return gerrors.Wrap(err, "failed to delete workstream")
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanWorkstream(row pgx.Row) (workstream.Workstream, error) {
	var (
		id       pgtype.UUID
		name     string
		desc     string
		typ      string
		status   string
		ownerID  pgtype.UUID
		parentID pgtype.UUID
		depth    int
		created  time.Time
		updated  time.Time
	)
	if err := row.Scan(&id, &name, &desc, &typ, &status, &ownerID, &parentID, &depth, &created, &updated); err != nil {
		return workstream.Workstream{}, err
	}
	return workstream.Workstream{
		ID:          asUUID(id),
		Name:        name,
		Description: desc,
		Type:        workstream.Type(typ),
		Status:      workstream.Status(status),
		OwnerID:     nullableUUID(ownerID),
		ParentID:    nullableUUID(parentID),
		Depth:       depth,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func collectWorkstreams(rows pgx.Rows) ([]workstream.Workstream, error) {
	defer rows.Close()
	var out []workstream.Workstream
	for rows.Next() {
		ws, err := scanWorkstream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDArray(ids []uuid.UUID) pgtype.FlatArray[pgtype.UUID] {
	out := make(pgtype.FlatArray[pgtype.UUID], 0, len(ids))
	for _, id := range ids {
		out = append(out, pgUUID(id))
	}
	return out
}

func pgNullableUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil || *id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func pgNullableText(v *string) pgtype.Text {
	if v == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *v, Valid: true}
}

func asUUID(v pgtype.UUID) uuid.UUID {
	if !v.Valid {
		return uuid.Nil
	}
	return uuid.UUID(v.Bytes)
}

func nullableUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	u := uuid.UUID(v.Bytes)
	return &u
}
