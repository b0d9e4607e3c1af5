package persistence

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

const grantColumns = `id, workstream_id, user_id, level, scope, granted_by, created_at, updated_at`

func (r *WorkstreamRepository) InsertGrant(ctx context.Context, g services.GrantInsert) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	if err := tx.QueryRow(ctx, `
INSERT INTO permission_grants (workstream_id, user_id, level, scope, granted_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`,
		pgUUID(g.WorkstreamID),
		pgUUID(g.UserID),
		string(g.Level),
		string(g.Scope),
		pgUUID(g.GrantedBy),
	).Scan(&id); err != nil {
		return uuid.Nil, gerrors.Wrap(err, "failed to insert grant")
	}
	return id, nil
}

func (r *WorkstreamRepository) GetGrant(ctx context.Context, id uuid.UUID) (grant.Grant, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return grant.Grant{}, err
	}
	return scanGrant(tx.QueryRow(ctx, `SELECT `+grantColumns+` FROM permission_grants WHERE id = $1`, pgUUID(id)))
}

func (r *WorkstreamRepository) GetGrantsFor(ctx context.Context, workstreamID, userID uuid.UUID) ([]grant.Grant, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+grantColumns+`
FROM permission_grants
WHERE workstream_id = $1 AND user_id = $2
ORDER BY created_at
`, pgUUID(workstreamID), pgUUID(userID))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to query grants")
	}
	return collectGrants(rows)
}

func (r *WorkstreamRepository) ListGrantsOn(ctx context.Context, workstreamID uuid.UUID) ([]grant.Grant, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+grantColumns+`
FROM permission_grants
WHERE workstream_id = $1
ORDER BY created_at DESC
`, pgUUID(workstreamID))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to list grants")
	}
	return collectGrants(rows)
}

func (r *WorkstreamRepository) UpdateGrant(ctx context.Context, id uuid.UUID, level grant.Level, scope grant.Scope) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE permission_grants
SET level = $2, scope = $3, updated_at = now()
WHERE id = $1
`, pgUUID(id), string(level), string(scope))
	if err != nil {
		return gerrors.Wrap(err, "failed to update grant")
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *WorkstreamRepository) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM permission_grants WHERE id = $1`, pgUUID(id))
	if err != nil {
		return gerrors.Wrap(err, "failed to delete grant")
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *WorkstreamRepository) DeleteGrantsOn(ctx context.Context, workstreamID uuid.UUID) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM permission_grants WHERE workstream_id = $1`, pgUUID(workstreamID))
	if err != nil {
		return 0, gerrors.Wrap(err, "failed to delete grants")
	}
	return tag.RowsAffected(), nil
}

// DeleteGrantsForUser removes every grant held by the user and reports the
// distinct workstreams that were affected.
func (r *WorkstreamRepository) DeleteGrantsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `DELETE FROM permission_grants WHERE user_id = $1 RETURNING workstream_id`, pgUUID(userID))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to delete user grants")
	}
	defer rows.Close()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for rows.Next() {
		var wsID pgtype.UUID
		if err := rows.Scan(&wsID); err != nil {
			return nil, err
		}
		id := asUUID(wsID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanGrant(row pgx.Row) (grant.Grant, error) {
	var (
		id           pgtype.UUID
		workstreamID pgtype.UUID
		userID       pgtype.UUID
		level        string
		scope        string
		grantedBy    pgtype.UUID
		created      time.Time
		updated      time.Time
	)
	if err := row.Scan(&id, &workstreamID, &userID, &level, &scope, &grantedBy, &created, &updated); err != nil {
		return grant.Grant{}, err
	}
	return grant.Grant{
		ID:           asUUID(id),
		WorkstreamID: asUUID(workstreamID),
		UserID:       asUUID(userID),
		Level:        grant.Level(level),
		Scope:        grant.Scope(scope),
		GrantedBy:    asUUID(grantedBy),
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}

func collectGrants(rows pgx.Rows) ([]grant.Grant, error) {
	defer rows.Close()
	var out []grant.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
