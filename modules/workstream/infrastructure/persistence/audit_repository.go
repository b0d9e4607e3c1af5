package persistence

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/reviewtask"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

// InsertInvalidationEvent appends one audit row. The table is append-only:
// nothing in the engine updates or deletes from it.
func (r *WorkstreamRepository) InsertInvalidationEvent(ctx context.Context, ev services.InvalidationEventInsert) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	if err := tx.QueryRow(ctx, `
INSERT INTO invalidation_events (request_id, kind, entity_type, entity_id, workstream_id, keys_evicted, duration_ms, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id
`,
		ev.RequestID,
		ev.Kind,
		ev.EntityType,
		pgUUID(ev.EntityID),
		pgUUID(ev.WorkstreamID),
		ev.KeysEvicted,
		ev.Duration.Milliseconds(),
		ev.OccurredAt,
	).Scan(&id); err != nil {
		return uuid.Nil, gerrors.Wrap(err, "failed to insert invalidation event")
	}
	return id, nil
}

func (r *WorkstreamRepository) InsertReviewTask(ctx context.Context, task reviewtask.ReviewTask) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	if err := tx.QueryRow(ctx, `
INSERT INTO review_tasks (id, workstream_id, workstream_name, previous_owner_ref, reason, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`,
		pgUUID(task.ID),
		pgUUID(task.WorkstreamID),
		task.WorkstreamName,
		task.PreviousOwnerRef,
		task.Reason,
		string(task.Status),
		task.CreatedAt,
	).Scan(&id); err != nil {
		return uuid.Nil, gerrors.Wrap(err, "failed to insert review task")
	}
	return id, nil
}

func (r *WorkstreamRepository) ListReviewTasks(ctx context.Context, status reviewtask.Status) ([]reviewtask.ReviewTask, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT id, workstream_id, workstream_name, previous_owner_ref, reason, status, created_at, resolved_at
FROM review_tasks
WHERE status = $1
ORDER BY created_at DESC
`, string(status))
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to list review tasks")
	}
	defer rows.Close()
	var out []reviewtask.ReviewTask
	for rows.Next() {
		var (
			id           pgtype.UUID
			workstreamID pgtype.UUID
			name         string
			ownerRef     string
			reason       string
			taskStatus   string
			created      time.Time
			resolved     *time.Time
		)
		if err := rows.Scan(&id, &workstreamID, &name, &ownerRef, &reason, &taskStatus, &created, &resolved); err != nil {
			return nil, err
		}
		out = append(out, reviewtask.ReviewTask{
			ID:               asUUID(id),
			WorkstreamID:     asUUID(workstreamID),
			WorkstreamName:   name,
			PreviousOwnerRef: ownerRef,
			Reason:           reason,
			Status:           reviewtask.Status(taskStatus),
			CreatedAt:        created,
			ResolvedAt:       resolved,
		})
	}
	return out, rows.Err()
}

func (r *WorkstreamRepository) CompleteReviewTask(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE review_tasks
SET status = $2, resolved_at = $3
WHERE id = $1 AND status = $4
`, pgUUID(id), string(reviewtask.StatusDone), resolvedAt, string(reviewtask.StatusOpen))
	if err != nil {
		return gerrors.Wrap(err, "failed to complete review task")
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
