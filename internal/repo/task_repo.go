package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

const taskColumns = `id, deployment_id, kind, status, attempt, not_before, locked_by, locked_until, created_at, updated_at`

// TaskRepo — очередь задач в PostgreSQL.
//
// Захват задачи — UPDATE по подзапросу с FOR UPDATE SKIP LOCKED:
// несколько воркеров не получат одну и ту же задачу.
type TaskRepo struct {
	pool *pgxpool.Pool
}

var _ store.Tasks = (*TaskRepo)(nil)

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Enqueue ставит задачу в очередь.
func (r *TaskRepo) Enqueue(ctx context.Context, t *domain.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		t.ID, t.DeploymentID, t.Kind, t.Status, t.Attempt, t.NotBefore,
		nullString(t.LockedBy), t.LockedUntil, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Dequeue захватывает самую раннюю доступную задачу на время visibility.
func (r *TaskRepo) Dequeue(ctx context.Context, owner string, visibility time.Duration) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'RUNNING',
		    attempt = attempt + 1,
		    locked_by = $1,
		    locked_until = now() + $2 * interval '1 millisecond',
		    updated_at = now()
		WHERE id = (
			SELECT id FROM tasks
			WHERE (status = 'QUEUED' AND not_before <= now())
			   OR (status = 'RUNNING' AND locked_until < now())
			ORDER BY not_before ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(r.pool.QueryRow(ctx, query, owner, visibility.Milliseconds()))
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNoTask
	}
	return task, err
}

// Complete помечает задачу выполненной, если захват claim ещё актуален.
func (r *TaskRepo) Complete(ctx context.Context, claim *domain.Task) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'DONE', locked_by = NULL, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'RUNNING' AND locked_by = $2 AND attempt = $3
	`, claim.ID, claim.LockedBy, claim.Attempt)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrClaimLost
	}
	return nil
}

// Requeue возвращает захваченную задачу в очередь не раньше notBefore.
func (r *TaskRepo) Requeue(ctx context.Context, claim *domain.Task, notBefore time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'QUEUED', not_before = $4, locked_by = NULL, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'RUNNING' AND locked_by = $2 AND attempt = $3
	`, claim.ID, claim.LockedBy, claim.Attempt, notBefore)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrClaimLost
	}
	return nil
}

// HasOpenTask — есть ли у развёртывания незавершённая задача.
func (r *TaskRepo) HasOpenTask(ctx context.Context, deploymentID uuid.UUID) (bool, error) {
	var open bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tasks WHERE deployment_id = $1 AND status <> 'DONE')
	`, deploymentID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("check open task: %w", err)
	}
	return open, nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var lockedBy *string
	err := row.Scan(&t.ID, &t.DeploymentID, &t.Kind, &t.Status, &t.Attempt, &t.NotBefore,
		&lockedBy, &t.LockedUntil, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.LockedBy = derefString(lockedBy)
	return &t, nil
}
