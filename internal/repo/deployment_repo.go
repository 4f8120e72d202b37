package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

const deploymentColumns = `
	id, name, template_id, version_id, owner_id, tenant_id, course_id, project_id,
	state, revision, cancel_requested, stack_name, stack_id, pending_version_id,
	update_issued, delete_issued, attempts, total_retries, last_error_kind, last_error_message,
	idempotency_key, parameters, created_at, updated_at`

// DeploymentRepo — store.Deployments поверх PostgreSQL.
type DeploymentRepo struct {
	pool *pgxpool.Pool
}

var _ store.Deployments = (*DeploymentRepo)(nil)

// NewDeploymentRepo создаёт новый DeploymentRepo.
func NewDeploymentRepo(pool *pgxpool.Pool) *DeploymentRepo {
	return &DeploymentRepo{pool: pool}
}

// Create сохраняет развёртывание и первое событие в одной транзакции.
func (r *DeploymentRepo) Create(ctx context.Context, d *domain.Deployment, ev *domain.DeploymentEvent) error {
	paramsJSON, err := json.Marshal(d.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	lastKind, lastMsg := lastErrorColumns(d.LastError)

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO deployments (`+deploymentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		`,
			d.ID, d.Name, d.TemplateID, d.VersionID, d.OwnerID, d.TenantID, d.CourseID, d.ProjectID,
			d.State, d.Revision, d.CancelRequested, d.StackName, nullString(d.StackID), d.PendingVersionID,
			d.UpdateIssued, d.DeleteIssued, d.Attempts, d.TotalRetries, lastKind, lastMsg,
			nullString(d.IdempotencyKey), paramsJSON, d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if ev != nil {
			return insertEvent(ctx, tx, ev)
		}
		return nil
	})
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// Get возвращает развёртывание по ID.
func (r *DeploymentRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает развёртывание по ключу идемпотентности владельца.
func (r *DeploymentRepo) GetByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*domain.Deployment, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE owner_id = $1 AND idempotency_key = $2`
	return scanDeployment(r.pool.QueryRow(ctx, query, ownerID, key))
}

// CompareAndSwap обновляет развёртывание при совпадении ревизии.
// Событие и замена инстансов пишутся в той же транзакции.
func (r *DeploymentRepo) CompareAndSwap(ctx context.Context, d *domain.Deployment, expected int64, change store.Change) error {
	paramsJSON, err := json.Marshal(d.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	lastKind, lastMsg := lastErrorColumns(d.LastError)

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE deployments
			SET name = $3, version_id = $4, project_id = $5, state = $6, revision = $7,
			    cancel_requested = $8, stack_id = $9, pending_version_id = $10,
			    update_issued = $11, delete_issued = $12, attempts = $13, total_retries = $14,
			    last_error_kind = $15, last_error_message = $16, parameters = $17, updated_at = $18
			WHERE id = $1 AND revision = $2
		`,
			d.ID, expected, d.Name, d.VersionID, d.ProjectID, d.State, d.Revision,
			d.CancelRequested, nullString(d.StackID), d.PendingVersionID,
			d.UpdateIssued, d.DeleteIssued, d.Attempts, d.TotalRetries,
			lastKind, lastMsg, paramsJSON, d.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update deployment: %w", err)
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deployments WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check deployment: %w", err)
			}
			if !exists {
				return store.ErrNotFound
			}
			return store.ErrRevisionMismatch
		}

		if change.Event != nil {
			if err := insertEvent(ctx, tx, change.Event); err != nil {
				return err
			}
		}

		if change.ReplaceInstances {
			if _, err := tx.Exec(ctx, `DELETE FROM deployment_instances WHERE deployment_id = $1`, d.ID); err != nil {
				return fmt.Errorf("delete instances: %w", err)
			}
			for i := range change.Instances {
				if err := insertInstance(ctx, tx, &change.Instances[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ListEvents возвращает историю развёртывания.
func (r *DeploymentRepo) ListEvents(ctx context.Context, deploymentID uuid.UUID) ([]domain.DeploymentEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deployment_id, revision, from_state, to_state, cause, retries, error_kind, message, created_at
		FROM deployment_events
		WHERE deployment_id = $1
		ORDER BY revision ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.DeploymentEvent
	for rows.Next() {
		var ev domain.DeploymentEvent
		var from, kind, msg *string
		if err := rows.Scan(&ev.ID, &ev.DeploymentID, &ev.Revision, &from, &ev.To, &ev.Cause,
			&ev.Retries, &kind, &msg, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.From = domain.DeploymentState(derefString(from))
		ev.ErrorKind = domain.ErrorKind(derefString(kind))
		ev.Message = derefString(msg)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListInstances возвращает инстансы развёртывания.
func (r *DeploymentRepo) ListInstances(ctx context.Context, deploymentID uuid.UUID) ([]domain.DeploymentInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deployment_id, resource_id, name, address, endpoints, created_at
		FROM deployment_instances
		WHERE deployment_id = $1
		ORDER BY name ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.DeploymentInstance
	for rows.Next() {
		var inst domain.DeploymentInstance
		var address *string
		var endpointsJSON []byte
		if err := rows.Scan(&inst.ID, &inst.DeploymentID, &inst.ResourceID, &inst.Name,
			&address, &endpointsJSON, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		inst.Address = derefString(address)
		if len(endpointsJSON) > 0 {
			if err := json.Unmarshal(endpointsJSON, &inst.Endpoints); err != nil {
				return nil, fmt.Errorf("unmarshal endpoints: %w", err)
			}
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// ListStale возвращает развёртывания с невыполненной работой, не менявшиеся с before.
func (r *DeploymentRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE updated_at < $1
		  AND (state IN ('REQUESTED', 'VALIDATING', 'PROVISIONING', 'UPDATING', 'DELETING')
		       OR (state = 'ACTIVE' AND (cancel_requested OR pending_version_id IS NOT NULL))
		       OR (state = 'FAILED' AND cancel_requested))
		ORDER BY updated_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, before, limit)
}

// ListByProject возвращает не удалённые развёртывания проекта.
func (r *DeploymentRepo) ListByProject(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE project_id = $1 AND state <> 'DELETED'
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, projectID)
}

func (r *DeploymentRepo) list(ctx context.Context, query string, args ...any) ([]domain.Deployment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var result []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

// --- Helpers ---

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	var stackID, lastKind, lastMsg, idemKey *string
	var paramsJSON []byte

	err := row.Scan(
		&d.ID, &d.Name, &d.TemplateID, &d.VersionID, &d.OwnerID, &d.TenantID, &d.CourseID, &d.ProjectID,
		&d.State, &d.Revision, &d.CancelRequested, &d.StackName, &stackID, &d.PendingVersionID,
		&d.UpdateIssued, &d.DeleteIssued, &d.Attempts, &d.TotalRetries, &lastKind, &lastMsg,
		&idemKey, &paramsJSON, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("scan deployment: %w", err)
	}

	d.StackID = derefString(stackID)
	d.IdempotencyKey = derefString(idemKey)
	if lastKind != nil {
		d.LastError = &domain.LastError{Kind: domain.ErrorKind(*lastKind), Message: derefString(lastMsg)}
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &d.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	return &d, nil
}

func lastErrorColumns(le *domain.LastError) (*string, *string) {
	if le == nil {
		return nil, nil
	}
	kind := string(le.Kind)
	return &kind, nullString(le.Message)
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev *domain.DeploymentEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO deployment_events (id, deployment_id, revision, from_state, to_state, cause, retries, error_kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		ev.ID, ev.DeploymentID, ev.Revision, nullString(string(ev.From)), ev.To, ev.Cause,
		ev.Retries, nullString(string(ev.ErrorKind)), nullString(ev.Message), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func insertInstance(ctx context.Context, tx pgx.Tx, inst *domain.DeploymentInstance) error {
	endpointsJSON, err := json.Marshal(inst.Endpoints)
	if err != nil {
		return fmt.Errorf("marshal endpoints: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO deployment_instances (id, deployment_id, resource_id, name, address, endpoints, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		inst.ID, inst.DeploymentID, inst.ResourceID, inst.Name, nullString(inst.Address), endpointsJSON, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}
