package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

// ProjectRepo — маппинг курсов и владельцев на проекты OpenStack.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

var _ store.Projects = (*ProjectRepo)(nil)

// NewProjectRepo создаёт новый ProjectRepo.
func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

// CourseProject возвращает проект курса.
func (r *ProjectRepo) CourseProject(ctx context.Context, courseID uuid.UUID) (*domain.ProjectMapping, error) {
	return scanMapping(r.pool.QueryRow(ctx, `
		SELECT project_id, course_id, owner_id, tenant_id FROM project_mappings WHERE course_id = $1
	`, courseID))
}

// PersonalProject возвращает личный проект владельца.
func (r *ProjectRepo) PersonalProject(ctx context.Context, ownerID uuid.UUID) (*domain.ProjectMapping, error) {
	return scanMapping(r.pool.QueryRow(ctx, `
		SELECT project_id, course_id, owner_id, tenant_id FROM project_mappings
		WHERE owner_id = $1 AND course_id IS NULL
	`, ownerID))
}

// PutMapping создаёт или заменяет маппинг.
func (r *ProjectRepo) PutMapping(ctx context.Context, m *domain.ProjectMapping) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		if m.CourseID != nil {
			_, err = tx.Exec(ctx, `DELETE FROM project_mappings WHERE course_id = $1`, m.CourseID)
		} else {
			_, err = tx.Exec(ctx, `DELETE FROM project_mappings WHERE owner_id = $1 AND course_id IS NULL`, m.OwnerID)
		}
		if err != nil {
			return fmt.Errorf("delete mapping: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO project_mappings (project_id, course_id, owner_id, tenant_id)
			VALUES ($1, $2, $3, $4)
		`, m.ProjectID, m.CourseID, m.OwnerID, m.TenantID)
		if err != nil {
			return fmt.Errorf("insert mapping: %w", err)
		}
		return nil
	})
}

func scanMapping(row pgx.Row) (*domain.ProjectMapping, error) {
	var m domain.ProjectMapping
	if err := row.Scan(&m.ProjectID, &m.CourseID, &m.OwnerID, &m.TenantID); err != nil {
		if mapped := mapError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	return &m, nil
}
