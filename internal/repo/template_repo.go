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

const (
	templateColumns = `id, name, description, repo_url, owner_id, tenant_id, approval, visibility, created_at, updated_at`
	versionColumns  = `id, template_id, version, artifact_ref, content_hash, commit_sha,
		footprint_instances, footprint_vcpus, footprint_ram_mb, is_active, created_at`
)

// TemplateRepo — store.Templates поверх PostgreSQL.
type TemplateRepo struct {
	pool *pgxpool.Pool
}

var _ store.Templates = (*TemplateRepo)(nil)

// NewTemplateRepo создаёт новый TemplateRepo.
func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

// CreateTemplate создаёт шаблон.
func (r *TemplateRepo) CreateTemplate(ctx context.Context, t *domain.Template) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		t.ID, t.Name, nullString(t.Description), nullString(t.RepoURL), t.OwnerID, t.TenantID,
		t.Approval, t.Visibility, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplate возвращает шаблон по ID.
func (r *TemplateRepo) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	return scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id))
}

// GetTemplateByName возвращает шаблон по имени.
func (r *TemplateRepo) GetTemplateByName(ctx context.Context, name string) (*domain.Template, error) {
	return scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE name = $1`, name))
}

// UpdateTemplate обновляет согласование, видимость и описание.
func (r *TemplateRepo) UpdateTemplate(ctx context.Context, t *domain.Template) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE templates
		SET description = $2, repo_url = $3, approval = $4, visibility = $5, updated_at = $6
		WHERE id = $1
	`, t.ID, nullString(t.Description), nullString(t.RepoURL), t.Approval, t.Visibility, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateVersion добавляет версию шаблона.
func (r *TemplateRepo) CreateVersion(ctx context.Context, v *domain.TemplateVersion) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO template_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		v.ID, v.TemplateID, v.Version, v.ArtifactRef, v.ContentHash, nullString(v.CommitSHA),
		v.Footprint.Instances, v.Footprint.VCPUs, v.Footprint.RAMMB, v.IsActive, v.CreatedAt,
	)
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// GetVersion возвращает версию по ID.
func (r *TemplateRepo) GetVersion(ctx context.Context, id uuid.UUID) (*domain.TemplateVersion, error) {
	return scanVersion(r.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM template_versions WHERE id = $1`, id))
}

// GetVersionByNumber возвращает версию шаблона по номеру.
func (r *TemplateRepo) GetVersionByNumber(ctx context.Context, templateID uuid.UUID, version int) (*domain.TemplateVersion, error) {
	return scanVersion(r.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM template_versions WHERE template_id = $1 AND version = $2`,
		templateID, version))
}

// GetVersionByHash возвращает версию шаблона по хешу содержимого.
func (r *TemplateRepo) GetVersionByHash(ctx context.Context, templateID uuid.UUID, hash string) (*domain.TemplateVersion, error) {
	return scanVersion(r.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM template_versions WHERE template_id = $1 AND content_hash = $2`,
		templateID, hash))
}

// ListVersions возвращает версии шаблона по возрастанию номера.
func (r *TemplateRepo) ListVersions(ctx context.Context, templateID uuid.UUID) ([]domain.TemplateVersion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM template_versions WHERE template_id = $1 ORDER BY version ASC`,
		templateID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.TemplateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// --- Helpers ---

func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var t domain.Template
	var description, repoURL *string
	err := row.Scan(&t.ID, &t.Name, &description, &repoURL, &t.OwnerID, &t.TenantID,
		&t.Approval, &t.Visibility, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	t.Description = derefString(description)
	t.RepoURL = derefString(repoURL)
	return &t, nil
}

func scanVersion(row pgx.Row) (*domain.TemplateVersion, error) {
	var v domain.TemplateVersion
	var commit *string
	err := row.Scan(&v.ID, &v.TemplateID, &v.Version, &v.ArtifactRef, &v.ContentHash, &commit,
		&v.Footprint.Instances, &v.Footprint.VCPUs, &v.Footprint.RAMMB, &v.IsActive, &v.CreatedAt)
	if err != nil {
		if mapped := mapError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	v.CommitSHA = derefString(commit)
	return &v, nil
}
