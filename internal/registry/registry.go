// Package registry — реестр шаблонов: версии, согласование и видимость.
//
// Registry единственный пишет шаблоны и их версии. Версии неизменяемы:
// содержимое адресуется по sha256 и хранится в store.Artifacts.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/artifact"
	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// publishAttempts — сколько раз повторять публикацию при гонке за номер версии.
const publishAttempts = 3

// Config — конфигурация Registry.
type Config struct {
	Templates store.Templates
	Artifacts store.Artifacts
	Logger    *slog.Logger
	Now       func() time.Time
}

// Registry — реестр шаблонов.
type Registry struct {
	templates store.Templates
	artifacts store.Artifacts
	logger    *slog.Logger
	now       func() time.Time
}

// New создаёт Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		templates: cfg.Templates,
		artifacts: cfg.Artifacts,
		logger:    logger,
		now:       now,
	}
}

// Deployable — можно ли развернуть шаблон от имени scope.
//
// Шаблон должен быть APPROVED. Владельцу доступны все его шаблоны,
// остальным GLOBAL и TENANT_PUBLIC своего тенанта.
func Deployable(t *domain.Template, scope domain.RequesterScope) bool {
	if t.Approval != domain.ApprovalApproved {
		return false
	}
	if t.OwnerID == scope.UserID {
		return true
	}
	switch t.Visibility {
	case domain.VisibilityGlobal:
		return true
	case domain.VisibilityTenantPublic:
		return t.TenantID == scope.TenantID
	default:
		return false
	}
}

// Resolve находит версию шаблона по ссылке.
// Version == 0 — последняя активная версия.
func (r *Registry) Resolve(ctx context.Context, ref domain.TemplateRef) (*domain.TemplateVersion, error) {
	t, err := r.lookupTemplate(ctx, ref)
	if err != nil {
		return nil, err
	}

	if ref.Version > 0 {
		v, err := r.templates.GetVersionByNumber(ctx, t.ID, ref.Version)
		if err != nil {
			return nil, r.mapNotFound(err, "get version")
		}
		return v, nil
	}

	versions, err := r.templates.ListVersions(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].IsActive {
			return &versions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: template %s has no active version", ErrNotFound, t.Name)
}

// IsDeployable — можно ли развернуть версию от имени scope. Ничего не меняет.
func (r *Registry) IsDeployable(ctx context.Context, v *domain.TemplateVersion, scope domain.RequesterScope) (bool, error) {
	err := r.CheckDeployable(ctx, v, scope)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotApproved):
		return false, nil
	default:
		return false, err
	}
}

// CheckDeployable возвращает ErrNotApproved, если версию нельзя развернуть.
func (r *Registry) CheckDeployable(ctx context.Context, v *domain.TemplateVersion, scope domain.RequesterScope) error {
	t, err := r.templates.GetTemplate(ctx, v.TemplateID)
	if err != nil {
		return r.mapNotFound(err, "get template")
	}
	if !v.IsActive {
		return fmt.Errorf("%w: version %d is inactive", ErrNotApproved, v.Version)
	}
	if !Deployable(t, scope) {
		return fmt.Errorf("%w: %s is %s/%s", ErrNotApproved, t.Name, t.Approval, t.Visibility)
	}
	return nil
}

// GetTemplate возвращает шаблон.
func (r *Registry) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	t, err := r.templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, r.mapNotFound(err, "get template")
	}
	return t, nil
}

// GetVersion возвращает версию по ID.
func (r *Registry) GetVersion(ctx context.Context, id uuid.UUID) (*domain.TemplateVersion, error) {
	v, err := r.templates.GetVersion(ctx, id)
	if err != nil {
		return nil, r.mapNotFound(err, "get version")
	}
	return v, nil
}

// ListVersions возвращает версии шаблона по возрастанию номера.
func (r *Registry) ListVersions(ctx context.Context, templateID uuid.UUID) ([]domain.TemplateVersion, error) {
	versions, err := r.templates.ListVersions(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// Content возвращает содержимое версии из хранилища артефактов.
func (r *Registry) Content(ctx context.Context, v *domain.TemplateVersion) ([]byte, error) {
	content, err := r.artifacts.Get(ctx, v.ArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", v.ArtifactRef, err)
	}
	return content, nil
}

func (r *Registry) lookupTemplate(ctx context.Context, ref domain.TemplateRef) (*domain.Template, error) {
	var (
		t   *domain.Template
		err error
	)
	switch {
	case ref.TemplateID != uuid.Nil:
		t, err = r.templates.GetTemplate(ctx, ref.TemplateID)
	case ref.Name != "":
		t, err = r.templates.GetTemplateByName(ctx, ref.Name)
	default:
		return nil, fmt.Errorf("%w: empty template reference", ErrNotFound)
	}
	if err != nil {
		return nil, r.mapNotFound(err, "get template")
	}
	return t, nil
}

func (r *Registry) mapNotFound(err error, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NewTemplate — атрибуты нового шаблона.
type NewTemplate struct {
	Name        string
	Description string
	RepoURL     string
	OwnerID     uuid.UUID
	TenantID    uuid.UUID
	Visibility  domain.Visibility
}

var (
	repoURLPattern  = regexp.MustCompile(`^(https://|ssh://|git@)[^\s]+$`)
	repoSlugPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
)

// ValidateRepoURL проверяет ссылку на репозиторий: git URL или owner/repo.
func ValidateRepoURL(ref string) error {
	if ref == "" || repoURLPattern.MatchString(ref) || repoSlugPattern.MatchString(ref) {
		return nil
	}
	return fmt.Errorf("%w: repo reference %q must be a git URL or owner/repo", ErrInvalidTemplate, ref)
}

// CreateTemplate создаёт шаблон в состоянии DRAFT.
func (r *Registry) CreateTemplate(ctx context.Context, nt NewTemplate) (*domain.Template, error) {
	name := strings.TrimSpace(nt.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if nt.Visibility == "" {
		nt.Visibility = domain.VisibilityPrivate
	}
	if !nt.Visibility.IsValid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidTemplate, nt.Visibility)
	}
	if err := ValidateRepoURL(nt.RepoURL); err != nil {
		return nil, err
	}

	now := r.now()
	t := &domain.Template{
		ID:          uuid.New(),
		Name:        name,
		Description: nt.Description,
		RepoURL:     nt.RepoURL,
		OwnerID:     nt.OwnerID,
		TenantID:    nt.TenantID,
		Approval:    domain.ApprovalDraft,
		Visibility:  nt.Visibility,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.templates.CreateTemplate(ctx, t); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: template %q already exists", ErrInvalidTemplate, name)
		}
		return nil, fmt.Errorf("create template: %w", err)
	}

	telemetry.WithTemplateID(r.logger, t.ID.String()).Info("template created", "name", t.Name)
	return t, nil
}

// Submit отправляет шаблон на согласование.
func (r *Registry) Submit(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	return r.setApproval(ctx, id, domain.ApprovalPending)
}

// Approve утверждает шаблон.
func (r *Registry) Approve(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	return r.setApproval(ctx, id, domain.ApprovalApproved)
}

// Reject отклоняет шаблон.
func (r *Registry) Reject(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	return r.setApproval(ctx, id, domain.ApprovalRejected)
}

// Deprecate снимает шаблон с использования. Существующие развёртывания не затрагиваются.
func (r *Registry) Deprecate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	return r.setApproval(ctx, id, domain.ApprovalDeprecated)
}

func (r *Registry) setApproval(ctx context.Context, id uuid.UUID, next domain.ApprovalState) (*domain.Template, error) {
	t, err := r.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Approval.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidApprovalState, t.Approval, next)
	}

	prev := t.Approval
	t.Approval = next
	t.UpdatedAt = r.now()
	if err := r.templates.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}

	telemetry.WithTemplateID(r.logger, t.ID.String()).Info("template approval changed",
		"from", prev,
		"to", next,
	)
	return t, nil
}

// SetVisibility меняет уровень видимости шаблона.
func (r *Registry) SetVisibility(ctx context.Context, id uuid.UUID, v domain.Visibility) (*domain.Template, error) {
	if !v.IsValid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidTemplate, v)
	}
	t, err := r.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Visibility = v
	t.UpdatedAt = r.now()
	if err := r.templates.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// VersionMeta — метаданные публикуемой версии.
type VersionMeta struct {
	CommitSHA string
	Footprint domain.Footprint
}

// PublishVersion сохраняет содержимое как новую версию шаблона.
//
// Если версия с тем же хешем уже есть, возвращается она.
func (r *Registry) PublishVersion(ctx context.Context, templateID uuid.UUID, content []byte, meta VersionMeta) (*domain.TemplateVersion, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty template content", ErrInvalidTemplate)
	}
	if meta.Footprint.Instances < 0 || meta.Footprint.VCPUs < 0 || meta.Footprint.RAMMB < 0 {
		return nil, fmt.Errorf("%w: negative footprint", ErrInvalidTemplate)
	}
	if _, err := r.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}

	hash := artifact.HashContent(content)
	if existing, err := r.templates.GetVersionByHash(ctx, templateID, hash); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get version by hash: %w", err)
	}

	ref, err := r.artifacts.Put(ctx, hash, content)
	if err != nil {
		return nil, fmt.Errorf("put artifact: %w", err)
	}

	for attempt := 1; ; attempt++ {
		v, err := r.createVersion(ctx, templateID, hash, ref, meta)
		if err == nil {
			telemetry.WithTemplateID(r.logger, templateID.String()).Info("template version published",
				"version", v.Version,
				"content_hash", hash,
			)
			return v, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) || attempt == publishAttempts {
			return nil, err
		}
		// Гонка: либо номер заняли, либо то же содержимое опубликовали параллельно.
		if existing, err := r.templates.GetVersionByHash(ctx, templateID, hash); err == nil {
			return existing, nil
		}
	}
}

func (r *Registry) createVersion(ctx context.Context, templateID uuid.UUID, hash, ref string, meta VersionMeta) (*domain.TemplateVersion, error) {
	versions, err := r.templates.ListVersions(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	next := 1
	if len(versions) > 0 {
		last := slices.MaxFunc(versions, func(a, b domain.TemplateVersion) int {
			return cmp.Compare(a.Version, b.Version)
		})
		next = last.Version + 1
	}

	v := &domain.TemplateVersion{
		ID:          uuid.New(),
		TemplateID:  templateID,
		Version:     next,
		ArtifactRef: ref,
		ContentHash: hash,
		CommitSHA:   meta.CommitSHA,
		Footprint:   meta.Footprint,
		IsActive:    true,
		CreatedAt:   r.now(),
	}
	if err := r.templates.CreateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	return v, nil
}
