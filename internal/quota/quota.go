// Package quota — проверки владения проектом и квоты перед развёртыванием.
//
// Маппинг курсов и владельцев на проекты OpenStack принадлежит внешней
// системе, ядро его только читает. Использование ресурсов берётся из
// лимитов Nova и кешируется в Redis.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

// UsageSource — источник использования проекта (адаптер OpenStack).
type UsageSource interface {
	ProjectUsage(ctx context.Context, projectID string) (*domain.ProjectUsage, error)
}

// Cache — кеш использования проектов.
type Cache interface {
	Get(ctx context.Context, projectID string) (*domain.ProjectUsage, error)
	Set(ctx context.Context, u *domain.ProjectUsage) error
	Delete(ctx context.Context, projectID string) error
}

// ErrCacheMiss — в кеше нет записи.
var ErrCacheMiss = errors.New("usage cache miss")

// Checker — проверки проекта и квоты.
type Checker struct {
	projects store.Projects
	usage    UsageSource
	cache    Cache
	logger   *slog.Logger
}

// NewChecker создаёт Checker. cache может быть nil.
func NewChecker(projects store.Projects, usage UsageSource, cache Cache, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		projects: projects,
		usage:    usage,
		cache:    cache,
		logger:   logger,
	}
}

// ResolveProject находит проект OpenStack для цели развёртывания.
//
// Для курса запрашивающий должен быть его преподавателем. Отсутствие
// маппинга или чужой курс — ошибка валидации.
func (c *Checker) ResolveProject(ctx context.Context, scope domain.RequesterScope, target domain.Target) (*domain.ProjectMapping, error) {
	var (
		m   *domain.ProjectMapping
		err error
	)
	if target.CourseID != nil {
		m, err = c.projects.CourseProject(ctx, *target.CourseID)
	} else {
		m, err = c.projects.PersonalProject(ctx, scope.UserID)
	}

	switch {
	case errors.Is(err, store.ErrNotFound) && target.CourseID != nil:
		return nil, domain.NewValidationError("course %s has no OpenStack project", target.CourseID)
	case errors.Is(err, store.ErrNotFound):
		return nil, domain.NewValidationError("user %s has no personal OpenStack project", scope.UserID)
	case err != nil:
		return nil, domain.NewTransientError("project mapping unavailable", err)
	}

	if m.OwnerID != scope.UserID {
		return nil, domain.NewValidationError("user %s does not own the target project", scope.UserID)
	}
	return m, nil
}

// Usage возвращает использование проекта, по возможности из кеша.
func (c *Checker) Usage(ctx context.Context, projectID string) (*domain.ProjectUsage, error) {
	if c.cache != nil {
		u, err := c.cache.Get(ctx, projectID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("usage cache read failed", "project_id", projectID, "error", err)
		}
	}

	u, err := c.usage.ProjectUsage(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, u); err != nil {
			c.logger.Warn("usage cache write failed", "project_id", projectID, "error", err)
		}
	}
	return u, nil
}

// Check проверяет, что footprint помещается в квоту проекта.
func (c *Checker) Check(ctx context.Context, projectID string, fp domain.Footprint) error {
	u, err := c.Usage(ctx, projectID)
	if err != nil {
		return fmt.Errorf("project usage: %w", err)
	}
	if !u.Fits(fp) {
		return domain.NewValidationError(
			"quota exceeded in project %s: need %d vm / %d vcpu / %d MB, used %d/%d vm, %d/%d vcpu, %d/%d MB",
			projectID,
			fp.Instances, fp.VCPUs, fp.RAMMB,
			u.UsedVMs, u.MaxVMs, u.UsedVCPUs, u.MaxVCPUs, u.UsedRAMMB, u.MaxRAMMB,
		)
	}
	return nil
}

// Invalidate сбрасывает кеш использования проекта.
func (c *Checker) Invalidate(ctx context.Context, projectID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, projectID); err != nil {
		c.logger.Warn("usage cache invalidation failed", "project_id", projectID, "error", err)
	}
}
