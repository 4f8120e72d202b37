package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/registry"
	"github.com/shaiso/Dozilab/internal/statestore"
	"github.com/shaiso/Dozilab/internal/store"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// maxFlagAttempts — сколько раз повторять запись флага при конфликте ревизий.
const maxFlagAttempts = 5

// Registry — реестр шаблонов (registry.Registry).
type Registry interface {
	Resolve(ctx context.Context, ref domain.TemplateRef) (*domain.TemplateVersion, error)
	CheckDeployable(ctx context.Context, v *domain.TemplateVersion, scope domain.RequesterScope) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*domain.TemplateVersion, error)
}

// Quota — проверки проекта и квоты (quota.Checker).
type Quota interface {
	ResolveProject(ctx context.Context, scope domain.RequesterScope, target domain.Target) (*domain.ProjectMapping, error)
	Check(ctx context.Context, projectID string, fp domain.Footprint) error
}

// TaskNotifier будит воркеры после постановки задачи (mq.Publisher).
type TaskNotifier interface {
	PublishTaskReady(ctx context.Context, taskID, deploymentID uuid.UUID) error
}

// Config — конфигурация Service.
type Config struct {
	States   *statestore.Store
	Tasks    store.Tasks
	Registry Registry
	Quota    Quota

	// Notifier — опционально; без него воркеры найдут задачу polling'ом.
	Notifier TaskNotifier

	Logger *slog.Logger
}

// Service — сервис развёртываний.
type Service struct {
	states   *statestore.Store
	tasks    store.Tasks
	registry Registry
	quota    Quota
	notifier TaskNotifier
	logger   *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		states:   cfg.States,
		tasks:    cfg.Tasks,
		registry: cfg.Registry,
		quota:    cfg.Quota,
		notifier: cfg.Notifier,
		logger:   logger,
	}
}

// DeploymentRequest — запрос на развёртывание.
type DeploymentRequest struct {
	Template domain.TemplateRef
	Target   domain.Target
	Scope    domain.RequesterScope

	// Name — опционально; по умолчанию имя шаблона с суффиксом ID.
	Name string

	Parameters map[string]string

	// IdempotencyKey — повтор с тем же ключом возвращает уже созданное развёртывание.
	IdempotencyKey string
}

// DeploymentView — то, что показывается пользователю.
type DeploymentView struct {
	ID               uuid.UUID                   `json:"id"`
	Name             string                      `json:"name"`
	State            domain.DeploymentState      `json:"state"`
	Revision         int64                       `json:"revision"`
	TemplateID       uuid.UUID                   `json:"template_id"`
	VersionID        uuid.UUID                   `json:"version_id"`
	PendingVersionID *uuid.UUID                  `json:"pending_version_id,omitempty"`
	ProjectID        string                      `json:"project_id"`
	CourseID         *uuid.UUID                  `json:"course_id,omitempty"`
	CancelRequested  bool                        `json:"cancel_requested"`
	TotalRetries     int                         `json:"total_retries"`
	LastError        *domain.LastError           `json:"last_error,omitempty"`
	Instances        []domain.DeploymentInstance `json:"instances"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// RequestDeployment проверяет запрос, создаёт развёртывание в REQUESTED
// и ставит задачу на создание стека.
func (s *Service) RequestDeployment(ctx context.Context, req DeploymentRequest) (uuid.UUID, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.states.GetByIdempotencyKey(ctx, req.Scope.UserID, req.IdempotencyKey)
		switch {
		case err == nil:
			s.logger.Debug("idempotent replay", "deployment_id", existing.ID, "idempotency_key", req.IdempotencyKey)
			return existing.ID, nil
		case !errors.Is(err, statestore.ErrNotFound):
			return uuid.Nil, domain.NewTransientError("state store unavailable", err)
		}
	}

	v, err := s.registry.Resolve(ctx, req.Template)
	if err != nil {
		return uuid.Nil, templateError(err)
	}
	if err := s.registry.CheckDeployable(ctx, v, req.Scope); err != nil {
		return uuid.Nil, templateError(err)
	}
	tmpl, err := s.registry.GetTemplate(ctx, v.TemplateID)
	if err != nil {
		return uuid.Nil, templateError(err)
	}

	m, err := s.quota.ResolveProject(ctx, req.Scope, req.Target)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.quota.Check(ctx, m.ProjectID, v.Footprint); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	name := req.Name
	if name == "" {
		name = domain.DefaultDeploymentName(tmpl.Name, id)
	}

	created, err := s.states.Create(ctx, &domain.Deployment{
		ID:             id,
		Name:           name,
		TemplateID:     v.TemplateID,
		VersionID:      v.ID,
		OwnerID:        req.Scope.UserID,
		TenantID:       req.Scope.TenantID,
		CourseID:       req.Target.CourseID,
		ProjectID:      m.ProjectID,
		IdempotencyKey: req.IdempotencyKey,
		Parameters:     req.Parameters,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) && req.IdempotencyKey != "" {
			// Параллельный запрос с тем же ключом успел первым.
			existing, gerr := s.states.GetByIdempotencyKey(ctx, req.Scope.UserID, req.IdempotencyKey)
			if gerr == nil {
				return existing.ID, nil
			}
		}
		return uuid.Nil, domain.NewTransientError("state store unavailable", err)
	}

	logger := telemetry.WithTemplateID(telemetry.WithDeploymentID(s.logger, created.ID.String()), v.TemplateID.String())
	logger.Info("deployment requested",
		"version", v.Version,
		"project_id", created.ProjectID,
		"owner_id", created.OwnerID,
	)

	s.dispatch(ctx, logger, created.ID, domain.TaskKindProvision)
	return created.ID, nil
}

// RequestDeletion ставит флаг отмены и задачу на удаление.
// Допустимо из ACTIVE, FAILED и PROVISIONING; в последнем случае
// шаг создания увидит флаг на ближайшей проверке и перейдёт к удалению.
func (s *Service) RequestDeletion(ctx context.Context, id uuid.UUID) error {
	logger := telemetry.WithDeploymentID(s.logger, id.String())

	d, err := s.setFlag(ctx, id, func(d *domain.Deployment) (bool, error) {
		if !d.State.IsDeletable() {
			return false, rejected(fmt.Sprintf("deployment in state %s cannot be deleted", d.State), ErrInvalidState)
		}
		if err := s.checkMapping(ctx, d); err != nil {
			return false, err
		}
		return !d.CancelRequested, nil
	}, func(x *domain.Deployment) {
		x.CancelRequested = true
	})
	if err != nil {
		return err
	}

	logger.Info("deletion requested", "state", d.State, "revision", d.Revision)
	s.dispatch(ctx, logger, id, domain.TaskKindDelete)
	return nil
}

// RequestUpdate запрашивает перевод активного развёртывания на другую
// версию того же шаблона.
func (s *Service) RequestUpdate(ctx context.Context, id uuid.UUID, ref domain.TemplateRef, scope domain.RequesterScope) error {
	logger := telemetry.WithDeploymentID(s.logger, id.String())

	v, err := s.registry.Resolve(ctx, ref)
	if err != nil {
		return templateError(err)
	}
	if err := s.registry.CheckDeployable(ctx, v, scope); err != nil {
		return templateError(err)
	}

	d, err := s.setFlag(ctx, id, func(d *domain.Deployment) (bool, error) {
		if d.OwnerID != scope.UserID {
			return false, rejected("only the owner can update a deployment", ErrNotOwner)
		}
		if d.State != domain.StateActive {
			return false, rejected(fmt.Sprintf("deployment in state %s cannot be updated", d.State), ErrInvalidState)
		}
		if d.PendingVersionID != nil {
			if *d.PendingVersionID == v.ID {
				return false, nil
			}
			return false, rejected("another update is already pending", ErrUpdatePending)
		}
		if v.TemplateID != d.TemplateID {
			return false, rejected("version belongs to another template", ErrTemplateMismatch)
		}
		if v.ID == d.VersionID {
			return false, rejected(fmt.Sprintf("deployment already runs version %d", v.Version), ErrInvalidState)
		}
		if err := s.checkMapping(ctx, d); err != nil {
			return false, err
		}
		return true, s.checkGrowth(ctx, d, v)
	}, func(x *domain.Deployment) {
		x.PendingVersionID = &v.ID
	})
	if err != nil {
		return err
	}

	logger.Info("update requested", "version", v.Version, "version_id", v.ID, "revision", d.Revision)
	s.dispatch(ctx, logger, id, domain.TaskKindUpdate)
	return nil
}

// GetStatus читает состояние из хранилища и никогда не ждёт исполнителя.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*DeploymentView, error) {
	d, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	instances, err := s.states.Instances(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if instances == nil {
		instances = []domain.DeploymentInstance{}
	}
	return &DeploymentView{
		ID:               d.ID,
		Name:             d.Name,
		State:            d.State,
		Revision:         d.Revision,
		TemplateID:       d.TemplateID,
		VersionID:        d.VersionID,
		PendingVersionID: d.PendingVersionID,
		ProjectID:        d.ProjectID,
		CourseID:         d.CourseID,
		CancelRequested:  d.CancelRequested,
		TotalRetries:     d.TotalRetries,
		LastError:        d.LastError,
		Instances:        instances,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}, nil
}

// History возвращает историю переходов по возрастанию ревизии.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]domain.DeploymentEvent, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.states.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	d, err := s.states.Get(ctx, id)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if err != nil {
		return nil, domain.NewTransientError("state store unavailable", err)
	}
	return d, nil
}

// setFlag проверяет развёртывание через check и записывает mutate.
// check возвращает false, если запись не нужна (повтор запроса).
// Конфликт ревизий с исполнителем повторяется на свежей записи.
func (s *Service) setFlag(ctx context.Context, id uuid.UUID, check func(d *domain.Deployment) (bool, error), mutate func(d *domain.Deployment)) (*domain.Deployment, error) {
	var lastErr error
	for range maxFlagAttempts {
		d, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}

		write, err := check(d)
		if err != nil {
			return nil, err
		}
		if !write {
			return d, nil
		}

		next, err := s.states.Update(ctx, d, mutate)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// checkMapping отклоняет операцию, если проект цели исчез или сменился.
func (s *Service) checkMapping(ctx context.Context, d *domain.Deployment) error {
	m, err := s.quota.ResolveProject(ctx, d.Scope(), d.Target())
	if err != nil {
		return err
	}
	if m.ProjectID != d.ProjectID {
		return domain.NewValidationError("target project changed from %s to %s", d.ProjectID, m.ProjectID)
	}
	return nil
}

// checkGrowth проверяет квоту на прирост ресурсов новой версии.
func (s *Service) checkGrowth(ctx context.Context, d *domain.Deployment, next *domain.TemplateVersion) error {
	cur, err := s.registry.GetVersion(ctx, d.VersionID)
	if err != nil {
		return templateError(err)
	}
	growth := domain.Footprint{
		Instances: max(0, next.Footprint.Instances-cur.Footprint.Instances),
		VCPUs:     max(0, next.Footprint.VCPUs-cur.Footprint.VCPUs),
		RAMMB:     max(0, next.Footprint.RAMMB-cur.Footprint.RAMMB),
	}
	if growth == (domain.Footprint{}) {
		return nil
	}
	return s.quota.Check(ctx, d.ProjectID, growth)
}

// dispatch ставит задачу и будит воркеры.
//
// Ошибки только логируются: развёртывание уже записано, и если задача
// потерялась, её восстановит sweeper.
func (s *Service) dispatch(ctx context.Context, logger *slog.Logger, id uuid.UUID, kind domain.TaskKind) {
	task := domain.NewTask(id, kind)
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		logger.Error("failed to enqueue task", "kind", kind, "error", err)
		return
	}

	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishTaskReady(ctx, task.ID, id); err != nil {
		logger.Warn("failed to publish task.ready", "task_id", task.ID, "error", err)
	}
}

func templateError(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return rejected("template not found", err)
	case errors.Is(err, registry.ErrNotApproved):
		return rejected("template is not deployable", err)
	default:
		return domain.NewTransientError("template registry unavailable", err)
	}
}
