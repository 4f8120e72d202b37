package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/artifact"
	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/openstack"
	"github.com/shaiso/Dozilab/internal/registry"
	"github.com/shaiso/Dozilab/internal/statestore"
)

// step выполняет шаг, соответствующий текущему состоянию d.
// Возвращает последнее известное состояние записи, в том числе при ошибке.
func (w *Worker) step(ctx context.Context, logger *slog.Logger, d *domain.Deployment) (*domain.Deployment, error) {
	switch d.State {
	case domain.StateRequested:
		return w.states.Transition(ctx, d, domain.StateValidating, domain.CauseTaskPickedUp, statestore.TransitionOptions{})
	case domain.StateValidating:
		return w.validate(ctx, d)
	case domain.StateProvisioning:
		return w.provision(ctx, logger, d)
	case domain.StateActive:
		return w.activeStep(ctx, d)
	case domain.StateUpdating:
		return w.update(ctx, logger, d)
	case domain.StateDeleting:
		return w.teardown(ctx, logger, d)
	case domain.StateFailed:
		if d.CancelRequested {
			return w.startDeletion(ctx, d, domain.CauseDeletionRequested)
		}
		return d, nil
	case domain.StateDeleted:
		return d, nil
	default:
		return d, domain.NewFatalError(fmt.Sprintf("unknown state %q", d.State), nil)
	}
}

// validate повторяет проверки запроса: шаблон, маппинг проекта, квоту.
func (w *Worker) validate(ctx context.Context, d *domain.Deployment) (*domain.Deployment, error) {
	v, err := w.version(ctx, d.VersionID)
	if err != nil {
		return d, err
	}
	if err := w.templates.CheckDeployable(ctx, v, d.Scope()); err != nil {
		return d, templateError(err)
	}

	m, err := w.quota.ResolveProject(ctx, d.Scope(), d.Target())
	if err != nil {
		return d, err
	}
	if m.ProjectID != d.ProjectID {
		return d, domain.NewValidationError("target project changed from %s to %s", d.ProjectID, m.ProjectID)
	}

	if err := w.quota.Check(ctx, d.ProjectID, v.Footprint); err != nil {
		return d, err
	}

	return w.states.Transition(ctx, d, domain.StateProvisioning, domain.CauseChecksPassed, statestore.TransitionOptions{})
}

// provision создаёт стек (если его ещё нет) и ждёт его готовности.
func (w *Worker) provision(ctx context.Context, logger *slog.Logger, d *domain.Deployment) (*domain.Deployment, error) {
	deadline := w.deadline()

	if d.CancelRequested {
		return w.startDeletion(ctx, d, domain.CauseCancelObserved)
	}

	if d.StackID == "" {
		id, err := w.adapter.FindStack(ctx, d.ProjectID, d.StackName)
		if err != nil {
			return d, err
		}
		if id != "" {
			logger.Info("adopting existing stack", "stack_id", id)
		} else {
			spec, err := w.stackSpec(ctx, d, d.VersionID)
			if err != nil {
				return d, err
			}
			if id, err = w.adapter.CreateStack(ctx, spec); err != nil {
				return d, err
			}
			logger.Info("stack created", "stack_id", id, "stack_name", d.StackName)
		}

		// Если запись не удастся, стек найдётся по имени на следующей попытке.
		if d, err = w.states.Update(ctx, d, func(x *domain.Deployment) { x.StackID = id }); err != nil {
			return nil, err
		}
	}

	return w.await(ctx, logger, d, deadline, "CREATE", w.provisioned)
}

func (w *Worker) provisioned(ctx context.Context, d *domain.Deployment, st *openstack.StackStatus) (*domain.Deployment, error) {
	instances, err := w.instances(ctx, d, st.Outputs)
	if err != nil {
		return d, err
	}
	active, err := w.states.Transition(ctx, d, domain.StateActive, domain.CauseResourceReady, statestore.TransitionOptions{
		ReplaceInstances: true,
		Instances:        instances,
	})
	if err != nil {
		return d, err
	}
	w.quota.Invalidate(ctx, active.ProjectID)
	return active, nil
}

// activeStep выбирает следующую работу для активного развёртывания.
func (w *Worker) activeStep(ctx context.Context, d *domain.Deployment) (*domain.Deployment, error) {
	switch {
	case d.CancelRequested:
		return w.startDeletion(ctx, d, domain.CauseDeletionRequested)
	case d.PendingVersionID != nil:
		return w.states.Transition(ctx, d, domain.StateUpdating, domain.CauseUpdateRequested, statestore.TransitionOptions{
			Mutate: func(x *domain.Deployment) { x.UpdateIssued = false },
		})
	default:
		return d, nil
	}
}

// update отправляет обновление стека один раз и ждёт его завершения.
func (w *Worker) update(ctx context.Context, logger *slog.Logger, d *domain.Deployment) (*domain.Deployment, error) {
	deadline := w.deadline()

	if d.PendingVersionID == nil {
		// Нечего обновлять: возвращаемся к прежней версии.
		return w.states.Transition(ctx, d, domain.StateActive, domain.CauseUpdateComplete, statestore.TransitionOptions{})
	}
	if d.StackID == "" {
		return d, domain.NewFatalError("deployment has no stack to update", nil)
	}

	if !d.UpdateIssued {
		issued, err := w.inProgress(ctx, d, "UPDATE")
		if err != nil {
			return d, err
		}
		if !issued {
			spec, err := w.stackSpec(ctx, d, *d.PendingVersionID)
			if err != nil {
				return d, err
			}
			if err := w.adapter.UpdateStack(ctx, stackRef(d), spec); err != nil {
				return d, err
			}
			logger.Info("stack update issued", "stack_id", d.StackID, "version_id", *d.PendingVersionID)
		}
		if d, err = w.states.Update(ctx, d, func(x *domain.Deployment) { x.UpdateIssued = true }); err != nil {
			return nil, err
		}
	}

	return w.await(ctx, logger, d, deadline, "UPDATE", w.updated)
}

func (w *Worker) updated(ctx context.Context, d *domain.Deployment, st *openstack.StackStatus) (*domain.Deployment, error) {
	instances, err := w.instances(ctx, d, st.Outputs)
	if err != nil {
		return d, err
	}
	old, err := w.states.Instances(ctx, d.ID)
	if err != nil {
		return d, domain.NewTransientError("load instances", err)
	}

	pending := *d.PendingVersionID
	active, err := w.states.Transition(ctx, d, domain.StateActive, domain.CauseUpdateComplete, statestore.TransitionOptions{
		ReplaceInstances: true,
		Instances:        instances,
		Mutate: func(x *domain.Deployment) {
			x.VersionID = pending
			x.PendingVersionID = nil
			x.UpdateIssued = false
		},
	})
	if err != nil {
		return d, err
	}

	w.dropSecrets(ctx, old, instances)
	w.quota.Invalidate(ctx, active.ProjectID)
	return active, nil
}

// teardown удаляет стек и переводит развёртывание в Deleted.
func (w *Worker) teardown(ctx context.Context, logger *slog.Logger, d *domain.Deployment) (*domain.Deployment, error) {
	deadline := w.deadline()

	if d.StackID == "" {
		id, err := w.adapter.FindStack(ctx, d.ProjectID, d.StackName)
		if err != nil {
			return d, err
		}
		if id == "" {
			return w.deleted(ctx, d, nil)
		}
		if d, err = w.states.Update(ctx, d, func(x *domain.Deployment) { x.StackID = id }); err != nil {
			return nil, err
		}
	}

	if !d.DeleteIssued {
		issued, err := w.inProgress(ctx, d, "DELETE")
		if err != nil {
			return d, err
		}
		if !issued {
			if err := w.adapter.DeleteStack(ctx, stackRef(d)); err != nil {
				return d, err
			}
			logger.Info("stack delete issued", "stack_id", d.StackID)
		}
		if d, err = w.states.Update(ctx, d, func(x *domain.Deployment) { x.DeleteIssued = true }); err != nil {
			return nil, err
		}
	}

	return w.await(ctx, logger, d, deadline, "DELETE", w.deleted)
}

// deleted убирает секреты инстансов и фиксирует Deleted.
func (w *Worker) deleted(ctx context.Context, d *domain.Deployment, _ *openstack.StackStatus) (*domain.Deployment, error) {
	old, err := w.states.Instances(ctx, d.ID)
	if err != nil {
		return d, domain.NewTransientError("load instances", err)
	}

	gone, err := w.states.Transition(ctx, d, domain.StateDeleted, domain.CauseResourceGone, statestore.TransitionOptions{
		ReplaceInstances: true,
		Mutate: func(x *domain.Deployment) {
			x.DeleteIssued = false
			x.PendingVersionID = nil
		},
	})
	if err != nil {
		return d, err
	}

	w.dropSecrets(ctx, old, nil)
	w.quota.Invalidate(ctx, gone.ProjectID)
	return gone, nil
}

// startDeletion переводит развёртывание на путь удаления.
func (w *Worker) startDeletion(ctx context.Context, d *domain.Deployment, cause string) (*domain.Deployment, error) {
	return w.states.Transition(ctx, d, domain.StateDeleting, cause, statestore.TransitionOptions{
		Mutate: func(x *domain.Deployment) {
			x.DeleteIssued = false
			x.UpdateIssued = false
		},
	})
}

// version загружает версию шаблона, приводя ошибки реестра к таксономии.
func (w *Worker) version(ctx context.Context, id uuid.UUID) (*domain.TemplateVersion, error) {
	v, err := w.templates.GetVersion(ctx, id)
	if err != nil {
		return nil, templateError(err)
	}
	return v, nil
}

// stackSpec собирает параметры стека для версии versionID.
func (w *Worker) stackSpec(ctx context.Context, d *domain.Deployment, versionID uuid.UUID) (openstack.StackSpec, error) {
	v, err := w.version(ctx, versionID)
	if err != nil {
		return openstack.StackSpec{}, err
	}
	content, err := w.templates.Content(ctx, v)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrCorrupted) || errors.Is(err, artifact.ErrInvalidRef) {
			return openstack.StackSpec{}, domain.NewFatalError("template content unavailable", err)
		}
		return openstack.StackSpec{}, domain.NewTransientError("artifact store unavailable", err)
	}
	return openstack.StackSpec{
		ProjectID:  d.ProjectID,
		Name:       d.StackName,
		Template:   content,
		Parameters: d.Parameters,
		Timeout:    w.stepTimeout,
	}, nil
}

func templateError(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return domain.NewValidationError("template version not found")
	case errors.Is(err, registry.ErrNotApproved):
		return domain.NewValidationError("template is not deployable")
	default:
		return domain.NewTransientError("template registry unavailable", err)
	}
}

func stackRef(d *domain.Deployment) openstack.StackRef {
	return openstack.StackRef{ProjectID: d.ProjectID, Name: d.StackName, ID: d.StackID}
}
