package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/openstack"
	"github.com/shaiso/Dozilab/internal/secrets"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// readyFunc завершает шаг, когда стек пришёл в целевое состояние.
type readyFunc func(ctx context.Context, d *domain.Deployment, st *openstack.StackStatus) (*domain.Deployment, error)

// await опрашивает стек с backoff, пока операция action не завершится.
//
// Между опросами перечитывает развёртывание: флаг отмены во время
// Provisioning переводит шаг на удаление. Дедлайн проверяется только
// между вызовами, поэтому вызов OpenStack никогда не обрывается.
func (w *Worker) await(ctx context.Context, logger *slog.Logger, d *domain.Deployment, deadline time.Time, action string, onReady readyFunc) (*domain.Deployment, error) {
	b := w.backoff.New()
	for {
		st, err := w.adapter.PollStack(ctx, stackRef(d))
		if err != nil {
			return d, err
		}

		switch st.State {
		case openstack.StackReady:
			if st.Action == action {
				return onReady(ctx, d, st)
			}

		case openstack.StackError:
			// Старое *_FAILED до того, как Heat принял новую операцию, ещё не ответ.
			if st.Action == action || (st.Action == "ROLLBACK" && action != "DELETE") {
				logger.Warn("stack operation failed",
					"stack_id", d.StackID,
					"action", st.Action,
					"state", st.State,
				)
				return d, &domain.Error{
					Kind:    domain.KindFatalInfra,
					Message: fmt.Sprintf("stack %s failed", strings.ToLower(action)),
					Err:     fmt.Errorf("%w: %s", errStackFailed, st.Reason),
				}
			}

		case openstack.StackGone:
			switch action {
			case "DELETE":
				return onReady(ctx, d, st)
			case "CREATE":
				// Стек удалили снаружи: забываем ID, следующая попытка создаст заново.
				logger.Warn("stack disappeared while provisioning", "stack_id", d.StackID)
				cleared, err := w.states.Update(ctx, d, func(x *domain.Deployment) { x.StackID = "" })
				if err != nil {
					return d, err
				}
				return cleared, domain.NewTransientError("stack disappeared", nil)
			default:
				return d, domain.NewFatalError("stack disappeared", nil)
			}
		}

		cur, err := w.states.Get(ctx, d.ID)
		if err != nil {
			return d, domain.NewTransientError("reload deployment", err)
		}
		if cur.Revision != d.Revision {
			if cur.State != d.State {
				return cur, domain.NewConflictError("deployment changed during step", nil)
			}
			d = cur
		}
		if d.State == domain.StateProvisioning && d.CancelRequested {
			logger.Info("cancellation observed while provisioning", "stack_id", d.StackID)
			return w.startDeletion(ctx, d, domain.CauseCancelObserved)
		}

		wait := b.NextBackOff()
		if time.Now().Add(wait).After(deadline) {
			return d, domain.NewTransientError("step timed out", ErrStepTimeout)
		}

		logger.Debug("stack not ready", "action", st.Action, "state", st.State, "wait", wait)
		select {
		case <-ctx.Done():
			return d, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// inProgress — Heat уже выполняет action (запрос отправили, но флаг не записали).
func (w *Worker) inProgress(ctx context.Context, d *domain.Deployment, action string) (bool, error) {
	st, err := w.adapter.PollStack(ctx, stackRef(d))
	if err != nil {
		return false, err
	}
	if action == "DELETE" && st.State == openstack.StackGone {
		return true, nil
	}
	return st.Action == action && st.State == openstack.StackPending, nil
}

func (w *Worker) deadline() time.Time {
	return time.Now().Add(w.stepTimeout)
}

// instances строит записи инстансов из выходов стека.
// Учётные данные уходят в хранилище секретов, в записи остаётся только handle.
func (w *Worker) instances(ctx context.Context, d *domain.Deployment, outputs map[string]any) ([]domain.DeploymentInstance, error) {
	parsed, err := openstack.ParseInstances(outputs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]domain.DeploymentInstance, 0, len(parsed))
	for _, si := range parsed {
		inst := domain.DeploymentInstance{
			ID:           uuid.New(),
			DeploymentID: d.ID,
			ResourceID:   si.ServerID,
			Name:         si.Name,
			Address:      si.Address,
			CreatedAt:    now,
		}

		name := si.Name
		if name == "" {
			name = si.ServerID
		}
		for _, a := range si.Access {
			ep := domain.AccessEndpoint{
				Protocol: a.Protocol,
				Address:  si.Address,
				Port:     a.Port,
				URL:      a.URL,
				Username: a.Username,
			}
			if a.Secret != "" {
				handle, err := w.secrets.Put(ctx, secrets.InstancePath(d.ID, name, a.Protocol), a.Secret)
				if err != nil {
					return nil, domain.NewTransientError("secret store unavailable", err)
				}
				ep.SecretHandle = handle
			}
			inst.Endpoints = append(inst.Endpoints, ep)
		}
		out = append(out, inst)
	}
	return out, nil
}

// dropSecrets удаляет секреты старых инстансов, которых нет среди keep.
// Ошибки только логируются: запись уже в целевом состоянии.
func (w *Worker) dropSecrets(ctx context.Context, old, keep []domain.DeploymentInstance) {
	logger := telemetry.FromContext(ctx)
	removed := 0
	kept := make(map[string]bool)
	for _, inst := range keep {
		for _, h := range inst.SecretHandles() {
			kept[h] = true
		}
	}
	for _, inst := range old {
		for _, h := range inst.SecretHandles() {
			if kept[h] {
				continue
			}
			if err := w.secrets.Delete(ctx, h); err != nil {
				logger.Warn("failed to delete instance secret", "instance", inst.Name, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Debug("instance secrets removed", "count", removed)
	}
}
