package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/lease"
	"github.com/shaiso/Dozilab/internal/mq"
	"github.com/shaiso/Dozilab/internal/statestore"
	"github.com/shaiso/Dozilab/internal/store"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// Исходы обработки задачи для метрик.
const (
	outcomeCompleted   = "completed"
	outcomeContinued   = "continued"
	outcomeRetried     = "retried"
	outcomeFailed      = "failed"
	outcomeConflict    = "conflict"
	outcomeContention  = "lease_contention"
	outcomeLeaseLost   = "lease_lost"
	outcomeInterrupted = "interrupted"
	outcomeOrphaned    = "orphaned"
)

const releaseTimeout = 5 * time.Second

// handleTaskReady обрабатывает событие tasks.ready: будит пул.
// Сама задача забирается из БД, сообщение — только сигнал.
func (w *Worker) handleTaskReady(_ context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.TaskReadyPayload](msg)
	if err != nil {
		// Повтор не поможет, задачу всё равно подберёт polling.
		w.logger.Error("failed to parse task.ready payload", "error", err)
		return nil
	}

	w.logger.Debug("received task.ready event",
		"task_id", payload.TaskID,
		"deployment_id", payload.DeploymentID,
	)
	w.Wake()
	return nil
}

// processTask выполняет один шаг под арендой развёртывания и решает судьбу задачи.
func (w *Worker) processTask(ctx context.Context, task *domain.Task) error {
	logger := telemetry.WithTaskID(
		telemetry.WithDeploymentID(w.logger, task.DeploymentID.String()),
		task.ID.String(),
	)
	// Учёт задачи не должен обрываться остановкой воркера.
	bookkeeping := context.WithoutCancel(ctx)

	l, err := w.leases.Acquire(ctx, task.DeploymentID, w.id)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			telemetry.LeaseContention.Inc()
			logger.Debug("deployment lease is held, requeueing", "kind", task.Kind)
		} else {
			logger.Warn("failed to acquire lease", "error", err)
		}
		return w.requeue(bookkeeping, task, outcomeContention, w.leaseDelay())
	}
	defer func() {
		rctx, cancel := context.WithTimeout(bookkeeping, releaseTimeout)
		defer cancel()
		if err := l.Release(rctx); err != nil {
			logger.Warn("failed to release lease", "error", err)
		}
	}()

	// Логгер задачи едет в контексте шага до вспомогательных вызовов.
	stepCtx, cancel := context.WithCancelCause(telemetry.WithLogger(ctx, logger))
	defer cancel(nil)
	go func() {
		select {
		case <-l.Lost():
			cancel(ErrLeaseLost)
		case <-stepCtx.Done():
		}
	}()

	d, err := w.states.Get(stepCtx, task.DeploymentID)
	if errors.Is(err, statestore.ErrNotFound) {
		logger.Warn("task references unknown deployment")
		return w.complete(bookkeeping, task, outcomeOrphaned)
	}
	if err != nil {
		logger.Warn("failed to load deployment", "error", err)
		return w.requeue(bookkeeping, task, outcomeRetried, w.backoff.Delay(1))
	}

	state := d.State
	start := time.Now()
	logger.Info("step started",
		"kind", task.Kind,
		"state", state,
		"revision", d.Revision,
		"attempts", d.Attempts,
	)

	next, stepErr := w.step(stepCtx, logger, d)
	if next == nil {
		next = d
	}
	telemetry.StepDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())

	switch {
	case stepErr == nil:
		logger.Info("step finished", "from", state, "to", next.State, "duration", time.Since(start))
	case ctx.Err() != nil:
		logger.Info("step interrupted by shutdown", "state", state)
		return w.requeue(bookkeeping, task, outcomeInterrupted, 0)
	case errors.Is(context.Cause(stepCtx), ErrLeaseLost):
		logger.Warn("lease lost during step", "state", state)
		return w.requeue(bookkeeping, task, outcomeLeaseLost, w.leaseDelay())
	}

	return w.settle(bookkeeping, logger, task, next, stepErr)
}

// settle завершает или переставляет задачу по результату шага.
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, task *domain.Task, d *domain.Deployment, stepErr error) error {
	switch {
	case stepErr == nil:
		if d.NeedsWork() {
			return w.requeue(ctx, task, outcomeContinued, 0)
		}
		return w.complete(ctx, task, outcomeCompleted)

	case errors.Is(stepErr, statestore.ErrNotFound):
		return w.complete(ctx, task, outcomeOrphaned)

	case errors.Is(stepErr, domain.ErrConcurrencyConflict):
		logger.Info("revision conflict, requeueing", append([]any{"state", d.State}, errorAttrs(stepErr)...)...)
		return w.requeue(ctx, task, outcomeConflict, 0)

	case errors.Is(stepErr, domain.ErrValidation):
		return w.fail(ctx, logger, task, d, domain.CauseCheckFailed, stepErr)

	case errors.Is(stepErr, domain.ErrFatalInfra):
		cause := domain.CauseFatalError
		if errors.Is(stepErr, errStackFailed) {
			cause = domain.CauseResourceError
		}
		return w.fail(ctx, logger, task, d, cause, stepErr)

	default:
		return w.retry(ctx, logger, task, d, stepErr)
	}
}

// retry засчитывает неудачную попытку и откладывает задачу с backoff.
// Attempts считает неудачи шага; когда повторов становится больше
// RetryCap, развёртывание уходит в Failed.
func (w *Worker) retry(ctx context.Context, logger *slog.Logger, task *domain.Task, d *domain.Deployment, reason error) error {
	kind := domain.KindOf(reason)
	if kind == "" {
		kind = domain.KindTransientInfra
	}
	telemetry.Retries.WithLabelValues(string(kind)).Inc()

	bumped, err := w.states.Update(ctx, d, func(x *domain.Deployment) {
		x.Attempts++
		x.TotalRetries++
		x.LastError = domain.Redact(reason)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return w.requeue(ctx, task, outcomeConflict, 0)
		}
		logger.Warn("failed to record attempt", "error", err)
		return w.requeue(ctx, task, outcomeRetried, w.backoff.Delay(d.Attempts+1))
	}

	if bumped.Attempts > w.retryCap && domain.CanTransition(bumped.State, domain.StateFailed) {
		logger.Warn("retries exhausted", append([]any{
			"state", bumped.State,
			"attempts", bumped.Attempts,
		}, errorAttrs(reason)...)...)
		return w.fail(ctx, logger, task, bumped, domain.CauseRetriesExhausted, reason)
	}

	delay := w.backoff.Delay(bumped.Attempts)
	logger.Warn("step failed, will retry", append([]any{
		"state", bumped.State,
		"attempts", bumped.Attempts,
		"delay", delay,
	}, errorAttrs(reason)...)...)
	return w.requeue(ctx, task, outcomeRetried, delay)
}

// fail переводит развёртывание в Failed.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, task *domain.Task, d *domain.Deployment, cause string, reason error) error {
	if !domain.CanTransition(d.State, domain.StateFailed) {
		// Из Requested и Active в Failed не ходят; ошибка остаётся в LastError.
		logger.Warn("step failed in a state without failure edge", append([]any{"state", d.State}, errorAttrs(reason)...)...)
		if _, err := w.states.Update(ctx, d, func(x *domain.Deployment) {
			x.LastError = domain.Redact(reason)
		}); err != nil && !errors.Is(err, domain.ErrConcurrencyConflict) {
			return fmt.Errorf("record error: %w", err)
		}
		return w.complete(ctx, task, outcomeFailed)
	}

	from := d.State
	failed, err := w.states.Transition(ctx, d, domain.StateFailed, cause, statestore.TransitionOptions{
		Err:    reason,
		Mutate: resetInFlight(from),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return w.requeue(ctx, task, outcomeConflict, 0)
		}
		logger.Warn("failed to mark deployment failed", "error", err)
		return w.requeue(ctx, task, outcomeRetried, w.backoff.Delay(1))
	}

	logger.Warn("deployment failed", append([]any{"from", from, "cause", cause}, errorAttrs(reason)...)...)
	w.quota.Invalidate(ctx, failed.ProjectID)

	if failed.NeedsWork() {
		return w.requeue(ctx, task, outcomeFailed, 0)
	}
	return w.complete(ctx, task, outcomeFailed)
}

// resetInFlight сбрасывает флаги незавершённой операции при уходе в Failed.
func resetInFlight(from domain.DeploymentState) func(*domain.Deployment) {
	return func(x *domain.Deployment) {
		x.UpdateIssued = false
		x.DeleteIssued = false
		switch from {
		case domain.StateUpdating:
			x.PendingVersionID = nil
		case domain.StateDeleting:
			// Неудачное удаление не повторяется само: нужен новый запрос.
			x.CancelRequested = false
		}
	}
}

func (w *Worker) complete(ctx context.Context, task *domain.Task, outcome string) error {
	telemetry.TasksProcessed.WithLabelValues(string(task.Kind), outcome).Inc()
	return w.claimed(task, w.tasks.Complete(ctx, task), "complete")
}

func (w *Worker) requeue(ctx context.Context, task *domain.Task, outcome string, delay time.Duration) error {
	telemetry.TasksProcessed.WithLabelValues(string(task.Kind), outcome).Inc()
	return w.claimed(task, w.tasks.Requeue(ctx, task, time.Now().UTC().Add(delay)), "requeue")
}

// claimed разбирает результат Complete/Requeue. Истёкший захват не ошибка:
// задачей уже владеет другой воркер, и решать её судьбу ему.
func (w *Worker) claimed(task *domain.Task, err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrClaimLost):
		w.logger.Warn("task claim expired before settlement",
			"task_id", task.ID,
			"deployment_id", task.DeploymentID,
			"op", op,
		)
		return nil
	default:
		return fmt.Errorf("%s task %s: %w", op, task.ID, err)
	}
}

// errorAttrs описывает ошибку шага для журнала: вид и сообщение из
// LastError. Ответ OpenStack из обёрнутой ошибки в журнал не попадает.
func errorAttrs(err error) []any {
	le := domain.Redact(err)
	if le == nil {
		return nil
	}
	return []any{"error_kind", le.Kind, "error", le.Message}
}

func (w *Worker) leaseDelay() time.Duration {
	return jittered(w.leaseRetryDelay, w.backoff.Jitter)
}
