package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// Notifier получает уведомления о переходах после успешной записи.
type Notifier interface {
	DeploymentChanged(ctx context.Context, d *domain.Deployment, ev *domain.DeploymentEvent) error
}

// Config — конфигурация Store.
type Config struct {
	Deployments store.Deployments

	// Notifier — опционально; ошибки уведомления не влияют на переход.
	Notifier Notifier

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Store — API переходов состояния развёртываний.
type Store struct {
	deployments store.Deployments
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// New создаёт Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		deployments: cfg.Deployments,
		notifier:    cfg.Notifier,
		logger:      logger,
		now:         now,
	}
}

// TransitionOptions — дополнительные изменения, записываемые вместе с переходом.
type TransitionOptions struct {
	// Err — причина перехода; сохраняется в LastError в редактированном виде.
	Err error

	// ReplaceInstances — заменить инстансы на Instances.
	ReplaceInstances bool
	Instances        []domain.DeploymentInstance

	// Mutate — изменение полей, не являющихся состоянием (ревизию трогать нельзя).
	Mutate func(d *domain.Deployment)
}

// Create сохраняет новое развёртывание в состоянии REQUESTED с ревизией 1.
func (s *Store) Create(ctx context.Context, d *domain.Deployment) (*domain.Deployment, error) {
	now := s.now()
	next := d.Clone()
	next.State = domain.StateRequested
	next.Revision = 1
	next.StackName = domain.StackNameFor(next.ID)
	next.CreatedAt = now
	next.UpdatedAt = now

	ev := s.newEvent(next, "", domain.CauseRequested, 0, nil)

	if err := s.deployments.Create(ctx, next, ev); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}

	telemetry.StateTransitions.WithLabelValues("", string(domain.StateRequested)).Inc()
	s.notify(ctx, next, ev)
	return next, nil
}

// Get возвращает развёртывание.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	d, err := s.deployments.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return d, nil
}

// GetByIdempotencyKey возвращает развёртывание по ключу идемпотентности владельца.
func (s *Store) GetByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*domain.Deployment, error) {
	d, err := s.deployments.GetByIdempotencyKey(ctx, ownerID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment by idempotency key: %w", err)
	}
	return d, nil
}

// History возвращает историю переходов по возрастанию ревизии.
func (s *Store) History(ctx context.Context, id uuid.UUID) ([]domain.DeploymentEvent, error) {
	events, err := s.deployments.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Instances возвращает инстансы развёртывания.
func (s *Store) Instances(ctx context.Context, id uuid.UUID) ([]domain.DeploymentInstance, error) {
	instances, err := s.deployments.ListInstances(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// Transition переводит d в состояние to.
//
// d — снимок, который видел вызывающий; если в хранилище уже другая ревизия,
// возвращается domain.ErrConcurrencyConflict. Счётчик попыток сбрасывается.
func (s *Store) Transition(ctx context.Context, d *domain.Deployment, to domain.DeploymentState, cause string, opts TransitionOptions) (*domain.Deployment, error) {
	if !domain.CanTransition(d.State, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.State, to)
	}

	next := d.Clone()
	if opts.Mutate != nil {
		opts.Mutate(next)
	}
	next.State = to
	next.Revision = d.Revision + 1
	next.Attempts = 0
	next.UpdatedAt = s.now()
	switch {
	case opts.Err != nil:
		next.LastError = domain.Redact(opts.Err)
	case to == domain.StateActive:
		next.LastError = nil
	}

	ev := s.newEvent(next, d.State, cause, d.Attempts, opts.Err)
	change := store.Change{
		Event:            ev,
		ReplaceInstances: opts.ReplaceInstances,
		Instances:        opts.Instances,
	}

	if err := s.swap(ctx, next, d.Revision, change); err != nil {
		return nil, err
	}

	telemetry.StateTransitions.WithLabelValues(string(d.State), string(to)).Inc()
	telemetry.WithDeploymentID(s.logger, d.ID.String()).Info("deployment state changed",
		"from", d.State,
		"to", to,
		"cause", cause,
		"revision", next.Revision,
	)
	s.notify(ctx, next, ev)
	return next, nil
}

// Update меняет поля развёртывания без смены состояния и без события.
func (s *Store) Update(ctx context.Context, d *domain.Deployment, mutate func(d *domain.Deployment)) (*domain.Deployment, error) {
	next := d.Clone()
	mutate(next)
	next.ID = d.ID
	next.State = d.State
	next.Revision = d.Revision + 1
	next.UpdatedAt = s.now()

	if err := s.swap(ctx, next, d.Revision, store.Change{}); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) swap(ctx context.Context, next *domain.Deployment, expected int64, change store.Change) error {
	err := s.deployments.CompareAndSwap(ctx, next, expected, change)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrRevisionMismatch):
		return domain.NewConflictError(fmt.Sprintf("revision %d is stale", expected), err)
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return domain.NewTransientError("state store unavailable", err)
	}
}

func (s *Store) newEvent(d *domain.Deployment, from domain.DeploymentState, cause string, retries int, reason error) *domain.DeploymentEvent {
	ev := &domain.DeploymentEvent{
		ID:           uuid.New(),
		DeploymentID: d.ID,
		Revision:     d.Revision,
		From:         from,
		To:           d.State,
		Cause:        cause,
		Retries:      retries,
		CreatedAt:    d.UpdatedAt,
	}
	if le := domain.Redact(reason); le != nil {
		ev.ErrorKind = le.Kind
		ev.Message = le.Message
	}
	return ev
}

func (s *Store) notify(ctx context.Context, d *domain.Deployment, ev *domain.DeploymentEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.DeploymentChanged(ctx, d, ev); err != nil {
		s.logger.Warn("failed to publish state change",
			"deployment_id", d.ID,
			"revision", ev.Revision,
			"error", err,
		)
	}
}
