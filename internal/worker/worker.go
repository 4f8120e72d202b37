package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/lease"
	"github.com/shaiso/Dozilab/internal/mq"
	"github.com/shaiso/Dozilab/internal/openstack"
	"github.com/shaiso/Dozilab/internal/secrets"
	"github.com/shaiso/Dozilab/internal/statestore"
	"github.com/shaiso/Dozilab/internal/store"
)

// Default configuration values.
const (
	defaultWorkers         = 4
	defaultPollInterval    = 10 * time.Second
	defaultPrefetch        = 5
	defaultRetryCap        = 5
	defaultStepTimeout     = 10 * time.Minute
	defaultVisibility      = 15 * time.Minute
	defaultLeaseRetryDelay = 5 * time.Second
)

// Adapter — операции над стеками Heat (openstack.Client).
type Adapter interface {
	CreateStack(ctx context.Context, spec openstack.StackSpec) (string, error)
	FindStack(ctx context.Context, projectID, name string) (string, error)
	PollStack(ctx context.Context, ref openstack.StackRef) (*openstack.StackStatus, error)
	UpdateStack(ctx context.Context, ref openstack.StackRef, spec openstack.StackSpec) error
	DeleteStack(ctx context.Context, ref openstack.StackRef) error
}

// Templates — доступ к версиям шаблонов (registry.Registry).
type Templates interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*domain.TemplateVersion, error)
	CheckDeployable(ctx context.Context, v *domain.TemplateVersion, scope domain.RequesterScope) error
	Content(ctx context.Context, v *domain.TemplateVersion) ([]byte, error)
}

// Quota — проверки проекта и квоты (quota.Checker).
type Quota interface {
	ResolveProject(ctx context.Context, scope domain.RequesterScope, target domain.Target) (*domain.ProjectMapping, error)
	Check(ctx context.Context, projectID string, fp domain.Footprint) error
	Invalidate(ctx context.Context, projectID string)
}

// Worker исполняет задачи развёртываний.
//
// Worker — stateless компонент:
//   - Получает сигналы tasks.ready из RabbitMQ (event-driven)
//   - Периодически забирает задачи из очереди в БД (polling fallback)
//   - Под арендой развёртывания выполняет один шаг автомата
//   - Повторяет транзиентные сбои с exponential backoff
//
// Несколько экземпляров безопасно работают с одной очередью:
// задачу захватывает один воркер, развёртывание — одна аренда.
type Worker struct {
	tasks     store.Tasks
	states    *statestore.Store
	leases    lease.Manager
	adapter   Adapter
	templates Templates
	quota     Quota
	secrets   secrets.Store

	conn     *mq.Connection
	consumer *mq.Consumer

	id              string
	workers         int
	retryCap        int
	backoff         BackoffConfig
	stepTimeout     time.Duration
	pollInterval    time.Duration
	visibility      time.Duration
	leaseRetryDelay time.Duration

	wake chan struct{}

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Tasks     store.Tasks
	States    *statestore.Store
	Leases    lease.Manager
	Adapter   Adapter
	Templates Templates
	Quota     Quota
	Secrets   secrets.Store

	// Conn — опционально; без него воркер работает только на polling.
	Conn *mq.Connection

	// ID — имя воркера в аренде и захвате задач (default: hostname/uuid).
	ID string

	Workers  int // размер пула (default: 4)
	RetryCap int // повторов на состояние до Failed (default: 5)

	Backoff BackoffConfig

	StepTimeout     time.Duration // верхняя граница шага (default: 10m)
	PollInterval    time.Duration // интервал polling (default: 10s)
	Visibility      time.Duration // время захвата задачи (default: 15m)
	LeaseRetryDelay time.Duration // задержка при занятой аренде (default: 5s)

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := cfg.ID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s/%s", host, uuid.NewString()[:8])
	}

	w := &Worker{
		tasks:           cfg.Tasks,
		states:          cfg.States,
		leases:          cfg.Leases,
		adapter:         cfg.Adapter,
		templates:       cfg.Templates,
		quota:           cfg.Quota,
		secrets:         cfg.Secrets,
		conn:            cfg.Conn,
		id:              id,
		workers:         orDefault(cfg.Workers, defaultWorkers),
		retryCap:        orDefault(cfg.RetryCap, defaultRetryCap),
		backoff:         cfg.Backoff.withDefaults(),
		stepTimeout:     orDefault(cfg.StepTimeout, defaultStepTimeout),
		pollInterval:    orDefault(cfg.PollInterval, defaultPollInterval),
		visibility:      orDefault(cfg.Visibility, defaultVisibility),
		leaseRetryDelay: orDefault(cfg.LeaseRetryDelay, defaultLeaseRetryDelay),
		logger:          logger.With("worker_id", id),
	}
	w.wake = make(chan struct{}, w.workers)
	return w
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// ID возвращает имя воркера.
func (w *Worker) ID() string {
	return w.id
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для tasks.ready (если задан Conn)
//   - Пул из Workers горутин, которые разбирают очередь
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"workers", w.workers,
		"poll_interval", w.pollInterval,
		"retry_cap", w.retryCap,
		"step_timeout", w.stepTimeout,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueTasksReady,
			Handler:  w.handleTaskReady,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("task consumer error", "error", err)
			}
		}()
	}

	for range w.workers {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих шагов.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// Wake будит один свободный поток пула. Не блокируется.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// loop — цикл одного потока пула: разбор очереди по сигналу или тикеру.
func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый проход сразу при старте (подхватываем задачи, созданные пока были выключены)
	w.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.drain(ctx)
	}
}

// drain выполняет задачи, пока очередь не опустеет.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		ok, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("failed to run task", "error", err)
			return
		}
		if !ok {
			return
		}
	}
}

// RunOnce захватывает одну задачу и выполняет для неё один шаг.
// Возвращает false, если доступных задач нет.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if w.IsStopped() {
		return false, ErrWorkerStopped
	}

	task, err := w.tasks.Dequeue(ctx, w.id, w.visibility)
	if errors.Is(err, store.ErrNoTask) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue task: %w", err)
	}

	if err := w.processTask(ctx, task); err != nil {
		return true, err
	}
	return true, nil
}
