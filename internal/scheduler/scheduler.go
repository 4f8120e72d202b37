package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// Default configuration values.
const (
	defaultBatchSize  = 100
	defaultStaleAfter = 5 * time.Minute
)

// TaskNotifier будит воркеры после постановки задачи (mq.Publisher).
type TaskNotifier interface {
	PublishTaskReady(ctx context.Context, taskID, deploymentID uuid.UUID) error
}

// Scheduler — восстановительный обход зависших развёртываний.
//
// Развёртывание считается зависшим, если исполнителю есть что делать,
// запись давно не менялась, а открытой задачи нет (например, процесс
// упал между созданием записи и постановкой задачи).
type Scheduler struct {
	deployments store.Deployments
	tasks       store.Tasks
	notifier    TaskNotifier
	logger      *slog.Logger
	batchSize   int
	staleAfter  time.Duration
	schedule    string

	cron *cron.Cron
	mu   sync.Mutex
}

// Config — конфигурация Scheduler.
type Config struct {
	Deployments store.Deployments
	Tasks       store.Tasks
	Notifier    TaskNotifier // опционально
	Logger      *slog.Logger

	BatchSize  int           // развёртываний за один тик (default: 100)
	StaleAfter time.Duration // сколько запись должна простоять (default: 5m)
	Schedule   string        // cron-расписание (default: @every 1m)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		deployments: cfg.Deployments,
		tasks:       cfg.Tasks,
		notifier:    cfg.Notifier,
		logger:      logger.With("component", "sweeper"),
		batchSize:   batchSize,
		staleAfter:  staleAfter,
		schedule:    schedule,
	}
}

// Start запускает Tick по расписанию. Тик, не успевший завершиться,
// следующий не перекрывает.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("sweeper started", "schedule", s.schedule, "stale_after", s.staleAfter)
	return nil
}

// Stop останавливает расписание и ждёт текущий тик.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// Tick выполняет один обход.
//
// 1. Находит развёртывания с работой, не менявшиеся дольше StaleAfter
// 2. Пропускает те, у которых есть открытая задача
// 3. Для остальных ставит задачу recover и будит воркеры
//
// Ошибки одного развёртывания не блокируют обработку остальных.
// Возвращает число поставленных задач.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	before := time.Now().UTC().Add(-s.staleAfter)

	stale, err := s.deployments.ListStale(ctx, before, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale deployments: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.logger.Debug("found stale deployments", "count", len(stale))

	var requeued int
	for i := range stale {
		d := &stale[i]

		ok, err := s.recover(ctx, d)
		if err != nil {
			s.logger.Error("failed to recover deployment",
				"deployment_id", d.ID,
				"state", d.State,
				"error", err,
			)
			continue
		}
		if ok {
			requeued++
		}
	}

	s.logger.Info("sweep completed", "stale", len(stale), "requeued", requeued)
	return requeued, nil
}

// recover ставит задачу для развёртывания, если открытой задачи нет.
func (s *Scheduler) recover(ctx context.Context, d *domain.Deployment) (bool, error) {
	open, err := s.tasks.HasOpenTask(ctx, d.ID)
	if err != nil {
		return false, fmt.Errorf("check open task: %w", err)
	}
	if open {
		return false, nil
	}

	task := domain.NewTask(d.ID, domain.TaskKindRecover)
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		return false, fmt.Errorf("enqueue task: %w", err)
	}
	telemetry.SweeperRequeued.Inc()

	s.logger.Info("requeued stalled deployment",
		"deployment_id", d.ID,
		"task_id", task.ID,
		"state", d.State,
		"updated_at", d.UpdatedAt,
	)

	if s.notifier != nil {
		if err := s.notifier.PublishTaskReady(ctx, task.ID, d.ID); err != nil {
			// Не фатально: задача уже в БД, воркер заберёт её polling'ом.
			s.logger.Warn("failed to publish task.ready", "task_id", task.ID, "error", err)
		}
	}
	return true, nil
}
