// Package app собирает компоненты Dozilab по конфигурации.
//
// Каждая внешняя зависимость необязательна там, где у неё есть замена
// внутри процесса: без REDIS_ADDR аренды локальные, без VAULT_ADDR секреты
// в памяти, без S3_BUCKET артефакты в памяти, без RABBITMQ_URL воркеры
// работают только на polling. Такой набор годится для одного процесса
// разработчика и для тестов; в production задаются все адреса.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Dozilab/internal/artifact"
	"github.com/shaiso/Dozilab/internal/config"
	"github.com/shaiso/Dozilab/internal/importer"
	"github.com/shaiso/Dozilab/internal/lease"
	"github.com/shaiso/Dozilab/internal/memstore"
	"github.com/shaiso/Dozilab/internal/mq"
	"github.com/shaiso/Dozilab/internal/openstack"
	"github.com/shaiso/Dozilab/internal/orchestrator"
	"github.com/shaiso/Dozilab/internal/quota"
	"github.com/shaiso/Dozilab/internal/registry"
	"github.com/shaiso/Dozilab/internal/repo"
	"github.com/shaiso/Dozilab/internal/scheduler"
	"github.com/shaiso/Dozilab/internal/secrets"
	"github.com/shaiso/Dozilab/internal/statestore"
	"github.com/shaiso/Dozilab/internal/store"
	"github.com/shaiso/Dozilab/internal/worker"
)

// ErrNoDatabase — операция требует PostgreSQL, а процесс работает в памяти.
var ErrNoDatabase = errors.New("operation requires the postgres store")

// App — собранные компоненты одного процесса.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Deployments store.Deployments
	Templates   store.Templates
	Tasks       store.Tasks
	Projects    store.Projects
	Artifacts   store.Artifacts

	Pool      *pgxpool.Pool         // nil для store=memory
	MQ        *mq.Connection        // nil без RABBITMQ_URL
	Publisher *mq.Publisher         // nil без RABBITMQ_URL
	Redis     redis.UniversalClient // nil без REDIS_ADDR

	States       *statestore.Store
	Registry     *registry.Registry
	Adapter      *openstack.Client
	Fake         *openstack.Fake // только для openstack.backend=fake
	Quota        *quota.Checker
	Leases       lease.Manager
	Secrets      secrets.Store
	Importer     *importer.Importer
	Orchestrator *orchestrator.Service

	closers []func()
}

// New подключается к внешним системам и собирает компоненты.
// При ошибке уже открытые соединения закрываются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	for _, open := range []func() error{
		func() error { return a.openStores(ctx) },
		func() error { return a.openMQ(ctx) },
		func() error { return a.openRedis(ctx) },
		a.openSecrets,
		a.openAdapter,
	} {
		if err := open(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.States = statestore.New(statestore.Config{
		Deployments: a.Deployments,
		Notifier:    a.stateNotifier(),
		Logger:      logger,
	})
	a.Registry = registry.New(registry.Config{
		Templates: a.Templates,
		Artifacts: a.Artifacts,
		Logger:    logger,
	})

	var cache quota.Cache
	if a.Redis != nil {
		cache = quota.NewRedisCache(a.Redis, cfg.Quota.UsageCacheTTL)
	}
	a.Quota = quota.NewChecker(a.Projects, a.Adapter, cache, logger)

	if a.Redis != nil {
		a.Leases = lease.NewRedisManager(a.Redis, cfg.Executor.LeaseDuration, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, leases are local to this process")
		a.Leases = lease.NewLocalManager()
	}

	a.Importer = importer.New(a.Registry, logger)
	a.Orchestrator = orchestrator.New(orchestrator.Config{
		States:   a.States,
		Tasks:    a.Tasks,
		Registry: a.Registry,
		Quota:    a.Quota,
		Notifier: a.taskNotifier(),
		Logger:   logger,
	})
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	if a.Config.Store == config.StoreMemory {
		db, err := memstore.New()
		if err != nil {
			return err
		}
		a.Deployments, a.Templates, a.Tasks, a.Projects = db.Deployments, db.Templates, db.Tasks, db.Projects
		a.Logger.Warn("using in-memory store, state is lost on exit")
	} else {
		pool, err := repo.NewPool(ctx, repo.PoolConfig{
			DSN:      a.Config.Database.URL,
			MaxConns: a.Config.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		a.Deployments = repo.NewDeploymentRepo(pool)
		a.Templates = repo.NewTemplateRepo(pool)
		a.Tasks = repo.NewTaskRepo(pool)
		a.Projects = repo.NewProjectRepo(pool)
		a.Logger.Info("database connected")
	}

	s3cfg := a.Config.S3
	if s3cfg.Bucket == "" {
		a.Logger.Warn("S3_BUCKET not set, template artifacts are kept in memory")
		a.Artifacts = artifact.NewMemoryStore()
		return nil
	}
	s3store, err := artifact.NewS3Store(ctx, artifact.S3Config{
		Endpoint:  s3cfg.Endpoint,
		Region:    s3cfg.Region,
		Bucket:    s3cfg.Bucket,
		Prefix:    s3cfg.Prefix,
		AccessKey: s3cfg.AccessKey,
		SecretKey: s3cfg.SecretKey,
		PathStyle: s3cfg.PathStyle,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("connect s3: %w", err)
	}
	a.Artifacts = s3store
	return nil
}

// openMQ подключает RabbitMQ. Недоступный брокер не фатален: воркеры
// перейдут на polling, как и без RABBITMQ_URL.
func (a *App) openMQ(ctx context.Context) error {
	if a.Config.RabbitMQ.URL == "" {
		a.Logger.Info("RABBITMQ_URL not set, running in polling-only mode")
		return nil
	}

	conn, err := mq.NewConnection(a.Config.RabbitMQ.URL, a.Logger)
	if err != nil {
		a.Logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		return nil
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })

	if err := mq.SetupTopology(ctx, conn); err != nil {
		a.Logger.Warn("failed to setup topology", "error", err)
	}
	a.MQ = conn
	a.Publisher = mq.NewPublisher(conn, a.Logger)
	a.Logger.Info("RabbitMQ connected")
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect redis: %w", err)
	}
	a.Redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.Logger.Info("redis connected", "addr", rc.Addr)
	return nil
}

func (a *App) openSecrets() error {
	vc := a.Config.Vault
	if vc.Addr == "" {
		a.Logger.Warn("VAULT_ADDR not set, access secrets are kept in memory")
		a.Secrets = secrets.NewMemoryStore()
		return nil
	}
	vs, err := secrets.NewVaultStore(secrets.VaultConfig{
		Address: vc.Addr,
		Token:   vc.Token,
		Mount:   vc.Mount,
	})
	if err != nil {
		return fmt.Errorf("connect vault: %w", err)
	}
	a.Secrets = vs
	return nil
}

func (a *App) openAdapter() error {
	oc := a.Config.OpenStack
	breaker := openstack.BreakerConfig{
		Failures: oc.BreakerFailures,
		Timeout:  oc.BreakerTimeout,
	}

	if oc.Backend == config.OpenStackFake {
		a.Logger.Warn("using fake OpenStack backend")
		a.Fake = openstack.NewFake()
		a.Adapter = openstack.NewClient(a.Fake, breaker, a.Logger)
		return nil
	}

	client, err := openstack.New(openstack.Config{Region: oc.Region, Breaker: breaker}, a.Logger)
	if err != nil {
		return fmt.Errorf("openstack adapter: %w", err)
	}
	a.Adapter = client
	return nil
}

// stateNotifier и taskNotifier не возвращают типизированный nil в интерфейсе.
func (a *App) stateNotifier() statestore.Notifier {
	if a.Publisher == nil {
		return nil
	}
	return a.Publisher
}

func (a *App) taskNotifier() orchestrator.TaskNotifier {
	if a.Publisher == nil {
		return nil
	}
	return a.Publisher
}

// Worker собирает исполнитель задач.
func (a *App) Worker() *worker.Worker {
	e := a.Config.Executor
	return worker.New(worker.Config{
		Tasks:     a.Tasks,
		States:    a.States,
		Leases:    a.Leases,
		Adapter:   a.Adapter,
		Templates: a.Registry,
		Quota:     a.Quota,
		Secrets:   a.Secrets,
		Conn:      a.MQ,
		Workers:   e.Workers,
		RetryCap:  e.RetryCap,
		Backoff: worker.BackoffConfig{
			Base:       e.Backoff.Base,
			Multiplier: e.Backoff.Multiplier,
			Jitter:     e.Backoff.Jitter,
			Max:        e.Backoff.Max,
		},
		StepTimeout:     e.StepTimeout,
		PollInterval:    e.PollInterval,
		Visibility:      e.Visibility,
		LeaseRetryDelay: e.LeaseRetryDelay,
		Logger:          a.Logger,
	})
}

// Sweeper собирает восстановительный обход.
func (a *App) Sweeper() *scheduler.Scheduler {
	var notifier scheduler.TaskNotifier
	if a.Publisher != nil {
		notifier = a.Publisher
	}
	sc := a.Config.Sweeper
	return scheduler.New(scheduler.Config{
		Deployments: a.Deployments,
		Tasks:       a.Tasks,
		Notifier:    notifier,
		Logger:      a.Logger,
		BatchSize:   sc.BatchSize,
		StaleAfter:  sc.StaleAfter,
		Schedule:    sc.Schedule,
	})
}

// Migrator возвращает миграции PostgreSQL.
func (a *App) Migrator() (*repo.Migrator, error) {
	if a.Pool == nil {
		return nil, ErrNoDatabase
	}
	return repo.NewMigrator(a.Pool, a.Logger), nil
}

// Ready проверяет зависимости, без которых процесс не работает.
func (a *App) Ready(ctx context.Context) error {
	if a.Pool != nil {
		if err := a.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close закрывает соединения в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
