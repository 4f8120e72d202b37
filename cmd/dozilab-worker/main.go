// Dozilab Worker — исполнитель задач развёртываний.
//
// Worker:
//   - Получает сигналы tasks.ready из RabbitMQ и забирает задачи из очереди в БД
//   - Под арендой развёртывания выполняет шаги автомата против OpenStack Heat
//   - Повторяет транзиентные сбои с exponential backoff
//   - Периодически ставит задачи для зависших развёртываний (sweeper)
//   - Отдаёт /healthz и /metrics
//
// Workers масштабируются горизонтально: задачу захватывает один процесс,
// развёртывание защищено арендой в Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Dozilab/internal/app"
	"github.com/shaiso/Dozilab/internal/config"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "config file (default: $"+config.EnvConfigFile+")")
	noSweeper := flag.Bool("no-sweeper", false, "do not run the recovery sweeper in this process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Логгер ещё не настроен: уровень и формат приходят из конфигурации.
		telemetry.SetupLogger("INFO", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting dozilab-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	w := a.Worker()
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}
	logger.Info("worker started", "worker_id", w.ID(), "workers", cfg.Executor.Workers)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if w.IsStopped() {
			http.Error(rw, "stopping", http.StatusServiceUnavailable)
			return
		}
		if err := a.Ready(r.Context()); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if !*noSweeper {
		sweeper := a.Sweeper()
		if err := sweeper.Start(gctx); err != nil {
			logger.Error("failed to start sweeper", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			<-gctx.Done()
			sweeper.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		w.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("dozilab-worker exited with error", "error", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("dozilab-worker stopped")
}
