package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/api"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/block"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/config"
	"github.com/moviemark/studio-chat/internal/db"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/messaging"
	"github.com/moviemark/studio-chat/internal/metrics"
	"github.com/moviemark/studio-chat/internal/moderation"
	"github.com/moviemark/studio-chat/internal/report"
	"github.com/moviemark/studio-chat/internal/tasks"
	"github.com/moviemark/studio-chat/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	log := logging.Component(logger, "moderator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := db.Open(openCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := asynq.NewClient(redisOpt)
	defer queue.Close()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "studio-chat-moderator"
	natsClient, err := messaging.NewNATSClient(natsConfig, logging.Component(logger, "nats"))
	if err != nil {
		log.WithError(err).Fatal("failed to connect to NATS")
	}
	defer natsClient.Close()

	// --- Moderation engine ---
	reports := report.NewPostgresStore(conn)
	messages := chat.NewService(chat.NewPostgresStore(conn), reports, tasks.NewClient(queue), logging.Component(logger, "chat"))
	engine := moderation.NewEngine(moderation.Deps{
		Messages: messages,
		Reports:  reports,
		Blocks:   block.NewRedisStore(rdb),
		Audit:    moderation.NewPostgresAudit(conn),
		Notifier: messaging.NewEventPublisher(natsClient),
		Log:      logging.Component(logger, "moderation"),
	})

	// --- Background sweeps ---
	workers := worker.NewServer(redisOpt, worker.DefaultServerConfig(),
		worker.NewHandlers(reports, nil, logging.Component(logger, "worker")), logging.Component(logger, "worker"))
	if err := workers.Start(); err != nil {
		log.WithError(err).Fatal("failed to start worker")
	}
	scheduler, err := worker.NewScheduler(redisOpt, cfg.SweepInterval, logging.Component(logger, "scheduler"))
	if err != nil {
		log.WithError(err).Fatal("failed to register sweeps")
	}
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}

	// --- Admin API ---
	mux := http.NewServeMux()
	mux.Handle("/api/admin/", api.NewAdminAPI(auth.NewVerifier(cfg.JWTSecret), engine, logging.Component(logger, "api")).Router())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              cfg.AdminListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"listen_addr": cfg.AdminListenAddr,
		"redis_addr":  cfg.RedisAddr,
		"nats_url":    cfg.NATSURL,
		"sweep":       cfg.SweepInterval,
	}).Info("studio chat moderator starting")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("admin server error")
		}
	case <-ctx.Done():
		log.Info("received signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("admin server shutdown error")
	}
	scheduler.Shutdown()
	workers.Shutdown()
	if err := natsClient.Flush(2 * time.Second); err != nil {
		log.WithError(err).Debug("nats flush failed")
	}
	log.Info("studio chat moderator stopped")
}
