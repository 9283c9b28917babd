package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/api"
	"github.com/moviemark/studio-chat/internal/attachment"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/block"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/config"
	"github.com/moviemark/studio-chat/internal/db"
	"github.com/moviemark/studio-chat/internal/directory"
	"github.com/moviemark/studio-chat/internal/gateway"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/messaging"
	"github.com/moviemark/studio-chat/internal/metrics"
	"github.com/moviemark/studio-chat/internal/moderation"
	"github.com/moviemark/studio-chat/internal/ratelimit"
	"github.com/moviemark/studio-chat/internal/report"
	"github.com/moviemark/studio-chat/internal/tasks"
	"github.com/moviemark/studio-chat/internal/worker"
	"github.com/moviemark/studio-chat/internal/ws"
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
	log := logging.Component(logger, "wsserver")

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
	retries := tasks.NewClient(queue)

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "studio-chat-" + cfg.ServerName
	natsClient, err := messaging.NewNATSClient(natsConfig, logging.Component(logger, "nats"))
	if err != nil {
		log.WithError(err).Fatal("failed to connect to NATS")
	}
	defer natsClient.Close()

	// --- Stores and services ---
	messageStore := chat.NewPostgresStore(conn)
	reports := report.NewPostgresStore(conn)
	blocks := block.NewRedisStore(rdb)
	messages := chat.NewService(messageStore, reports, retries, logging.Component(logger, "chat"))

	blobs, err := attachment.NewDiskStore(cfg.UploadDir)
	if err != nil {
		log.WithError(err).Fatal("failed to prepare upload directory")
	}
	uploader := attachment.NewUploader(blobs, attachment.NewValidator(cfg.UploadMaxSize), retries, logging.Component(logger, "attachment"))

	projects := directory.NewCached(directory.NewPostgres(conn), rdb, 5*time.Minute)
	limiter := ratelimit.NewLimiter(rdb, logging.Component(logger, "ratelimit"))

	// Participants only file reports here; administrator actions arrive
	// from the moderator over NATS.
	reporter := moderation.NewEngine(moderation.Deps{
		Messages: messages,
		Reports:  reports,
		Blocks:   blocks,
		Log:      logging.Component(logger, "moderation"),
	})

	gw := gateway.New(gateway.Config{
		PersistTimeout:   cfg.PersistTimeout,
		HistoryLimit:     cfg.HistoryLimit,
		PinRequiresOwner: cfg.PinRequiresOwner,
	}, gateway.Deps{
		Messages:    messages,
		Reports:     reporter,
		Directory:   projects,
		Blocks:      blocks,
		Attachments: uploader,
		Limiter:     limiter.For(ratelimit.Rule{Key: ratelimit.RuleSend.Key, Limit: cfg.SendLimit, Window: cfg.SendWindow}),
		Log:         logging.Component(logger, "gateway"),
	})
	defer gw.Close()

	if err := messaging.SubscribeRoomEvents(natsClient, gw, cfg.PersistTimeout, logging.Component(logger, "room-events")); err != nil {
		log.WithError(err).Fatal("failed to subscribe to room events")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	chatAPI := api.NewChatAPI(api.ChatConfig{
		HistoryLimit:   cfg.HistoryLimit,
		UploadMaxSize:  cfg.UploadMaxSize,
		PersistTimeout: cfg.PersistTimeout,
	}, api.ChatDeps{
		Auth:      verifier,
		Messages:  messages,
		Directory: projects,
		Live:      gw,
		Reports:   reporter,
		Uploads:   uploader,
		Limiter:   limiter.For(ratelimit.RuleUpload),
		Log:       logging.Component(logger, "api"),
	}).Router()

	// --- Blob purge worker ---
	workers := worker.NewServer(redisOpt, worker.ServerConfig{
		Concurrency: 2,
		Queues:      map[string]int{tasks.QueueBlobs: 1},
	}, worker.NewHandlers(nil, blobs, logging.Component(logger, "worker")), logging.Component(logger, "worker"))
	if err := workers.Start(); err != nil {
		log.WithError(err).Fatal("failed to start worker")
	}

	// --- WebSocket server ---
	dispatcher := ws.NewMessageDispatcher(logging.Component(logger, "dispatcher"))
	gw.Register(dispatcher)

	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, verifier, dispatcher.Dispatch, logging.Component(logger, "ws"))
	server.SetOnDisconnect(gw.OnDisconnect)
	server.Handle("/api/", chatAPI)
	server.Handle(attachment.URLPrefix, chatAPI)
	server.Handle("/metrics", metrics.Handler())

	log.WithFields(logrus.Fields{
		"listen_addr":  cfg.ListenAddr,
		"server_name":  cfg.ServerName,
		"redis_addr":   cfg.RedisAddr,
		"nats_url":     cfg.NATSURL,
		"upload_dir":   cfg.UploadDir,
		"upload_limit": cfg.UploadMaxSizeHuman(),
		"send_limit":   cfg.SendLimit,
		"send_window":  cfg.SendWindow,
	}).Info("studio chat gateway starting")

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server error")
		}
	case <-ctx.Done():
		log.Info("received signal, initiating graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("ws shutdown error")
	}
	workers.Shutdown()
	if err := natsClient.Flush(2 * time.Second); err != nil {
		log.WithError(err).Debug("nats flush failed")
	}
	log.Info("studio chat gateway stopped")
}
