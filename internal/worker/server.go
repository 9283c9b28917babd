// Package worker runs the asynq server that processes background tasks and
// the scheduler that enqueues the periodic orphan report sweep.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/tasks"
)

// ServerConfig tunes the asynq server.
type ServerConfig struct {
	Concurrency int
	Queues      map[string]int // queue name -> priority
}

// DefaultServerConfig consumes the default queue only.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Concurrency: 4,
		Queues:      map[string]int{tasks.QueueDefault: 1},
	}
}

// Server wraps the asynq server lifecycle.
type Server struct {
	server   *asynq.Server
	handlers *Handlers
	log      *logrus.Entry
}

// NewServer creates a worker server. Failed tasks are logged with their
// retry position.
func NewServer(redisOpt asynq.RedisClientOpt, cfg ServerConfig, handlers *Handlers, log *logrus.Entry) *Server {
	log = logging.OrDiscard(log)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultServerConfig().Concurrency
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = DefaultServerConfig().Queues
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retry, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			id, _ := asynq.GetTaskID(ctx)
			log.WithFields(logrus.Fields{
				"task_id":   id,
				"task_type": task.Type(),
				"retry":     retry,
				"max_retry": maxRetry,
			}).WithError(err).Error("task failed")
		}),
	})

	return &Server{server: server, handlers: handlers, log: log}
}

// Start runs the server in the background.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	s.handlers.Register(mux)

	s.log.Info("worker server starting")
	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("worker: start: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight tasks and stops the server.
func (s *Server) Shutdown() {
	s.log.Info("shutting down worker server")
	s.server.Shutdown()
}

// Scheduler enqueues the periodic orphan sweep.
type Scheduler struct {
	scheduler *asynq.Scheduler
	log       *logrus.Entry
}

// NewScheduler registers the orphan sweep on spec, an asynq cron spec such
// as "@every 15m".
func NewScheduler(redisOpt asynq.RedisClientOpt, spec string, log *logrus.Entry) (*Scheduler, error) {
	log = logging.OrDiscard(log)
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	entryID, err := scheduler.Register(spec, tasks.NewOrphanSweepTask())
	if err != nil {
		return nil, fmt.Errorf("worker: register orphan sweep %q: %w", spec, err)
	}
	log.WithFields(logrus.Fields{"schedule": spec, "entry_id": entryID}).Info("orphan sweep registered")
	return &Scheduler{scheduler: scheduler, log: log}, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() error {
	if err := s.scheduler.Start(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return fmt.Errorf("worker: start scheduler: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
