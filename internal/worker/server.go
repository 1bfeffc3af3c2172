// Package worker runs queued notification fan-out tasks.
package worker

import (
	"chatalarm/backend/internal/tasks"
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// WorkerServer wraps the asynq server consuming the notification queue.
type WorkerServer struct {
	server  *asynq.Server
	log     *logrus.Entry
	handler *FanoutHandler
}

func NewWorkerServer(redisOpt asynq.RedisClientOpt, handler *FanoutHandler, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QueueNotifications: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{server: server, log: logEntry, handler: handler}
}

// Start runs the server until Shutdown. Call it in its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()
	ws.handler.Register(mux)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Errorf("Could not run worker server: %v", err)
			return
		}
	}
	ws.log.Info("Worker server stopped.")
}

func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
