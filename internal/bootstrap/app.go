// Package bootstrap assembles the service from its configuration.
package bootstrap

import (
	"chatalarm/backend/internal/api/handler"
	"chatalarm/backend/internal/chat"
	"chatalarm/backend/internal/chathub"
	"chatalarm/backend/internal/config"
	"chatalarm/backend/internal/localization"
	"chatalarm/backend/internal/middleware"
	"chatalarm/backend/internal/notify"
	"chatalarm/backend/internal/presence"
	"chatalarm/backend/internal/storage"
	"chatalarm/backend/internal/tasks"
	"chatalarm/backend/internal/worker"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds every long-lived component of the service.
type App struct {
	Config      *config.Config
	Log         *logrus.Logger
	DB          *gorm.DB
	Store       storage.Storage
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *chathub.Hub
	Router      *gin.Engine
	HttpServer  *http.Server

	inline *notify.InlineDispatcher
}

// NewApp connects the infrastructure and wires the services. Presence left open by a
// previous process is closed before the app is returned.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s)", log.GetLevel())

	store, db, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}
	log.WithField("driver", cfg.StorageDriver).Info("Storage initialized")

	rdb, err := OpenRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		log.Info("Redis client initialized")
	}

	texts, err := localization.NewEmbedded(cfg.AlarmLang)
	if err != nil {
		return nil, fmt.Errorf("load alarm texts: %w", err)
	}

	registry := presence.NewRegistry(store)
	if err := registry.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover presence: %w", err)
	}

	reads := chat.NewReadState(store, registry)
	hub := chathub.NewHub(store, registry, reads)
	fanout := notify.NewFanout(store, registry, hub, texts)

	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Store:       store,
		RedisClient: rdb,
		Hub:         hub,
	}

	var dispatcher notify.Dispatcher
	if cfg.NotifyAsync {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		app.AsynqClient = asynq.NewClient(redisOpt)
		app.AsynqServer = worker.NewWorkerServer(redisOpt, worker.NewFanoutHandler(fanout), log)
		dispatcher = tasks.NewDispatcher(app.AsynqClient)
		log.Info("Notifications are dispatched through the task queue")
	} else {
		app.inline = notify.NewInlineDispatcher(fanout, config.FanoutTimeout)
		dispatcher = app.inline
		log.Info("Notifications are dispatched in-process")
	}
	hub.SetDispatcher(dispatcher)

	rooms := chat.NewRoomService(store, reads, hub)
	h := handler.NewHandler(hub, rooms, store, dispatcher, texts).WithTokens(cfg.JWTSecret, cfg.JWTTTL)

	app.Router = newRouter(cfg, log, rdb)
	h.Register(app.Router, middleware.Auth(cfg.JWTSecret), !cfg.IsProduction())

	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return app, nil
}

func newRouter(cfg *config.Config, log *logrus.Logger, rdb *redis.Client) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if rdb != nil {
		r.Use(middleware.RateLimit(rdb, cfg.RateLimitMax, cfg.RateLimitWindow))
	}
	return r
}

// Start runs the worker server, when configured, and the HTTP server in the background.
func (a *App) Start() {
	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.Log.Info("Asynq worker server routine started")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown stops accepting requests, closes live connections and drains pending
// notifications before closing the connections to Redis and the database.
func (a *App) Shutdown(ctx context.Context) {
	a.Log.Info("Shutting down application...")

	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// Hijacked websocket connections are not tracked by the HTTP server.
	a.Hub.CloseAll(ctx)

	if a.inline != nil {
		a.inline.Wait()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware logs one line per request, at a level chosen by the status code.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"status_code": c.Writer.Status(),
			"latency_ms":  time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			entry.Error(msg)
			return
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
