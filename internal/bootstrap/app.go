package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	httphandler "collaborative-scene/internal/handler/http"
	wshandler "collaborative-scene/internal/handler/websocket"
	"collaborative-scene/internal/hub"
	gormpersistence "collaborative-scene/internal/infra/persistence/gorm"
	redisstate "collaborative-scene/internal/infra/state/redis"
	"collaborative-scene/internal/infra/setup"
	"collaborative-scene/internal/middleware"
	"collaborative-scene/internal/repository"
	"collaborative-scene/internal/service"
	"collaborative-scene/internal/tasks"
	"collaborative-scene/internal/worker"
)

// App 持有全部已装配的组件，负责启动与优雅关停。
type App struct {
	cfg Config

	httpServer  *http.Server
	hub         *hub.Hub
	redisClient *redis.Client
	asynqClient *asynq.Client
	asynqServer *asynq.Server
}

// NewApp 按配置装配应用。外部依赖缺失时逐级降级而不是拒绝启动。
func NewApp(cfg Config) (*App, error) {
	SetupLogger(cfg.LogLevel)
	app := &App{cfg: cfg}

	var stateRepo repository.StateRepository
	var limiter *redisstate.RedisStateRepository
	if cfg.RedisAddr != "" {
		client, err := setup.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, running in memory-only mode")
		} else {
			app.redisClient = client
			repo := redisstate.NewRedisStateRepository(client, "")
			stateRepo = repo
			limiter = repo
		}
	} else {
		logrus.Info("No REDIS_ADDR configured, running in memory-only mode")
	}

	var archiver service.TimelineArchiver
	if app.redisClient != nil && cfg.MySQLDSN != "" {
		db, err := setup.OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		app.asynqClient = asynq.NewClient(redisOpt)
		app.asynqServer = worker.NewServer(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		archiver = tasks.NewArchiver(app.asynqClient)

		timelineRepo := gormpersistence.NewGormTimelineRepository(db)
		go func() {
			if err := app.asynqServer.Run(worker.NewMux(timelineRepo)); err != nil {
				logrus.WithError(err).Error("Task worker stopped")
			}
		}()
	} else if cfg.MySQLDSN == "" {
		logrus.Info("No MYSQL_DSN configured, timeline archival disabled")
	}

	rooms := service.NewRoomService(stateRepo)
	oplog := service.NewOpLogService(service.OpLogOptions{
		MaxSteps:    cfg.MaxUndoSteps,
		MergeWindow: cfg.MergeWindow,
		TimelineCap: cfg.TimelineCap,
		Archiver:    archiver,
	})
	session := service.NewSessionService(rooms, oplog)
	app.hub = hub.NewHub(session)

	router := app.buildRouter(rooms, limiter)
	app.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket 连接不设写超时
	}
	return app, nil
}

func (a *App) buildRouter(rooms *service.RoomService, limiter *redisstate.RedisStateRepository) *gin.Engine {
	if logrus.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	roomHandler := httphandler.NewRoomHandler(rooms)
	wsHandler := wshandler.NewHandler(a.hub)

	api := router.Group("/api")
	if limiter != nil {
		api.Use(middleware.RateLimit(limiter, a.cfg.RateLimit, a.cfg.RateWindow))
	}
	if a.cfg.JWTSecret != "" {
		api.Use(middleware.Auth(a.cfg.JWTSecret))
	}
	api.GET("/rooms", roomHandler.List)
	api.POST("/rooms", roomHandler.Create)
	api.GET("/rooms/:roomId", roomHandler.GetRoom)

	ws := router.Group("/ws")
	if a.cfg.JWTSecret != "" {
		ws.Use(middleware.Auth(a.cfg.JWTSecret))
	} else {
		// 开发模式：无密钥时信任查询参数身份
		ws.Use(devIdentity())
	}
	ws.GET("", wsHandler.Serve)

	return router
}

// requestLogger 记录每个 HTTP 请求的结构化日志。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		}).Info("Request handled")
	}
}

// devIdentity 在未配置 JWT_SECRET 时从查询参数取身份，仅供本地开发。
func devIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing userId"})
			return
		}
		c.Set("user_id", userID)
		c.Set("username", c.Query("username"))
		c.Next()
	}
}

// Start 启动 HTTP 服务，阻塞直到服务退出。
func (a *App) Start() error {
	logrus.WithField("addr", a.httpServer.Addr).Info("Server starting")
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bootstrap: server failed: %w", err)
	}
	return nil
}

// Shutdown 按依赖反序关停：先停外部入口，再停连接层，最后释放后端资源。
func (a *App) Shutdown(ctx context.Context) error {
	logrus.Info("Server shutting down")

	var firstErr error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	a.hub.Shutdown()
	if a.asynqServer != nil {
		a.asynqServer.Shutdown()
	}
	if a.asynqClient != nil {
		if err := a.asynqClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
