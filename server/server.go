package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MixStudio/cache"
	"MixStudio/config"
	"MixStudio/core/auth"
	"MixStudio/core/dispatch"
	"MixStudio/core/notify"
	"MixStudio/core/worker"
	"MixStudio/db"
	"MixStudio/logger"
	"MixStudio/repository"
	"MixStudio/storage"

	"github.com/gorilla/mux"
)

// Options 启动参数
type Options struct {
	// InMemory 使用内存仓库，不连接 MySQL / Redis，用于本地调试
	InMemory bool
}

// NewRouter wires every route of the API onto a gorilla/mux router.
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(TraceID, Logging, Recovery, CORS)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/register", h.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", h.LoginHandler).Methods(http.MethodPost)

	// 工程与音轨
	router.HandleFunc("/api/projects", h.AuthMiddleware(h.GetProjectsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/projects", h.AuthMiddleware(h.CreateProjectHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/projects/{id}/tracks", h.AuthMiddleware(h.AddTrackHandler)).Methods(http.MethodPost)

	// 音频处理任务
	router.HandleFunc("/api/process", h.ProcessUploadHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/process/existing", h.AuthMiddleware(h.ProcessExistingHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/jobs/{jobId}", h.GetJobHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/jobs", h.AuthMiddleware(h.JobEventsHandler)).Methods(http.MethodGet)

	// 上传文件静态访问
	uploads := http.FileServer(http.Dir(h.cfg.UploadDir))
	router.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", uploads))

	// CORS 预检请求需要匹配到路由
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return router
}

// Start initializes dependencies and serves HTTP until SIGINT/SIGTERM.
func Start(opts Options) {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	})
	defer logger.Sync()

	auth.Init(cfg.JWTSecret, cfg.JWTTTL)
	ensureDirExists(cfg.UploadDir)

	var (
		userRepo    repository.UserRepository
		projectRepo repository.ProjectRepository
		jobRepo     repository.JobRepository
		locker      dispatch.Locker
		mirror      storage.Mirror
	)

	if opts.InMemory {
		logger.Warn("[Server] Running with in-memory repositories, data is lost on exit")
		userRepo = repository.NewMemoryUserRepository()
		projectRepo = repository.NewMemoryProjectRepository()
		jobRepo = repository.NewMemoryJobRepository()
	} else {
		if err := db.ConnectDB(cfg); err != nil {
			logger.Fatal("Failed to connect to database", logger.ErrorField(err))
		}
		defer db.CloseDB()

		if err := db.InitDB(); err != nil {
			logger.Fatal("Failed to initialize database", logger.ErrorField(err))
		}

		if err := db.ConnectGormDB(cfg); err != nil {
			logger.Fatal("Failed to connect GORM", logger.ErrorField(err))
		}
		defer db.CloseGormDB()

		if err := db.AutoMigrateModels(); err != nil {
			logger.Fatal("Failed to migrate models", logger.ErrorField(err))
		}

		userRepo = repository.NewMySQLUserRepository(db.DB)
		projectRepo = repository.NewGormProjectRepository(db.GormDB)
		jobRepo = repository.NewGormJobRepository(db.GormDB)

		if cfg.RedisEnabled() {
			if err := db.ConnectRedis(cfg); err != nil {
				// Redis 不可用时退回进程内锁，多实例部署时需要 Redis
				logger.Warn("[Server] Redis unavailable, using in-process track locks", logger.ErrorField(err))
			} else {
				defer db.CloseRedis()
				locker = cache.NewRedisLocker(db.RedisClient)
				jobRepo = cache.NewCachedJobRepository(jobRepo, cache.NewRedisStore(db.RedisClient), cfg.JobCacheTTL)
				logger.Info("[Server] Redis connected, distributed track locks enabled")
			}
		}
	}

	if cfg.MinioEnabled() {
		store, err := storage.NewMinioStore(cfg)
		if err == nil {
			err = store.EnsureBucket(context.Background())
		}
		if err != nil {
			logger.Warn("[Server] MinIO unavailable, uploads will not be mirrored", logger.ErrorField(err))
		} else {
			mirror = store
		}
	}

	workerClient := worker.NewClient(cfg.WorkerURL, cfg.WorkerTimeout)

	hub := notify.NewJobHub()
	go hub.Run()
	defer hub.Stop()

	dispatcher := dispatch.NewDispatcher(workerClient, projectRepo, jobRepo, locker, hub, cfg.WorkerTimeout)
	apiHandler := NewAPIHandler(cfg, userRepo, projectRepo, jobRepo, dispatcher, workerClient, mirror, hub)

	// 写超时要覆盖一次完整的 Worker 调用
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewRouter(apiHandler),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: cfg.WorkerTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("[Server] MixStudio API starting",
			logger.String("addr", server.Addr),
			logger.String("worker", workerClient.BaseURL()),
			logger.Duration("workerTimeout", cfg.WorkerTimeout))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("[Server] Shutting down...")

	// 等待进行中的任务写完终态
	ctx, cancel := context.WithTimeout(context.Background(), cfg.WorkerTimeout+15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("[Server] Forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("[Server] Server stopped")
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("Failed to create directory", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("Failed to check directory", logger.String("path", path), logger.ErrorField(err))
	}
}
