package app

import (
	"advanced_survey_backend/internal/cache"
	"advanced_survey_backend/internal/config"
	"advanced_survey_backend/internal/controller"
	"advanced_survey_backend/internal/repository"
	"advanced_survey_backend/internal/service"
	"advanced_survey_backend/pkg/configwatcher"
	"advanced_survey_backend/pkg/database"
	"advanced_survey_backend/pkg/logger"
	"advanced_survey_backend/pkg/monitoring"
	"advanced_survey_backend/pkg/security"
	"advanced_survey_backend/pkg/tracing"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigPath      string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	survey       *repository.SurveyRepository
	learnerState *repository.LearnerStateRepository
	export       *repository.ExportRepository
	event        *repository.EventRepository
}

type services struct {
	storage    *service.StorageService
	permission *service.ResultsPermission
	survey     *service.SurveyService
	export     *service.ExportService
	pool       *service.WorkerPoolRunner // eager 模式下为 nil
}

type controllers struct {
	survey *controller.SurveyController
	export *controller.ExportController
	health *controller.HealthController
	report *controller.ReportController // 非本地存储时为 nil
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		survey:       repository.NewSurveyRepository(db),
		learnerState: repository.NewLearnerStateRepository(db),
		export:       repository.NewExportRepository(db),
		event:        repository.NewEventRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.permission = service.NewResultsPermission(cfg.Survey.ExtraViewGroups)

	var locker cache.SubmissionLocker
	var events service.EventPublisher = service.NewDBEventPublisher(repos.event)
	if rdb != nil {
		locker = cache.NewRedisLocker(rdb, cfg.Survey.LockTTL)
		events = service.MultiPublisher{events, service.NewRedisStreamPublisher(rdb, cfg.Survey.EventStream)}
	} else {
		locker = cache.NewLocalLocker()
	}

	s.survey = service.NewSurveyService(
		repos.survey,
		repos.learnerState,
		locker,
		events,
		repos.event,
		s.permission,
		cfg.Survey.DefaultMaxSubmissions,
	)

	job := service.NewCSVExportJob(repos.survey, repos.learnerState, s.storage)
	var runner service.ExportRunner
	if cfg.Export.Eager {
		runner = service.NewEagerRunner(job)
	} else {
		s.pool = service.NewWorkerPoolRunner(repos.export, job, cfg.Export.Workers, cfg.Export.QueueSize, cfg.Export.Timeout)
		if err := s.pool.FailUnfinished(context.Background()); err != nil {
			logger.Log.Error("Failed to clean up interrupted export tasks", zap.Error(err))
		}
		s.pool.Start()
		runner = s.pool
	}
	s.export = service.NewExportService(repos.export, runner, s.storage)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	c := &controllers{
		survey: controller.NewSurveyController(s.survey, s.permission),
		export: controller.NewExportController(s.export, s.permission),
		health: controller.NewHealthController(db, rdb),
	}
	// 以实际使用的存储为准，对象存储不可用回退到本地时同样需要下载路由
	if local := s.storage.Local(); local != nil {
		c.report = controller.NewReportController(local)
	}
	return c
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, security.ByClientIP))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// 配置热更新只影响问卷相关的运行时设置
func (a *App) registerConfigCallbacks(s *services) {
	a.RegisterConfigCallback(func(cfg *config.Config) {
		s.permission.SetExtraViewGroups(cfg.Survey.ExtraViewGroups)
		s.survey.SetDefaultMaxSubmissions(cfg.Survey.DefaultMaxSubmissions)
		logger.Log.Info("Survey settings reloaded",
			zap.Strings("extraViewGroups", cfg.Survey.ExtraViewGroups),
			zap.Int("defaultMaxSubmissions", cfg.Survey.DefaultMaxSubmissions),
		)
	})
}

func (a *App) startConfigWatcher(ctx context.Context) {
	if a.ConfigPath == "" {
		return
	}
	go func() {
		err := configwatcher.WatchConfig(ctx, filepath.Join(a.ConfigPath, "config.yaml"), func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
		})
		if err != nil {
			logger.Log.Error("Config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config, configPath string) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config:     cfg,
		ConfigPath: configPath,
		DB:         db,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}
	app.Redis = rdb

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)
	app.registerConfigCallbacks(services)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("advanced-survey", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	a.startConfigWatcher(watchCtx)

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// 先停 HTTP，再等待导出队列清空
	if a.services != nil && a.services.pool != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), a.Config.Export.Timeout+5*time.Second)
		defer drainCancel()
		if err := a.services.pool.Shutdown(drainCtx); err != nil {
			logger.Log.Warn("Export workers did not drain in time", zap.Error(err))
		}
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	log.Println("Server exiting")
}
