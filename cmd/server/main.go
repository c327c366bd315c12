package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/api/handlers"
	"github.com/maheshrc27/gramflow/internal/api/middleware"
	job "github.com/maheshrc27/gramflow/internal/jobs"
	"github.com/maheshrc27/gramflow/internal/logging"
	"github.com/maheshrc27/gramflow/internal/metrics"
	"github.com/maheshrc27/gramflow/internal/queue"
	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/scheduler"
	"github.com/maheshrc27/gramflow/internal/service"
)

const (
	maxUploadSize   = 100 * 1024 * 1024 // 100 MB
	shutdownTimeout = 30 * time.Second
)

// engine is a scheduler backend with a lifecycle.
type engine interface {
	service.TriggerScheduler
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	logr, logCloser := logging.New(cfg.Log)
	slog.SetDefault(logr)
	defer logCloser.Close()

	if len(cfg.SecretKey) != 32 {
		log.Fatalf("SECRET_KEY must be 32 bytes, got %d", len(cfg.SecretKey))
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	ctx := context.Background()
	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	jobRepo := repository.NewJobRepository(db)
	triggerRepo := repository.NewTriggerRepository(db)
	historyRepo := repository.NewPostingHistoryRepository(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	instagramService := service.NewInstagramService(*cfg, httpClient)
	credentialService := service.NewCredentialService(*cfg, accountRepo, instagramService)
	publishService := service.NewPublishService(*cfg, jobRepo, historyRepo, credentialService, instagramService,
		service.RetryPolicyFromConfig(cfg.Polling), logr)

	mediaStore, err := service.NewMediaStore(ctx, *cfg)
	if err != nil {
		log.Fatalf("Failed to set up media store: %v", err)
	}

	schedCfg := scheduler.Config{
		MaxConcurrent: cfg.Scheduler.Concurrency,
		MisfireGrace:  cfg.Scheduler.MisfireGrace,
		ExecTimeout:   cfg.Scheduler.ExecTimeout,
	}

	var eng engine
	switch cfg.Scheduler.Backend {
	case "asynq":
		redisConn, err := redisOpt(cfg.RedisURI)
		if err != nil {
			log.Fatalf("Invalid REDIS_URI: %v", err)
		}
		eng = queue.NewScheduler(redisConn, publishService.Execute, publishService.HandleMisfire, schedCfg, logr)
	case "local", "":
		eng = scheduler.New(triggerRepo, publishService.Execute, schedCfg,
			scheduler.WithLogger(logr),
			scheduler.WithMisfireHandler(publishService.HandleMisfire))
	default:
		log.Fatalf("Unknown SCHEDULER_BACKEND %q", cfg.Scheduler.Backend)
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	slog.Info("scheduler started", "backend", cfg.Scheduler.Backend, "concurrency", schedCfg.MaxConcurrent)

	jobService := service.NewJobService(*cfg, jobRepo, accountRepo, historyRepo, eng)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    maxUploadSize,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				slog.Error("unhandled request error", "path", c.Path(), "error", err)
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(metrics.HTTP())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	health := handlers.NewHealthHandler(db)
	app.Get("/health", health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	if cfg.MediaStore == "local" {
		app.Static(service.LocalMediaPrefix, cfg.MediaDir)
	}

	oauth := handlers.NewOAuthHandler(*cfg, instagramService, credentialService, httpClient)
	app.Get("/oauth/meta/login", oauth.Login)
	app.Get("/oauth/meta/callback", oauth.Callback)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	jobs := handlers.NewJobHandler(jobService)
	api.Post("/jobs", jobs.SubmitJob)
	api.Get("/jobs", jobs.ListJobs)
	api.Get("/jobs/:id", jobs.GetJob)
	api.Post("/jobs/:id/cancel", jobs.CancelJob)
	api.Post("/jobs/:id/retrigger", jobs.RetriggerJob)
	api.Post("/jobs/:id/abandon", jobs.AbandonJob)
	api.Get("/triggers", jobs.ListTriggers)

	media := handlers.NewMediaHandler(mediaStore, maxUploadSize)
	api.Post("/media", media.UploadMedia)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(credentialService, logr)
	staleReport := job.NewStaleJobReport(jobRepo, cfg.StaleRunningAfter, logr)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 00h05m00s", staleReport.Report)
	c.Start()
	go staleReport.Report()

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	slog.Info("server is running", "addr", cfg.ListenAddr)

	gracefulShutdown(app, eng, c)
}

func redisOpt(uri string) (asynq.RedisConnOpt, error) {
	if strings.Contains(uri, "://") {
		return asynq.ParseRedisURI(uri)
	}
	return asynq.RedisClientOpt{Addr: uri}, nil
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

// gracefulShutdown stops intake first, then waits for in-flight publishes.
// Persisted triggers survive and are reloaded on the next start.
func gracefulShutdown(app *fiber.App, eng engine, c *cron.Cron) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("shutting down server")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}
	c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		slog.Error("scheduler did not stop cleanly", "error", err)
	}

	slog.Info("server shutdown complete")
}
