package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/patient-records/internal/config"
	"github.com/iliyamo/patient-records/internal/database"
	"github.com/iliyamo/patient-records/internal/dataset"
	"github.com/iliyamo/patient-records/internal/handler"
	"github.com/iliyamo/patient-records/internal/middleware"
	"github.com/iliyamo/patient-records/internal/queue"
	"github.com/iliyamo/patient-records/internal/repository"
	"github.com/iliyamo/patient-records/internal/router"
	"github.com/iliyamo/patient-records/internal/service"
	"github.com/iliyamo/patient-records/pkg/sl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := sl.New(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		logger.Error("failed to open persistence backend", sl.Err(err), slog.String("backend", cfg.PersistBackend))
		os.Exit(1)
	}
	defer closeBackend()

	repo := repository.NewPatientRepo(backend, cfg.DefaultListLimit)
	n, err := repo.Load(ctx)
	if err != nil {
		// The service keeps running with an empty store; the next write
		// creates the dataset.
		logger.Error("failed to load patients, starting empty", sl.Err(err))
	} else {
		logger.Info("patients loaded", slog.Int("count", n), slog.Int64("next_id", repo.NextID()))
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.Events.Enabled {
		async := service.NewAsyncPublisher(
			&service.RabbitPublisher{URL: cfg.Events.URL, Queue: cfg.Events.Queue, Log: logger},
			0, 0, logger,
		)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := async.Close(closeCtx); err != nil {
				logger.Warn("pending patient events not delivered", sl.Err(err))
			}
		}()
		events = async
		consumer := &queue.Consumer{
			URL:     cfg.Events.URL,
			Queue:   cfg.Events.Queue,
			LogPath: cfg.Events.AuditLogPath,
			Log:     logger,
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("patient consumer stopped", sl.Err(err))
			}
		}()
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer func(c *redis.Client) { _ = c.Close() }(rdb)
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Address()))
	} else if cfg.Redis.Enabled {
		logger.Warn("redis unavailable, cache and rate limit disabled", slog.String("addr", cfg.Redis.Address()))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.CORS())

	router.RegisterRoutes(e, &handler.HealthHandler{Repo: repo})
	router.RegisterPatients(e, handler.NewPatientHandler(repo, events, logger),
		middleware.NewTokenBucket(cfg.RateLimit, rdb, logger),
		middleware.NewRedisCache(cfg.Cache, rdb, repo.Revision),
	)
	router.RegisterStatic(e, cfg.StaticDir)

	go func() {
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", sl.Err(err))
			stop()
		}
	}()
	logger.Info("server is listening", slog.String("addr", cfg.Addr()), slog.String("env", cfg.Env))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", sl.Err(err))
	}
	logger.Info("server stopped")
}

// openBackend picks where the dataset lives. The returned func releases
// whatever the backend holds open.
func openBackend(cfg config.Config) (repository.Backend, func(), error) {
	switch cfg.PersistBackend {
	case config.BackendMySQL:
		db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
		if err != nil {
			return nil, nil, err
		}
		table := database.NewPatientTable(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := table.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return table, func() { _ = db.Close() }, nil
	default:
		return dataset.NewFile(cfg.DatasetPath), func() {}, nil
	}
}
