package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fintrack/fintrack/internal/config"
	"github.com/fintrack/fintrack/internal/handlers"
	"github.com/fintrack/fintrack/internal/logging"
	"github.com/fintrack/fintrack/internal/middleware"
	"github.com/fintrack/fintrack/internal/repository"
	"github.com/fintrack/fintrack/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// The development server implements the finance API the CLI talks to.
func main() {
	cfg, err := config.Load(os.Getenv("FINTRACK_CONFIG"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.ValidateServer(); err != nil {
		logger.WithError(err).Fatal("Invalid server configuration")
	}

	ctx := context.Background()

	redisClient, err := repository.NewRedisClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Redis")
	}
	defer redisClient.Close()

	userRepo, err := initUserRepository(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}
	tokenService := service.NewTokenService(redisClient, logger)
	otpService := service.NewOTPService(redisClient, &cfg.OTP, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := handlers.NewRouter(handlers.RouterDeps{
		Auth:           handlers.NewAuthHandlers(otpService, jwtService, tokenService, userRepo, logger),
		Records:        handlers.NewRecordHandlers(repository.NewRecordRepository(), logger),
		AuthMiddleware: middleware.NewAuthMiddleware(jwtService, tokenService, logger),
		Metrics:        middleware.NewHTTPMetrics(registry),
		Gatherer:       registry,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// initUserRepository uses DynamoDB when a table is configured and keeps
// users in memory otherwise.
func initUserRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.UserRepository, error) {
	if cfg.DynamoDB.TableName == "" {
		logger.Warn("No DynamoDB table configured, users are kept in memory")
		return repository.NewMemoryUserRepository(), nil
	}
	client, err := repository.NewDynamoClient(ctx, cfg.DynamoDB, logger)
	if err != nil {
		return nil, err
	}
	return repository.NewDynamoUserRepository(client, cfg.DynamoDB.TableName, logger), nil
}
