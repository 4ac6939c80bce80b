package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantpulse/datafeed/internal/collector"
	"github.com/quantpulse/datafeed/internal/config"
	"github.com/quantpulse/datafeed/internal/coordinator"
	"github.com/quantpulse/datafeed/internal/events"
	"github.com/quantpulse/datafeed/internal/loader"
	"github.com/quantpulse/datafeed/internal/pipeline"
	"github.com/quantpulse/datafeed/internal/scheduler"
	"github.com/quantpulse/datafeed/internal/store"
	"github.com/quantpulse/datafeed/internal/tracker"
	"github.com/quantpulse/datafeed/shared/logger"
	"github.com/quantpulse/datafeed/shared/postgresql"
	"github.com/quantpulse/datafeed/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateSchedulerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	st := store.New(dbClient.GetDB(), appLogger.Logger)

	// Event publisher; falls back to a nop when messaging is disabled.
	var publisher scheduler.Publisher = events.NopPublisher{}
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = events.NewAMQPPublisher(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	// Collection providers register here. Provider adapters live outside
	// this repository and are compiled in by the deployment.
	registry := collector.NewRegistry()

	coord := coordinator.New(coordinatorConfig(&cfg.Coordinator), appLogger.Logger)
	gaps := tracker.New(st, appLogger.Logger)
	rowLoader := loader.New(dbClient.GetDB(), appLogger.Logger)

	pipe := pipeline.New(st, gaps, coord, registry, rowLoader, st, pipeline.Config{
		CallTimeout:     cfg.Scheduler.CallTimeout,
		DefaultLookback: time.Duration(cfg.Scheduler.LookbackDays) * 24 * time.Hour,
	}, appLogger.Logger)

	sched := scheduler.New(st, pipe, publisher, scheduler.Config{
		TickInterval:   cfg.Scheduler.TickInterval,
		Workers:        cfg.Scheduler.Workers,
		SystemCooldown: cfg.Scheduler.SystemCooldown,
	}, appLogger.Logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := sched.Run(ctx); err != nil {
			errChan <- err
		}
		close(errChan)
	}()

	appLogger.Info("Scheduler service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Scheduler error",
				slog.Any("error", err),
			)
			return err
		}
	}

	// Cancel context; Run drains in-flight runs before returning.
	cancel()

	shutdownTimeout := cfg.Scheduler.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	select {
	case <-errChan:
		appLogger.Info("Scheduler stopped gracefully")
	case <-time.After(shutdownTimeout):
		appLogger.Warn("Scheduler shutdown timeout exceeded, forcing exit")
	}

	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Scheduler service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// coordinatorConfig maps the yaml budgets onto the coordinator's config.
func coordinatorConfig(cfg *config.CoordinatorConfig) coordinator.Config {
	out := coordinator.Config{
		DefaultBudget: coordinator.Budget{
			Calls:  cfg.DefaultBudget.Calls,
			Window: cfg.DefaultBudget.Window,
		},
		WaitTimeout: cfg.WaitTimeout,
	}
	if len(cfg.Providers) > 0 {
		out.Budgets = make(map[string]coordinator.Budget, len(cfg.Providers))
		for provider, budget := range cfg.Providers {
			out.Budgets[provider] = coordinator.Budget{
				Calls:  budget.Calls,
				Window: budget.Window,
			}
		}
	}
	return out
}
