package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/solacehealth/safety-engine/internal/classifier"
	"github.com/solacehealth/safety-engine/internal/config"
	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/detector"
	"github.com/solacehealth/safety-engine/internal/domain"
	"github.com/solacehealth/safety-engine/internal/engine"
	"github.com/solacehealth/safety-engine/internal/event"
	"github.com/solacehealth/safety-engine/internal/handlers"
	"github.com/solacehealth/safety-engine/internal/kafka"
	"github.com/solacehealth/safety-engine/internal/metrics"
	"github.com/solacehealth/safety-engine/internal/notification"
	"github.com/solacehealth/safety-engine/internal/scheduler"
)

func main() {
	configPath := pflag.String("config", "", "path to config file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("Starting safety engine", "environment", cfg.Environment)

	if err := database.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	bus := event.NewBus(logger)

	ruleRepo := database.NewRuleRepository(db, logger)
	executionRepo := database.NewExecutionRepository(db, logger)
	taskRepo := database.NewTaskRepository(db, logger)
	assignmentRepo := database.NewAssignmentRepository(db, logger)
	counselorRepo := database.NewCounselorRepository(db, logger)
	notificationRepo := database.NewNotificationRepository(db, logger)

	// classifier.New returns a typed nil when disabled; assigning it straight
	// to the interface would make the nil check in the detector useless.
	var contextual detector.ContextualClassifier
	if client := classifier.New(cfg.Classifier, logger); client != nil {
		contextual = client
	}
	safetyDetector := detector.NewLayeredDetector(contextual, logger)

	manager, err := notification.NewManager(
		cfg.Notifications,
		notification.NewSendGridSender(cfg.Notifications.Email),
		notification.NewTwilioSender(cfg.Notifications.SMS),
		notification.NewRedisDeduper(redisClient),
		notificationRepo,
		logger,
		collector,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification manager: %w", err)
	}

	assessmentService := domain.NewAssessmentService(assignmentRepo, logger)
	taskService := domain.NewTaskService(taskRepo, bus, logger)
	contactService := domain.NewContactService(counselorRepo, cfg.Notifications.Email.CrisisTeamAddress, logger)

	dispatcher := engine.NewDispatcher(
		manager,
		assessmentService,
		taskService,
		manager,
		contactService,
		time.Duration(cfg.Engine.TaskDueInDays)*24*time.Hour,
		cfg.Engine.ActionTimeout,
		cfg.Engine.ContactCacheTTL,
		logger,
	)

	ruleEngine := engine.NewEngine(bus, ruleRepo, executionRepo, dispatcher, logger, collector)

	handler := handlers.NewHandler(safetyDetector, bus, ruleRepo, executionRepo, taskService, logger, collector)
	router := handler.Router()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ruleEngine.Start(ctx); err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(cfg.Scheduler, taskRepo, executionRepo, bus, logger, collector)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewConsumer(cfg.Kafka, safetyDetector, bus, logger, collector)
		if err != nil {
			return err
		}
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}

		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.Error("Kafka consumer shutdown failed", "error", err)
			}
		}
		if sched != nil {
			sched.Stop()
		}

		ruleEngine.Stop()
		bus.Drain()
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("Safety engine stopped")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" || cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
