package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/trainwatch/pkg/common/config"
	"github.com/synaptica-ai/trainwatch/pkg/common/database"
	"github.com/synaptica-ai/trainwatch/pkg/common/httpclient"
	"github.com/synaptica-ai/trainwatch/pkg/common/kafka"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/common/middleware"
	"github.com/synaptica-ai/trainwatch/pkg/monitor"
	"github.com/synaptica-ai/trainwatch/pkg/observability/metrics"
	"github.com/synaptica-ai/trainwatch/pkg/sessions"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

func main() {
	logger.Init()
	cfg := config.Load()
	if err := cfg.OverlayError(); err != nil {
		logger.Log.WithError(err).Warn("Ignoring monitor config file")
	}
	metrics.Init()

	backend := training.NewClient(cfg.TrainingBackendURL, httpclient.New(cfg.BackendRequestTimeout), cfg.StopRetryAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		events   monitor.EventPublisher
		producer *kafka.Producer
		consumer *kafka.Consumer
		history  monitor.HistoryLister = backend
	)
	if cfg.EventsEnabled {
		producer = kafka.NewProducer(cfg.KafkaSessionTopic)
		events = producer
	}

	if cfg.HistoryEnabled {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to open session history")
		}
		repo := sessions.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate session history")
		}
		history = repo

		if cfg.EventsEnabled {
			consumer = kafka.NewConsumer(cfg.KafkaSessionTopic, cfg.KafkaGroupID)
			recorder := sessions.NewRecorder(repo)
			go func() {
				if err := consumer.Consume(ctx, recorder.Handle); err != nil && !errors.Is(err, context.Canceled) {
					logger.Log.WithError(err).Error("Session history recorder stopped")
				}
			}()
		} else {
			logger.Log.Warn("History enabled without events, nothing new will be recorded")
		}
	}

	registry := monitor.NewRegistry(backend, sinkFactory(cfg), events, monitor.RegistryConfig{
		Poller: monitor.PollerConfig{
			Interval:             cfg.Monitor.PollInterval,
			RequestTimeout:       cfg.Monitor.RequestTimeout,
			MaxBackoff:           cfg.Monitor.MaxBackoff,
			MaxTransientFailures: cfg.Monitor.MaxTransientFailures,
		},
		SeriesCapacity: cfg.Monitor.SeriesCapacity,
		Metrics:        cfg.Monitor.TrackedMetrics,
	})

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	monitor.NewHTTPHandler(registry, history, cfg.MaxRequestBody).Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"backend": cfg.TrainingBackendURL,
			"sink":    cfg.ChartSink,
		}).Info("Trainwatch started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Trainwatch...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	registry.Close()
	cancel()
	if consumer != nil {
		consumer.Close()
	}
	if producer != nil {
		producer.Close()
	}
	database.ClosePostgres()
	database.CloseRedis()

	logger.Log.Info("Trainwatch stopped")
}

func sinkFactory(cfg *config.Config) monitor.SinkFactory {
	switch cfg.ChartSink {
	case "redis":
		return monitor.RedisSinkFactory(database.GetRedis(cfg), cfg.Monitor.SeriesCapacity, cfg.ChartRedisTTL)
	case "memory":
		return func(string) monitor.ChartSink { return monitor.NewRecordingSink() }
	case "log", "":
		return nil
	}
	logger.Log.WithField("sink", cfg.ChartSink).Warn("Unknown chart sink, logging charts instead")
	return nil
}
