package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/trainwatch/pkg/common/config"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/common/middleware"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

const defaultPort = "8088"

func main() {
	logger.Init()
	cfg := config.Load()

	port := os.Getenv("SIM_PORT")
	if port == "" {
		port = defaultPort
	}

	sim := training.NewSimulator(training.SimulatorConfig{
		EpochDelay: cfg.SimEpochDelay,
		FailRate:   cfg.SimFailRate,
	})

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.HandleFunc("/health", healthCheck).Methods("GET")
	training.NewHTTPHandler(sim, cfg.MaxRequestBody).Register(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, port),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":        cfg.ServerHost,
			"port":        port,
			"epoch_delay": cfg.SimEpochDelay.String(),
			"fail_rate":   cfg.SimFailRate,
		}).Info("Training simulator started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down training simulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	sim.Close()

	logger.Log.Info("Training simulator stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
