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
	"github.com/prescritto-ai/platform/pkg/audit"
	"github.com/prescritto-ai/platform/pkg/common/config"
	"github.com/prescritto-ai/platform/pkg/common/kafka"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	logger.Init(cfg.LogLevel)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to read config file")
	}
	if !cfg.KafkaEnabled {
		logger.Log.Fatal("audit monitor requires KAFKA_ENABLED=true")
	}

	consumer := kafka.NewConsumer(cfg, cfg.AuditTopic, cfg.KafkaGroupID+"-audit-monitor")

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	go func() {
		logger.Log.WithField("addr", address).Info("Audit monitor metrics listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start audit monitor")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		logger.Log.WithField("topic", cfg.AuditTopic).Info("Audit monitor consuming")
		done <- consumer.Consume(ctx, audit.MonitorEvent)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-done:
		logger.Log.WithError(err).Error("audit consumer stopped")
	}

	logger.Log.Info("Shutting down audit monitor...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Audit monitor forced to shutdown")
	}
	if err := consumer.Close(); err != nil {
		logger.Log.WithError(err).Warn("failed to close audit consumer")
	}
	logger.Log.Info("Audit monitor stopped")
}
