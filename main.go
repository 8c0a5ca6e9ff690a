package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echoloc-core/pkg/aggregate"
	"echoloc-core/pkg/audio"
	"echoloc-core/pkg/config"
	"echoloc-core/pkg/messaging"
	"echoloc-core/pkg/metrics"
	"echoloc-core/pkg/realtime"
	"echoloc-core/pkg/session"
	"echoloc-core/pkg/sonar"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// pingInterval paces the demo ranging loop; real deployments drive pings from
// the embedding application instead.
const pingInterval = 250 * time.Millisecond

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	metrics.EnableMetrics(cfg.HTTP.EnableMetrics)
	metrics.Init(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	provider := audio.NewSimulatedProvider(logger, audio.DefaultSimulatedConfig())
	manager := session.NewManager(logger, provider, cfg.Engine, session.WithObserver(hub))
	defer manager.Cleanup()

	if _, err := manager.Initialize(ctx, cfg.Chirp); err != nil {
		logger.Fatalf("Failed to initialize ranging engine: %v", err)
	}

	publisher := messaging.NewClient(logger, cfg.Messaging)
	if publisher.Enabled() {
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, measurements will not be published")
		}
		defer publisher.Disconnect()
	}

	go rangingLoop(ctx, manager, publisher, cfg)

	mux := http.NewServeMux()
	metrics.RegisterHandler(mux)
	mux.HandleFunc("/ws", hub.ServeWs)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"available": manager.IsAvailable(),
			"state":     manager.State(),
		}
		w.Header().Set("Content-Type", "application/json")
		if !manager.IsAvailable() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: mux,
	}

	go func() {
		logger.WithField("port", cfg.HTTP.Port).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}
}

// rangingLoop runs a continuous demo session: ping, aggregate, publish.
func rangingLoop(ctx context.Context, manager *session.Manager, publisher *messaging.Client, cfg *config.Config) {
	info, err := manager.StartSession(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to start ranging session")
		return
	}
	defer manager.StopSession(info.SessionID)

	window := aggregate.NewWindow(cfg.Aggregation)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		result, err := manager.PerformPing(ctx, sonar.Forward, cfg.Chirp.MaxRangeMeters)
		if err != nil {
			logger.WithError(err).Debug("Ping failed")
			continue
		}

		measurement := window.Add(result)
		if !measurement.IsReliable {
			continue
		}

		if publisher.IsConnected() {
			if err := publisher.PublishMeasurement(measurement); err != nil {
				logger.WithError(err).Warn("Failed to publish measurement")
			}
		}
	}
}
