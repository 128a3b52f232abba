package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"queuewatch/analytics"
	"queuewatch/cache"
	"queuewatch/config"
	"queuewatch/handlers"
	"queuewatch/metrics"
	"queuewatch/services"
	"queuewatch/source"
	"queuewatch/utils"
)

func main() {
	cfg, err := config.Load(getEnv("QUEUEWATCH_SETTINGS", "settings.json"))
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Dir)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting queuewatch",
		zap.Int("window_size", cfg.WindowSize),
		zap.Int("sources", len(cfg.Sources)))

	// Redis is optional: without it the service keeps detecting but
	// loses point history across restarts.
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Warn("Redis not available, running without cache", zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	ingestSvc, err := services.NewIngest(logger, redisClient, cfg.Detector())
	if err != nil {
		logger.Fatal("Failed to set up ingest service", zap.Error(err))
	}

	monitor := services.NewMonitor(logger, redisClient)
	for _, sc := range cfg.Sources {
		src, err := source.NewSQLSource(sc.Name, sc.DSN, sc.Query)
		if err != nil {
			logger.Fatal("Failed to open source",
				zap.String("source", sc.Name), zap.Error(err))
		}
		det, err := analytics.NewDetector(cfg.Detector())
		if err != nil {
			logger.Fatal("Failed to build detector",
				zap.String("source", sc.Name), zap.Error(err))
		}
		interval := time.Duration(sc.PollingFrequency) * time.Second
		if err := monitor.Add(src, det, interval); err != nil {
			logger.Fatal("Failed to register source",
				zap.String("source", sc.Name), zap.Error(err))
		}
	}
	monitor.Start()

	handler := handlers.NewMonitorHandler(monitor, ingestSvc, redisClient, logger)

	r := mux.NewRouter()

	// Push-mode ingestion
	r.HandleFunc("/ingest/{signal}", handler.IngestSample).Methods("POST")
	r.HandleFunc("/ingest/{signal}/batch", handler.IngestBatch).Methods("POST")

	// Status and history
	r.HandleFunc("/signals", handler.ListSignals).Methods("GET")
	r.HandleFunc("/sources", handler.ListSources).Methods("GET")
	r.HandleFunc("/sources/{name}", handler.GetSource).Methods("GET")
	r.HandleFunc("/sources/{name}/frequency", handler.SetFrequency).Methods("PUT")
	r.HandleFunc("/sources/{name}/points", handler.GetPoints).Methods("GET")
	r.HandleFunc("/sources/{name}/anomalies", handler.GetAnomalies).Methods("GET")

	// Health check
	r.HandleFunc("/health", healthCheck(redisClient)).Methods("GET")

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.MetricsHandler()).Methods("GET")

	// Wrap handler with middlewares (order: rate limit first, then metrics)
	rateLimiter := utils.NewRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	var httpHandler http.Handler = r
	httpHandler = utils.RateLimitMiddleware(rateLimiter)(httpHandler)
	httpHandler = metrics.MetricsMiddleware(httpHandler)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        httpHandler,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// Graceful shutdown handling
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully")
		monitor.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown did not finish cleanly", zap.Error(err))
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}()

	logger.Info("Server starting", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// healthCheck returns a health check handler
func healthCheck(redis *cache.RedisClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		redisStatus := "not configured"

		if redis != nil {
			if err := redis.HealthCheck(); err != nil {
				redisStatus = "unhealthy"
				status = "degraded"
			} else {
				redisStatus = "healthy"
			}
		}

		response := map[string]interface{}{
			"service": "queuewatch",
			"status":  status,
			"redis":   redisStatus,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
