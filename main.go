package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	alertapp "plantwatch/internal/alerts/application"
	alertrepo "plantwatch/internal/alerts/infrastructure/postgres"
	"plantwatch/internal/alerts/notify"
	analyticsapp "plantwatch/internal/analytics/application"
	apihttp "plantwatch/internal/api/http"
	"plantwatch/internal/audit"
	"plantwatch/internal/auth"
	catalogapp "plantwatch/internal/catalog/application"
	catalogrepo "plantwatch/internal/catalog/infrastructure/postgres"
	ingestapp "plantwatch/internal/ingest/application"
	ingestmqtt "plantwatch/internal/ingest/interfaces/mqtt"
	"plantwatch/internal/observability/metrics"
	readingrepo "plantwatch/internal/readings/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	catalogRepo := catalogrepo.NewCatalogRepository(db)
	resolver, err := catalogapp.NewResolver(catalogRepo)
	if err != nil {
		logger.Fatalf("resolver error: %v", err)
	}
	readingRepo := readingrepo.NewReadingRepository(db)
	eventRepo := alertrepo.NewEventRepository(db)
	notificationRepo := alertrepo.NewNotificationRepository(db)

	detector, err := alertapp.NewDetector(readingRepo, eventRepo,
		alertapp.WithWindow(cfg.AnomalyWindow),
		alertapp.WithThreshold(cfg.AnomalyThreshold),
	)
	if err != nil {
		logger.Fatalf("detector error: %v", err)
	}

	alertCfg, err := notify.LoadConfig()
	if err != nil {
		logger.Fatalf("alerting config error: %v", err)
	}
	channel, err := alertCfg.BuildChannel()
	if err != nil {
		logger.Fatalf("alerting channel error: %v", err)
	}
	template, err := notify.NewTemplate(alertCfg.Template)
	if err != nil {
		logger.Fatalf("alerting template error: %v", err)
	}
	dispatcher, err := notify.NewDispatcher(
		eventRepo,
		notificationRepo,
		catalogRepo,
		channel,
		template,
		alertCfg.Recipients,
		logger,
		notify.WithQueueSize(alertCfg.QueueSize),
		notify.WithWorkers(alertCfg.Workers),
		notify.WithPointReader(readingRepo),
	)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}
	dispatcher.Start()

	pipeline, err := ingestapp.NewPipeline(resolver, readingRepo, detector, dispatcher, logger)
	if err != nil {
		logger.Fatalf("pipeline error: %v", err)
	}

	subscriber, err := ingestmqtt.NewSubscriber(ingestmqtt.Config{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  cfg.MQTTClientID,
		TopicRoot: cfg.TopicRoot,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		UseTLS:    cfg.MQTTUseTLS,
	}, pipeline, logger)
	if err != nil {
		logger.Fatalf("mqtt subscriber error: %v", err)
	}

	trendAnalyzer, err := analyticsapp.NewTrendAnalyzer(readingRepo, logger)
	if err != nil {
		logger.Fatalf("trend analyzer error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/sensors/", apihttp.NewSensorsHandler(readingRepo, trendAnalyzer))
	mux.Handle("/api/v1/devices/", apihttp.NewDevicesHandler(readingRepo))
	mux.Handle("/api/v1/events", apihttp.NewEventsHandler(eventRepo))
	auditRepo := audit.NewRepository(db)
	notificationsHandler := apihttp.NewNotificationsHandler(notificationRepo, dispatcher, auditRepo)
	mux.Handle("/api/v1/notifications", notificationsHandler)
	mux.Handle("/api/v1/notifications/", notificationsHandler)
	exportHandler := apihttp.NewExportReadingsHandler(db, auditRepo)
	mux.Handle("/api/v1/exports/readings.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/readings.csv", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := subscriber.Start(ctx); err != nil {
		logger.Fatalf("mqtt start error: %v", err)
	}

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http serve error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	// Stop intake first, then drain the notification queue, then close
	// the HTTP surface.
	subscriber.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Printf("dispatcher close error: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
}

type config struct {
	DatabaseURL      string
	HTTPAddr         string
	MQTTBrokerURL    string
	MQTTClientID     string
	MQTTUsername     string
	MQTTPassword     string
	MQTTUseTLS       bool
	TopicRoot        string
	JWTSecret        string
	AnomalyWindow    int
	AnomalyThreshold float64
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		MQTTBrokerURL:    getenvDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:     getenvDefault("MQTT_CLIENT_ID", "plantwatch-ingest"),
		MQTTUsername:     getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:     getenvDefault("MQTT_PASSWORD", ""),
		MQTTUseTLS:       os.Getenv("MQTT_USE_TLS") == "true",
		TopicRoot:        getenvDefault("TOPIC_ROOT", "plant"),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		AnomalyWindow:    getenvIntDefault("ANOMALY_WINDOW", alertapp.DefaultWindow),
		AnomalyThreshold: getenvFloatDefault("ANOMALY_THRESHOLD", alertapp.DefaultThreshold),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.MQTTBrokerURL == "" {
		log.Fatal("MQTT_BROKER_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
