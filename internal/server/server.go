package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pantry-store/internal/auth"
	"pantry-store/internal/config"
	"pantry-store/internal/database"
	"pantry-store/internal/metrics"
	custommiddleware "pantry-store/internal/middleware"
	"pantry-store/internal/notification"
	"pantry-store/internal/repository"
	"pantry-store/internal/service"
	"pantry-store/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	NotifyDriverRedis = "redis"
	NotifyDriverLog   = "log"
)

type Server struct {
	*http.Server
	config     *config.Config
	logger     *zap.Logger
	db         database.Service
	redis      *redis.Client
	dispatcher *notification.Dispatcher
}

// NewServer wires repositories, services and handlers into an http.Server
func NewServer(cfg *config.Config, logger *zap.Logger, db database.Service, redisClient *redis.Client) (*Server, error) {
	orderCfg, err := service.NewOrderConfig(cfg.Orders)
	if err != nil {
		return nil, fmt.Errorf("invalid order configuration: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := metrics.NewOrderMetrics(registry)
	notificationMetrics := metrics.NewNotificationMetrics(registry)

	notifier, err := newNotifier(cfg.Notifications, redisClient, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := notification.NewDispatcher(notifier, notification.DispatcherConfig{
		Workers:   cfg.Notifications.Workers,
		QueueSize: cfg.Notifications.QueueSize,
		Timeout:   cfg.Notifications.Timeout,
	}, logger, notificationMetrics)

	// Initialize repositories
	sqlDB := db.DB()
	tx := repository.NewTransactor(sqlDB)
	productRepo := repository.NewProductRepository(sqlDB)
	categoryRepo := repository.NewCategoryRepository(sqlDB)
	cartRepo := repository.NewCartRepository(sqlDB)
	orderRepo := repository.NewOrderRepository(sqlDB)

	// Initialize services
	catalogService := service.NewCatalogService(productRepo, categoryRepo, logger)
	cartService := service.NewCartService(tx, cartRepo, productRepo, logger)
	orderService := service.NewOrderService(tx, productRepo, cartRepo, orderRepo, dispatcher, orderCfg, orderMetrics, logger)
	lifecycleService := service.NewLifecycleService(tx, orderRepo, productRepo, dispatcher, orderCfg, orderMetrics, logger)

	// Initialize handlers
	productHandler := transport.NewProductHandler(catalogService, logger)
	cartHandler := transport.NewCartHandler(cartService, logger)
	orderHandler := transport.NewOrderHandler(orderService, lifecycleService, logger)

	s := &Server{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		dispatcher: dispatcher,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.Server.IsDevelopment()))
	router.Use(middleware.Compress(5))
	router.NotFound(custommiddleware.NotFound)

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	authMiddleware := custommiddleware.AuthMiddleware(auth.NewJWTResolver(cfg.JWT.Secret), logger)
	adminMiddleware := custommiddleware.RequireAdmin(logger)

	router.Group(func(r chi.Router) {
		r.Use(custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         "pantry:ratelimit",
		}, logger))

		productHandler.RegisterRoutes(r, authMiddleware, adminMiddleware)
		cartHandler.RegisterRoutes(r, authMiddleware)
		orderHandler.RegisterRoutes(r, authMiddleware, adminMiddleware)
	})

	s.Server = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return s, nil
}

func newNotifier(cfg config.NotificationsConfig, redisClient *redis.Client, logger *zap.Logger) (notification.Notifier, error) {
	switch cfg.Driver {
	case NotifyDriverRedis:
		return notification.NewRedisNotifier(redisClient, cfg.RedisList), nil
	case NotifyDriverLog, "":
		return notification.NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Driver)
	}
}

// health reports database and Redis reachability; either being down
// answers 503.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "ok"

	dbHealth := s.db.Health(ctx)
	if dbHealth["status"] != "up" {
		status, overall = http.StatusServiceUnavailable, "degraded"
	}

	redisHealth := map[string]string{"status": "up"}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		redisHealth = map[string]string{"status": "down", "error": err.Error()}
		status, overall = http.StatusServiceUnavailable, "degraded"
	}

	custommiddleware.RespondWithJSON(w, status, map[string]interface{}{
		"status":   overall,
		"database": dbHealth,
		"redis":    redisHealth,
	})
}

// Close drains pending notifications, then releases Redis and the database.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Closing server resources")

	var errs []error
	if err := s.dispatcher.Close(ctx); err != nil {
		s.logger.Error("Failed to drain notifications", zap.Error(err))
		errs = append(errs, err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
			errs = append(errs, err)
		}
	}

	s.logger.Sync()
	return errors.Join(errs...)
}
