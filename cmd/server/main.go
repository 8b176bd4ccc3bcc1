package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gig-dispatch/internal/config"
	"gig-dispatch/internal/database"
	"gig-dispatch/internal/geo"
	"gig-dispatch/internal/handlers"
	"gig-dispatch/internal/kafka"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/middleware"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/redis"
	"gig-dispatch/internal/services"
	"gig-dispatch/internal/store"
)

func main() {
	// Загрузка конфигурации
	cfg := config.Load()

	// Инициализация логгера
	log := logger.New(&cfg.Logger)
	log.Info("Starting gig dispatch server...")

	// Подключение к базе данных
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(log); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}

	// Подключение к Redis
	redisClient, err := redis.Connect(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Создание Kafka producer
	producer, err := kafka.NewProducer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	// Создание Kafka consumer
	consumer, err := kafka.NewConsumer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Stop()

	// Гео-индекс и хранилище
	geoIdx := geo.NewIndex(time.Duration(cfg.Dispatch.HeartbeatFreshness) * time.Second)
	st := store.NewPostgresStore(db, log)

	// Инициализация сервисов
	cacheService := services.NewCacheService(redisClient, &cfg.Cache, log)
	rateLimiter := services.NewRateLimiterService(redisClient, &cfg.RateLimit, log)
	paymentService := services.NewPaymentService(redisClient, producer, log)
	lifecycleService := services.NewLifecycleService(st, paymentService, producer, log)
	matcherService := services.NewMatcherService(st, geoIdx, &cfg.Dispatch, log)
	dispatcherService := services.NewDispatcherService(st, geoIdx, &cfg.Dispatch, log)
	gigService := services.NewGigService(st, lifecycleService, matcherService, &cfg.Dispatch, log)
	workerService := services.NewWorkerService(st, geoIdx, log)
	expiryService := services.NewExpiryService(st, producer, cacheService, &cfg.Dispatch, log)

	// Прогрев гео-индекса из базы
	if err := workerService.WarmupIndex(context.Background()); err != nil {
		log.WithError(err).Error("Failed to warm up geo index")
	}

	// Инициализация handlers
	gigHandler := handlers.NewGigHandler(gigService, dispatcherService, lifecycleService, producer, cacheService, log)
	workerHandler := handlers.NewWorkerHandler(workerService, producer, cacheService, log)
	healthHandler := handlers.NewHealthHandler(db, redisClient, geoIdx, cacheService)

	// Регистрация обработчиков событий Kafka
	registerEventHandlers(consumer, workerService, log)

	// Запуск Kafka consumer
	if err := consumer.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start Kafka consumer")
	}

	// Запуск фоновой экспирации заявок
	expiryService.Start()
	defer expiryService.Stop()

	// Настройка HTTP роутера
	mux := setupRoutes(gigHandler, workerHandler, healthHandler)
	handler := middleware.RateLimitMiddleware(rateLimiter, log)(mux)

	// Создание HTTP сервера
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запуск сервера в горутине
	go func() {
		log.WithField("address", server.Addr).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(gigHandler *handlers.GigHandler, workerHandler *handlers.WorkerHandler, healthHandler *handlers.HealthHandler) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(healthHandler.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(healthHandler.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(healthHandler.Liveness))

	// Gig endpoints
	mux.HandleFunc("/api/gigs", corsMiddleware(handleGigsRoute(gigHandler)))
	mux.HandleFunc("/api/gigs/nearby", corsMiddleware(gigHandler.GetNearbyGigs))
	mux.HandleFunc("/api/gigs/", corsMiddleware(handleGigRoute(gigHandler)))

	// Worker endpoints
	mux.HandleFunc("/api/workers", corsMiddleware(handleWorkersRoute(workerHandler)))
	mux.HandleFunc("/api/workers/", corsMiddleware(handleWorkerRoute(workerHandler)))

	return mux
}

// handleGigsRoute обрабатывает маршруты для коллекции заявок
func handleGigsRoute(handler *handlers.GigHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.GetGigs(w, r)
		case http.MethodPost:
			handler.CreateGig(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleGigRoute обрабатывает маршруты для отдельной заявки
func handleGigRoute(handler *handlers.GigHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/accept"):
			if r.Method == http.MethodPost {
				handler.AcceptGig(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		case strings.HasSuffix(r.URL.Path, "/events"):
			switch r.Method {
			case http.MethodPost:
				handler.PostGigEvent(w, r)
			case http.MethodGet:
				handler.GetGigEvents(w, r)
			default:
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		case strings.HasSuffix(r.URL.Path, "/confirm"):
			if r.Method == http.MethodPost {
				handler.ConfirmGig(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		default:
			if r.Method == http.MethodGet {
				handler.GetGig(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}
	}
}

// handleWorkersRoute обрабатывает маршруты для коллекции исполнителей
func handleWorkersRoute(handler *handlers.WorkerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.GetWorkers(w, r)
		case http.MethodPost:
			handler.CreateWorker(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleWorkerRoute обрабатывает маршруты для отдельного исполнителя
func handleWorkerRoute(handler *handlers.WorkerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/availability"):
			if r.Method == http.MethodPut {
				handler.UpdateAvailability(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		case strings.HasSuffix(r.URL.Path, "/heartbeat"):
			if r.Method == http.MethodPost {
				handler.Heartbeat(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		default:
			if r.Method == http.MethodGet {
				handler.GetWorker(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}
	}
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, workerService *services.WorkerService, log *logger.Logger) {
	// Репликация позиций между экземплярами: каждый инстанс держит свой
	// гео-индекс в памяти и догоняет чужие heartbeat'ы из топика locations
	consumer.RegisterHandler(models.EventTypeLocationUpdated, func(ctx context.Context, event *models.Event) error {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}

		var payload models.LocationUpdatedEvent
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}

		workerService.ApplyLocationEvent(payload.WorkerID, payload.Lat, payload.Lon, payload.Timestamp)
		return nil
	})

	consumer.RegisterHandler(models.EventTypeGigStatusChanged, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).Debug("Processing gig status changed event")
		return nil
	})
}

// corsMiddleware и другие helper функции
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"error": "%s", "message": "%s"}`, http.StatusText(statusCode), message)
}
