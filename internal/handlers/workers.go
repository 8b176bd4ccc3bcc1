package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"gig-dispatch/internal/kafka"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/services"

	"github.com/google/uuid"
)

// WorkerHandler представляет обработчик исполнителей
type WorkerHandler struct {
	workerService *services.WorkerService
	producer      *kafka.Producer
	cacheService  *services.CacheService
	log           *logger.Logger
}

// NewWorkerHandler создает новый обработчик исполнителей
func NewWorkerHandler(workerService *services.WorkerService, producer *kafka.Producer,
	cacheService *services.CacheService, log *logger.Logger) *WorkerHandler {
	return &WorkerHandler{
		workerService: workerService,
		producer:      producer,
		cacheService:  cacheService,
		log:           log,
	}
}

// CreateWorker регистрирует нового исполнителя
func (h *WorkerHandler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validateCreateWorkerRequest(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	worker, err := h.workerService.CreateWorker(r.Context(), &req)
	if err != nil {
		h.log.WithError(err).Error("Failed to create worker")
		writeDomainError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, worker)
}

// GetWorker возвращает исполнителя по ID
func (h *WorkerHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID, err := extractUUIDFromPath(r.URL.Path, "/api/workers/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid worker ID")
		return
	}

	// Попытка получить из кеша
	cacheKey := services.WorkerCacheKey(workerID)
	var cached models.Worker
	found, _ := h.cacheService.Get(r.Context(), cacheKey, &cached)
	if found {
		writeJSONResponse(w, http.StatusOK, &cached)
		return
	}

	worker, err := h.workerService.GetWorker(r.Context(), workerID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to get worker")
		}
		writeDomainError(w, err)
		return
	}

	if err := h.cacheService.Set(r.Context(), cacheKey, worker, h.cacheService.GetDefaultTTL()); err != nil {
		h.log.WithError(err).Error("Failed to cache worker")
	}

	writeJSONResponse(w, http.StatusOK, worker)
}

// GetWorkers возвращает список исполнителей
func (h *WorkerHandler) GetWorkers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 50 // По умолчанию
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	workers, err := h.workerService.ListWorkers(r.Context(), limit, offset)
	if err != nil {
		h.log.WithError(err).Error("Failed to list workers")
		writeDomainError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, workers)
}

// UpdateAvailability обновляет доступность исполнителя
func (h *WorkerHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	workerID, err := extractUUIDFromPath(r.URL.Path, "/api/workers/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid worker ID")
		return
	}

	var req models.UpdateAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AvailableNow && (req.Lat == nil || req.Lon == nil) {
		// Выход на линию без позиции допустим, только если позиция уже известна
		current, getErr := h.workerService.GetWorker(r.Context(), workerID)
		if getErr != nil {
			writeDomainError(w, getErr)
			return
		}
		if current.Lat == nil || current.Lon == nil {
			writeErrorResponse(w, http.StatusBadRequest, "location is required to go available")
			return
		}
	}

	worker, err := h.workerService.SetAvailability(r.Context(), workerID, &req)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to update worker availability")
		}
		writeDomainError(w, err)
		return
	}

	if pubErr := h.producer.PublishWorkerAvailability(worker.ID, worker.AvailableNow); pubErr != nil {
		h.log.WithError(pubErr).Error("Failed to publish worker availability event")
	}

	h.invalidateWorker(r, workerID)
	writeJSONResponse(w, http.StatusOK, worker)
}

// Heartbeat обрабатывает позиционный пинг исполнителя
func (h *WorkerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	workerID, err := extractUUIDFromPath(r.URL.Path, "/api/workers/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid worker ID")
		return
	}

	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lon < -180 || req.Lon > 180 {
		writeErrorResponse(w, http.StatusBadRequest, "location is out of range")
		return
	}

	worker, err := h.workerService.Heartbeat(r.Context(), workerID, req.Lat, req.Lon)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to process heartbeat")
		}
		writeDomainError(w, err)
		return
	}

	// Репликация позиции на остальные экземпляры через топик locations
	if pubErr := h.producer.PublishLocationUpdated(worker.ID, req.Lat, req.Lon); pubErr != nil {
		h.log.WithError(pubErr).Error("Failed to publish location updated event")
	}

	h.invalidateWorker(r, workerID)
	writeJSONResponse(w, http.StatusOK, worker)
}

// invalidateWorker удаляет профиль исполнителя из кеша после изменения
func (h *WorkerHandler) invalidateWorker(r *http.Request, workerID uuid.UUID) {
	if err := h.cacheService.Delete(r.Context(), services.WorkerCacheKey(workerID)); err != nil {
		h.log.WithError(err).Error("Failed to invalidate worker cache")
	}
}

// validateCreateWorkerRequest валидирует запрос на регистрацию исполнителя
func (h *WorkerHandler) validateCreateWorkerRequest(req *models.CreateWorkerRequest) error {
	if req.Name == "" {
		return fmt.Errorf("worker name is required")
	}
	if req.Phone == "" {
		return fmt.Errorf("worker phone is required")
	}
	return nil
}
