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
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
)

// GigHandler представляет обработчик заявок
type GigHandler struct {
	gigService   *services.GigService
	dispatcher   *services.DispatcherService
	lifecycle    *services.LifecycleService
	producer     *kafka.Producer
	cacheService *services.CacheService
	log          *logger.Logger
}

// NewGigHandler создает новый обработчик заявок
func NewGigHandler(gigService *services.GigService, dispatcher *services.DispatcherService,
	lifecycle *services.LifecycleService, producer *kafka.Producer,
	cacheService *services.CacheService, log *logger.Logger) *GigHandler {
	return &GigHandler{
		gigService:   gigService,
		dispatcher:   dispatcher,
		lifecycle:    lifecycle,
		producer:     producer,
		cacheService: cacheService,
		log:          log,
	}
}

// CreateGigResponse представляет ответ на создание заявки
type CreateGigResponse struct {
	Gig        *models.GigRequest `json:"gig"`
	Candidates []uuid.UUID        `json:"candidates,omitempty"`
}

// CreateGig принимает новую заявку
func (h *GigHandler) CreateGig(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Валидация запроса до входа в машину состояний
	if err := h.validateCreateGigRequest(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	gig, candidates, err := h.gigService.CreateGig(r.Context(), &req)
	if err != nil && !errors.Is(err, models.ErrNoCandidates) {
		h.log.WithError(err).Error("Failed to create gig")
		writeDomainError(w, err)
		return
	}

	// Публикация событий в Kafka
	if pubErr := h.producer.PublishGigCreated(gig); pubErr != nil {
		h.log.WithError(pubErr).Error("Failed to publish gig created event")
		// Не возвращаем ошибку клиенту, так как заявка уже создана
	}

	if errors.Is(err, models.ErrNoCandidates) {
		// Отдельный исход "никого нет рядом": заявка остается в Dispatching
		// до таймаута, клиент может расширить радиус и повторить
		writeJSONResponse(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "no_workers_available",
			"gig":   gig,
		})
		return
	}

	candidateIDs := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		candidateIDs = append(candidateIDs, c.WorkerID)
	}

	if pubErr := h.producer.PublishGigDispatchRequested(gig.ID, candidateIDs); pubErr != nil {
		h.log.WithError(pubErr).Error("Failed to publish dispatch requested event")
	}

	h.cacheGig(r, gig)

	h.log.WithField("gig_id", gig.ID).Info("Gig created successfully")
	writeJSONResponse(w, http.StatusCreated, CreateGigResponse{Gig: gig, Candidates: candidateIDs})
}

// GetGig возвращает снимок заявки. Чтение идемпотентно и безопасно
// для периодического опроса; отдается последнее зафиксированное значение.
func (h *GigHandler) GetGig(w http.ResponseWriter, r *http.Request) {
	gigID, err := extractUUIDFromPath(r.URL.Path, "/api/gigs/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid gig ID")
		return
	}

	// Попытка получить из кеша
	cacheKey := services.GigCacheKey(gigID)
	var cached models.GigRequest
	found, _ := h.cacheService.Get(r.Context(), cacheKey, &cached)
	if found {
		h.log.WithField("gig_id", gigID).Debug("Gig retrieved from cache")
		writeJSONResponse(w, http.StatusOK, &cached)
		return
	}

	gig, err := h.gigService.GetGig(r.Context(), gigID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to get gig")
		}
		writeDomainError(w, err)
		return
	}

	h.cacheGig(r, gig)
	writeJSONResponse(w, http.StatusOK, gig)
}

// GetGigs возвращает список заявок с фильтрацией
func (h *GigHandler) GetGigs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var f store.GigFilter

	if statusStr := query.Get("status"); statusStr != "" {
		s := models.GigStatus(statusStr)
		f.Status = &s
	}

	if clientIDStr := query.Get("client_id"); clientIDStr != "" {
		id, err := uuid.Parse(clientIDStr)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid client ID")
			return
		}
		f.ClientID = &id
	}

	f.Limit = 50 // По умолчанию
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			f.Limit = l
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			f.Offset = o
		}
	}

	gigs, err := h.gigService.ListGigs(r.Context(), f)
	if err != nil {
		h.log.WithError(err).Error("Failed to list gigs")
		writeDomainError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, gigs)
}

// GetNearbyGigs возвращает открытые заявки рядом с исполнителем
func (h *GigHandler) GetNearbyGigs(w http.ResponseWriter, r *http.Request) {
	lat, err := parseFloatParam(r, "lat")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	lon, err := parseFloatParam(r, "lon")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	radius := 0.0
	if radiusStr := r.URL.Query().Get("radius"); radiusStr != "" {
		if v, err := strconv.ParseFloat(radiusStr, 64); err == nil && v > 0 {
			radius = v
		}
	}

	gigs, err := h.gigService.Nearby(r.Context(), lat, lon, radius)
	if err != nil {
		h.log.WithError(err).Error("Failed to find nearby gigs")
		writeDomainError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, gigs)
}

// AcceptGig обрабатывает принятие заявки исполнителем.
// Ровно один из конкурентных вызовов получает 200 с назначением,
// остальные - 409 "заявка уже недоступна".
func (h *GigHandler) AcceptGig(w http.ResponseWriter, r *http.Request) {
	gigID, err := extractUUIDFromPath(r.URL.Path, "/api/gigs/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid gig ID")
		return
	}

	var req models.AcceptGigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.WorkerID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	gig, err := h.dispatcher.Accept(r.Context(), gigID, &req)
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrWorkerBusy) {
			h.log.WithFields(map[string]interface{}{
				"gig_id":    gigID,
				"worker_id": req.WorkerID,
			}).Info("Accept rejected")
		} else {
			h.log.WithError(err).Error("Failed to accept gig")
		}
		writeDomainError(w, err)
		return
	}

	if pubErr := h.producer.PublishGigAssigned(gig.Assignment); pubErr != nil {
		h.log.WithError(pubErr).Error("Failed to publish gig assigned event")
	}

	h.invalidateGig(r, gigID)
	writeJSONResponse(w, http.StatusOK, gig)
}

// PostGigEvent обрабатывает событие жизненного цикла от участника
func (h *GigHandler) PostGigEvent(w http.ResponseWriter, r *http.Request) {
	gigID, err := extractUUIDFromPath(r.URL.Path, "/api/gigs/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid gig ID")
		return
	}

	var req models.GigEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ActorID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	gig, err := h.lifecycle.ApplyEvent(r.Context(), gigID, &req)
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrTerminalStatus) {
			h.log.WithFields(map[string]interface{}{
				"gig_id":     gigID,
				"event_type": req.EventType,
				"version":    req.StatusVersion,
			}).Info("Lifecycle event rejected")
		} else if !errors.Is(err, models.ErrValidation) && !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to apply lifecycle event")
		}
		writeDomainError(w, err)
		return
	}

	h.invalidateGig(r, gigID)
	writeJSONResponse(w, http.StatusOK, gig)
}

// ConfirmGig обрабатывает подтверждение выполнения клиентом
func (h *GigHandler) ConfirmGig(w http.ResponseWriter, r *http.Request) {
	gigID, err := extractUUIDFromPath(r.URL.Path, "/api/gigs/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid gig ID")
		return
	}

	var req models.ConfirmGigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ClientID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "client_id is required")
		return
	}

	gig, err := h.lifecycle.Confirm(r.Context(), gigID, &req)
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrTerminalStatus) {
			h.log.WithField("gig_id", gigID).Info("Confirmation rejected")
		} else if !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to confirm gig")
		}
		writeDomainError(w, err)
		return
	}

	h.invalidateGig(r, gigID)
	writeJSONResponse(w, http.StatusOK, gig)
}

// GetGigEvents возвращает журнал переходов заявки
func (h *GigHandler) GetGigEvents(w http.ResponseWriter, r *http.Request) {
	gigID, err := extractUUIDFromPath(r.URL.Path, "/api/gigs/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid gig ID")
		return
	}

	events, err := h.gigService.ListStatusEvents(r.Context(), gigID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to list status events")
		}
		writeDomainError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, events)
}

// cacheGig сохраняет снимок заявки в кеш
func (h *GigHandler) cacheGig(r *http.Request, gig *models.GigRequest) {
	cacheKey := services.GigCacheKey(gig.ID)
	if err := h.cacheService.Set(r.Context(), cacheKey, gig, h.cacheService.GetHotDataTTL()); err != nil {
		h.log.WithError(err).Error("Failed to cache gig")
	}
}

// invalidateGig удаляет снимок заявки из кеша после перехода
func (h *GigHandler) invalidateGig(r *http.Request, gigID uuid.UUID) {
	if err := h.cacheService.Delete(r.Context(), services.GigCacheKey(gigID)); err != nil {
		h.log.WithError(err).Error("Failed to invalidate gig cache")
	}
}

// validateCreateGigRequest валидирует запрос на создание заявки
func (h *GigHandler) validateCreateGigRequest(req *models.CreateGigRequest) error {
	if req.ClientID == uuid.Nil {
		return fmt.Errorf("client_id is required")
	}
	if req.Category == "" {
		return fmt.Errorf("category is required")
	}
	if req.Lat == nil || req.Lon == nil {
		return fmt.Errorf("location is required")
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lon < -180 || *req.Lon > 180 {
		return fmt.Errorf("location is out of range")
	}
	switch req.Urgency {
	case models.UrgencyASAP, models.UrgencyToday, models.UrgencyScheduled:
	default:
		return fmt.Errorf("urgency must be one of: asap, today, scheduled")
	}
	if req.EstimatedPrice < 0 {
		return fmt.Errorf("estimated price cannot be negative")
	}
	if req.RadiusMiles < 0 {
		return fmt.Errorf("radius cannot be negative")
	}
	return nil
}
