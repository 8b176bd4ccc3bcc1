package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"gig-dispatch/internal/models"

	"github.com/google/uuid"
)

// ErrorResponse представляет структуру ответа с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSONResponse отправляет JSON ответ
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeErrorResponse отправляет ответ с ошибкой
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	writeJSONResponse(w, statusCode, response)
}

// writeDomainError сопоставляет доменные ошибки кодам HTTP.
// Конфликты (проигранная гонка, устаревшая версия, переход вне очереди)
// всегда 409: клиент перечитывает снимок и повторяет с новой версией.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "Gig or worker not found")
	case errors.Is(err, models.ErrNoCandidates):
		writeErrorResponse(w, http.StatusUnprocessableEntity, "No workers available")
	case errors.Is(err, models.ErrWorkerBusy):
		writeErrorResponse(w, http.StatusConflict, "Worker already has an active assignment")
	case errors.Is(err, models.ErrTerminalStatus):
		writeErrorResponse(w, http.StatusConflict, "Gig is already in a terminal status")
	case errors.Is(err, models.ErrConflict):
		writeErrorResponse(w, http.StatusConflict, "Gig is no longer available in the observed state")
	default:
		writeErrorResponse(w, http.StatusServiceUnavailable, "Storage temporarily unavailable")
	}
}

// extractUUIDFromPath извлекает UUID из пути URL
func extractUUIDFromPath(path, prefix string) (uuid.UUID, error) {
	if !strings.HasPrefix(path, prefix) {
		return uuid.Nil, fmt.Errorf("invalid path format")
	}

	// Убираем префикс и получаем ID
	idStr := strings.TrimPrefix(path, prefix)

	// Убираем возможный суффикс (например, /accept)
	parts := strings.Split(idStr, "/")
	if len(parts) == 0 {
		return uuid.Nil, fmt.Errorf("missing ID in path")
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	return id, nil
}

// parseFloatParam парсит обязательный float-параметр строки запроса
func parseFloatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid query parameter %q", name)
	}
	return v, nil
}
