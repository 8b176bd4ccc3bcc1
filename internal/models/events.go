package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType представляет тип события
type EventType string

const (
	EventTypeGigCreated              EventType = "gig.created"
	EventTypeGigStatusChanged        EventType = "gig.status_changed"
	EventTypeGigAssigned             EventType = "gig.assigned"
	EventTypeGigDispatchRequested    EventType = "gig.dispatch_requested"
	EventTypeWorkerAvailability      EventType = "worker.availability_changed"
	EventTypeLocationUpdated         EventType = "location.updated"
	EventTypePaymentCaptureRequested EventType = "payment.capture_requested"
)

// Event представляет базовое событие
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// GigCreatedEvent представляет событие создания заявки
type GigCreatedEvent struct {
	GigID          uuid.UUID `json:"gig_id"`
	ClientID       uuid.UUID `json:"client_id"`
	Category       string    `json:"category"`
	Urgency        Urgency   `json:"urgency"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	EstimatedPrice float64   `json:"estimated_price"`
}

// GigStatusChangedEvent представляет событие перехода статуса заявки
type GigStatusChangedEvent struct {
	GigID     uuid.UUID `json:"gig_id"`
	OldStatus GigStatus `json:"old_status"`
	NewStatus GigStatus `json:"new_status"`
	Version   int64     `json:"version"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// GigAssignedEvent представляет событие закрепления заявки за исполнителем
type GigAssignedEvent struct {
	GigID         uuid.UUID `json:"gig_id"`
	WorkerID      uuid.UUID `json:"worker_id"`
	DistanceMiles float64   `json:"distance_miles"`
	ETAMinutes    float64   `json:"eta_minutes"`
	Timestamp     time.Time `json:"timestamp"`
}

// GigDispatchRequestedEvent представляет событие рассылки заявки кандидатам
type GigDispatchRequestedEvent struct {
	GigID      uuid.UUID   `json:"gig_id"`
	Candidates []uuid.UUID `json:"candidates"`
	Timestamp  time.Time   `json:"timestamp"`
}

// WorkerAvailabilityEvent представляет событие изменения доступности исполнителя
type WorkerAvailabilityEvent struct {
	WorkerID     uuid.UUID `json:"worker_id"`
	AvailableNow bool      `json:"available_now"`
	Timestamp    time.Time `json:"timestamp"`
}

// LocationUpdatedEvent представляет событие обновления местоположения.
// Экземпляры сервиса потребляют этот топик для репликации гео-индекса.
type LocationUpdatedEvent struct {
	WorkerID  uuid.UUID `json:"worker_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentCaptureRequestedEvent представляет запрос на списание оплаты
type PaymentCaptureRequestedEvent struct {
	GigID          uuid.UUID `json:"gig_id"`
	Amount         float64   `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      time.Time `json:"timestamp"`
}
