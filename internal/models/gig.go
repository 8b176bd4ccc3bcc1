package models

import (
	"time"

	"github.com/google/uuid"
)

// GigStatus представляет статус заявки
type GigStatus string

const (
	GigStatusPosted      GigStatus = "Posted"
	GigStatusDispatching GigStatus = "Dispatching"
	GigStatusMatched     GigStatus = "Matched"
	GigStatusOnRoute     GigStatus = "On-Route"
	GigStatusArrived     GigStatus = "Arrived"
	GigStatusInProgress  GigStatus = "In-Progress"
	GigStatusComplete    GigStatus = "Complete"
	GigStatusPaid        GigStatus = "Paid"
	GigStatusCancelled   GigStatus = "Cancelled"
	GigStatusExpired     GigStatus = "Expired"
)

// IsTerminal проверяет, является ли статус терминальным
func (s GigStatus) IsTerminal() bool {
	switch s {
	case GigStatusPaid, GigStatusCancelled, GigStatusExpired:
		return true
	}
	return false
}

// Urgency представляет срочность заявки
type Urgency string

const (
	UrgencyASAP      Urgency = "asap"
	UrgencyToday     Urgency = "today"
	UrgencyScheduled Urgency = "scheduled"
)

// GigRequest представляет заявку на разовую работу
type GigRequest struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	ClientID       uuid.UUID   `json:"client_id" db:"client_id"`
	Category       string      `json:"category" db:"category"`
	Description    string      `json:"description" db:"description"`
	Urgency        Urgency     `json:"urgency" db:"urgency"`
	Lat            float64     `json:"lat" db:"lat"`
	Lon            float64     `json:"lon" db:"lon"`
	Address        string      `json:"address,omitempty" db:"address"`
	RadiusMiles    float64     `json:"radius_miles" db:"radius_miles"`
	EstimatedPrice float64     `json:"estimated_price" db:"estimated_price"`
	Status         GigStatus   `json:"status" db:"status"`
	StatusVersion  int64       `json:"status_version" db:"status_version"`
	Assignment     *Assignment `json:"assignment,omitempty"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Assignment представляет закрепление заявки за исполнителем.
// Создается только диспетчером при успешном accept и далее не изменяется,
// кроме освобождения исполнителя (released_at) и отмены (cancelled_at).
type Assignment struct {
	GigID         uuid.UUID  `json:"gig_id" db:"gig_id"`
	WorkerID      uuid.UUID  `json:"worker_id" db:"worker_id"`
	DistanceMiles float64    `json:"distance_miles" db:"distance_miles"`
	ETAMinutes    float64    `json:"eta_minutes" db:"eta_minutes"`
	AcceptedAt    time.Time  `json:"accepted_at" db:"accepted_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty" db:"released_at"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// StatusEvent представляет запись журнала переходов статуса (append-only)
type StatusEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	GigID     uuid.UUID `json:"gig_id" db:"gig_id"`
	OldStatus GigStatus `json:"old_status" db:"old_status"`
	NewStatus GigStatus `json:"new_status" db:"new_status"`
	Actor     string    `json:"actor" db:"actor"`
	Note      string    `json:"note,omitempty" db:"note"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateGigRequest представляет запрос на создание заявки
type CreateGigRequest struct {
	ClientID       uuid.UUID `json:"client_id"`
	Category       string    `json:"category"`
	Description    string    `json:"description"`
	Urgency        Urgency   `json:"urgency"`
	Lat            *float64  `json:"lat"`
	Lon            *float64  `json:"lon"`
	Address        string    `json:"address,omitempty"`
	RadiusMiles    float64   `json:"radius_miles,omitempty"`
	EstimatedPrice float64   `json:"estimated_price"`
}

// AcceptGigRequest представляет запрос исполнителя на принятие заявки
type AcceptGigRequest struct {
	WorkerID uuid.UUID `json:"worker_id"`
	Lat      *float64  `json:"lat,omitempty"`
	Lon      *float64  `json:"lon,omitempty"`
}

// GigEventType представляет тип события жизненного цикла от исполнителя
type GigEventType string

const (
	GigEventEnRoute  GigEventType = "en_route"
	GigEventArrived  GigEventType = "arrived"
	GigEventStarted  GigEventType = "started"
	GigEventFinished GigEventType = "finished"
	GigEventCancel   GigEventType = "cancel"
)

// GigEventRequest представляет запрос на событие жизненного цикла
type GigEventRequest struct {
	EventType     GigEventType `json:"event_type"`
	ActorID       uuid.UUID    `json:"actor_id"`
	StatusVersion int64        `json:"status_version"`
	Note          string       `json:"note,omitempty"`
}

// ConfirmGigRequest представляет подтверждение выполнения клиентом
type ConfirmGigRequest struct {
	ClientID      uuid.UUID `json:"client_id"`
	StatusVersion int64     `json:"status_version"`
}

// NearbyGig представляет открытую заявку рядом с исполнителем
type NearbyGig struct {
	Gig           *GigRequest `json:"gig"`
	DistanceMiles float64     `json:"distance_miles"`
}
