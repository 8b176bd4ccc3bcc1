package models

import (
	"time"

	"github.com/google/uuid"
)

// Worker представляет исполнителя в системе
type Worker struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Phone           string     `json:"phone" db:"phone"`
	Rating          float64    `json:"rating" db:"rating"` // 0..5
	AvailableNow    bool       `json:"available_now" db:"available_now"`
	Lat             *float64   `json:"lat,omitempty" db:"lat"`
	Lon             *float64   `json:"lon,omitempty" db:"lon"`
	RadiusMiles     float64    `json:"radius_miles" db:"radius_miles"`
	AvailableUntil  *time.Time `json:"available_until,omitempty" db:"available_until"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// CreateWorkerRequest представляет запрос на регистрацию исполнителя
type CreateWorkerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// UpdateAvailabilityRequest представляет запрос на изменение доступности
type UpdateAvailabilityRequest struct {
	AvailableNow   bool       `json:"available_now"`
	Lat            *float64   `json:"lat,omitempty"`
	Lon            *float64   `json:"lon,omitempty"`
	RadiusMiles    *float64   `json:"radius_miles,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
}

// HeartbeatRequest представляет позиционный пинг исполнителя
type HeartbeatRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
