package services

import (
	"context"
	"time"

	"gig-dispatch/internal/geo"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
)

// WorkerService представляет сервис для работы с исполнителями.
// Доступность исполнителя меняется только его собственными вызовами
// heartbeat/toggle; больше никто эти записи не пишет.
type WorkerService struct {
	store  store.Store
	geoIdx *geo.Index
	log    *logger.Logger
}

// NewWorkerService создает новый сервис исполнителей
func NewWorkerService(st store.Store, geoIdx *geo.Index, log *logger.Logger) *WorkerService {
	return &WorkerService{
		store:  st,
		geoIdx: geoIdx,
		log:    log,
	}
}

// CreateWorker регистрирует нового исполнителя
func (s *WorkerService) CreateWorker(ctx context.Context, req *models.CreateWorkerRequest) (*models.Worker, error) {
	now := time.Now()
	worker := &models.Worker{
		ID:           uuid.New(),
		Name:         req.Name,
		Phone:        req.Phone,
		AvailableNow: false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateWorker(ctx, worker); err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"worker_id":   worker.ID,
		"worker_name": worker.Name,
	}).Info("Worker registered")

	return worker, nil
}

// GetWorker получает исполнителя по ID
func (s *WorkerService) GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	return s.store.GetWorker(ctx, id)
}

// ListWorkers получает список исполнителей
func (s *WorkerService) ListWorkers(ctx context.Context, limit, offset int) ([]*models.Worker, error) {
	return s.store.ListWorkers(ctx, limit, offset)
}

// SetAvailability обновляет доступность исполнителя и гео-индекс.
// Исполнитель, выключивший доступность, исчезает из последующих
// гео-запросов немедленно.
func (s *WorkerService) SetAvailability(ctx context.Context, id uuid.UUID, req *models.UpdateAvailabilityRequest) (*models.Worker, error) {
	worker, err := s.store.UpdateWorkerAvailability(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.syncIndex(worker)

	s.log.WithFields(map[string]interface{}{
		"worker_id":     worker.ID,
		"available_now": worker.AvailableNow,
	}).Info("Worker availability updated")

	return worker, nil
}

// Heartbeat обновляет позицию исполнителя
func (s *WorkerService) Heartbeat(ctx context.Context, id uuid.UUID, lat, lon float64) (*models.Worker, error) {
	worker, err := s.store.TouchWorkerHeartbeat(ctx, id, lat, lon, time.Now())
	if err != nil {
		return nil, err
	}

	s.syncIndex(worker)

	s.log.WithFields(map[string]interface{}{
		"worker_id": worker.ID,
		"lat":       lat,
		"lon":       lon,
	}).Debug("Worker heartbeat received")

	return worker, nil
}

// ApplyLocationEvent применяет событие location.updated от другого
// экземпляра сервиса (репликация гео-индекса через Kafka)
func (s *WorkerService) ApplyLocationEvent(workerID uuid.UUID, lat, lon float64, at time.Time) {
	s.geoIdx.UpdatePosition(workerID, lat, lon, at)
}

// WarmupIndex загружает доступных исполнителей в гео-индекс при старте
func (s *WorkerService) WarmupIndex(ctx context.Context) error {
	workers, err := s.store.ListWorkers(ctx, 0, 0)
	if err != nil {
		return err
	}

	count := 0
	for _, w := range workers {
		if !w.AvailableNow || w.Lat == nil || w.Lon == nil {
			continue
		}
		s.syncIndex(w)
		count++
	}

	s.log.WithField("workers", count).Info("Geo index warmed up")
	return nil
}

// syncIndex приводит запись гео-индекса в соответствие с профилем
func (s *WorkerService) syncIndex(w *models.Worker) {
	if !w.AvailableNow {
		s.geoIdx.Remove(w.ID)
		return
	}
	if w.Lat == nil || w.Lon == nil {
		return
	}

	var heartbeat time.Time
	if w.LastHeartbeatAt != nil {
		heartbeat = *w.LastHeartbeatAt
	}

	s.geoIdx.Upsert(geo.Entry{
		WorkerID:        w.ID,
		Lat:             *w.Lat,
		Lon:             *w.Lon,
		Rating:          w.Rating,
		AvailableNow:    true,
		RadiusMiles:     w.RadiusMiles,
		AvailableUntil:  w.AvailableUntil,
		LastHeartbeatAt: heartbeat,
	})
}
