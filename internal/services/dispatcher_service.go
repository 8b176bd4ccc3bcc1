package services

import (
	"context"

	"gig-dispatch/internal/config"
	"gig-dispatch/internal/geo"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
)

// DispatcherService разрешает гонку "кто получит заявку".
// Политика арбитража - побеждает первый валидный запрос: никакого окна
// сбора предложений, каждый accept сразу бьется об одну атомарную
// условную запись в хранилище.
type DispatcherService struct {
	store  store.Store
	geoIdx *geo.Index
	cfg    *config.DispatchConfig
	log    *logger.Logger
}

// NewDispatcherService создает новый сервис диспетчеризации
func NewDispatcherService(st store.Store, geoIdx *geo.Index, cfg *config.DispatchConfig, log *logger.Logger) *DispatcherService {
	return &DispatcherService{
		store:  st,
		geoIdx: geoIdx,
		cfg:    cfg,
		log:    log,
	}
}

// Accept принимает заявку от имени исполнителя. Ровно один из конкурентных
// вызовов для одного gigID получает Assignment; остальные - ErrConflict
// ("заявка уже недоступна"), занятый исполнитель - ErrWorkerBusy.
func (s *DispatcherService) Accept(ctx context.Context, gigID uuid.UUID, req *models.AcceptGigRequest) (*models.GigRequest, error) {
	gig, err := s.store.GetGig(ctx, gigID)
	if err != nil {
		return nil, err
	}

	lat, lon, ok := s.workerPosition(ctx, req)
	var distance, eta float64
	if ok {
		distance = geo.Haversine(gig.Lat, gig.Lon, lat, lon)
		if s.cfg.AvgSpeedMph > 0 {
			eta = distance / s.cfg.AvgSpeedMph * 60
		}
	}

	updated, err := s.store.AcceptGig(ctx, gigID, req.WorkerID, distance, eta)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"gig_id":         gigID,
		"worker_id":      req.WorkerID,
		"distance_miles": distance,
		"eta_minutes":    eta,
	}).Info("Gig accepted by worker")

	return updated, nil
}

// workerPosition определяет позицию исполнителя: координаты из запроса,
// иначе последний heartbeat из профиля
func (s *DispatcherService) workerPosition(ctx context.Context, req *models.AcceptGigRequest) (float64, float64, bool) {
	if req.Lat != nil && req.Lon != nil {
		return *req.Lat, *req.Lon, true
	}

	worker, err := s.store.GetWorker(ctx, req.WorkerID)
	if err == nil && worker.Lat != nil && worker.Lon != nil {
		return *worker.Lat, *worker.Lon, true
	}

	return 0, 0, false
}
