package services

import (
	"context"
	"sort"
	"time"

	"gig-dispatch/internal/config"
	"gig-dispatch/internal/geo"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
)

// GigService представляет сервис приема и чтения заявок
type GigService struct {
	store     store.Store
	lifecycle *LifecycleService
	matcher   *MatcherService
	cfg       *config.DispatchConfig
	log       *logger.Logger
}

// NewGigService создает новый сервис заявок
func NewGigService(st store.Store, lifecycle *LifecycleService, matcher *MatcherService,
	cfg *config.DispatchConfig, log *logger.Logger) *GigService {
	return &GigService{
		store:     st,
		lifecycle: lifecycle,
		matcher:   matcher,
		cfg:       cfg,
		log:       log,
	}
}

// CreateGig принимает заявку: создает ее в статусе Posted, сразу переводит
// в Dispatching и подбирает кандидатов. Отсутствие кандидатов возвращается
// как models.ErrNoCandidates вместе с созданной заявкой: она остается
// в Dispatching до таймаута, клиент может расширить радиус и повторить.
func (s *GigService) CreateGig(ctx context.Context, req *models.CreateGigRequest) (*models.GigRequest, []geo.Candidate, error) {
	now := time.Now()
	gig := &models.GigRequest{
		ID:             uuid.New(),
		ClientID:       req.ClientID,
		Category:       req.Category,
		Description:    req.Description,
		Urgency:        req.Urgency,
		Lat:            *req.Lat,
		Lon:            *req.Lon,
		Address:        req.Address,
		RadiusMiles:    req.RadiusMiles,
		EstimatedPrice: req.EstimatedPrice,
		Status:         models.GigStatusPosted,
		StatusVersion:  1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if gig.RadiusMiles <= 0 {
		gig.RadiusMiles = s.cfg.DefaultRadiusMiles
	}

	if err := s.store.CreateGig(ctx, gig); err != nil {
		return nil, nil, err
	}

	gig, err := s.lifecycle.StartDispatching(ctx, gig)
	if err != nil {
		return nil, nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"gig_id":    gig.ID,
		"client_id": gig.ClientID,
		"category":  gig.Category,
		"urgency":   gig.Urgency,
	}).Info("Gig created and dispatching started")

	candidates, err := s.matcher.Rank(ctx, gig)
	if err != nil {
		return gig, nil, err
	}

	return gig, candidates, nil
}

// GetGig возвращает снимок заявки
func (s *GigService) GetGig(ctx context.Context, id uuid.UUID) (*models.GigRequest, error) {
	return s.store.GetGig(ctx, id)
}

// ListGigs возвращает список заявок с фильтрацией
func (s *GigService) ListGigs(ctx context.Context, f store.GigFilter) ([]*models.GigRequest, error) {
	return s.store.ListGigs(ctx, f)
}

// ListStatusEvents возвращает журнал переходов заявки
func (s *GigService) ListStatusEvents(ctx context.Context, gigID uuid.UUID) ([]*models.StatusEvent, error) {
	if _, err := s.store.GetGig(ctx, gigID); err != nil {
		return nil, err
	}
	return s.store.ListStatusEvents(ctx, gigID)
}

// Nearby возвращает открытые заявки в радиусе от позиции исполнителя,
// ближайшие первыми
func (s *GigService) Nearby(ctx context.Context, lat, lon, radiusMiles float64) ([]models.NearbyGig, error) {
	if radiusMiles <= 0 {
		radiusMiles = s.cfg.DefaultRadiusMiles
	}

	open, err := s.store.ListOpenGigs(ctx)
	if err != nil {
		return nil, err
	}

	var result []models.NearbyGig
	for _, gig := range open {
		d := geo.Haversine(lat, lon, gig.Lat, gig.Lon)
		if d > radiusMiles {
			continue
		}
		result = append(result, models.NearbyGig{Gig: gig, DistanceMiles: d})
	}

	sort.Slice(result, func(a, b int) bool {
		if result[a].DistanceMiles != result[b].DistanceMiles {
			return result[a].DistanceMiles < result[b].DistanceMiles
		}
		return result[a].Gig.ID.String() < result[b].Gig.ID.String()
	})

	return result, nil
}
