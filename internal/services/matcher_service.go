package services

import (
	"context"
	"sort"

	"gig-dispatch/internal/config"
	"gig-dispatch/internal/geo"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"
)

// MatcherService подбирает и ранжирует кандидатов для заявки
type MatcherService struct {
	store  store.Store
	geoIdx *geo.Index
	cfg    *config.DispatchConfig
	log    *logger.Logger
}

// NewMatcherService создает новый сервис подбора кандидатов
func NewMatcherService(st store.Store, geoIdx *geo.Index, cfg *config.DispatchConfig, log *logger.Logger) *MatcherService {
	return &MatcherService{
		store:  st,
		geoIdx: geoIdx,
		cfg:    cfg,
		log:    log,
	}
}

// Rank возвращает кандидатов для заявки, ближайшие первыми.
// Радиус поиска начинается со стартового радиуса заявки и удваивается,
// пока кандидатов меньше минимума и жесткий потолок не достигнут.
// Ноль кандидатов на потолке - models.ErrNoCandidates, не бесконечный цикл.
func (s *MatcherService) Rank(ctx context.Context, gig *models.GigRequest) ([]geo.Candidate, error) {
	busy, err := s.store.OpenAssignmentWorkers(ctx)
	if err != nil {
		return nil, err
	}

	radius := gig.RadiusMiles
	if radius <= 0 {
		radius = s.cfg.DefaultRadiusMiles
	}
	if radius > s.cfg.MaxRadiusMiles {
		radius = s.cfg.MaxRadiusMiles
	}

	var candidates []geo.Candidate
	for {
		candidates = nil
		for _, c := range s.geoIdx.Query(gig.Lat, gig.Lon, radius) {
			if busy[c.WorkerID] {
				continue
			}
			candidates = append(candidates, c)
		}

		if len(candidates) >= s.cfg.MinCandidates || radius >= s.cfg.MaxRadiusMiles {
			break
		}

		radius *= 2
		if radius > s.cfg.MaxRadiusMiles {
			radius = s.cfg.MaxRadiusMiles
		}
	}

	if len(candidates) == 0 {
		s.log.WithFields(map[string]interface{}{
			"gig_id": gig.ID,
			"radius": radius,
		}).Warn("No candidates found after radius escalation")
		return nil, models.ErrNoCandidates
	}

	RankCandidates(candidates)

	s.log.WithFields(map[string]interface{}{
		"gig_id":     gig.ID,
		"radius":     radius,
		"candidates": len(candidates),
	}).Info("Candidates ranked for gig")

	return candidates, nil
}

// RankCandidates сортирует кандидатов на месте: расстояние по возрастанию,
// при равенстве - рейтинг по убыванию, затем workerID. Чистая функция
// от входа, без скрытого состояния.
func RankCandidates(candidates []geo.Candidate) {
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].DistanceMiles != candidates[b].DistanceMiles {
			return candidates[a].DistanceMiles < candidates[b].DistanceMiles
		}
		if candidates[a].Rating != candidates[b].Rating {
			return candidates[a].Rating > candidates[b].Rating
		}
		return candidates[a].WorkerID.String() < candidates[b].WorkerID.String()
	})
}
