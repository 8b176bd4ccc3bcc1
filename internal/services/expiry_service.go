package services

import (
	"context"
	"sync"
	"time"

	"gig-dispatch/internal/config"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
)

// StatusPublisher публикует события переходов статуса во внешнюю шину
type StatusPublisher interface {
	PublishGigStatusChanged(gigID uuid.UUID, oldStatus, newStatus models.GigStatus, version int64, actor string) error
}

// ExpiryService переводит заявки без назначения в Expired после таймаута
// диспетчеризации. Таймаут - не ошибка для вызывающего, а терминальный
// статус, который клиент увидит при следующем poll'е.
type ExpiryService struct {
	store     store.Store
	publisher StatusPublisher
	cache     *CacheService
	cfg       *config.DispatchConfig
	log       *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewExpiryService создает новый сервис экспирации
func NewExpiryService(st store.Store, publisher StatusPublisher, cache *CacheService,
	cfg *config.DispatchConfig, log *logger.Logger) *ExpiryService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExpiryService{
		store:     st,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start запускает фоновый цикл экспирации
func (s *ExpiryService) Start() {
	interval := time.Duration(s.cfg.ExpirySweepInterval) * time.Second

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(s.ctx)
			}
		}
	}()

	s.log.WithField("interval", interval.String()).Info("Expiry sweeper started")
}

// Stop останавливает фоновый цикл
func (s *ExpiryService) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Sweep выполняет один проход экспирации
func (s *ExpiryService) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.DispatchTimeout) * time.Second)

	expired, err := s.store.ExpireStale(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("Failed to expire stale gigs")
		return
	}

	for _, gig := range expired {
		s.log.WithFields(map[string]interface{}{
			"gig_id":  gig.ID,
			"version": gig.StatusVersion,
		}).Info("Gig expired: dispatch timeout elapsed")

		if s.cache != nil {
			if err := s.cache.Delete(ctx, GigCacheKey(gig.ID)); err != nil {
				s.log.WithError(err).WithField("gig_id", gig.ID).Error("Failed to invalidate gig cache")
			}
		}

		if s.publisher != nil {
			if err := s.publisher.PublishGigStatusChanged(gig.ID,
				models.GigStatusDispatching, models.GigStatusExpired,
				gig.StatusVersion, "system"); err != nil {
				s.log.WithError(err).WithField("gig_id", gig.ID).Error("Failed to publish gig expired event")
			}
		}
	}
}
