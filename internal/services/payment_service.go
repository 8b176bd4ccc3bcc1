package services

import (
	"context"
	"fmt"
	"time"

	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/redis"

	"github.com/google/uuid"
)

// PaymentCapturer представляет внешнего коллаборатора по списанию оплаты.
// Реализация обязана дедуплицировать вызовы по idempotencyKey.
type PaymentCapturer interface {
	Capture(ctx context.Context, gigID uuid.UUID, amount float64, idempotencyKey string) error
}

// PaymentService запускает списание оплаты при переходе Complete -> Paid.
// Ключ идемпотентности gigID:statusVersion, так что повторный вызов
// триггера (например, после падения) не приводит к двойному списанию.
type PaymentService struct {
	redis    *redis.Client
	capturer PaymentCapturer
	log      *logger.Logger
}

// NewPaymentService создает новый платежный сервис
func NewPaymentService(rdb *redis.Client, capturer PaymentCapturer, log *logger.Logger) *PaymentService {
	return &PaymentService{
		redis:    rdb,
		capturer: capturer,
		log:      log,
	}
}

// TriggerCapture запускает списание для оплаченной заявки не больше одного
// раза. Версия в ключе - версия ПОСЛЕ перехода в Paid, зафиксированная CAS'ом.
func (s *PaymentService) TriggerCapture(ctx context.Context, gig *models.GigRequest) error {
	idempotencyKey := fmt.Sprintf("%s:%d", gig.ID, gig.StatusVersion)

	if s.redis != nil {
		key := redis.GenerateKey(redis.KeyPrefixPayment, idempotencyKey)
		ok, err := s.redis.SetNX(ctx, key, "1", 24*time.Hour)
		if err != nil {
			// Redis недоступен: списание все равно отправляем, двойное
			// списание отсекает коллаборатор по ключу идемпотентности
			s.log.WithError(err).WithField("gig_id", gig.ID).Error("Payment guard unavailable")
		} else if !ok {
			s.log.WithFields(map[string]interface{}{
				"gig_id":          gig.ID,
				"idempotency_key": idempotencyKey,
			}).Info("Payment capture already triggered, skipping")
			return nil
		}
	}

	if err := s.capturer.Capture(ctx, gig.ID, gig.EstimatedPrice, idempotencyKey); err != nil {
		// Снимаем guard, чтобы ретрай мог повторить запуск
		if s.redis != nil {
			key := redis.GenerateKey(redis.KeyPrefixPayment, idempotencyKey)
			if delErr := s.redis.Delete(ctx, key); delErr != nil {
				s.log.WithError(delErr).WithField("gig_id", gig.ID).Error("Failed to release payment guard")
			}
		}
		return fmt.Errorf("failed to capture payment for gig %s: %w", gig.ID, err)
	}

	s.log.WithFields(map[string]interface{}{
		"gig_id":          gig.ID,
		"amount":          gig.EstimatedPrice,
		"idempotency_key": idempotencyKey,
	}).Info("Payment capture requested")

	return nil
}
