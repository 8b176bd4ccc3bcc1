package services

import (
	"context"
	"fmt"

	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
)

// allowedTransitions задает разрешенные ребра машины состояний.
// Cancelled достижим из любого нетерминального состояния и
// обрабатывается отдельно в CanTransition.
var allowedTransitions = map[models.GigStatus]models.GigStatus{
	models.GigStatusPosted:      models.GigStatusDispatching,
	models.GigStatusDispatching: models.GigStatusMatched,
	models.GigStatusMatched:     models.GigStatusOnRoute,
	models.GigStatusOnRoute:     models.GigStatusArrived,
	models.GigStatusArrived:     models.GigStatusInProgress,
	models.GigStatusInProgress:  models.GigStatusComplete,
	models.GigStatusComplete:    models.GigStatusPaid,
}

// eventTargets сопоставляет события исполнителя целевым статусам
var eventTargets = map[models.GigEventType]models.GigStatus{
	models.GigEventEnRoute:  models.GigStatusOnRoute,
	models.GigEventArrived:  models.GigStatusArrived,
	models.GigEventStarted:  models.GigStatusInProgress,
	models.GigEventFinished: models.GigStatusComplete,
	models.GigEventCancel:   models.GigStatusCancelled,
}

// CanTransition проверяет, разрешено ли ребро from -> to
func CanTransition(from, to models.GigStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == models.GigStatusCancelled {
		return true
	}
	if to == models.GigStatusExpired {
		return from == models.GigStatusPosted || from == models.GigStatusDispatching
	}
	return allowedTransitions[from] == to
}

// LifecycleService применяет переходы статуса заявки.
// Каждый переход - compare-and-swap по (status, status_version) в хранилище,
// поэтому два конкурентных отчета о статусе не могут испортить последовательность.
type LifecycleService struct {
	store     store.Store
	payments  *PaymentService
	publisher StatusPublisher
	log       *logger.Logger
}

// NewLifecycleService создает новый сервис жизненного цикла.
// payments и publisher могут быть nil (встроенный режим, тесты).
func NewLifecycleService(st store.Store, payments *PaymentService, publisher StatusPublisher, log *logger.Logger) *LifecycleService {
	return &LifecycleService{
		store:     st,
		payments:  payments,
		publisher: publisher,
		log:       log,
	}
}

// StartDispatching переводит только что созданную заявку в Dispatching
func (s *LifecycleService) StartDispatching(ctx context.Context, gig *models.GigRequest) (*models.GigRequest, error) {
	updated, err := s.store.TransitionStatus(ctx, gig.ID,
		models.GigStatusPosted, models.GigStatusDispatching,
		gig.StatusVersion, "system", "")
	if err != nil {
		return nil, err
	}
	s.publishTransition(updated.ID, models.GigStatusPosted, models.GigStatusDispatching,
		updated.StatusVersion, "system")
	return updated, nil
}

// publishTransition отправляет событие перехода во внешнюю шину.
// Ошибка публикации не откатывает уже зафиксированный переход.
func (s *LifecycleService) publishTransition(gigID uuid.UUID, from, to models.GigStatus, version int64, actor string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishGigStatusChanged(gigID, from, to, version, actor); err != nil {
		s.log.WithError(err).WithField("gig_id", gigID).Error("Failed to publish status change event")
	}
}

// ApplyEvent применяет событие жизненного цикла, о котором сообщил участник.
// События вне очереди, устаревшая версия и чужой актор отклоняются
// как конфликт: вызывающий перечитывает заявку и повторяет с новой версией.
func (s *LifecycleService) ApplyEvent(ctx context.Context, gigID uuid.UUID, req *models.GigEventRequest) (*models.GigRequest, error) {
	target, ok := eventTargets[req.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", models.ErrValidation, req.EventType)
	}

	gig, err := s.store.GetGig(ctx, gigID)
	if err != nil {
		return nil, err
	}

	if gig.Status.IsTerminal() {
		return nil, models.ErrTerminalStatus
	}

	actor, err := s.checkActor(gig, req, target)
	if err != nil {
		return nil, err
	}

	if !CanTransition(gig.Status, target) {
		s.log.WithFields(map[string]interface{}{
			"gig_id": gigID,
			"from":   gig.Status,
			"to":     target,
		}).Warn("Rejected out-of-order transition")
		return nil, models.ErrConflict
	}

	updated, err := s.store.TransitionStatus(ctx, gigID, gig.Status, target,
		req.StatusVersion, actor, req.Note)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"gig_id":  gigID,
		"from":    gig.Status,
		"to":      target,
		"version": updated.StatusVersion,
		"actor":   actor,
	}).Info("Gig status transitioned")

	s.publishTransition(gigID, gig.Status, target, updated.StatusVersion, actor)

	return updated, nil
}

// checkActor проверяет, что событие прислал допустимый участник
func (s *LifecycleService) checkActor(gig *models.GigRequest, req *models.GigEventRequest, target models.GigStatus) (string, error) {
	if target == models.GigStatusCancelled {
		// До назначения отменяет клиент; после - клиент или назначенный
		// исполнитель (взаимная отмена). После начала работ нужна пояснительная
		// записка, сам разбор спора делегирован внешнему сервису.
		isClient := req.ActorID == gig.ClientID
		isWorker := gig.Assignment != nil && req.ActorID == gig.Assignment.WorkerID
		if !isClient && !isWorker {
			return "", models.ErrConflict
		}
		if gig.Status == models.GigStatusInProgress && req.Note == "" {
			return "", fmt.Errorf("%w: cancellation after work started requires a note", models.ErrValidation)
		}
		if isClient {
			return "client:" + req.ActorID.String(), nil
		}
		return "worker:" + req.ActorID.String(), nil
	}

	// Рабочие события принимаются только от назначенного исполнителя
	if gig.Assignment == nil || req.ActorID != gig.Assignment.WorkerID {
		return "", models.ErrConflict
	}
	return "worker:" + req.ActorID.String(), nil
}

// Confirm применяет подтверждение клиента: Complete -> Paid.
// Переход выполняется не больше одного раза (CAS по версии);
// повторное подтверждение с той же версией - конфликт без повторного списания.
func (s *LifecycleService) Confirm(ctx context.Context, gigID uuid.UUID, req *models.ConfirmGigRequest) (*models.GigRequest, error) {
	gig, err := s.store.GetGig(ctx, gigID)
	if err != nil {
		return nil, err
	}

	if req.ClientID != gig.ClientID {
		return nil, models.ErrConflict
	}
	if gig.Status.IsTerminal() {
		return nil, models.ErrTerminalStatus
	}
	if gig.Status != models.GigStatusComplete {
		return nil, models.ErrConflict
	}

	updated, err := s.store.TransitionStatus(ctx, gigID,
		models.GigStatusComplete, models.GigStatusPaid,
		req.StatusVersion, "client:"+req.ClientID.String(), "")
	if err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"gig_id":  gigID,
		"version": updated.StatusVersion,
	}).Info("Gig confirmed by client, triggering payment capture")

	s.publishTransition(gigID, models.GigStatusComplete, models.GigStatusPaid,
		updated.StatusVersion, "client:"+req.ClientID.String())

	// Единственная точка запуска списания; сам триггер идемпотентен
	if s.payments != nil {
		if err := s.payments.TriggerCapture(ctx, updated); err != nil {
			// Переход уже зафиксирован; списание доедет по ретраю триггера
			s.log.WithError(err).WithField("gig_id", gigID).Error("Payment capture trigger failed")
		}
	}

	return updated, nil
}
