package store

import (
	"context"
	"time"

	"gig-dispatch/internal/models"

	"github.com/google/uuid"
)

// GigFilter представляет фильтры выборки заявок
type GigFilter struct {
	Status   *models.GigStatus
	ClientID *uuid.UUID
	Limit    int
	Offset   int
}

// Store представляет хранилище заявок и исполнителей.
// Это единственная точка синхронизации состояния заявок: все переходы
// статуса и гонка accept разрешаются атомарными условными записями здесь.
type Store interface {
	// Заявки
	CreateGig(ctx context.Context, gig *models.GigRequest) error
	GetGig(ctx context.Context, id uuid.UUID) (*models.GigRequest, error)
	ListGigs(ctx context.Context, f GigFilter) ([]*models.GigRequest, error)
	ListOpenGigs(ctx context.Context) ([]*models.GigRequest, error)

	// TransitionStatus выполняет compare-and-swap по (status, status_version).
	// Несовпадение наблюдаемой версии или статуса - models.ErrConflict.
	// Переход в Complete/Cancelled/Expired освобождает открытое назначение.
	TransitionStatus(ctx context.Context, gigID uuid.UUID, from, to models.GigStatus,
		expectedVersion int64, actor, note string) (*models.GigRequest, error)

	// AcceptGig атомарно создает назначение и переводит заявку в Matched.
	// Успешен только если статус Posted/Dispatching и назначения еще нет;
	// проигравшие получают models.ErrConflict, занятый исполнитель -
	// models.ErrWorkerBusy. Линеаризуем относительно конкурентных вызовов.
	AcceptGig(ctx context.Context, gigID, workerID uuid.UUID,
		distanceMiles, etaMinutes float64) (*models.GigRequest, error)

	// ExpireStale переводит заявки Posted/Dispatching старше cutoff в Expired
	ExpireStale(ctx context.Context, cutoff time.Time) ([]*models.GigRequest, error)

	ListStatusEvents(ctx context.Context, gigID uuid.UUID) ([]*models.StatusEvent, error)

	// OpenAssignmentWorkers возвращает множество занятых исполнителей
	OpenAssignmentWorkers(ctx context.Context) (map[uuid.UUID]bool, error)

	// Исполнители
	CreateWorker(ctx context.Context, w *models.Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error)
	ListWorkers(ctx context.Context, limit, offset int) ([]*models.Worker, error)
	UpdateWorkerAvailability(ctx context.Context, id uuid.UUID, req *models.UpdateAvailabilityRequest) (*models.Worker, error)
	TouchWorkerHeartbeat(ctx context.Context, id uuid.UUID, lat, lon float64, at time.Time) (*models.Worker, error)
}
