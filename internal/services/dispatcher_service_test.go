package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gig-dispatch/internal/geo"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(st store.Store) *DispatcherService {
	return NewDispatcherService(st, geo.NewIndex(0), testDispatchConfig(), logger.NewNop())
}

func seedDispatchingGig(t *testing.T, st store.Store) *models.GigRequest {
	t.Helper()
	ctx := context.Background()

	gig := testGig(40.7, -74.0, 10)
	gig.Status = models.GigStatusPosted
	gig.StatusVersion = 1
	require.NoError(t, st.CreateGig(ctx, gig))

	updated, err := st.TransitionStatus(ctx, gig.ID,
		models.GigStatusPosted, models.GigStatusDispatching, 1, "system", "")
	require.NoError(t, err)
	return updated
}

func acceptReq(workerID uuid.UUID) *models.AcceptGigRequest {
	lat, lon := 40.71, -74.0
	return &models.AcceptGigRequest{WorkerID: workerID, Lat: &lat, Lon: &lon}
}

func TestAcceptAssignsGig(t *testing.T) {
	st := store.NewMemoryStore()
	dispatcher := newTestDispatcher(st)
	ctx := context.Background()

	gig := seedDispatchingGig(t, st)
	workerID := uuid.New()

	updated, err := dispatcher.Accept(ctx, gig.ID, acceptReq(workerID))
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusMatched, updated.Status)
	require.NotNil(t, updated.Assignment)
	assert.Equal(t, workerID, updated.Assignment.WorkerID)
	assert.Greater(t, updated.Assignment.DistanceMiles, 0.0)
	assert.Greater(t, updated.Assignment.ETAMinutes, 0.0)
}

func TestAcceptConcurrentExactlyOneWinner(t *testing.T) {
	st := store.NewMemoryStore()
	dispatcher := newTestDispatcher(st)
	ctx := context.Background()

	gig := seedDispatchingGig(t, st)

	const workers = 32
	var wg sync.WaitGroup
	results := make([]error, workers)
	winners := make([]uuid.UUID, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			workerID := uuid.New()
			winners[i] = workerID
			_, results[i] = dispatcher.Accept(ctx, gig.ID, acceptReq(workerID))
		}(i)
	}
	wg.Wait()

	success := 0
	var winner uuid.UUID
	for i, err := range results {
		if err == nil {
			success++
			winner = winners[i]
			continue
		}
		assert.ErrorIs(t, err, models.ErrConflict)
	}
	require.Equal(t, 1, success)

	final, err := st.GetGig(ctx, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusMatched, final.Status)
	require.NotNil(t, final.Assignment)
	assert.Equal(t, winner, final.Assignment.WorkerID)

	// Ровно одна запись о назначении в журнале
	events, err := st.ListStatusEvents(ctx, gig.ID)
	require.NoError(t, err)
	matched := 0
	for _, e := range events {
		if e.NewStatus == models.GigStatusMatched {
			matched++
		}
	}
	assert.Equal(t, 1, matched)
}

func TestAcceptRejectsBusyWorker(t *testing.T) {
	st := store.NewMemoryStore()
	dispatcher := newTestDispatcher(st)
	ctx := context.Background()

	first := seedDispatchingGig(t, st)
	second := seedDispatchingGig(t, st)
	workerID := uuid.New()

	_, err := dispatcher.Accept(ctx, first.ID, acceptReq(workerID))
	require.NoError(t, err)

	// Исполнитель с открытым назначением не может взять вторую заявку
	_, err = dispatcher.Accept(ctx, second.ID, acceptReq(workerID))
	assert.ErrorIs(t, err, models.ErrWorkerBusy)
}

func TestAcceptAfterReleaseSucceeds(t *testing.T) {
	st := store.NewMemoryStore()
	dispatcher := newTestDispatcher(st)
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	first := seedDispatchingGig(t, st)
	second := seedDispatchingGig(t, st)
	workerID := uuid.New()

	accepted, err := dispatcher.Accept(ctx, first.ID, acceptReq(workerID))
	require.NoError(t, err)

	// Отмена освобождает исполнителя для следующей заявки
	_, err = lifecycle.ApplyEvent(ctx, first.ID, &models.GigEventRequest{
		EventType:     models.GigEventCancel,
		ActorID:       first.ClientID,
		StatusVersion: accepted.StatusVersion,
	})
	require.NoError(t, err)

	_, err = dispatcher.Accept(ctx, second.ID, acceptReq(workerID))
	assert.NoError(t, err)
}

func TestAcceptCancelledGig(t *testing.T) {
	st := store.NewMemoryStore()
	dispatcher := newTestDispatcher(st)
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig := seedDispatchingGig(t, st)

	_, err := lifecycle.ApplyEvent(ctx, gig.ID, &models.GigEventRequest{
		EventType:     models.GigEventCancel,
		ActorID:       gig.ClientID,
		StatusVersion: gig.StatusVersion,
	})
	require.NoError(t, err)

	_, err = dispatcher.Accept(ctx, gig.ID, acceptReq(uuid.New()))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestAcceptUnknownGig(t *testing.T) {
	st := store.NewMemoryStore()
	dispatcher := newTestDispatcher(st)

	_, err := dispatcher.Accept(context.Background(), uuid.New(), acceptReq(uuid.New()))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAcceptFallsBackToProfilePosition(t *testing.T) {
	st := store.NewMemoryStore()
	dispatcher := newTestDispatcher(st)
	ctx := context.Background()

	gig := seedDispatchingGig(t, st)

	lat, lon := 40.75, -74.0
	worker := &models.Worker{
		ID:   uuid.New(),
		Name: "Test Worker",
		Lat:  &lat,
		Lon:  &lon,
	}
	require.NoError(t, st.CreateWorker(ctx, worker))

	// Запрос без координат: берется последняя позиция из профиля
	updated, err := dispatcher.Accept(ctx, gig.ID, &models.AcceptGigRequest{WorkerID: worker.ID})
	require.NoError(t, err)
	require.NotNil(t, updated.Assignment)
	assert.InDelta(t, 3.45, updated.Assignment.DistanceMiles, 0.1)
}
