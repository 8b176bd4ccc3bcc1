package services

import (
	"context"
	"testing"
	"time"

	"gig-dispatch/internal/geo"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkerService(t *testing.T) (*WorkerService, store.Store, *geo.Index) {
	t.Helper()
	st := store.NewMemoryStore()
	idx := geo.NewIndex(90 * time.Second)
	return NewWorkerService(st, idx, logger.NewNop()), st, idx
}

func registerWorker(t *testing.T, svc *WorkerService) *models.Worker {
	t.Helper()
	worker, err := svc.CreateWorker(context.Background(), &models.CreateWorkerRequest{
		Name:  "Test Worker",
		Phone: "+15550100",
	})
	require.NoError(t, err)
	return worker
}

func TestSetAvailabilityAddsToIndex(t *testing.T) {
	svc, _, idx := newTestWorkerService(t)
	ctx := context.Background()

	worker := registerWorker(t, svc)
	require.Equal(t, 0, idx.Size())

	lat, lon := 40.71, -74.0
	updated, err := svc.SetAvailability(ctx, worker.ID, &models.UpdateAvailabilityRequest{
		AvailableNow: true,
		Lat:          &lat,
		Lon:          &lon,
	})
	require.NoError(t, err)
	assert.True(t, updated.AvailableNow)

	result := idx.Query(40.7, -74.0, 10)
	require.Len(t, result, 1)
	assert.Equal(t, worker.ID, result[0].WorkerID)
}

func TestSetAvailabilityOffRemovesFromIndex(t *testing.T) {
	svc, _, idx := newTestWorkerService(t)
	ctx := context.Background()

	worker := registerWorker(t, svc)
	lat, lon := 40.71, -74.0
	_, err := svc.SetAvailability(ctx, worker.ID, &models.UpdateAvailabilityRequest{
		AvailableNow: true,
		Lat:          &lat,
		Lon:          &lon,
	})
	require.NoError(t, err)
	require.Equal(t, 1, idx.Size())

	// Выключение доступности немедленно убирает из гео-выдачи
	_, err = svc.SetAvailability(ctx, worker.ID, &models.UpdateAvailabilityRequest{AvailableNow: false})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Size())
}

func TestHeartbeatUpdatesIndexPosition(t *testing.T) {
	svc, _, idx := newTestWorkerService(t)
	ctx := context.Background()

	worker := registerWorker(t, svc)
	lat, lon := 40.71, -74.0
	_, err := svc.SetAvailability(ctx, worker.ID, &models.UpdateAvailabilityRequest{
		AvailableNow: true,
		Lat:          &lat,
		Lon:          &lon,
	})
	require.NoError(t, err)

	updated, err := svc.Heartbeat(ctx, worker.ID, 40.75, -74.01)
	require.NoError(t, err)
	require.NotNil(t, updated.Lat)
	assert.Equal(t, 40.75, *updated.Lat)

	result := idx.Query(40.75, -74.01, 1)
	require.Len(t, result, 1)
	assert.Equal(t, 40.75, result[0].Lat)
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	svc, _, _ := newTestWorkerService(t)

	_, err := svc.Heartbeat(context.Background(), uuid.New(), 40.7, -74.0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApplyLocationEventReplicatesPosition(t *testing.T) {
	svc, _, idx := newTestWorkerService(t)

	// Событие с другого экземпляра попадает в локальный индекс
	workerID := uuid.New()
	svc.ApplyLocationEvent(workerID, 40.71, -74.0, time.Now())

	result := idx.Query(40.7, -74.0, 10)
	require.Len(t, result, 1)
	assert.Equal(t, workerID, result[0].WorkerID)
}

func TestWarmupIndexLoadsAvailableWorkers(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	lat, lon := 40.71, -74.0
	hb := time.Now()
	available := &models.Worker{
		ID:              uuid.New(),
		Name:            "Available",
		AvailableNow:    true,
		Lat:             &lat,
		Lon:             &lon,
		LastHeartbeatAt: &hb,
		CreatedAt:       time.Now(),
	}
	offline := &models.Worker{
		ID:        uuid.New(),
		Name:      "Offline",
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateWorker(ctx, available))
	require.NoError(t, st.CreateWorker(ctx, offline))

	idx := geo.NewIndex(90 * time.Second)
	svc := NewWorkerService(st, idx, logger.NewNop())

	require.NoError(t, svc.WarmupIndex(ctx))
	assert.Equal(t, 1, idx.Size())
}
