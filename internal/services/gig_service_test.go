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

func newTestGigService(st store.Store, idx *geo.Index) *GigService {
	cfg := testDispatchConfig()
	log := logger.NewNop()
	lifecycle := NewLifecycleService(st, nil, nil, log)
	matcher := NewMatcherService(st, idx, cfg, log)
	return NewGigService(st, lifecycle, matcher, cfg, log)
}

func createReq(lat, lon float64) *models.CreateGigRequest {
	return &models.CreateGigRequest{
		ClientID:       uuid.New(),
		Category:       "plumbing",
		Description:    "leaking sink",
		Urgency:        models.UrgencyASAP,
		Lat:            &lat,
		Lon:            &lon,
		EstimatedPrice: 80,
	}
}

func TestCreateGigStartsDispatching(t *testing.T) {
	st := store.NewMemoryStore()
	idx := geo.NewIndex(90 * time.Second)
	svc := newTestGigService(st, idx)
	ctx := context.Background()

	idx.Upsert(availableWorker(40.71, -74.0, 4.5))

	gig, candidates, err := svc.CreateGig(ctx, createReq(40.7, -74.0))
	require.NoError(t, err)
	require.NotNil(t, gig)
	assert.Equal(t, models.GigStatusDispatching, gig.Status)
	assert.Equal(t, int64(2), gig.StatusVersion)
	assert.Len(t, candidates, 1)

	// Радиус по умолчанию проставлен из конфигурации
	assert.Equal(t, 10.0, gig.RadiusMiles)
}

func TestCreateGigNoCandidates(t *testing.T) {
	st := store.NewMemoryStore()
	idx := geo.NewIndex(90 * time.Second)
	svc := newTestGigService(st, idx)
	ctx := context.Background()

	gig, candidates, err := svc.CreateGig(ctx, createReq(40.7, -74.0))
	assert.ErrorIs(t, err, models.ErrNoCandidates)
	assert.Empty(t, candidates)

	// Заявка создана и осталась в Dispatching до таймаута
	require.NotNil(t, gig)
	stored, getErr := st.GetGig(ctx, gig.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.GigStatusDispatching, stored.Status)
}

func TestNearbyOrdersByDistance(t *testing.T) {
	st := store.NewMemoryStore()
	idx := geo.NewIndex(90 * time.Second)
	svc := newTestGigService(st, idx)
	idx.Upsert(availableWorker(40.7, -74.0, 4.5))
	ctx := context.Background()

	near, _, err := svc.CreateGig(ctx, createReq(40.71, -74.0))
	require.NoError(t, err)
	far, _, err := svc.CreateGig(ctx, createReq(40.8, -74.0))
	require.NoError(t, err)

	result, err := svc.Nearby(ctx, 40.7, -74.0, 20)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, near.ID, result[0].Gig.ID)
	assert.Equal(t, far.ID, result[1].Gig.ID)
	assert.Less(t, result[0].DistanceMiles, result[1].DistanceMiles)
}

func TestNearbyExcludesAssignedGigs(t *testing.T) {
	st := store.NewMemoryStore()
	idx := geo.NewIndex(90 * time.Second)
	svc := newTestGigService(st, idx)
	idx.Upsert(availableWorker(40.7, -74.0, 4.5))
	ctx := context.Background()

	gig, _, err := svc.CreateGig(ctx, createReq(40.71, -74.0))
	require.NoError(t, err)

	_, err = st.AcceptGig(ctx, gig.ID, uuid.New(), 1, 3)
	require.NoError(t, err)

	result, err := svc.Nearby(ctx, 40.7, -74.0, 20)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestListStatusEventsUnknownGig(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestGigService(st, geo.NewIndex(90*time.Second))

	_, err := svc.ListStatusEvents(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
