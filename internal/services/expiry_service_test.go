package services

import (
	"context"
	"testing"
	"time"

	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweep(t *testing.T) {
	st := store.NewMemoryStore()
	publisher := &fakePublisher{}
	expiry := NewExpiryService(st, publisher, nil, testDispatchConfig(), logger.NewNop())
	ctx := context.Background()

	// Просроченная заявка в Dispatching
	stale := testGig(40.7, -74.0, 10)
	stale.Status = models.GigStatusDispatching
	stale.StatusVersion = 2
	stale.CreatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.CreateGig(ctx, stale))

	// Свежая заявка, таймаут еще не вышел
	fresh := testGig(40.7, -74.0, 10)
	fresh.Status = models.GigStatusDispatching
	fresh.StatusVersion = 2
	fresh.CreatedAt = time.Now()
	require.NoError(t, st.CreateGig(ctx, fresh))

	// Назначенная заявка экспирации не подлежит независимо от возраста
	matched := testGig(40.7, -74.0, 10)
	matched.Status = models.GigStatusMatched
	matched.StatusVersion = 3
	matched.CreatedAt = time.Now().Add(-time.Hour)
	matched.Assignment = &models.Assignment{
		GigID:      matched.ID,
		WorkerID:   uuid.New(),
		AcceptedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, st.CreateGig(ctx, matched))

	expiry.Sweep(ctx)

	got, err := st.GetGig(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusExpired, got.Status)
	assert.Equal(t, stale.StatusVersion+1, got.StatusVersion)

	got, err = st.GetGig(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusDispatching, got.Status)

	got, err = st.GetGig(ctx, matched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusMatched, got.Status)

	assert.Equal(t, int64(1), publisher.calls.Load())
}

func TestExpirySweepIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	publisher := &fakePublisher{}
	expiry := NewExpiryService(st, publisher, nil, testDispatchConfig(), logger.NewNop())
	ctx := context.Background()

	stale := testGig(40.7, -74.0, 10)
	stale.Status = models.GigStatusDispatching
	stale.StatusVersion = 2
	stale.CreatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.CreateGig(ctx, stale))

	expiry.Sweep(ctx)
	expiry.Sweep(ctx)

	got, err := st.GetGig(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusExpired, got.Status)

	events, err := st.ListStatusEvents(ctx, stale.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(1), publisher.calls.Load())
}
