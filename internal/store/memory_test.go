package store

import (
	"context"
	"testing"
	"time"

	"gig-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedGig(t *testing.T, st *MemoryStore, status models.GigStatus, version int64) *models.GigRequest {
	t.Helper()
	gig := &models.GigRequest{
		ID:            uuid.New(),
		ClientID:      uuid.New(),
		Category:      "moving",
		Urgency:       models.UrgencyASAP,
		Lat:           40.7,
		Lon:           -74.0,
		RadiusMiles:   10,
		Status:        status,
		StatusVersion: version,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, st.CreateGig(context.Background(), gig))
	return gig
}

func TestTransitionStatusCAS(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	gig := seedGig(t, st, models.GigStatusPosted, 1)

	updated, err := st.TransitionStatus(ctx, gig.ID,
		models.GigStatusPosted, models.GigStatusDispatching, 1, "system", "")
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusDispatching, updated.Status)
	assert.Equal(t, int64(2), updated.StatusVersion)

	// Неверный исходный статус
	_, err = st.TransitionStatus(ctx, gig.ID,
		models.GigStatusPosted, models.GigStatusDispatching, 2, "system", "")
	assert.ErrorIs(t, err, models.ErrConflict)

	// Устаревшая версия
	_, err = st.TransitionStatus(ctx, gig.ID,
		models.GigStatusDispatching, models.GigStatusMatched, 1, "system", "")
	assert.ErrorIs(t, err, models.ErrConflict)

	// Неизвестная заявка
	_, err = st.TransitionStatus(ctx, uuid.New(),
		models.GigStatusPosted, models.GigStatusDispatching, 1, "system", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTransitionStatusAppendsEvent(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	gig := seedGig(t, st, models.GigStatusPosted, 1)

	_, err := st.TransitionStatus(ctx, gig.ID,
		models.GigStatusPosted, models.GigStatusDispatching, 1, "system", "")
	require.NoError(t, err)

	events, err := st.ListStatusEvents(ctx, gig.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.GigStatusPosted, events[0].OldStatus)
	assert.Equal(t, models.GigStatusDispatching, events[0].NewStatus)
	assert.Equal(t, "system", events[0].Actor)
	assert.Equal(t, int64(2), events[0].Version)
}

func TestAcceptGigGuards(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	gig := seedGig(t, st, models.GigStatusDispatching, 2)
	workerID := uuid.New()

	accepted, err := st.AcceptGig(ctx, gig.ID, workerID, 2.5, 8)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusMatched, accepted.Status)
	assert.Equal(t, int64(3), accepted.StatusVersion)
	require.NotNil(t, accepted.Assignment)
	assert.Equal(t, workerID, accepted.Assignment.WorkerID)

	// Повторный accept той же заявки
	_, err = st.AcceptGig(ctx, gig.ID, uuid.New(), 1, 3)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Занятый исполнитель на другой заявке
	other := seedGig(t, st, models.GigStatusDispatching, 2)
	_, err = st.AcceptGig(ctx, other.ID, workerID, 1, 3)
	assert.ErrorIs(t, err, models.ErrWorkerBusy)

	_, err = st.AcceptGig(ctx, uuid.New(), uuid.New(), 1, 3)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTransitionReleasesAssignment(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	gig := seedGig(t, st, models.GigStatusDispatching, 2)
	workerID := uuid.New()

	accepted, err := st.AcceptGig(ctx, gig.ID, workerID, 1, 3)
	require.NoError(t, err)

	cancelled, err := st.TransitionStatus(ctx, gig.ID,
		models.GigStatusMatched, models.GigStatusCancelled,
		accepted.StatusVersion, "client:"+gig.ClientID.String(), "")
	require.NoError(t, err)
	require.NotNil(t, cancelled.Assignment)
	assert.NotNil(t, cancelled.Assignment.ReleasedAt)
	assert.NotNil(t, cancelled.Assignment.CancelledAt)

	// Исполнитель снова свободен
	busy, err := st.OpenAssignmentWorkers(ctx)
	require.NoError(t, err)
	assert.False(t, busy[workerID])
}

func TestExpireStaleHonorsCutoff(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	stale := seedGig(t, st, models.GigStatusDispatching, 2)
	stale.CreatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.CreateGig(ctx, stale)) // перезапись с новым CreatedAt

	fresh := seedGig(t, st, models.GigStatusDispatching, 2)

	expired, err := st.ExpireStale(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.Equal(t, models.GigStatusExpired, expired[0].Status)

	got, err := st.GetGig(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusDispatching, got.Status)
}

func TestListGigsFilter(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	posted := seedGig(t, st, models.GigStatusPosted, 1)
	seedGig(t, st, models.GigStatusDispatching, 2)

	status := models.GigStatusPosted
	gigs, err := st.ListGigs(ctx, GigFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, gigs, 1)
	assert.Equal(t, posted.ID, gigs[0].ID)

	gigs, err = st.ListGigs(ctx, GigFilter{ClientID: &posted.ClientID})
	require.NoError(t, err)
	require.Len(t, gigs, 1)

	gigs, err = st.ListGigs(ctx, GigFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, gigs, 1)
}

func TestGetGigReturnsCopy(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	gig := seedGig(t, st, models.GigStatusPosted, 1)

	got, err := st.GetGig(ctx, gig.ID)
	require.NoError(t, err)
	got.Status = models.GigStatusCancelled

	// Мутация снимка не трогает хранилище
	again, err := st.GetGig(ctx, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusPosted, again.Status)
}
