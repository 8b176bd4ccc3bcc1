package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"
	"gig-dispatch/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapturer struct {
	calls atomic.Int64
	err   error
}

func (f *fakeCapturer) Capture(_ context.Context, _ uuid.UUID, _ float64, _ string) error {
	f.calls.Add(1)
	return f.err
}

type fakePublisher struct {
	calls atomic.Int64
}

func (f *fakePublisher) PublishGigStatusChanged(_ uuid.UUID, _, _ models.GigStatus, _ int64, _ string) error {
	f.calls.Add(1)
	return nil
}

// seedMatchedGig создает заявку, доведенную до Matched с назначением
func seedMatchedGig(t *testing.T, st store.Store) (*models.GigRequest, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	gig := testGig(40.7, -74.0, 10)
	gig.Status = models.GigStatusPosted
	gig.StatusVersion = 1
	gig.EstimatedPrice = 120
	gig.CreatedAt = time.Now()
	require.NoError(t, st.CreateGig(ctx, gig))

	_, err := st.TransitionStatus(ctx, gig.ID,
		models.GigStatusPosted, models.GigStatusDispatching, 1, "system", "")
	require.NoError(t, err)

	workerID := uuid.New()
	matched, err := st.AcceptGig(ctx, gig.ID, workerID, 1.2, 4)
	require.NoError(t, err)
	require.Equal(t, models.GigStatusMatched, matched.Status)

	return matched, workerID
}

func workerEvent(workerID uuid.UUID, eventType models.GigEventType, version int64) *models.GigEventRequest {
	return &models.GigEventRequest{
		EventType:     eventType,
		ActorID:       workerID,
		StatusVersion: version,
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	st := store.NewMemoryStore()
	capturer := &fakeCapturer{}
	payments := NewPaymentService(nil, capturer, logger.NewNop())
	lifecycle := NewLifecycleService(st, payments, nil, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	steps := []struct {
		event  models.GigEventType
		status models.GigStatus
	}{
		{models.GigEventEnRoute, models.GigStatusOnRoute},
		{models.GigEventArrived, models.GigStatusArrived},
		{models.GigEventStarted, models.GigStatusInProgress},
		{models.GigEventFinished, models.GigStatusComplete},
	}

	version := gig.StatusVersion
	for _, step := range steps {
		updated, err := lifecycle.ApplyEvent(ctx, gig.ID, workerEvent(workerID, step.event, version))
		require.NoError(t, err)
		assert.Equal(t, step.status, updated.Status)
		assert.Equal(t, version+1, updated.StatusVersion)
		version = updated.StatusVersion
	}

	// Назначение освобождено после Complete
	completed, err := st.GetGig(ctx, gig.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.Assignment)
	assert.NotNil(t, completed.Assignment.ReleasedAt)

	paid, err := lifecycle.Confirm(ctx, gig.ID, &models.ConfirmGigRequest{
		ClientID:      gig.ClientID,
		StatusVersion: version,
	})
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusPaid, paid.Status)
	assert.Equal(t, int64(1), capturer.calls.Load())

	// Журнал содержит по одной записи на каждый переход
	events, err := st.ListStatusEvents(ctx, gig.ID)
	require.NoError(t, err)
	assert.Len(t, events, 7) // Dispatching, Matched, 4 рабочих события, Paid
}

func TestLifecycleRejectsOutOfOrderEvent(t *testing.T) {
	st := store.NewMemoryStore()
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	// started без en_route/arrived - запрещенное ребро
	_, err := lifecycle.ApplyEvent(ctx, gig.ID,
		workerEvent(workerID, models.GigEventStarted, gig.StatusVersion))
	assert.ErrorIs(t, err, models.ErrConflict)

	unchanged, err := st.GetGig(ctx, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusMatched, unchanged.Status)
}

func TestLifecycleRejectsStaleVersion(t *testing.T) {
	st := store.NewMemoryStore()
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	_, err := lifecycle.ApplyEvent(ctx, gig.ID,
		workerEvent(workerID, models.GigEventEnRoute, gig.StatusVersion))
	require.NoError(t, err)

	// Повтор с прежней версией отклоняется без второй записи в журнале
	_, err = lifecycle.ApplyEvent(ctx, gig.ID,
		workerEvent(workerID, models.GigEventEnRoute, gig.StatusVersion))
	assert.ErrorIs(t, err, models.ErrConflict)

	events, listErr := st.ListStatusEvents(ctx, gig.ID)
	require.NoError(t, listErr)
	onRoute := 0
	for _, e := range events {
		if e.NewStatus == models.GigStatusOnRoute {
			onRoute++
		}
	}
	assert.Equal(t, 1, onRoute)
}

func TestLifecycleRejectsForeignActor(t *testing.T) {
	st := store.NewMemoryStore()
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig, _ := seedMatchedGig(t, st)

	// Рабочее событие от постороннего исполнителя
	_, err := lifecycle.ApplyEvent(ctx, gig.ID,
		workerEvent(uuid.New(), models.GigEventEnRoute, gig.StatusVersion))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLifecycleCancelByClient(t *testing.T) {
	st := store.NewMemoryStore()
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig, _ := seedMatchedGig(t, st)

	cancelled, err := lifecycle.ApplyEvent(ctx, gig.ID, &models.GigEventRequest{
		EventType:     models.GigEventCancel,
		ActorID:       gig.ClientID,
		StatusVersion: gig.StatusVersion,
	})
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Assignment)
	assert.NotNil(t, cancelled.Assignment.ReleasedAt)
	assert.NotNil(t, cancelled.Assignment.CancelledAt)
}

func TestLifecycleCancelAfterStartRequiresNote(t *testing.T) {
	st := store.NewMemoryStore()
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	version := gig.StatusVersion
	for _, ev := range []models.GigEventType{models.GigEventEnRoute, models.GigEventArrived, models.GigEventStarted} {
		updated, err := lifecycle.ApplyEvent(ctx, gig.ID, workerEvent(workerID, ev, version))
		require.NoError(t, err)
		version = updated.StatusVersion
	}

	// Отмена после начала работ без записки отклоняется
	_, err := lifecycle.ApplyEvent(ctx, gig.ID, &models.GigEventRequest{
		EventType:     models.GigEventCancel,
		ActorID:       gig.ClientID,
		StatusVersion: version,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	cancelled, err := lifecycle.ApplyEvent(ctx, gig.ID, &models.GigEventRequest{
		EventType:     models.GigEventCancel,
		ActorID:       gig.ClientID,
		StatusVersion: version,
		Note:          "client dispute, work unfinished",
	})
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusCancelled, cancelled.Status)
}

func TestLifecycleRejectsEventAfterTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	cancelled, err := lifecycle.ApplyEvent(ctx, gig.ID, &models.GigEventRequest{
		EventType:     models.GigEventCancel,
		ActorID:       gig.ClientID,
		StatusVersion: gig.StatusVersion,
	})
	require.NoError(t, err)

	_, err = lifecycle.ApplyEvent(ctx, gig.ID,
		workerEvent(workerID, models.GigEventEnRoute, cancelled.StatusVersion))
	assert.ErrorIs(t, err, models.ErrTerminalStatus)
}

func TestLifecycleConfirmFiresCaptureOnce(t *testing.T) {
	st := store.NewMemoryStore()
	capturer := &fakeCapturer{}
	payments := NewPaymentService(nil, capturer, logger.NewNop())
	lifecycle := NewLifecycleService(st, payments, nil, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	version := gig.StatusVersion
	for _, ev := range []models.GigEventType{models.GigEventEnRoute, models.GigEventArrived,
		models.GigEventStarted, models.GigEventFinished} {
		updated, err := lifecycle.ApplyEvent(ctx, gig.ID, workerEvent(workerID, ev, version))
		require.NoError(t, err)
		version = updated.StatusVersion
	}

	confirm := &models.ConfirmGigRequest{ClientID: gig.ClientID, StatusVersion: version}
	_, err := lifecycle.Confirm(ctx, gig.ID, confirm)
	require.NoError(t, err)
	assert.Equal(t, int64(1), capturer.calls.Load())

	// Повторное подтверждение - конфликт, списание не повторяется
	_, err = lifecycle.Confirm(ctx, gig.ID, confirm)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrTerminalStatus))
	assert.Equal(t, int64(1), capturer.calls.Load())
}

func TestLifecycleConfirmRejectsForeignClient(t *testing.T) {
	st := store.NewMemoryStore()
	lifecycle := NewLifecycleService(st, nil, nil, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	version := gig.StatusVersion
	for _, ev := range []models.GigEventType{models.GigEventEnRoute, models.GigEventArrived,
		models.GigEventStarted, models.GigEventFinished} {
		updated, err := lifecycle.ApplyEvent(ctx, gig.ID, workerEvent(workerID, ev, version))
		require.NoError(t, err)
		version = updated.StatusVersion
	}

	_, err := lifecycle.Confirm(ctx, gig.ID, &models.ConfirmGigRequest{
		ClientID:      uuid.New(),
		StatusVersion: version,
	})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLifecyclePublishesTransitions(t *testing.T) {
	st := store.NewMemoryStore()
	publisher := &fakePublisher{}
	lifecycle := NewLifecycleService(st, nil, publisher, logger.NewNop())
	ctx := context.Background()

	gig, workerID := seedMatchedGig(t, st)

	_, err := lifecycle.ApplyEvent(ctx, gig.ID,
		workerEvent(workerID, models.GigEventEnRoute, gig.StatusVersion))
	require.NoError(t, err)
	assert.Equal(t, int64(1), publisher.calls.Load())
}
