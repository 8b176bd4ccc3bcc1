package geo

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// Один градус широты - примерно 69 миль
	d := Haversine(40.0, -74.0, 41.0, -74.0)
	assert.InDelta(t, 69.09, d, 0.2)

	// Нулевое расстояние до самой себя
	assert.Equal(t, 0.0, Haversine(40.7128, -74.0060, 40.7128, -74.0060))
}

func newTestIndex(now time.Time) *Index {
	idx := NewIndex(90 * time.Second)
	idx.now = func() time.Time { return now }
	return idx
}

func entryAt(lat, lon float64, heartbeat time.Time) Entry {
	return Entry{
		WorkerID:        uuid.New(),
		Lat:             lat,
		Lon:             lon,
		Rating:          4.5,
		AvailableNow:    true,
		LastHeartbeatAt: heartbeat,
	}
}

func TestIndexQueryOrdersByDistance(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	far := entryAt(40.9, -74.0, now)
	near := entryAt(40.71, -74.0, now)
	mid := entryAt(40.8, -74.0, now)

	idx.Upsert(far)
	idx.Upsert(near)
	idx.Upsert(mid)

	result := idx.Query(40.7, -74.0, 50)
	require.Len(t, result, 3)
	assert.Equal(t, near.WorkerID, result[0].WorkerID)
	assert.Equal(t, mid.WorkerID, result[1].WorkerID)
	assert.Equal(t, far.WorkerID, result[2].WorkerID)

	for i := 1; i < len(result); i++ {
		assert.GreaterOrEqual(t, result[i].DistanceMiles, result[i-1].DistanceMiles)
	}
}

func TestIndexQueryTieBreakByWorkerID(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	// Две записи в одной точке: порядок детерминирован по workerID
	a := entryAt(40.8, -74.0, now)
	b := entryAt(40.8, -74.0, now)
	idx.Upsert(a)
	idx.Upsert(b)

	first := idx.Query(40.7, -74.0, 50)
	second := idx.Query(40.7, -74.0, 50)
	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].WorkerID, second[0].WorkerID)
	assert.Less(t, first[0].WorkerID.String(), first[1].WorkerID.String())
}

func TestIndexQueryFiltersStaleHeartbeat(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	fresh := entryAt(40.71, -74.0, now.Add(-30*time.Second))
	stale := entryAt(40.71, -74.0, now.Add(-5*time.Minute))
	idx.Upsert(fresh)
	idx.Upsert(stale)

	result := idx.Query(40.7, -74.0, 50)
	require.Len(t, result, 1)
	assert.Equal(t, fresh.WorkerID, result[0].WorkerID)
}

func TestIndexQueryFiltersUnavailable(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	offline := entryAt(40.71, -74.0, now)
	offline.AvailableNow = false
	idx.Upsert(offline)

	expired := entryAt(40.71, -74.0, now)
	until := now.Add(-time.Minute)
	expired.AvailableUntil = &until
	idx.Upsert(expired)

	assert.Empty(t, idx.Query(40.7, -74.0, 50))
}

func TestIndexQueryRespectsWorkerRadius(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	// Исполнитель в 7 милях, но готов ехать максимум 5
	limited := entryAt(40.8, -74.0, now)
	limited.RadiusMiles = 5
	idx.Upsert(limited)

	assert.Empty(t, idx.Query(40.7, -74.0, 50))

	limited.RadiusMiles = 10
	idx.Upsert(limited)
	assert.Len(t, idx.Query(40.7, -74.0, 50), 1)
}

func TestIndexQueryOutsideRadius(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	idx.Upsert(entryAt(41.5, -74.0, now)) // ~55 миль

	assert.Empty(t, idx.Query(40.7, -74.0, 10))
	assert.Len(t, idx.Query(40.7, -74.0, 60), 1)
}

func TestIndexRemove(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	e := entryAt(40.71, -74.0, now)
	idx.Upsert(e)
	require.Equal(t, 1, idx.Size())

	idx.Remove(e.WorkerID)
	assert.Equal(t, 0, idx.Size())
	assert.Empty(t, idx.Query(40.7, -74.0, 50))
}

func TestIndexUpdatePositionUnknownWorker(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	// Heartbeat от неизвестного исполнителя создает доступную запись
	workerID := uuid.New()
	idx.UpdatePosition(workerID, 40.71, -74.0, now)

	result := idx.Query(40.7, -74.0, 50)
	require.Len(t, result, 1)
	assert.Equal(t, workerID, result[0].WorkerID)
}

func TestIndexUpdatePositionIsVisibleImmediately(t *testing.T) {
	now := time.Now()
	idx := newTestIndex(now)

	e := entryAt(40.71, -74.0, now.Add(-5*time.Minute))
	idx.Upsert(e)
	require.Empty(t, idx.Query(40.7, -74.0, 50))

	// Свежий heartbeat возвращает исполнителя в выдачу
	idx.UpdatePosition(e.WorkerID, 40.72, -74.0, now)
	result := idx.Query(40.7, -74.0, 50)
	require.Len(t, result, 1)
	assert.Equal(t, 40.72, result[0].Lat)
}
