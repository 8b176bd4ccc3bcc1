package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const earthRadiusMiles = 3958.8

// Haversine вычисляет расстояние по дуге большого круга в милях
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}

// Entry представляет позицию и доступность исполнителя в индексе
type Entry struct {
	WorkerID        uuid.UUID
	Lat             float64
	Lon             float64
	Rating          float64
	AvailableNow    bool
	RadiusMiles     float64
	AvailableUntil  *time.Time
	LastHeartbeatAt time.Time
}

// Candidate представляет результат гео-запроса
type Candidate struct {
	WorkerID      uuid.UUID
	Lat           float64
	Lon           float64
	Rating        float64
	DistanceMiles float64
}

// Index хранит позиции исполнителей и отвечает на запросы
// "кто свободен в радиусе R от точки P". Запись видна следующим
// запросам сразу же (консистентность в пределах процесса);
// между экземплярами индекс реплицируется через топик locations.
type Index struct {
	mu        sync.RWMutex
	entries   map[uuid.UUID]Entry
	freshness time.Duration
	now       func() time.Time
}

// NewIndex создает индекс с заданным окном свежести heartbeat
func NewIndex(freshness time.Duration) *Index {
	return &Index{
		entries:   make(map[uuid.UUID]Entry),
		freshness: freshness,
		now:       time.Now,
	}
}

// Upsert добавляет или заменяет запись исполнителя
func (i *Index) Upsert(e Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries[e.WorkerID] = e
}

// Remove удаляет запись исполнителя
func (i *Index) Remove(workerID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.entries, workerID)
}

// UpdatePosition обновляет позицию по heartbeat. Неизвестный исполнитель
// считается доступным: heartbeat приходят только от вышедших на линию.
func (i *Index) UpdatePosition(workerID uuid.UUID, lat, lon float64, at time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.entries[workerID]
	if !ok {
		e = Entry{WorkerID: workerID, AvailableNow: true, RadiusMiles: 0}
	}
	e.Lat = lat
	e.Lon = lon
	e.LastHeartbeatAt = at
	i.entries[workerID] = e
}

// Query возвращает доступных исполнителей в радиусе radiusMiles от точки,
// отсортированных по возрастанию расстояния; при равенстве - по workerID.
// Пустой результат - валидный исход, не ошибка.
func (i *Index) Query(lat, lon, radiusMiles float64) []Candidate {
	i.mu.RLock()
	defer i.mu.RUnlock()

	now := i.now()
	cutoff := now.Add(-i.freshness)

	var result []Candidate
	for _, e := range i.entries {
		if !e.AvailableNow {
			continue
		}
		if e.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		if e.AvailableUntil != nil && e.AvailableUntil.Before(now) {
			continue
		}

		d := Haversine(lat, lon, e.Lat, e.Lon)
		if d > radiusMiles {
			continue
		}
		// Исполнитель сам ограничивает, как далеко готов ехать
		if e.RadiusMiles > 0 && d > e.RadiusMiles {
			continue
		}

		result = append(result, Candidate{
			WorkerID:      e.WorkerID,
			Lat:           e.Lat,
			Lon:           e.Lon,
			Rating:        e.Rating,
			DistanceMiles: d,
		})
	}

	sort.Slice(result, func(a, b int) bool {
		if result[a].DistanceMiles != result[b].DistanceMiles {
			return result[a].DistanceMiles < result[b].DistanceMiles
		}
		return result[a].WorkerID.String() < result[b].WorkerID.String()
	})

	return result
}

// Size возвращает количество записей в индексе
func (i *Index) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}
