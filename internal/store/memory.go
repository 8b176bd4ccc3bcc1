package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"gig-dispatch/internal/models"

	"github.com/google/uuid"
)

// MemoryStore представляет хранилище в памяти с теми же гарантиями
// линеаризуемости, что и PostgresStore: все операции сериализуются
// одним мьютексом. Используется во встроенном режиме и в тестах.
type MemoryStore struct {
	mu      sync.Mutex
	gigs    map[uuid.UUID]*models.GigRequest
	events  map[uuid.UUID][]*models.StatusEvent
	workers map[uuid.UUID]*models.Worker
}

// NewMemoryStore создает новое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		gigs:    make(map[uuid.UUID]*models.GigRequest),
		events:  make(map[uuid.UUID][]*models.StatusEvent),
		workers: make(map[uuid.UUID]*models.Worker),
	}
}

func cloneGig(g *models.GigRequest) *models.GigRequest {
	cp := *g
	if g.Assignment != nil {
		a := *g.Assignment
		cp.Assignment = &a
	}
	return &cp
}

func cloneWorker(w *models.Worker) *models.Worker {
	cp := *w
	return &cp
}

// CreateGig создает новую заявку
func (s *MemoryStore) CreateGig(_ context.Context, gig *models.GigRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gigs[gig.ID] = cloneGig(gig)
	return nil
}

// GetGig получает заявку по ID
func (s *MemoryStore) GetGig(_ context.Context, id uuid.UUID) (*models.GigRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gig, ok := s.gigs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneGig(gig), nil
}

// ListGigs получает список заявок с фильтрацией
func (s *MemoryStore) ListGigs(_ context.Context, f GigFilter) ([]*models.GigRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gigs []*models.GigRequest
	for _, g := range s.gigs {
		if f.Status != nil && g.Status != *f.Status {
			continue
		}
		if f.ClientID != nil && g.ClientID != *f.ClientID {
			continue
		}
		gigs = append(gigs, cloneGig(g))
	}

	sort.Slice(gigs, func(a, b int) bool {
		return gigs[a].CreatedAt.After(gigs[b].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(gigs) {
			return nil, nil
		}
		gigs = gigs[f.Offset:]
	}
	if f.Limit > 0 && len(gigs) > f.Limit {
		gigs = gigs[:f.Limit]
	}

	return gigs, nil
}

// ListOpenGigs получает заявки в статусах Posted/Dispatching
func (s *MemoryStore) ListOpenGigs(_ context.Context) ([]*models.GigRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gigs []*models.GigRequest
	for _, g := range s.gigs {
		if g.Status == models.GigStatusPosted || g.Status == models.GigStatusDispatching {
			gigs = append(gigs, cloneGig(g))
		}
	}

	sort.Slice(gigs, func(a, b int) bool {
		return gigs[a].CreatedAt.After(gigs[b].CreatedAt)
	})

	return gigs, nil
}

func (s *MemoryStore) appendEventLocked(gigID uuid.UUID, from, to models.GigStatus,
	actor, note string, version int64, at time.Time) {
	s.events[gigID] = append(s.events[gigID], &models.StatusEvent{
		ID:        uuid.New(),
		GigID:     gigID,
		OldStatus: from,
		NewStatus: to,
		Actor:     actor,
		Note:      note,
		Version:   version,
		CreatedAt: at,
	})
}

func (s *MemoryStore) releaseAssignmentLocked(gig *models.GigRequest, to models.GigStatus, at time.Time) {
	if gig.Assignment == nil || gig.Assignment.ReleasedAt != nil {
		return
	}
	released := at
	gig.Assignment.ReleasedAt = &released
	if to == models.GigStatusCancelled {
		cancelled := at
		gig.Assignment.CancelledAt = &cancelled
	}
}

// TransitionStatus выполняет CAS-переход статуса
func (s *MemoryStore) TransitionStatus(_ context.Context, gigID uuid.UUID, from, to models.GigStatus,
	expectedVersion int64, actor, note string) (*models.GigRequest, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	gig, ok := s.gigs[gigID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if gig.Status != from || gig.StatusVersion != expectedVersion {
		return nil, models.ErrConflict
	}

	now := time.Now()
	gig.Status = to
	gig.StatusVersion++
	gig.UpdatedAt = now

	s.appendEventLocked(gigID, from, to, actor, note, gig.StatusVersion, now)

	if to == models.GigStatusComplete || to == models.GigStatusCancelled || to == models.GigStatusExpired {
		s.releaseAssignmentLocked(gig, to, now)
	}

	return cloneGig(gig), nil
}

// AcceptGig атомарно создает назначение и переводит заявку в Matched
func (s *MemoryStore) AcceptGig(_ context.Context, gigID, workerID uuid.UUID,
	distanceMiles, etaMinutes float64) (*models.GigRequest, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	gig, ok := s.gigs[gigID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if gig.Status != models.GigStatusPosted && gig.Status != models.GigStatusDispatching {
		return nil, models.ErrConflict
	}

	// Не больше одного открытого назначения на исполнителя
	for _, other := range s.gigs {
		if other.Assignment != nil && other.Assignment.WorkerID == workerID &&
			other.Assignment.ReleasedAt == nil {
			return nil, models.ErrWorkerBusy
		}
	}

	now := time.Now()
	oldStatus := gig.Status
	gig.Status = models.GigStatusMatched
	gig.StatusVersion++
	gig.UpdatedAt = now
	gig.Assignment = &models.Assignment{
		GigID:         gigID,
		WorkerID:      workerID,
		DistanceMiles: distanceMiles,
		ETAMinutes:    etaMinutes,
		AcceptedAt:    now,
	}

	s.appendEventLocked(gigID, oldStatus, models.GigStatusMatched,
		"worker:"+workerID.String(), "", gig.StatusVersion, now)

	return cloneGig(gig), nil
}

// ExpireStale переводит просроченные заявки в Expired
func (s *MemoryStore) ExpireStale(_ context.Context, cutoff time.Time) ([]*models.GigRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []*models.GigRequest
	for _, gig := range s.gigs {
		if gig.Status != models.GigStatusPosted && gig.Status != models.GigStatusDispatching {
			continue
		}
		if !gig.CreatedAt.Before(cutoff) {
			continue
		}

		from := gig.Status
		gig.Status = models.GigStatusExpired
		gig.StatusVersion++
		gig.UpdatedAt = now
		s.appendEventLocked(gig.ID, from, models.GigStatusExpired,
			"system", "dispatch timeout", gig.StatusVersion, now)
		expired = append(expired, cloneGig(gig))
	}

	return expired, nil
}

// ListStatusEvents возвращает журнал переходов заявки
func (s *MemoryStore) ListStatusEvents(_ context.Context, gigID uuid.UUID) ([]*models.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]*models.StatusEvent, 0, len(s.events[gigID]))
	for _, e := range s.events[gigID] {
		cp := *e
		events = append(events, &cp)
	}
	sort.Slice(events, func(a, b int) bool {
		return events[a].Version < events[b].Version
	})
	return events, nil
}

// OpenAssignmentWorkers возвращает исполнителей с открытыми назначениями
func (s *MemoryStore) OpenAssignmentWorkers(_ context.Context) (map[uuid.UUID]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	busy := make(map[uuid.UUID]bool)
	for _, g := range s.gigs {
		if g.Assignment != nil && g.Assignment.ReleasedAt == nil {
			busy[g.Assignment.WorkerID] = true
		}
	}
	return busy, nil
}

// CreateWorker регистрирует нового исполнителя
func (s *MemoryStore) CreateWorker(_ context.Context, w *models.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = cloneWorker(w)
	return nil
}

// GetWorker получает исполнителя по ID
func (s *MemoryStore) GetWorker(_ context.Context, id uuid.UUID) (*models.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneWorker(w), nil
}

// ListWorkers получает список исполнителей
func (s *MemoryStore) ListWorkers(_ context.Context, limit, offset int) ([]*models.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var workers []*models.Worker
	for _, w := range s.workers {
		workers = append(workers, cloneWorker(w))
	}
	sort.Slice(workers, func(a, b int) bool {
		return workers[a].CreatedAt.After(workers[b].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(workers) {
			return nil, nil
		}
		workers = workers[offset:]
	}
	if limit > 0 && len(workers) > limit {
		workers = workers[:limit]
	}

	return workers, nil
}

// UpdateWorkerAvailability обновляет доступность и позицию исполнителя
func (s *MemoryStore) UpdateWorkerAvailability(_ context.Context, id uuid.UUID,
	req *models.UpdateAvailabilityRequest) (*models.Worker, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	now := time.Now()
	w.AvailableNow = req.AvailableNow
	if req.Lat != nil {
		w.Lat = req.Lat
	}
	if req.Lon != nil {
		w.Lon = req.Lon
	}
	if req.RadiusMiles != nil {
		w.RadiusMiles = *req.RadiusMiles
	}
	w.AvailableUntil = req.AvailableUntil
	hb := now
	w.LastHeartbeatAt = &hb
	w.UpdatedAt = now

	return cloneWorker(w), nil
}

// TouchWorkerHeartbeat обновляет позицию и время последнего heartbeat
func (s *MemoryStore) TouchWorkerHeartbeat(_ context.Context, id uuid.UUID,
	lat, lon float64, at time.Time) (*models.Worker, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	w.Lat = &lat
	w.Lon = &lon
	hb := at
	w.LastHeartbeatAt = &hb
	w.UpdatedAt = at

	return cloneWorker(w), nil
}
