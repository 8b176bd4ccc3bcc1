package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gig-dispatch/internal/database"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore представляет хранилище на базе PostgreSQL
type PostgresStore struct {
	db  *database.DB
	log *logger.Logger
}

// NewPostgresStore создает новое хранилище PostgreSQL
func NewPostgresStore(db *database.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

const gigColumns = `id, client_id, category, description, urgency, lat, lon, address,
	radius_miles, estimated_price, status, status_version, created_at, updated_at`

// CreateGig создает новую заявку
func (s *PostgresStore) CreateGig(ctx context.Context, gig *models.GigRequest) error {
	query := `
		INSERT INTO gig_requests (` + gigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		gig.ID, gig.ClientID, gig.Category, gig.Description, gig.Urgency,
		gig.Lat, gig.Lon, gig.Address, gig.RadiusMiles, gig.EstimatedPrice,
		gig.Status, gig.StatusVersion, gig.CreatedAt, gig.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create gig: %w", err)
	}
	return nil
}

func scanGig(row interface{ Scan(...interface{}) error }) (*models.GigRequest, error) {
	gig := &models.GigRequest{}
	err := row.Scan(&gig.ID, &gig.ClientID, &gig.Category, &gig.Description, &gig.Urgency,
		&gig.Lat, &gig.Lon, &gig.Address, &gig.RadiusMiles, &gig.EstimatedPrice,
		&gig.Status, &gig.StatusVersion, &gig.CreatedAt, &gig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return gig, nil
}

// GetGig получает заявку вместе с назначением, если оно есть
func (s *PostgresStore) GetGig(ctx context.Context, id uuid.UUID) (*models.GigRequest, error) {
	query := `SELECT ` + gigColumns + ` FROM gig_requests WHERE id = $1`

	gig, err := scanGig(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get gig: %w", err)
	}

	assignment, err := s.getAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	gig.Assignment = assignment

	return gig, nil
}

func (s *PostgresStore) getAssignment(ctx context.Context, gigID uuid.UUID) (*models.Assignment, error) {
	query := `
		SELECT gig_id, worker_id, distance_miles, eta_minutes, accepted_at, released_at, cancelled_at
		FROM assignments
		WHERE gig_id = $1
	`
	a := &models.Assignment{}
	err := s.db.QueryRowContext(ctx, query, gigID).Scan(
		&a.GigID, &a.WorkerID, &a.DistanceMiles, &a.ETAMinutes,
		&a.AcceptedAt, &a.ReleasedAt, &a.CancelledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ListGigs получает список заявок с фильтрацией
func (s *PostgresStore) ListGigs(ctx context.Context, f GigFilter) ([]*models.GigRequest, error) {
	query := `SELECT ` + gigColumns + ` FROM gig_requests WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *f.Status)
		argIndex++
	}

	if f.ClientID != nil {
		query += fmt.Sprintf(" AND client_id = $%d", argIndex)
		args = append(args, *f.ClientID)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, f.Limit)
		argIndex++
	}

	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gigs: %w", err)
	}
	defer rows.Close()

	var gigs []*models.GigRequest
	for rows.Next() {
		gig, err := scanGig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gig: %w", err)
		}
		gigs = append(gigs, gig)
	}

	return gigs, rows.Err()
}

// ListOpenGigs получает заявки, по которым еще идет диспетчеризация
func (s *PostgresStore) ListOpenGigs(ctx context.Context) ([]*models.GigRequest, error) {
	query := `SELECT ` + gigColumns + ` FROM gig_requests
		WHERE status IN ($1, $2) ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, models.GigStatusPosted, models.GigStatusDispatching)
	if err != nil {
		return nil, fmt.Errorf("failed to list open gigs: %w", err)
	}
	defer rows.Close()

	var gigs []*models.GigRequest
	for rows.Next() {
		gig, err := scanGig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gig: %w", err)
		}
		gigs = append(gigs, gig)
	}

	return gigs, rows.Err()
}

// TransitionStatus выполняет CAS-переход статуса и пишет запись журнала
func (s *PostgresStore) TransitionStatus(ctx context.Context, gigID uuid.UUID, from, to models.GigStatus,
	expectedVersion int64, actor, note string) (*models.GigRequest, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	// Единственная условная запись: отбрасывает и устаревшую версию,
	// и неожиданный текущий статус
	result, err := tx.ExecContext(ctx, `
		UPDATE gig_requests
		SET status = $1, status_version = status_version + 1, updated_at = $2
		WHERE id = $3 AND status = $4 AND status_version = $5
	`, to, now, gigID, from, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to transition gig status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM gig_requests WHERE id = $1)`, gigID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check gig existence: %w", err)
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrConflict
	}

	newVersion := expectedVersion + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO status_events (id, gig_id, old_status, new_status, actor, note, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), gigID, from, to, actor, note, newVersion, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append status event: %w", err)
	}

	// Терминальный или завершающий переход освобождает исполнителя
	if to == models.GigStatusComplete || to == models.GigStatusCancelled || to == models.GigStatusExpired {
		query := `UPDATE assignments SET released_at = $1 WHERE gig_id = $2 AND released_at IS NULL`
		if to == models.GigStatusCancelled {
			query = `UPDATE assignments SET released_at = $1, cancelled_at = $1 WHERE gig_id = $2 AND released_at IS NULL`
		}
		if _, err := tx.ExecContext(ctx, query, now, gigID); err != nil {
			return nil, fmt.Errorf("failed to release assignment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetGig(ctx, gigID)
}

// AcceptGig разрешает гонку принятия заявки. Блокировка строки заявки
// удерживается на всю транзакцию, так что конкурентные accept для одного
// gigID сериализуются: ровно один видит статус Posted/Dispatching.
func (s *PostgresStore) AcceptGig(ctx context.Context, gigID, workerID uuid.UUID,
	distanceMiles, etaMinutes float64) (*models.GigRequest, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.GigStatus
	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT status, status_version FROM gig_requests WHERE id = $1 FOR UPDATE`,
		gigID).Scan(&status, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock gig: %w", err)
	}

	if status != models.GigStatusPosted && status != models.GigStatusDispatching {
		// Проигравший видит "заявка уже недоступна", а не ошибку своего запроса
		return nil, models.ErrConflict
	}

	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE gig_requests
		SET status = $1, status_version = status_version + 1, updated_at = $2
		WHERE id = $3
	`, models.GigStatusMatched, now, gigID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark gig matched: %w", err)
	}

	// Частичный уникальный индекс по worker_id отбивает второе
	// открытое назначение того же исполнителя
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignments (gig_id, worker_id, distance_miles, eta_minutes, accepted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, gigID, workerID, distanceMiles, etaMinutes, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if pqErr.Constraint == "idx_assignments_open_worker" {
				return nil, models.ErrWorkerBusy
			}
			return nil, models.ErrConflict
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO status_events (id, gig_id, old_status, new_status, actor, note, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), gigID, status, models.GigStatusMatched,
		"worker:"+workerID.String(), "", version+1, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append status event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetGig(ctx, gigID)
}

// ExpireStale переводит просроченные заявки в Expired
func (s *PostgresStore) ExpireStale(ctx context.Context, cutoff time.Time) ([]*models.GigRequest, error) {
	query := `SELECT id, status, status_version FROM gig_requests
		WHERE status IN ($1, $2) AND created_at < $3`

	rows, err := s.db.QueryContext(ctx, query,
		models.GigStatusPosted, models.GigStatusDispatching, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale gigs: %w", err)
	}

	type stale struct {
		id      uuid.UUID
		status  models.GigStatus
		version int64
	}
	var candidates []stale
	for rows.Next() {
		var c stale
		if err := rows.Scan(&c.id, &c.status, &c.version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stale gig: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []*models.GigRequest
	for _, c := range candidates {
		gig, err := s.TransitionStatus(ctx, c.id, c.status, models.GigStatusExpired,
			c.version, "system", "dispatch timeout")
		if err != nil {
			// Конкурентный accept успел первым - заявка больше не просрочена
			if err == models.ErrConflict {
				continue
			}
			return expired, err
		}
		expired = append(expired, gig)
	}

	return expired, nil
}

// ListStatusEvents возвращает журнал переходов заявки
func (s *PostgresStore) ListStatusEvents(ctx context.Context, gigID uuid.UUID) ([]*models.StatusEvent, error) {
	query := `
		SELECT id, gig_id, old_status, new_status, actor, note, version, created_at
		FROM status_events
		WHERE gig_id = $1
		ORDER BY version ASC
	`
	rows, err := s.db.QueryContext(ctx, query, gigID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status events: %w", err)
	}
	defer rows.Close()

	var events []*models.StatusEvent
	for rows.Next() {
		e := &models.StatusEvent{}
		if err := rows.Scan(&e.ID, &e.GigID, &e.OldStatus, &e.NewStatus,
			&e.Actor, &e.Note, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// OpenAssignmentWorkers возвращает исполнителей с открытыми назначениями
func (s *PostgresStore) OpenAssignmentWorkers(ctx context.Context) (map[uuid.UUID]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_id FROM assignments WHERE released_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open assignments: %w", err)
	}
	defer rows.Close()

	busy := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan worker id: %w", err)
		}
		busy[id] = true
	}

	return busy, rows.Err()
}

const workerColumns = `id, name, phone, rating, available_now, lat, lon, radius_miles,
	available_until, last_heartbeat_at, created_at, updated_at`

// CreateWorker регистрирует нового исполнителя
func (s *PostgresStore) CreateWorker(ctx context.Context, w *models.Worker) error {
	query := `
		INSERT INTO workers (` + workerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		w.ID, w.Name, w.Phone, w.Rating, w.AvailableNow, w.Lat, w.Lon,
		w.RadiusMiles, w.AvailableUntil, w.LastHeartbeatAt, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	return nil
}

func scanWorker(row interface{ Scan(...interface{}) error }) (*models.Worker, error) {
	w := &models.Worker{}
	err := row.Scan(&w.ID, &w.Name, &w.Phone, &w.Rating, &w.AvailableNow,
		&w.Lat, &w.Lon, &w.RadiusMiles, &w.AvailableUntil, &w.LastHeartbeatAt,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorker получает исполнителя по ID
func (s *PostgresStore) GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`

	w, err := scanWorker(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return w, nil
}

// ListWorkers получает список исполнителей
func (s *PostgresStore) ListWorkers(ctx context.Context, limit, offset int) ([]*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers ORDER BY created_at DESC`
	args := []interface{}{}
	argIndex := 1

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, w)
	}

	return workers, rows.Err()
}

// UpdateWorkerAvailability обновляет доступность и позицию исполнителя
func (s *PostgresStore) UpdateWorkerAvailability(ctx context.Context, id uuid.UUID,
	req *models.UpdateAvailabilityRequest) (*models.Worker, error) {

	now := time.Now()
	query := `
		UPDATE workers
		SET available_now = $1,
		    lat = COALESCE($2, lat),
		    lon = COALESCE($3, lon),
		    radius_miles = COALESCE($4, radius_miles),
		    available_until = $5,
		    last_heartbeat_at = $6,
		    updated_at = $6
		WHERE id = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		req.AvailableNow, req.Lat, req.Lon, req.RadiusMiles, req.AvailableUntil, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update worker availability: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, models.ErrNotFound
	}

	return s.GetWorker(ctx, id)
}

// TouchWorkerHeartbeat обновляет позицию и время последнего heartbeat
func (s *PostgresStore) TouchWorkerHeartbeat(ctx context.Context, id uuid.UUID,
	lat, lon float64, at time.Time) (*models.Worker, error) {

	result, err := s.db.ExecContext(ctx, `
		UPDATE workers
		SET lat = $1, lon = $2, last_heartbeat_at = $3, updated_at = $3
		WHERE id = $4
	`, lat, lon, at, id)
	if err != nil {
		return nil, fmt.Errorf("failed to touch worker heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, models.ErrNotFound
	}

	return s.GetWorker(ctx, id)
}
