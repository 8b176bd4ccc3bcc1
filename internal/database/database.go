package database

import (
	"database/sql"
	"fmt"
	"time"

	"gig-dispatch/internal/config"
	"gig-dispatch/internal/logger"

	_ "github.com/lib/pq"
)

// DB представляет подключение к базе данных
type DB struct {
	*sql.DB
}

// Connect создает подключение к базе данных
func Connect(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)                 // Максимальное количество открытых соединений
	db.SetMaxIdleConns(5)                  // Максимальное количество неактивных соединений
	db.SetConnMaxLifetime(5 * time.Minute) // Максимальное время жизни соединения

	// Проверка подключения
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Successfully connected to database")

	return &DB{DB: db}, nil
}

// Close закрывает подключение к базе данных
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health проверяет состояние базы данных
func (db *DB) Health() error {
	return db.Ping()
}

// schema содержит DDL всех таблиц движка.
// Частичный уникальный индекс на assignments(worker_id) WHERE released_at IS NULL
// атомарно гарантирует не больше одного открытого назначения на исполнителя.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS gig_requests (
		id              UUID PRIMARY KEY,
		client_id       UUID NOT NULL,
		category        TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		urgency         TEXT NOT NULL,
		lat             DOUBLE PRECISION NOT NULL,
		lon             DOUBLE PRECISION NOT NULL,
		address         TEXT NOT NULL DEFAULT '',
		radius_miles    DOUBLE PRECISION NOT NULL,
		estimated_price DOUBLE PRECISION NOT NULL,
		status          TEXT NOT NULL,
		status_version  BIGINT NOT NULL DEFAULT 1,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gig_requests_status ON gig_requests(status)`,
	`CREATE INDEX IF NOT EXISTS idx_gig_requests_client ON gig_requests(client_id)`,
	`CREATE TABLE IF NOT EXISTS assignments (
		gig_id         UUID PRIMARY KEY REFERENCES gig_requests(id),
		worker_id      UUID NOT NULL,
		distance_miles DOUBLE PRECISION NOT NULL,
		eta_minutes    DOUBLE PRECISION NOT NULL,
		accepted_at    TIMESTAMPTZ NOT NULL,
		released_at    TIMESTAMPTZ,
		cancelled_at   TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_open_worker
		ON assignments(worker_id) WHERE released_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS status_events (
		id         UUID PRIMARY KEY,
		gig_id     UUID NOT NULL REFERENCES gig_requests(id),
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		actor      TEXT NOT NULL,
		note       TEXT NOT NULL DEFAULT '',
		version    BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_events_gig ON status_events(gig_id, version)`,
	`CREATE TABLE IF NOT EXISTS workers (
		id                UUID PRIMARY KEY,
		name              TEXT NOT NULL,
		phone             TEXT NOT NULL,
		rating            DOUBLE PRECISION NOT NULL DEFAULT 0,
		available_now     BOOLEAN NOT NULL DEFAULT FALSE,
		lat               DOUBLE PRECISION,
		lon               DOUBLE PRECISION,
		radius_miles      DOUBLE PRECISION NOT NULL,
		available_until   TIMESTAMPTZ,
		last_heartbeat_at TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate создает таблицы движка, если их еще нет
func (db *DB) Migrate(log *logger.Logger) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	log.Info("Database schema is up to date")
	return nil
}
