package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/persistence"
)

// Pool settings for the short-lived CLI connections
const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxLifetime = 30 * time.Minute
)

// Manager owns the database connection and the grid repository
type Manager struct {
	db     *sqlx.DB
	grids  persistence.GridRepo
	health *healthChecker
}

// Open connects, pings and migrates the database described by cfg
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(pingCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	return NewManager(db, cfg.QueryTimeout), nil
}

// NewManager wraps an open connection
func NewManager(db *sqlx.DB, timeout time.Duration) *Manager {
	return &Manager{
		db:     db,
		grids:  NewGridRepo(db, timeout),
		health: &healthChecker{db: db, timeout: timeout},
	}
}

// Grids returns the grid repository
func (m *Manager) Grids() persistence.GridRepo { return m.grids }

// Health returns the health checker
func (m *Manager) Health() persistence.RepositoryHealth { return m.health }

// Close closes the connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth
type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Health returns current repository health status
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()

	var errs []string
	healthy := true
	if err := h.Ping(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: healthy,
		Errors:  errs,
		ConnectionPool: map[string]int{
			"max_open": stats.MaxOpenConnections,
			"open":     stats.OpenConnections,
			"in_use":   stats.InUse,
			"idle":     stats.Idle,
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity
func (h *healthChecker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(ctx)
}
