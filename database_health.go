package apikit

import (
	"context"
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpenConnections    int           `yaml:"max_open_connections" json:"max_open_connections"`
	MaxIdleConnections    int           `yaml:"max_idle_connections" json:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `yaml:"connection_max_lifetime" json:"connection_max_lifetime"`
	ConnectionMaxIdleTime time.Duration `yaml:"connection_max_idle_time" json:"connection_max_idle_time"`
}

// DefaultPoolConfig returns pool settings suited to a small API server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConnections:    25,
		MaxIdleConnections:    5,
		ConnectionMaxLifetime: 30 * time.Minute,
		ConnectionMaxIdleTime: 5 * time.Minute,
	}
}

// Health performs a comprehensive health check of the database connection.
func (d *Database) Health(ctx context.Context) dbkit.HealthStatus {
	if db, ok := d.db.(*dbkit.DBKit); ok {
		return db.Health(ctx)
	}
	return dbkit.HealthStatus{
		Healthy: d.IsHealthy(ctx),
		Error:   "limited health check: not a dbkit.DBKit instance",
	}
}

// IsHealthy reports whether the database answers.
func (d *Database) IsHealthy(ctx context.Context) bool {
	if db, ok := d.db.(*dbkit.DBKit); ok {
		return db.IsHealthy(ctx)
	}
	return d.Ping(ctx) == nil
}

// Ping runs a trivial query against the connection bound to ctx.
func (d *Database) Ping(ctx context.Context) error {
	var one int
	return dbkit.WithErr1(d.Conn(ctx).NewRaw("SELECT 1").Scan(ctx, &one), "Ping").Err()
}

// PoolStats returns connection pool statistics.
// Zero values are returned when the connection is not a pool.
func (d *Database) PoolStats() dbkit.PoolStats {
	if db, ok := d.db.(*dbkit.DBKit); ok {
		return dbkit.PoolStatsFromSQL(db.Stats())
	}
	return dbkit.PoolStats{}
}

// ConfigurePool updates the connection pool settings.
func (d *Database) ConfigurePool(config PoolConfig) error {
	db, ok := d.db.(*dbkit.DBKit)
	if !ok {
		return fmt.Errorf("connection pool configuration requires a dbkit.DBKit instance")
	}
	bunDB := db.Bun()
	if bunDB == nil {
		return fmt.Errorf("database instance not available")
	}

	if config.MaxOpenConnections > 0 {
		bunDB.SetMaxOpenConns(config.MaxOpenConnections)
	}
	if config.MaxIdleConnections > 0 {
		bunDB.SetMaxIdleConns(config.MaxIdleConnections)
	}
	if config.ConnectionMaxLifetime > 0 {
		bunDB.SetConnMaxLifetime(config.ConnectionMaxLifetime)
	}
	if config.ConnectionMaxIdleTime > 0 {
		bunDB.SetConnMaxIdleTime(config.ConnectionMaxIdleTime)
	}

	d.logger.Info("connection pool configured",
		zap.Int("max_open", config.MaxOpenConnections),
		zap.Int("max_idle", config.MaxIdleConnections),
		zap.Duration("max_lifetime", config.ConnectionMaxLifetime),
		zap.Duration("max_idle_time", config.ConnectionMaxIdleTime),
	)
	return nil
}

// HealthReport bundles database and transaction health for the /health route.
type HealthReport struct {
	Database     dbkit.HealthStatus `json:"database"`
	Pool         dbkit.PoolStats    `json:"pool"`
	Transactions TransactionMetrics `json:"transactions"`
	Healthy      bool               `json:"healthy"`
}

// Report collects a HealthReport.
func (d *Database) Report(ctx context.Context) HealthReport {
	status := d.Health(ctx)
	return HealthReport{
		Database:     status,
		Pool:         d.PoolStats(),
		Transactions: d.TransactionMetrics(),
		Healthy:      status.Healthy && d.IsTransactionHealthy(),
	}
}
