package apikit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// TransactionManager runs functions inside context-scoped transactions.
type TransactionManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	TransactionWithOptions(ctx context.Context, opts dbkit.TxOptions, fn func(ctx context.Context) error) error
	ReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	TransactionWithRetry(ctx context.Context, fn func(ctx context.Context) error) error
}

// HealthMonitor reports the database state.
type HealthMonitor interface {
	Health(ctx context.Context) dbkit.HealthStatus
	IsHealthy(ctx context.Context) bool
	Ping(ctx context.Context) error
	PoolStats() dbkit.PoolStats
	Report(ctx context.Context) HealthReport
}

// PoolManager tunes the connection pool.
type PoolManager interface {
	ConfigurePool(cfg PoolConfig) error
}

// MigrationRunner applies schema migrations.
type MigrationRunner interface {
	Migrate(ctx context.Context, migrations []dbkit.Migration) error
}

// TransactionMonitor exposes transaction statistics.
type TransactionMonitor interface {
	TransactionMetrics() TransactionMetrics
	ResetTransactionMetrics()
	IsTransactionHealthy() bool
}

var (
	_ TransactionManager = (*Database)(nil)
	_ HealthMonitor      = (*Database)(nil)
	_ PoolManager        = (*Database)(nil)
	_ MigrationRunner    = (*Database)(nil)
	_ TransactionMonitor = (*Database)(nil)
)
