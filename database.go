package apikit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// Database wraps a dbkit connection with transaction scoping, monitoring,
// health checks, pool management and migrations.
//
// Transactions opened through Database travel in the context, so every
// DataContext call made with that context joins them.
type Database struct {
	db        dbkit.IDB
	logger    *zap.Logger
	txMonitor *transactionMonitor
	metrics   *Metrics
}

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithDatabaseLogger sets the logger used for migrations and pool changes.
func WithDatabaseLogger(logger *zap.Logger) DatabaseOption {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDatabaseMetrics records transaction outcomes in Prometheus.
func WithDatabaseMetrics(m *Metrics) DatabaseOption {
	return func(d *Database) {
		d.metrics = m
	}
}

// NewDatabase wraps an existing dbkit connection.
//
// Example:
//
//	conn, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	db := apikit.NewDatabase(conn)
func NewDatabase(db dbkit.IDB, opts ...DatabaseOption) *Database {
	d := &Database{
		db:        db,
		logger:    zap.NewNop(),
		txMonitor: newTransactionMonitor(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open connects to the database described by cfg and applies its pool settings.
func Open(cfg DatabaseConfig, opts ...DatabaseOption) (*Database, error) {
	conn, err := dbkit.New(dbkit.Config{URL: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	d := NewDatabase(conn, opts...)
	if cfg.Pool != (PoolConfig{}) {
		if err := d.ConfigurePool(cfg.Pool); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DB returns the underlying connection.
func (d *Database) DB() dbkit.IDB {
	return d.db
}

// Conn returns the connection bound to ctx: the open transaction, if any.
func (d *Database) Conn(ctx context.Context) dbkit.IDB {
	return connFromContext(ctx, d.db)
}

// Close releases the connection pool.
func (d *Database) Close() error {
	if db, ok := d.db.(*dbkit.DBKit); ok {
		return db.Close()
	}
	return nil
}

func withTx(ctx context.Context, tx *dbkit.Tx) context.Context {
	return context.WithValue(ctx, contextKeyTx, tx)
}

func txFromContext(ctx context.Context) *dbkit.Tx {
	if v := ctx.Value(contextKeyTx); v != nil {
		if tx, ok := v.(*dbkit.Tx); ok {
			return tx
		}
	}
	return nil
}

func connFromContext(ctx context.Context, fallback dbkit.IDB) dbkit.IDB {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return fallback
}

// runInTx runs fn inside a transaction on db, or inside a savepoint when ctx
// already carries one. The transaction is placed in the context passed to fn.
func runInTx(ctx context.Context, db dbkit.IDB, opts *dbkit.TxOptions, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(withTx(ctx, tx))
		})
	}
	switch conn := db.(type) {
	case *dbkit.Tx:
		return conn.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(withTx(ctx, tx))
		})
	case *dbkit.DBKit:
		if opts != nil {
			return conn.TransactionWithOptions(ctx, *opts, func(tx *dbkit.Tx) error {
				return fn(withTx(ctx, tx))
			})
		}
		return conn.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(withTx(ctx, tx))
		})
	default:
		return fmt.Errorf("transaction support requires a dbkit.DBKit or dbkit.Tx instance")
	}
}

// Transaction executes fn within a database transaction with automatic commit/rollback.
// If fn returns an error, the transaction is rolled back. Otherwise, it's committed.
//
// Example:
//
//	err := db.Transaction(ctx, func(ctx context.Context) error {
//	    if _, err := notes.Create(ctx, note); err != nil {
//	        return err // rollback
//	    }
//	    _, err := tags.CreateMany(ctx, noteTags)
//	    return err
//	})
func (d *Database) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := runInTx(ctx, d.db, nil, fn)
	d.record(time.Since(start), err == nil)
	return err
}

// TransactionWithOptions executes fn within a transaction with custom options.
// Nested calls become savepoints and ignore opts.
//
// Example:
//
//	err := db.TransactionWithOptions(ctx, dbkit.SerializableTxOptions(), func(ctx context.Context) error {
//	    return svc.UpdateMany(ctx, batch)
//	})
func (d *Database) TransactionWithOptions(ctx context.Context, opts dbkit.TxOptions, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := runInTx(ctx, d.db, &opts, fn)
	d.record(time.Since(start), err == nil)
	return err
}

// ReadOnlyTransaction executes fn within a read-only transaction.
func (d *Database) ReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.TransactionWithOptions(ctx, dbkit.ReadOnlyTxOptions(), fn)
}

// TransactionWithRetry runs Transaction and retries transient failures
// with exponential backoff and jitter.
func (d *Database) TransactionWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retryTransient(ctx, defaultRetryAttempts, time.Second, func() error {
		return d.Transaction(ctx, fn)
	})
}

const defaultRetryAttempts = 3

func retryTransient(ctx context.Context, maxAttempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientError(err) || attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * base
		jitter := time.Duration(float64(backoff) * 0.1 * (0.5 + rand.Float64()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return lastErr
}

var transientErrors = []string{
	"connection",
	"timeout",
	"deadlock",
	"lock wait timeout",
	"could not serialize access",
	"broken pipe",
	"temporary failure",
	"try again",
	"resource temporarily unavailable",
}

// isTransientError reports whether err is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (d *Database) record(duration time.Duration, success bool) {
	d.txMonitor.recordTransaction(duration, success)
	if d.metrics != nil {
		d.metrics.observeTransaction(success)
	}
}

// TransactionMetrics returns the current transaction performance metrics.
func (d *Database) TransactionMetrics() TransactionMetrics {
	return d.txMonitor.getMetrics()
}

// ResetTransactionMetrics resets all transaction metrics.
func (d *Database) ResetTransactionMetrics() {
	d.txMonitor.reset()
}

// IsTransactionHealthy checks if transaction performance is within acceptable thresholds:
// under 5% failures and under one second on average, once ten transactions have run.
func (d *Database) IsTransactionHealthy() bool {
	return d.txMonitor.healthy()
}
