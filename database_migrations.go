package apikit

import (
	"context"
	"fmt"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"
)

// Migrate applies migrations in order, skipping those already applied.
func (d *Database) Migrate(ctx context.Context, migrations []dbkit.Migration) error {
	db, ok := d.db.(*dbkit.DBKit)
	if !ok {
		return fmt.Errorf("migrations require a dbkit.DBKit instance")
	}
	result, err := db.Migrate(ctx, migrations)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, m := range result.Applied {
		d.logger.Info("applied migration", zap.String("id", m.ID))
	}
	return nil
}

// AccountMigration creates the table backing AccountModel entities keyed by UUID.
//
// Example:
//
//	tk.AddMigrations(apikit.AccountMigration("app-001", "accounts"))
func AccountMigration(id, table string) dbkit.Migration {
	return dbkit.Migration{
		ID:          id,
		Description: fmt.Sprintf("Create %s table", table),
		SQL: fmt.Sprintf(`
                CREATE TABLE IF NOT EXISTS %s (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    username TEXT NOT NULL UNIQUE,
                    role TEXT NOT NULL,
                    password TEXT NOT NULL,
                    creation_time TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    modification_time TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`, table),
	}
}
