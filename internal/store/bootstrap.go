package store

import (
	"context"
	"fmt"
)

// Bootstrap creates the system tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	for _, table := range []string{"_types", "_objects", "_changes"} {
		ok, err := s.Dialect.TableExists(ctx, s.DB, table)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !ok {
			return fmt.Errorf("bootstrap system tables: %s missing", table)
		}
	}
	return nil
}
