package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// EnsureSQLiteSchema creates the ledger tables on a SQLite connection. Postgres
// databases are managed by goose migrations instead.
func (c *Client) EnsureSQLiteSchema(ctx context.Context) error {
	if name := c.conn.Dialector.Name(); name != "sqlite" {
		return fmt.Errorf("sqlite schema requested on %s connection", name)
	}
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := c.conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("applying sqlite schema: %w", err)
		}
	}
	return nil
}
