package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const defaultMaxOpenConns = 10

func NewDatabase(ctx context.Context, databaseType, connectionString string, maxOpenConns int) (database DatabaseService, err error) {
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}

	switch databaseType {
	case "sqlite":
		// every connection to an in-memory database sees its own empty database
		if isInMemorySQLite(connectionString) {
			maxOpenConns = 1
		}
		database, err = NewSQLiteDatabase(connectionString, maxOpenConns)
	case "postgres":
		database, err = NewPostgresDatabase(connectionString, maxOpenConns)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
	if err != nil {
		return nil, err
	}

	// Ensure database schema exists (idempotent), important for in-memory SQLite
	slog.Info("initializing database schema (ensuring tables exist)", "type", databaseType, "max_open_conns", maxOpenConns)
	if err = database.CreateDatabase(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}

func isInMemorySQLite(connectionString string) bool {
	return connectionString == "" ||
		strings.Contains(connectionString, ":memory:") ||
		strings.Contains(connectionString, "mode=memory")
}
