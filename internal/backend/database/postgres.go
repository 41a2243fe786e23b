package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS images (
	id BIGSERIAL PRIMARY KEY,
	content_type TEXT NOT NULL,
	original_name TEXT,
	data BYTEA NOT NULL,
	original_image_id BIGINT
)`

func NewPostgresDatabase(connectionString string, maxOpenConns int) (DatabaseService, error) {
	db, err := sqlx.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	return newSQLDatabase(db, postgresSchema, maxOpenConns), nil
}
