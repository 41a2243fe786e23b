package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// AUTOINCREMENT keeps ids from being reused.
const sqliteSchema = `CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_type TEXT NOT NULL,
	original_name TEXT,
	data BLOB NOT NULL,
	original_image_id INTEGER
)`

func NewSQLiteDatabase(connectionString string, maxOpenConns int) (DatabaseService, error) {
	if connectionString == "" {
		connectionString = ":memory:"
	}
	db, err := sqlx.Open("sqlite", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return newSQLDatabase(db, sqliteSchema, maxOpenConns), nil
}
