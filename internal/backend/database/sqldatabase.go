package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLDatabase implements DatabaseService on any database/sql driver.
// Queries are written with '?' placeholders and rebound for the driver.
type SQLDatabase struct {
	db     *sqlx.DB
	pool   *connectionPool
	schema string
}

func newSQLDatabase(db *sqlx.DB, schema string, maxOpenConns int) *SQLDatabase {
	return &SQLDatabase{
		db:     db,
		pool:   newConnectionPool(db, maxOpenConns),
		schema: schema,
	}
}

func (s *SQLDatabase) CreateDatabase(ctx context.Context) error {
	return s.pool.withConn(ctx, func(conn *sqlx.Conn) error {
		if _, err := conn.ExecContext(ctx, s.schema); err != nil {
			return fmt.Errorf("failed to create images table: %w", err)
		}
		return nil
	})
}

func (s *SQLDatabase) DoesDatabaseExist(ctx context.Context) bool {
	err := s.pool.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.PingContext(ctx)
	})
	return err == nil
}

func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLDatabase) CreateImage(ctx context.Context, contentType string, originalName *string, data []byte, parentID *int64) (int64, error) {
	var id int64
	err := s.pool.withConn(ctx, func(conn *sqlx.Conn) error {
		query := conn.Rebind(`INSERT INTO images (content_type, original_name, data, original_image_id)
			VALUES (?, ?, ?, ?) RETURNING id`)
		return conn.QueryRowxContext(ctx, query, contentType, originalName, data, parentID).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}
	return id, nil
}

func (s *SQLDatabase) UpdateImage(ctx context.Context, id int64, contentType string, data []byte, originalName *string) error {
	return s.pool.withConn(ctx, func(conn *sqlx.Conn) error {
		query := conn.Rebind(`UPDATE images SET content_type = ?, data = ?, original_name = ? WHERE id = ?`)
		result, err := conn.ExecContext(ctx, query, contentType, data, originalName, id)
		if err != nil {
			return fmt.Errorf("failed to update image %d: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read update result for image %d: %w", id, err)
		}
		if affected == 0 {
			return fmt.Errorf("update image %d: %w", id, ErrImageNotFound)
		}
		return nil
	})
}

func (s *SQLDatabase) GetImageByID(ctx context.Context, id int64) (*Image, error) {
	var image Image
	err := s.pool.withConn(ctx, func(conn *sqlx.Conn) error {
		query := conn.Rebind(`SELECT id, content_type, original_name, data, original_image_id FROM images WHERE id = ?`)
		return conn.GetContext(ctx, &image, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image %d: %w", id, err)
	}
	return &image, nil
}

func (s *SQLDatabase) ImageExists(ctx context.Context, id int64) (bool, error) {
	var count int
	err := s.pool.withConn(ctx, func(conn *sqlx.Conn) error {
		query := conn.Rebind(`SELECT COUNT(1) FROM images WHERE id = ?`)
		return conn.QueryRowxContext(ctx, query, id).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check image %d: %w", id, err)
	}
	return count > 0, nil
}
