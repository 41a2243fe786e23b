package database

import (
	"context"
	"errors"
)

// ErrImageNotFound is returned by writes that target a missing record.
var ErrImageNotFound = errors.New("image not found")

type DatabaseService interface {
	CreateDatabase(ctx context.Context) error
	DoesDatabaseExist(ctx context.Context) bool
	Close() error

	// CreateImage inserts a new record and returns the id assigned by the database.
	// parentID is nil for uploads and the source id for derived images.
	CreateImage(ctx context.Context, contentType string, originalName *string, data []byte, parentID *int64) (int64, error)
	// UpdateImage overwrites bytes and metadata in place. The parent link is never touched.
	UpdateImage(ctx context.Context, id int64, contentType string, data []byte, originalName *string) error
	// GetImageByID returns nil and no error when the id is unknown.
	GetImageByID(ctx context.Context, id int64) (*Image, error)
	ImageExists(ctx context.Context, id int64) (bool, error)
}
