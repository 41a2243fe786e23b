package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"
)

// connectionPool caps the number of store operations in flight and hands each one
// a dedicated connection for its whole duration.
type connectionPool struct {
	db  *sqlx.DB
	sem *semaphore.Weighted
}

func newConnectionPool(db *sqlx.DB, size int) *connectionPool {
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	return &connectionPool{
		db:  db,
		sem: semaphore.NewWeighted(int64(size)),
	}
}

// withConn runs fn on a pooled connection. The slot and the connection are released on every
// exit path, including errors and panics in fn.
func (p *connectionPool) withConn(ctx context.Context, fn func(conn *sqlx.Conn) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire connection slot: %w", err)
	}
	defer p.sem.Release(1)

	conn, err := p.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		_ = conn.Close() // returns the connection to the pool
	}()

	return fn(conn)
}
