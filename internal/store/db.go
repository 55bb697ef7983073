// Package store is the PostgreSQL persistence layer backing every component
// in the module. It wraps jmoiron/sqlx over the lib/pq driver.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/recio/trading-core/internal/domain"
)

// DB wraps a pooled Postgres connection. It holds no notify publisher.
type DB struct {
	conn *sqlx.DB
}

// Open connects to Postgres at dsn, verifies connectivity with a bounded
// ping, and caps the pool at 25 open and 5 idle connections with a
// 30-minute connection lifetime.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, &domain.ConfigError{Component: "store", Message: "failed to open postgres connection", Err: err}
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, &domain.ConfigError{Component: "store", Message: "failed to ping postgres", Err: err}
	}

	return &DB{conn: conn}, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying *sqlx.DB for repositories in this package.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// tableName builds a per-user table name, namespacing trades/active_trades
// and the other per-user tables by username (e.g. "trades_user_0001").
func tableName(prefix, user string) string {
	return fmt.Sprintf("%s_%s", prefix, user)
}
