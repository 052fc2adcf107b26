// Package db owns the relational store: a pooled *sql.DB, the SQL dialect of
// the configured driver (PostgreSQL via lib/pq or SQLite via go-sqlite3) and
// small helpers for transactions and generic row scanning.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
)

// DBTX is the query surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Client is a connection pool bound to a dialect.
type Client struct {
	DB      *sql.DB
	Dialect Dialect
	cfg     config.DatabaseConfig
}

// Open connects to the configured store and verifies it with a ping.
func Open(cfg config.DatabaseConfig) (*Client, error) {
	var (
		sqlDB   *sql.DB
		dialect Dialect
		err     error
	)
	switch cfg.Driver {
	case "sqlite":
		sqlDB, dialect, err = openSQLite(cfg.Path)
	default:
		sqlDB, err = sql.Open("postgres", cfg.DSN())
		dialect = Postgres{}
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.Driver, err)
	}
	return &Client{DB: sqlDB, Dialect: dialect, cfg: cfg}, nil
}

// Conn acquires a dedicated connection from the pool. The caller must close
// it to return it.
func (c *Client) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := c.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return conn, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}
