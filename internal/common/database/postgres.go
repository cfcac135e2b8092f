package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parking-sticker/internal/common/config"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres opens the pool and exports its stats as go_sql_* metrics
// labelled with the database name.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	err = prometheus.Register(collectors.NewDBStatsCollector(db, cfg.Database))
	var already prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &already) {
		db.Close()
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Migrate applies idempotent DDL in a single transaction so a failed
// statement leaves the schema untouched.
func (c *PostgresClient) Migrate(ctx context.Context, statements ...string) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return tx.Commit()
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
