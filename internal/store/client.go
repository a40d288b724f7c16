package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"entitysync/internal/config"
	perrors "entitysync/internal/errors"
	"entitysync/internal/logger"
	"entitysync/internal/retry"
)

// Client wraps the shared GORM connection.
type Client struct {
	conn *gorm.DB
}

// Open connects to Postgres, retrying the first ping under policy, and
// migrates the tables when cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg config.DBConfig, policy retry.Policy, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	dialector := postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})
	conn, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeConnection, err, "opening db connection")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	applyPoolSettings(sqlDB, cfg)

	c := &Client{conn: conn}
	err = policy.Do(ctx, "ping database", func(ctx context.Context, attempt int) error {
		err := c.Ping(ctx)
		if err != nil && logg != nil {
			logg.Warn(logg.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "database not reachable")
		}
		return err
	})
	if err != nil {
		_ = c.Close()
		return nil, perrors.Wrap(perrors.CodeConnection, err, "database unreachable")
	}
	if cfg.AutoMigrate {
		if err := c.Migrate(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	if logg != nil {
		logg.Info(ctx, "database connection established")
	}
	return c, nil
}

// NewWithDB wraps an existing connection, e.g. an in-memory sqlite in tests.
func NewWithDB(conn *gorm.DB) *Client { return &Client{conn: conn} }

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
		SkipDefaultTransaction: true,
	}
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// Migrate creates or updates the three destination tables.
func (c *Client) Migrate(ctx context.Context) error {
	if err := c.conn.WithContext(ctx).AutoMigrate(&ProductRow{}, &CartItemRow{}, &UserRow{}); err != nil {
		return fmt.Errorf("migrating tables: %w", err)
	}
	return nil
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
