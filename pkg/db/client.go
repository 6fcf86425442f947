package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Client is one pooled connection: the Master DB, a tenant DB, or the
// legacy single-tenant database.
type Client struct {
	conn *gorm.DB
	name string
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options identifies the database to open and how to size its pool.
type Options struct {
	// Name labels the connection in logs ("master", "legacy" or the tenant database name).
	Name      string
	DSN       string
	Pool      config.DBConfig
	SlowQuery time.Duration
}

// New opens the Master DB.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	return Open(ctx, Options{Name: "master", DSN: cfg.DSN, Pool: cfg}, logg)
}

// Open dials the database, sizes its pool and verifies it answers a ping
// before handing it out.
func Open(ctx context.Context, opts Options, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("database %q: DSN is required", opts.Name)
	}
	dialector, err := dialectorFor(opts.Pool.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, opts.Name, opts.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", opts.Name, err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("database %q: sql handle: %w", opts.Name, err)
	}
	configurePool(sqlDB, opts.Pool)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging database %q: %w", opts.Name, err)
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"database": opts.Name,
		"driver":   driverName(opts.Pool.Driver),
	}), "database connection established")
	return &Client{conn: conn, name: opts.Name}, nil
}

// Wrap adopts an already-open GORM connection.
func Wrap(conn *gorm.DB, name string) *Client {
	return &Client{conn: conn, name: name}
}

func driverName(driver string) string {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		return config.DriverPostgres
	}
	return driver
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driverName(driver) {
	case config.DriverPostgres:
		// Simple protocol keeps pgbouncer in transaction mode happy.
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), nil
	case config.DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func configurePool(sqlDB *sql.DB, cfg config.DBConfig) {
	setters := []struct {
		ok  bool
		set func()
	}{
		{cfg.MaxOpenConns > 0, func() { sqlDB.SetMaxOpenConns(cfg.MaxOpenConns) }},
		{cfg.MaxIdleConns > 0, func() { sqlDB.SetMaxIdleConns(cfg.MaxIdleConns) }},
		{cfg.ConnMaxLifetime > 0, func() { sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime) }},
		{cfg.ConnMaxIdleTime > 0, func() { sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime) }},
	}
	for _, s := range setters {
		if s.ok {
			s.set()
		}
	}
}

func (c *Client) Name() string {
	return c.name
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) sqlDB() (*sql.DB, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("database client is not open")
	}
	return c.conn.DB()
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction. Returning an error or panicking rolls it back.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
