// Package database opens the backing store, applies embedded migrations,
// and caches handles per (url, syncUrl) for in-process reuse.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	_ "modernc.org/sqlite"             // register pure-Go sqlite driver
)

//go:embed migrations
var migrationsFS embed.FS

// Driver names accepted by Config.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the backing database.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// URL is the DSN: a file path or ":memory:" for sqlite, a
	// postgres:// URL for postgres.
	URL string `yaml:"url"`
	// SyncURL names a remote replica endpoint. The engine does not sync
	// itself; the value only participates in handle identity so callers
	// using replicated files get distinct handles per replica pair.
	SyncURL string `yaml:"syncUrl"`

	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
}

// DefaultConfig returns an in-memory sqlite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		URL:             ":memory:",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (c *Config) normalize() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.URL == "" && c.Driver == DriverSQLite {
		c.URL = ":memory:"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
}

// Client wraps the sql.DB handle together with its dialect.
type Client struct {
	db     *sql.DB
	driver string
}

// DB returns the underlying connection pool.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Driver returns the dialect name ("sqlite" or "postgres").
func (c *Client) Driver() string {
	return c.driver
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Open opens a database handle, applies pool settings, verifies
// connectivity, and runs pending migrations.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	cfg.normalize()

	var db *sql.DB
	var err error
	switch cfg.Driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(cfg.URL))
		if err == nil {
			// A shared-cache memory DB must stay on one connection or
			// each pool member sees its own empty database.
			if strings.Contains(cfg.URL, ":memory:") {
				db.SetMaxOpenConns(1)
			} else {
				db.SetMaxOpenConns(cfg.MaxOpenConns)
			}
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.URL)
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{db: db, driver: cfg.Driver}
	if err := runMigrations(db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return client, nil
}

// sqliteDSN enables foreign keys and a busy timeout on sqlite handles.
func sqliteDSN(url string) string {
	if strings.Contains(url, "?") {
		return url + "&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	return url + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// runMigrations applies the embedded migration files for the dialect.
// Migration files are embedded into the binary so deployments need no
// external assets.
func runMigrations(db *sql.DB, driver string) error {
	dir := "migrations/" + driver
	hasFiles, err := hasEmbeddedMigrations(dir)
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasFiles {
		return fmt.Errorf("no embedded migration files for driver %q", driver)
	}

	sourceDriver, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var m *migrate.Migrate
	switch driver {
	case DriverSQLite:
		dbDriver, derr := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if derr != nil {
			return fmt.Errorf("failed to create sqlite migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	case DriverPostgres:
		dbDriver, derr := migratepg.WithInstance(db, &migratepg.Config{})
		if derr != nil {
			return fmt.Errorf("failed to create postgres migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB passed via WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// hasEmbeddedMigrations checks whether dir holds any .sql files.
func hasEmbeddedMigrations(dir string) (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return true, nil
		}
	}
	return false, nil
}
