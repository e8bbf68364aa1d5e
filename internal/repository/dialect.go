package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// dialect describes how one driver is opened and pooled.
type dialect struct {
	name string
	dsn  string

	// Pool defaults, overridden by non-zero RepositoryConfig values.
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

// dialectFor resolves the driver settings. SQLite gets a small pool since
// prediction audits from the API and the worker share one file; Postgres
// is sized for batch jobs saving a row per record.
func dialectFor(cfg domain.RepositoryConfig) (dialect, error) {
	var d dialect
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "./threatlens.db"
		}
		d = dialect{
			name:    "sqlite",
			dsn:     fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path),
			maxOpen: 4,
			maxIdle: 4,
		}
	case "postgres":
		host, port, db, ssl := cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB, cfg.PostgresSSLMode
		if host == "" {
			host = "localhost"
		}
		if port == 0 {
			port = 5432
		}
		if db == "" {
			db = "threatlens"
		}
		if ssl == "" {
			ssl = "disable"
		}
		d = dialect{
			name: "postgres",
			dsn: fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				host, port, cfg.PostgresUser, cfg.PostgresPassword, db, ssl),
			maxOpen:     25,
			maxIdle:     5,
			maxLifetime: 30 * time.Minute,
		}
	default:
		return d, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		d.maxOpen = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		d.maxIdle = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		d.maxLifetime = cfg.ConnMaxLifetime
	}
	return d, nil
}

// open connects, applies the pool settings and verifies the connection.
func (d dialect) open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	if d.name == "sqlite" {
		if dir := filepath.Dir(cfg.SQLitePath); cfg.SQLitePath != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(d.name, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}
	db.SetMaxOpenConns(d.maxOpen)
	db.SetMaxIdleConns(d.maxIdle)
	if d.maxLifetime > 0 {
		db.SetConnMaxLifetime(d.maxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}
	return db, nil
}
