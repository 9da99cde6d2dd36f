package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Database struct {
	db               *sql.DB
	driver           string
	PreparedPingStmt *sql.Stmt
	stmts            atomic.Pointer[PreparedStatements]
}

type PostgresConfig struct {
	Host     string `json:"host" yaml:"host" env:"HOST"`
	Port     int    `json:"port" yaml:"port" env:"PORT"`
	User     string `json:"user" yaml:"user" env:"USER"`
	Password string `json:"password" yaml:"password" env:"PASSWORD"`
	Database string `json:"database" yaml:"database" env:"NAME"`
	SSLMode  string `json:"sslmode" yaml:"sslmode" env:"SSLMODE"`
}

// Config selects the storage dialect. DSN, when set, is passed to the
// driver untouched and wins over the structured fields.
type Config struct {
	Driver     string         `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN        string         `json:"dsn" yaml:"dsn" env:"DSN"`
	Postgres   PostgresConfig `json:"postgres" yaml:"postgres" envPrefix:"PG_"`
	SQLitePath string         `json:"sqlite_path" yaml:"sqlite_path" env:"SQLITE_PATH"`
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS invites (
    id BIGSERIAL PRIMARY KEY,
    creator_id TEXT NOT NULL,
    code TEXT UNIQUE NOT NULL,
    uses INTEGER NOT NULL DEFAULT 0 CHECK (uses >= 0),
    max_uses INTEGER,
    expires_at BIGINT,
    created_at BIGINT NOT NULL,
    channel_id TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS invite_usages (
    id BIGSERIAL PRIMARY KEY,
    invite_id BIGINT NOT NULL REFERENCES invites(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    joined_at BIGINT NOT NULL,
    left_at BIGINT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE(invite_id, user_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_invites_creator ON invites(creator_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invite_usages_invite ON invite_usages(invite_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invite_usages_user ON invite_usages(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invite_usages_active ON invite_usages(is_active)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS invites (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    creator_id TEXT NOT NULL,
    code TEXT UNIQUE NOT NULL,
    uses INTEGER NOT NULL DEFAULT 0 CHECK (uses >= 0),
    max_uses INTEGER,
    expires_at INTEGER,
    created_at INTEGER NOT NULL,
    channel_id TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS invite_usages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    invite_id INTEGER NOT NULL REFERENCES invites(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    joined_at INTEGER NOT NULL,
    left_at INTEGER,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE(invite_id, user_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_invites_creator ON invites(creator_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invite_usages_invite ON invite_usages(invite_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invite_usages_user ON invite_usages(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invite_usages_active ON invite_usages(is_active)`,
}

// Open connects to the configured dialect, applies the schema and prepares
// the hot statements.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverPostgres
	}

	var (
		db     *sql.DB
		schema []string
		err    error
	)
	switch driver {
	case DriverPostgres:
		db, err = sql.Open("postgres", postgresDSN(cfg))
		schema = postgresSchema
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(cfg))
		schema = sqliteSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer; a second connection would only wait on the file lock.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(1 * time.Hour)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init schema: %w", err)
		}
	}

	pingStmt, err := db.PrepareContext(ctx, "SELECT 1")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare ping statement: %w", err)
	}

	d := &Database{
		db:               db,
		driver:           driver,
		PreparedPingStmt: pingStmt,
	}

	if err := d.InitPreparedStatements(); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to init prepared statements: %w", err)
	}

	return d, nil
}

func postgresDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	pg := cfg.Postgres
	sslMode := pg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := pg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, port, pg.User, pg.Password, pg.Database, sslMode)
}

func sqliteDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	path := cfg.SQLitePath
	if path == "" {
		path = "invites.db"
	}
	return filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Driver returns the dialect name the database was opened with.
func (d *Database) Driver() string {
	return d.driver
}

func (d *Database) Close() error {
	if d.PreparedPingStmt != nil {
		d.PreparedPingStmt.Close()
	}
	d.ClosePreparedStatements()
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	if d.PreparedPingStmt != nil {
		var result int
		return d.PreparedPingStmt.QueryRowContext(ctx).Scan(&result)
	}
	return d.db.PingContext(ctx)
}
