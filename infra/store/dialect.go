package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect hides the differences between the SQL engines.
type dialect interface {
	name() string
	driver() string
	schema() []string
	// rebind rewrites '?' placeholders for the engine.
	rebind(query string) string
	isUniqueViolation(err error) bool
}

type sqliteDialect struct{}

func (sqliteDialect) name() string   { return "sqlite" }
func (sqliteDialect) driver() string { return "sqlite" }

func (sqliteDialect) rebind(q string) string { return q }

func (sqliteDialect) isUniqueViolation(err error) bool {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || e.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS dining_tables (
			id TEXT PRIMARY KEY,
			number INTEGER NOT NULL UNIQUE,
			head_count INTEGER,
			occupied BOOLEAN NOT NULL DEFAULT 0,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS robots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			action INTEGER NOT NULL,
			battery REAL NOT NULL,
			pending_table TEXT NOT NULL DEFAULT '',
			pending_order TEXT NOT NULL DEFAULT '',
			telemetry TEXT,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			table_id TEXT NOT NULL,
			waiter_id TEXT NOT NULL DEFAULT '',
			menu_id TEXT NOT NULL DEFAULT '',
			items TEXT NOT NULL,
			status INTEGER NOT NULL,
			total REAL NOT NULL,
			placed_at INTEGER NOT NULL,
			completed_at INTEGER,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		// status 5 is model.OrderArchived.
		`CREATE UNIQUE INDEX IF NOT EXISTS orders_one_active ON orders(table_id) WHERE status <> 5`,
		`CREATE TABLE IF NOT EXISTS robot_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			robot_id TEXT NOT NULL,
			action INTEGER NOT NULL,
			table_id TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS robot_history_open ON robot_history(robot_id) WHERE ended_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS robot_history_table ON robot_history(table_id)`,
		`CREATE TABLE IF NOT EXISTS robot_telemetry (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			robot_id TEXT NOT NULL,
			reported_at INTEGER NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS robot_telemetry_robot ON robot_telemetry(robot_id, reported_at)`,
		`CREATE TABLE IF NOT EXISTS menu_items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price REAL NOT NULL,
			available BOOLEAN NOT NULL
		)`,
	}
}

type postgresDialect struct{}

func (postgresDialect) name() string   { return "postgres" }
func (postgresDialect) driver() string { return "pgx" }

func (postgresDialect) rebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (postgresDialect) isUniqueViolation(err error) bool {
	var e *pgconn.PgError
	return errors.As(err, &e) && e.Code == "23505"
}

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS dining_tables (
			id TEXT PRIMARY KEY,
			number INTEGER NOT NULL UNIQUE,
			head_count INTEGER,
			occupied BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS robots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			action SMALLINT NOT NULL,
			battery DOUBLE PRECISION NOT NULL,
			pending_table TEXT NOT NULL DEFAULT '',
			pending_order TEXT NOT NULL DEFAULT '',
			telemetry TEXT,
			version BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			table_id TEXT NOT NULL,
			waiter_id TEXT NOT NULL DEFAULT '',
			menu_id TEXT NOT NULL DEFAULT '',
			items TEXT NOT NULL,
			status SMALLINT NOT NULL,
			total DOUBLE PRECISION NOT NULL,
			placed_at BIGINT NOT NULL,
			completed_at BIGINT,
			version BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		// status 5 is model.OrderArchived.
		`CREATE UNIQUE INDEX IF NOT EXISTS orders_one_active ON orders(table_id) WHERE status <> 5`,
		`CREATE TABLE IF NOT EXISTS robot_history (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			robot_id TEXT NOT NULL,
			action SMALLINT NOT NULL,
			table_id TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL,
			ended_at BIGINT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS robot_history_open ON robot_history(robot_id) WHERE ended_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS robot_history_table ON robot_history(table_id)`,
		`CREATE TABLE IF NOT EXISTS robot_telemetry (
			seq BIGSERIAL PRIMARY KEY,
			robot_id TEXT NOT NULL,
			reported_at BIGINT NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS robot_telemetry_robot ON robot_telemetry(robot_id, reported_at)`,
		`CREATE TABLE IF NOT EXISTS menu_items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			available BOOLEAN NOT NULL
		)`,
	}
}
