package store

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// dialect isolates the differences between the SQL backends.
type dialect interface {
	name() string
	// schema returns the DDL statements, executed one by one.
	schema() []string
	// bind rewrites ? placeholders for the backend.
	bind(query string) string
	// seqColumn names the column giving insertion order.
	seqColumn() string
	// readTx returns the options for snapshot reads.
	readTx() *sql.TxOptions
	isUniqueViolation(err error) bool
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) bind(query string) string { return query }

func (sqliteDialect) seqColumn() string { return "rowid" }

// Transactions are opened with BEGIN IMMEDIATE (see the DSN), which already
// isolates the snapshot.
func (sqliteDialect) readTx() *sql.TxOptions { return nil }

func (sqliteDialect) isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS workspace (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS layer (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspace(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			color TEXT NOT NULL,
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_layer_workspace ON layer(workspace_id, position)`,
		`CREATE TABLE IF NOT EXISTS highlight (
			id TEXT PRIMARY KEY,
			layer_id TEXT NOT NULL REFERENCES layer(id) ON DELETE CASCADE,
			editor_index INTEGER NOT NULL,
			"from" INTEGER NOT NULL,
			"to" INTEGER NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			annotation TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'highlight'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_highlight_layer ON highlight(layer_id)`,
		`CREATE TABLE IF NOT EXISTS arrow (
			id TEXT PRIMARY KEY,
			layer_id TEXT NOT NULL REFERENCES layer(id) ON DELETE CASCADE,
			from_editor_index INTEGER NOT NULL,
			from_start INTEGER NOT NULL,
			from_end INTEGER NOT NULL,
			from_text TEXT NOT NULL DEFAULT '',
			to_editor_index INTEGER NOT NULL,
			to_start INTEGER NOT NULL,
			to_end INTEGER NOT NULL,
			to_text TEXT NOT NULL DEFAULT '',
			arrow_style TEXT NOT NULL DEFAULT 'solid'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_arrow_layer ON arrow(layer_id)`,
		`CREATE TABLE IF NOT EXISTS underline (
			id TEXT PRIMARY KEY,
			layer_id TEXT NOT NULL REFERENCES layer(id) ON DELETE CASCADE,
			editor_index INTEGER NOT NULL,
			"from" INTEGER NOT NULL,
			"to" INTEGER NOT NULL,
			text TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_underline_layer ON underline(layer_id)`,
		// index_pos is not unique: shifting rows in place would collide.
		`CREATE TABLE IF NOT EXISTS editor (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL REFERENCES workspace(id) ON DELETE CASCADE,
			index_pos INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT 'Passage',
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			content_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_editor_workspace ON editor(workspace_id, index_pos)`,
	}
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

// bind rewrites ? placeholders to $1, $2, ...
func (postgresDialect) bind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (postgresDialect) seqColumn() string { return "seq" }

func (postgresDialect) readTx() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

func (postgresDialect) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS workspace (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS layer (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			workspace_id TEXT NOT NULL REFERENCES workspace(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			color TEXT NOT NULL,
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_layer_workspace ON layer(workspace_id, position)`,
		`CREATE TABLE IF NOT EXISTS highlight (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			layer_id TEXT NOT NULL REFERENCES layer(id) ON DELETE CASCADE,
			editor_index INTEGER NOT NULL,
			"from" INTEGER NOT NULL,
			"to" INTEGER NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			annotation TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'highlight'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_highlight_layer ON highlight(layer_id)`,
		`CREATE TABLE IF NOT EXISTS arrow (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			layer_id TEXT NOT NULL REFERENCES layer(id) ON DELETE CASCADE,
			from_editor_index INTEGER NOT NULL,
			from_start INTEGER NOT NULL,
			from_end INTEGER NOT NULL,
			from_text TEXT NOT NULL DEFAULT '',
			to_editor_index INTEGER NOT NULL,
			to_start INTEGER NOT NULL,
			to_end INTEGER NOT NULL,
			to_text TEXT NOT NULL DEFAULT '',
			arrow_style TEXT NOT NULL DEFAULT 'solid'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_arrow_layer ON arrow(layer_id)`,
		`CREATE TABLE IF NOT EXISTS underline (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			layer_id TEXT NOT NULL REFERENCES layer(id) ON DELETE CASCADE,
			editor_index INTEGER NOT NULL,
			"from" INTEGER NOT NULL,
			"to" INTEGER NOT NULL,
			text TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_underline_layer ON underline(layer_id)`,
		`CREATE TABLE IF NOT EXISTS editor (
			id BIGSERIAL PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspace(id) ON DELETE CASCADE,
			index_pos INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT 'Passage',
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			content_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_editor_workspace ON editor(workspace_id, index_pos)`,
	}
}
