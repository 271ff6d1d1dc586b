package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding cached key sets and the
// verification audit log.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS keysets (
			url TEXT PRIMARY KEY,
			fetched_at_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS keyset_keys (
			url TEXT NOT NULL,
			position INTEGER NOT NULL,
			kid TEXT NOT NULL,
			kty TEXT NOT NULL DEFAULT '',
			use TEXT NOT NULL DEFAULT '',
			key_ops TEXT NOT NULL DEFAULT '',
			alg TEXT NOT NULL DEFAULT '',
			n TEXT NOT NULL DEFAULT '',
			e TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (url, position),
			FOREIGN KEY (url) REFERENCES keysets(url) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS verifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			verified INTEGER NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			kid TEXT NOT NULL DEFAULT '',
			jku TEXT NOT NULL DEFAULT '',
			issuer TEXT NOT NULL DEFAULT '',
			attestation_type TEXT NOT NULL DEFAULT '',
			digest TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS verifications_created_at ON verifications(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	// Columns added after the first release.
	if err := s.ensureColumn("verifications", "client_ip", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := s.ensureColumn("verifications", "schema_version", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds column to table when the stored schema lacks it.
func (s *Store) ensureColumn(table, column, decl string) error {
	var tableSQL string
	if err := s.db.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&tableSQL); err != nil {
		return fmt.Errorf("read %s schema: %w", table, err)
	}

	schema := strings.ToLower(strings.Join(strings.Fields(tableSQL), " "))
	if strings.Contains(schema, " "+column+" ") {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}
