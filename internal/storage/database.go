package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// New opens a SQLite database connection at the given path.
// Foreign keys, WAL journaling and a busy timeout are enabled through the DSN so
// every pooled connection gets them; writers use BEGIN IMMEDIATE.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", path, sep)
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS staging_narratives (
			case_id TEXT PRIMARY KEY,
			catalog_item_id TEXT NOT NULL,
			catalog_path TEXT NOT NULL DEFAULT '',
			narrative_text TEXT NOT NULL,
			processing_state TEXT NOT NULL DEFAULT 'pending'
				CHECK (processing_state IN ('pending', 'done', 'error')),
			processed_at DATETIME,
			claim_token TEXT,
			lease_expires_at INTEGER,
			error_message TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_staging_state ON staging_narratives (processing_state, lease_expires_at);`,
		`CREATE INDEX IF NOT EXISTS idx_staging_claim ON staging_narratives (claim_token);`,
		`CREATE TABLE IF NOT EXISTS vector_dimensions (
			embedding_model TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL CHECK (dimension > 0),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS knowledge_vectors (
			case_id TEXT PRIMARY KEY,
			catalog_item_id TEXT NOT NULL,
			catalog_path TEXT NOT NULL DEFAULT '',
			narrative_text TEXT NOT NULL,
			vector BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			embedding_model TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (case_id) REFERENCES staging_narratives(case_id)
		);`,
		`CREATE TABLE IF NOT EXISTS search_log (
			search_id TEXT PRIMARY KEY,
			query_text TEXT NOT NULL,
			top_k INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			result_count INTEGER NOT NULL,
			error_text TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS embedding_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model TEXT NOT NULL,
			input_chars INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			error_text TEXT,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
