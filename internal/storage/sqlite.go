package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding sessions and chat history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "tubechat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Sessions ---

// SaveSession inserts or replaces the session for a video. Syncing the same
// video again overwrites the previous record; chat history for the session
// is preserved.
func (s *Store) SaveSession(row SessionRow) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !row.CreatedAt.IsZero() {
		createdAt = row.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, video_id, title, language, segments_json, chunk_count, embed_model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			title = excluded.title,
			language = excluded.language,
			segments_json = excluded.segments_json,
			chunk_count = excluded.chunk_count,
			embed_model = excluded.embed_model,
			updated_at = excluded.updated_at`,
		row.ID, row.VideoID, row.Title, row.Language, row.SegmentsJSON,
		row.ChunkCount, row.EmbedModel, createdAt, now,
	)
	return err
}

func (s *Store) GetSession(id string) (SessionRow, error) {
	return s.getSessionBy("id", id)
}

func (s *Store) GetSessionByVideo(videoID string) (SessionRow, error) {
	return s.getSessionBy("video_id", videoID)
}

func (s *Store) getSessionBy(column, value string) (SessionRow, error) {
	var row SessionRow
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, video_id, title, language, segments_json, chunk_count, embed_model, created_at, updated_at
		FROM sessions WHERE `+column+` = ?`, value,
	).Scan(&row.ID, &row.VideoID, &row.Title, &row.Language, &row.SegmentsJSON,
		&row.ChunkCount, &row.EmbedModel, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return SessionRow{}, ErrNotFound
	}
	if err != nil {
		return SessionRow{}, err
	}
	if row.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return SessionRow{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if row.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return SessionRow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return row, nil
}

// ListSessions returns sessions ordered by most recently updated. The
// transcript payload is omitted; callers listing sessions never need it.
func (s *Store) ListSessions(limit int) ([]SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT id, video_id, title, language, chunk_count, embed_model, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SessionRow
	for rows.Next() {
		var row SessionRow
		var createdAt, updatedAt string
		if err := rows.Scan(&row.ID, &row.VideoID, &row.Title, &row.Language,
			&row.ChunkCount, &row.EmbedModel, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if row.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if row.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// AllSessions returns every session including transcript payloads, used to
// rebuild in-memory indexes on startup.
func (s *Store) AllSessions() ([]SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT id, video_id, title, language, segments_json, chunk_count, embed_model, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SessionRow
	for rows.Next() {
		var row SessionRow
		var createdAt, updatedAt string
		if err := rows.Scan(&row.ID, &row.VideoID, &row.Title, &row.Language, &row.SegmentsJSON,
			&row.ChunkCount, &row.EmbedModel, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if row.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if row.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// DeleteSession removes a session and, via the cascade, its messages.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

func (s *Store) SaveMessage(m Message) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	citations := m.CitationsJSON
	if citations == "" {
		citations = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, role, content, citations_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, citations,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetHistory returns a session's messages in chronological order.
func (s *Store) GetHistory(sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, citations_json, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CitationsJSON, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
