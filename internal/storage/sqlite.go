package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// requiredTables must all exist before the bot reads or writes anything.
var requiredTables = []string{"facts", "messages", "mail_logs"}

// Store wraps a SQLite database holding learned facts, the conversation log
// and the mail log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "parlebot.db")
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

	s := &Store{db: db, now: time.Now}
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

// HasRequiredTables reports whether the facts, messages and mail_logs tables
// all exist. Any inspection failure is logged and reported as false.
func (s *Store) HasRequiredTables(ctx context.Context) bool {
	placeholders := strings.Repeat(",?", len(requiredTables)-1)
	args := make([]any, len(requiredTables))
	for i, t := range requiredTables {
		args[i] = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN (?`+placeholders+`)`, args...)
	if err != nil {
		slog.Warn("inspecting schema failed", "error", err)
		return false
	}
	defer rows.Close()

	found := make(map[string]bool, len(requiredTables))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			slog.Warn("inspecting schema failed", "error", err)
			return false
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		slog.Warn("inspecting schema failed", "error", err)
		return false
	}

	for _, t := range requiredTables {
		if !found[t] {
			return false
		}
	}
	return true
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func parseTimestamp(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// --- Facts ---

// GetFact returns the answer stored under the normalized question key.
func (s *Store) GetFact(ctx context.Context, key string) (string, error) {
	var answer string
	err := s.db.QueryRowContext(ctx, "SELECT answer FROM facts WHERE question = ?", key).Scan(&answer)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

// UpsertFact inserts a fact or overwrites the answer of an existing one in a
// single statement, refreshing updated_at. The row keeps its original id, so
// insertion order is stable across re-learning.
func (s *Store) UpsertFact(ctx context.Context, key, answer string) error {
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (question, answer, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(question) DO UPDATE SET answer = excluded.answer, updated_at = excluded.updated_at`,
		key, answer, now, now,
	)
	return err
}

// FindSimilarFact returns the answer of the oldest fact whose question is a
// substring of query or contains query. Facts with an empty question never
// match, and an empty query matches nothing.
func (s *Store) FindSimilarFact(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", ErrNotFound
	}
	var answer string
	err := s.db.QueryRowContext(ctx, `
		SELECT answer FROM facts
		WHERE question <> '' AND (instr(?, question) > 0 OR instr(question, ?) > 0)
		ORDER BY id ASC LIMIT 1`,
		query, query,
	).Scan(&answer)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

// AllFacts returns a snapshot of every question -> answer pair.
func (s *Store) AllFacts(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT question, answer FROM facts ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var q, a string
		if err := rows.Scan(&q, &a); err != nil {
			return nil, err
		}
		result[q] = a
	}
	return result, rows.Err()
}

// ListFacts returns a page of facts in insertion order.
func (s *Store) ListFacts(ctx context.Context, limit, offset int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, created_at, updated_at
		FROM facts ORDER BY id ASC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Fact
	for rows.Next() {
		var f Fact
		var createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = parseTimestamp("updated_at", updatedAt); err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

// CountFacts returns the number of learned facts.
func (s *Store) CountFacts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&n)
	return n, err
}

// --- Messages ---

// SaveMessage appends one conversation turn.
func (s *Store) SaveMessage(ctx context.Context, turnID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (turn_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		turnID, role, content, s.timestamp(),
	)
	return err
}

// ListMessages returns conversation turns, most recent first.
func (s *Store) ListMessages(ctx context.Context, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, turn_id, role, content, created_at
		FROM messages ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.TurnID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// --- Mail logs ---

// LogMail records the outcome of one mail attempt. An empty Error is stored as NULL.
func (s *Store) LogMail(ctx context.Context, entry MailLog) error {
	var errText sql.NullString
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mail_logs (recipient, subject, body, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Recipient, entry.Subject, entry.Body, entry.Status, errText, s.timestamp(),
	)
	return err
}

// ListMailLogs returns mail attempts, most recent first.
func (s *Store) ListMailLogs(ctx context.Context, limit, offset int) ([]MailLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient, subject, body, status, error, created_at
		FROM mail_logs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MailLog
	for rows.Next() {
		var l MailLog
		var subject, body, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Recipient, &subject, &body, &l.Status, &errText, &createdAt); err != nil {
			return nil, err
		}
		l.Subject = subject.String
		l.Body = body.String
		l.Error = errText.String
		if l.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}
