// Package store provides storage backends for SurveyPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers; concurrent sessions otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("SQLiteStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// GetSession retrieves the session for key.
func (s *SQLiteStore) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT chat_id, user_id, mode, question_index, answers, started_at, updated_at
		FROM sessions WHERE chat_id = ? AND user_id = ?`, key.ChatID, key.UserID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "key", key.String())
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	return &sess, nil
}

// SaveSession stores or replaces the session.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess models.Session) error {
	answers, err := encodeAnswers(sess.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO sessions
		(chat_id, user_id, mode, question_index, answers, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.Key.ChatID, sess.Key.UserID, string(sess.Mode), sess.QuestionIndex, answers, nullTime(sess.StartedAt), sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "key", sess.Key.String(), "mode", sess.Mode)
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "key", sess.Key.String(), "mode", sess.Mode)
	return nil
}

// DeleteSession removes the session for key.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key models.SessionKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE chat_id = ? AND user_id = ?`, key.ChatID, key.UserID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "key", key.String())
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// RegisterParticipant inserts id into the registry unless it is already there.
func (s *SQLiteStore) RegisterParticipant(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, models.ErrEmptyParticipantID
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO participants (participant_id, registered_at) VALUES (?, CURRENT_TIMESTAMP)`, id)
	if err != nil {
		slog.Error("SQLiteStore RegisterParticipant failed", "error", err, "participantID", id)
		return false, fmt.Errorf("failed to register participant %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("SQLiteStore RegisterParticipant", "participantID", id, "inserted", n == 1)
	return n == 1, nil
}

// IsRegistered reports whether id is in the registry.
func (s *SQLiteStore) IsRegistered(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM participants WHERE participant_id = ?)`, id).Scan(&found)
	if err != nil {
		slog.Error("SQLiteStore IsRegistered failed", "error", err, "participantID", id)
		return false, fmt.Errorf("failed to look up participant %s: %w", id, err)
	}
	return found, nil
}

// ListParticipants returns the registry in registration order.
func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT participant_id, registered_at FROM participants ORDER BY rowid`)
	if err != nil {
		slog.Error("SQLiteStore ListParticipants query failed", "error", err)
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participant rows: %w", err)
	}
	return out, nil
}

// SaveSubmission appends a completed survey.
func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub models.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	answers, err := encodeAnswers(sub.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO submissions (id, participant_id, answers, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?)`, sub.ID, sub.ParticipantID, answers, nullTime(sub.StartedAt), sub.CompletedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateSubmission
		}
		slog.Error("SQLiteStore SaveSubmission failed", "error", err, "participantID", sub.ParticipantID)
		return fmt.Errorf("failed to insert submission for %s: %w", sub.ParticipantID, err)
	}
	slog.Debug("SQLiteStore SaveSubmission succeeded", "participantID", sub.ParticipantID, "id", sub.ID)
	return nil
}

// ListSubmissions returns all submissions in arrival order.
func (s *SQLiteStore) ListSubmissions(ctx context.Context) ([]models.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, participant_id, answers, started_at, completed_at FROM submissions ORDER BY seq`)
	if err != nil {
		slog.Error("SQLiteStore ListSubmissions query failed", "error", err)
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submission rows: %w", err)
	}
	return out, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
