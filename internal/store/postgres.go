// Package store provides storage backends for SurveyPipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("PostgresStore GetReceipts scan failed", "error", err)
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
func (s *PostgresStore) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT chat_id, user_id, mode, question_index, answers::text, started_at, updated_at
		FROM sessions WHERE chat_id = $1 AND user_id = $2`, key.ChatID, key.UserID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "key", key.String())
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	return &sess, nil
}

// SaveSession upserts the session.
func (s *PostgresStore) SaveSession(ctx context.Context, sess models.Session) error {
	answers, err := encodeAnswers(sess.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions
		(chat_id, user_id, mode, question_index, answers, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			question_index = EXCLUDED.question_index,
			answers = EXCLUDED.answers,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at`,
		sess.Key.ChatID, sess.Key.UserID, string(sess.Mode), sess.QuestionIndex, answers, nullTime(sess.StartedAt), sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "key", sess.Key.String(), "mode", sess.Mode)
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "key", sess.Key.String(), "mode", sess.Mode)
	return nil
}

// DeleteSession removes the session for key.
func (s *PostgresStore) DeleteSession(ctx context.Context, key models.SessionKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE chat_id = $1 AND user_id = $2`, key.ChatID, key.UserID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "key", key.String())
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// RegisterParticipant inserts id into the registry unless it is already there.
func (s *PostgresStore) RegisterParticipant(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, models.ErrEmptyParticipantID
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO participants (participant_id) VALUES ($1) ON CONFLICT (participant_id) DO NOTHING`, id)
	if err != nil {
		slog.Error("PostgresStore RegisterParticipant failed", "error", err, "participantID", id)
		return false, fmt.Errorf("failed to register participant %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("PostgresStore RegisterParticipant", "participantID", id, "inserted", n == 1)
	return n == 1, nil
}

// IsRegistered reports whether id is in the registry.
func (s *PostgresStore) IsRegistered(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM participants WHERE participant_id = $1)`, id).Scan(&found)
	if err != nil {
		slog.Error("PostgresStore IsRegistered failed", "error", err, "participantID", id)
		return false, fmt.Errorf("failed to look up participant %s: %w", id, err)
	}
	return found, nil
}

// ListParticipants returns the registry in registration order.
func (s *PostgresStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT participant_id, registered_at FROM participants ORDER BY seq`)
	if err != nil {
		slog.Error("PostgresStore ListParticipants query failed", "error", err)
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
func (s *PostgresStore) SaveSubmission(ctx context.Context, sub models.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	answers, err := encodeAnswers(sub.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO submissions (id, participant_id, answers, started_at, completed_at)
		VALUES ($1, $2, $3::jsonb, $4, $5)`, sub.ID, sub.ParticipantID, answers, nullTime(sub.StartedAt), sub.CompletedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrDuplicateSubmission
		}
		slog.Error("PostgresStore SaveSubmission failed", "error", err, "participantID", sub.ParticipantID)
		return fmt.Errorf("failed to insert submission for %s: %w", sub.ParticipantID, err)
	}
	slog.Debug("PostgresStore SaveSubmission succeeded", "participantID", sub.ParticipantID, "id", sub.ID)
	return nil
}

// ListSubmissions returns all submissions in arrival order.
func (s *PostgresStore) ListSubmissions(ctx context.Context) ([]models.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, participant_id, answers::text, started_at, completed_at FROM submissions ORDER BY seq`)
	if err != nil {
		slog.Error("PostgresStore ListSubmissions query failed", "error", err)
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

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
