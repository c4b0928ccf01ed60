package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// nullTime returns nil for the zero time so nullable columns stay NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// encodeAnswers serializes an answers map; an empty map is stored as "{}".
func encodeAnswers(answers map[string]string) (string, error) {
	if len(answers) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("failed to encode answers: %w", err)
	}
	return string(b), nil
}

// decodeAnswers parses a stored answers document. Corrupt data yields an empty map.
func decodeAnswers(raw string) map[string]string {
	answers := make(map[string]string)
	if raw == "" {
		return answers
	}
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		slog.Error("store: answers JSON unmarshal failed", "error", err)
		return make(map[string]string)
	}
	return answers
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans chat_id, user_id, mode, question_index, answers, started_at, updated_at.
func scanSession(row rowScanner) (models.Session, error) {
	var sess models.Session
	var mode, answers string
	var startedAt sql.NullTime
	err := row.Scan(&sess.Key.ChatID, &sess.Key.UserID, &mode, &sess.QuestionIndex, &answers, &startedAt, &sess.UpdatedAt)
	if err != nil {
		return sess, err
	}
	sess.Mode = models.Mode(mode)
	sess.Answers = decodeAnswers(answers)
	if startedAt.Valid {
		sess.StartedAt = startedAt.Time
	}
	return sess, nil
}

// scanSubmission scans id, participant_id, answers, started_at, completed_at.
func scanSubmission(row rowScanner) (models.Submission, error) {
	var sub models.Submission
	var answers string
	var startedAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.ParticipantID, &answers, &startedAt, &sub.CompletedAt)
	if err != nil {
		return sub, fmt.Errorf("scan submission failed: %w", err)
	}
	sub.Answers = decodeAnswers(answers)
	if startedAt.Valid {
		sub.StartedAt = startedAt.Time
	}
	return sub, nil
}
