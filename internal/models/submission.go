package models

import "time"

// Submission is one completed survey. Answers maps each catalog field name to the
// raw answer text exactly as it was accepted.
type Submission struct {
	ID            string            `json:"id"`
	ParticipantID string            `json:"participant_id"`
	Answers       map[string]string `json:"answers"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Validate checks the fields every record store relies on.
func (s *Submission) Validate() error {
	if s.ParticipantID == "" {
		return ErrEmptyParticipantID
	}
	if len(s.Answers) == 0 {
		return ErrEmptyAnswers
	}
	return nil
}

// Participant is a registry entry for an identity that has given consent.
type Participant struct {
	ID           string    `json:"id"`
	RegisteredAt time.Time `json:"registered_at"`
}
