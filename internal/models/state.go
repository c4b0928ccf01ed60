// Package models defines session state structures for SurveyPipe conversations.
package models

import (
	"fmt"
	"time"
)

// Mode is the conversational state a session is currently in.
type Mode string

// Mode constants. The set is closed; see session.CanTransition for the allowed moves.
const (
	ModeIdle               Mode = "IDLE"
	ModeAdminAuthRequested Mode = "ADMIN_AUTH_REQUESTED"
	ModeAdminAuthenticated Mode = "ADMIN_AUTHENTICATED"
	ModeConsentPending     Mode = "CONSENT_PENDING"
	ModeSurveyInProgress   Mode = "SURVEY_IN_PROGRESS"
)

// AllModes lists every mode in declaration order.
var AllModes = []Mode{
	ModeIdle,
	ModeAdminAuthRequested,
	ModeAdminAuthenticated,
	ModeConsentPending,
	ModeSurveyInProgress,
}

// IsValid reports whether m is one of the declared modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeIdle, ModeAdminAuthRequested, ModeAdminAuthenticated, ModeConsentPending, ModeSurveyInProgress:
		return true
	default:
		return false
	}
}

// SessionKey identifies a session by chat and participant.
type SessionKey struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// KeyFor returns the key of a one-to-one conversation with id.
func KeyFor(id string) SessionKey {
	return SessionKey{ChatID: id, UserID: id}
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.ChatID, k.UserID)
}

// Session represents the conversational state of one participant in one chat.
type Session struct {
	Key           SessionKey        `json:"key"`
	Mode          Mode              `json:"mode"`
	QuestionIndex int               `json:"question_index"`    // only meaningful in ModeSurveyInProgress
	Answers       map[string]string `json:"answers,omitempty"` // catalog field name -> validated raw text
	StartedAt     time.Time         `json:"started_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewSession returns the default idle session for key.
func NewSession(key SessionKey) Session {
	return Session{
		Key:     key,
		Mode:    ModeIdle,
		Answers: make(map[string]string),
	}
}

// Clone returns a deep copy so callers never share the answers map.
func (s Session) Clone() Session {
	out := s
	out.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	return out
}
