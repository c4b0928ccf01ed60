package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/session"
	"github.com/BTreeMap/SurveyPipe/internal/worker"
	"github.com/google/uuid"
)

// ErrNotInSurvey is returned by HandleAnswer when no survey is in progress for the key.
var ErrNotInSurvey = errors.New("no survey in progress")

// Sender delivers a text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Recorder is the record-storage collaborator.
type Recorder interface {
	// RegisterParticipant is idempotent; it reports whether id was newly added.
	RegisterParticipant(ctx context.Context, id string) (bool, error)
	IsRegistered(ctx context.Context, id string) (bool, error)
	SaveSubmission(ctx context.Context, sub models.Submission) error
}

// Engine drives consent capture and the question/answer exchange.
//
// Every method expects the caller to hold the session lock for key.
type Engine struct {
	sessions *session.Store
	catalog  *Catalog
	sender   Sender
	records  Recorder
	exec     worker.Executor
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor sets where completion and registration work runs. Defaults to inline.
func WithExecutor(exec worker.Executor) Option {
	return func(e *Engine) { e.exec = exec }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how submission ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine creates a survey Engine.
func NewEngine(sessions *session.Store, catalog *Catalog, sender Sender, records Recorder, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		catalog:  catalog,
		sender:   sender,
		records:  records,
		exec:     worker.Inline{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's question catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// RequestConsent asks for consent and moves the session to CONSENT_PENDING.
func (e *Engine) RequestConsent(ctx context.Context, key models.SessionKey) error {
	slog.Debug("Engine.RequestConsent invoked", "key", key.String())
	if err := e.sessions.SetMode(ctx, key, models.ModeConsentPending); err != nil {
		return fmt.Errorf("failed to enter consent mode: %w", err)
	}
	if err := e.sender.SendMessage(ctx, key.ChatID, ConsentPromptMessage); err != nil {
		slog.Error("Engine.RequestConsent send failed", "error", err, "key", key.String())
		if clearErr := e.sessions.Clear(ctx, key); clearErr != nil {
			slog.Error("Engine.RequestConsent clear failed", "error", clearErr, "key", key.String())
		}
		return fmt.Errorf("failed to send consent prompt: %w", err)
	}
	return nil
}

// HandleConsent resolves a pending consent request. Only the exact accept literal
// registers the participant; every other reply is a refusal. Both outcomes clear the
// session to IDLE.
func (e *Engine) HandleConsent(ctx context.Context, key models.SessionKey, text string) error {
	if err := e.sessions.Clear(ctx, key); err != nil {
		return err
	}

	if strings.TrimSpace(text) != ConsentAccept {
		slog.Info("Consent declined", "participantID", key.UserID)
		return e.send(ctx, key, ConsentDeclinedMessage)
	}

	participantID := key.UserID
	queued := e.exec.Submit("register-participant", func(ctx context.Context) {
		added, err := e.records.RegisterParticipant(ctx, participantID)
		if err != nil {
			slog.Error("Engine.HandleConsent registration failed", "error", err, "participantID", participantID)
			return
		}
		slog.Info("Participant registered", "participantID", participantID, "new", added)
	})
	if !queued {
		return e.send(ctx, key, BusyMessage)
	}
	return e.send(ctx, key, ConsentAcceptedMessage)
}

// RequestSurvey handles a participant asking for the survey. Identities that never
// consented get the consent prompt instead of the first question.
func (e *Engine) RequestSurvey(ctx context.Context, key models.SessionKey) error {
	registered, err := e.records.IsRegistered(ctx, key.UserID)
	if err != nil {
		return fmt.Errorf("failed to check registration: %w", err)
	}
	if !registered {
		slog.Info("Survey requested before consent", "participantID", key.UserID)
		return e.RequestConsent(ctx, key)
	}
	return e.Start(ctx, key)
}

// Start begins the survey from the first question. If the first question cannot be
// delivered the session is cleared and the error returned.
func (e *Engine) Start(ctx context.Context, key models.SessionKey) error {
	sess, err := e.sessions.Get(ctx, key)
	if err != nil {
		return err
	}
	if !session.CanTransition(sess.Mode, models.ModeSurveyInProgress) {
		slog.Warn("Engine.Start rejected", "key", key.String(), "mode", sess.Mode)
		return fmt.Errorf("%w: %s -> %s", session.ErrInvalidTransition, sess.Mode, models.ModeSurveyInProgress)
	}

	if err := e.sessions.Clear(ctx, key); err != nil {
		return err
	}
	if err := e.sessions.SetMode(ctx, key, models.ModeSurveyInProgress); err != nil {
		return err
	}
	first, started := 0, e.now()
	if err := e.sessions.UpdateData(ctx, key, session.Patch{QuestionIndex: &first, StartedAt: &started}); err != nil {
		return err
	}

	err = e.sender.SendMessage(ctx, key.ChatID, SurveyIntroMessage)
	if err == nil {
		err = e.sender.SendMessage(ctx, key.ChatID, e.catalog.Prompt(0))
	}
	if err != nil {
		slog.Error("Engine.Start delivery failed", "error", err, "key", key.String())
		if clearErr := e.sessions.Clear(ctx, key); clearErr != nil {
			slog.Error("Engine.Start clear failed", "error", clearErr, "key", key.String())
		}
		return fmt.Errorf("failed to send first question: %w", err)
	}
	slog.Info("Survey started", "participantID", key.UserID, "chatID", key.ChatID, "questions", e.catalog.Len())
	return nil
}

// HandleAnswer validates text against the current question. A rejected answer is
// re-prompted without advancing; an accepted one is stored and the next question sent,
// or the survey completed.
func (e *Engine) HandleAnswer(ctx context.Context, key models.SessionKey, text string) error {
	sess, err := e.sessions.Get(ctx, key)
	if err != nil {
		return err
	}
	if sess.Mode != models.ModeSurveyInProgress {
		return ErrNotInSurvey
	}

	q, ok := e.catalog.Question(sess.QuestionIndex)
	if !ok {
		slog.Error("Engine.HandleAnswer question index out of range, resetting", "key", key.String(), "index", sess.QuestionIndex)
		return e.sessions.Clear(ctx, key)
	}

	accepted, err := q.Validate(text)
	if err != nil {
		slog.Warn("Answer rejected", "participantID", key.UserID, "field", q.Field, "error", err)
		msg := InvalidAnswerMessage
		if hint := q.Hint(); hint != "" {
			msg += " " + hint
		}
		return e.send(ctx, key, msg)
	}

	answers := sess.Answers
	answers[q.Field] = accepted
	next := sess.QuestionIndex + 1
	if next < e.catalog.Len() {
		if err := e.sessions.UpdateData(ctx, key, session.Patch{Answers: map[string]string{q.Field: accepted}, QuestionIndex: &next}); err != nil {
			return err
		}
		slog.Debug("Answer accepted", "participantID", key.UserID, "field", q.Field, "next", next)
		return e.send(ctx, key, e.catalog.Prompt(next))
	}

	return e.complete(ctx, key, models.Submission{
		ID:            e.newID(),
		ParticipantID: key.UserID,
		Answers:       answers,
		StartedAt:     sess.StartedAt,
		CompletedAt:   e.now(),
	})
}

// complete clears the session at once and stores the submission off-path.
func (e *Engine) complete(ctx context.Context, key models.SessionKey, sub models.Submission) error {
	if err := e.sessions.Clear(ctx, key); err != nil {
		return err
	}
	slog.Info("Survey completed", "participantID", sub.ParticipantID, "answers", len(sub.Answers), "submissionID", sub.ID)

	queued := e.exec.Submit("save-submission", func(ctx context.Context) {
		msg := SurveyThanksMessage
		if err := e.records.SaveSubmission(ctx, sub); err != nil {
			slog.Error("Engine.complete save failed", "error", err, "participantID", sub.ParticipantID)
			msg = SurveySaveFailedMessage
		}
		if err := e.sender.SendMessage(ctx, key.ChatID, msg); err != nil {
			slog.Error("Engine.complete notify failed", "error", err, "participantID", sub.ParticipantID)
		}
	})
	if !queued {
		slog.Error("Engine.complete submission dropped", "participantID", sub.ParticipantID, "submissionID", sub.ID)
		return e.send(ctx, key, SurveySaveFailedMessage)
	}
	return nil
}

// IsActive reports whether a survey is in progress for key.
func (e *Engine) IsActive(ctx context.Context, key models.SessionKey) bool {
	sess, err := e.sessions.Get(ctx, key)
	if err != nil {
		slog.Error("Engine.IsActive lookup failed", "error", err, "key", key.String())
		return false
	}
	return sess.Mode == models.ModeSurveyInProgress
}

func (e *Engine) send(ctx context.Context, key models.SessionKey, body string) error {
	if err := e.sender.SendMessage(ctx, key.ChatID, body); err != nil {
		slog.Error("Engine send failed", "error", err, "key", key.String())
		return fmt.Errorf("failed to send message to %s: %w", key.ChatID, err)
	}
	return nil
}
