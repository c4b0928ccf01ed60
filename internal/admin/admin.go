// Package admin implements password-protected administrator access: authentication
// with a failed-attempt lockout, and the commands available once authenticated.
package admin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/session"
	"github.com/BTreeMap/SurveyPipe/internal/worker"
	"golang.org/x/crypto/bcrypt"
)

// MaxAttempts is the number of consecutive failures that triggers a lockout.
const MaxAttempts = 3

// Administrator commands.
const (
	CommandGetReport = "/get_report"
	CommandRunSurvey = "/run_survey"
	CommandExitAdmin = "/exit_admin"
)

// ErrEmptySecret is returned by NewEngine when no administrator secret is configured.
var ErrEmptySecret = errors.New("administrator secret is empty")

// Sender delivers a text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// DocumentSender is implemented by senders that can deliver a file.
type DocumentSender interface {
	SendDocument(ctx context.Context, to string, path string, caption string) error
}

// Reporter is the report-generation collaborator.
type Reporter interface {
	ProcessAllData(ctx context.Context) bool
	LatestPath() string
}

// Broadcaster starts the survey for every registered participant not in excluded.
type Broadcaster interface {
	RunBroadcast(ctx context.Context, excluded []string) (attempted, succeeded int)
}

// Engine is the administrator state machine. Authenticated identities and failure
// counters live here for the lifetime of the process.
type Engine struct {
	sessions *session.Store
	sender   Sender
	verify   func(string) bool

	reporter    Reporter
	broadcaster Broadcaster
	exec        worker.Executor
	adminIDs    []string
	lockout     time.Duration
	now         func() time.Time

	mu            sync.Mutex
	authenticated map[string]struct{}
	failures      map[string]int
	blockedUntil  map[string]time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithReporter sets the report-generation collaborator used by /get_report.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithBroadcaster sets the orchestrator used by /run_survey.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// WithExecutor sets where report generation and broadcasts run. Defaults to inline.
func WithExecutor(exec worker.Executor) Option {
	return func(e *Engine) { e.exec = exec }
}

// WithAdminIDs sets identities that are always excluded from broadcasts.
func WithAdminIDs(ids []string) Option {
	return func(e *Engine) { e.adminIDs = append([]string(nil), ids...) }
}

// WithLockoutDuration enables a real block window after MaxAttempts failures.
// Zero keeps the notice-only behavior: the counter is dropped and nothing is enforced.
func WithLockoutDuration(d time.Duration) Option {
	return func(e *Engine) { e.lockout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an admin Engine. secret is either the plain administrator
// password or its bcrypt hash.
func NewEngine(sessions *session.Store, sender Sender, secret string, opts ...Option) (*Engine, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	e := &Engine{
		sessions:      sessions,
		sender:        sender,
		verify:        newVerifier(secret),
		exec:          worker.Inline{},
		now:           time.Now,
		authenticated: make(map[string]struct{}),
		failures:      make(map[string]int),
		blockedUntil:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// newVerifier compares SHA-256 digests in constant time, or defers to bcrypt when the
// secret is a bcrypt hash.
func newVerifier(secret string) func(string) bool {
	if isBcryptHash(secret) {
		hash := []byte(secret)
		return func(submitted string) bool {
			return bcrypt.CompareHashAndPassword(hash, []byte(submitted)) == nil
		}
	}
	want := sha256.Sum256([]byte(secret))
	return func(submitted string) bool {
		got := sha256.Sum256([]byte(submitted))
		return subtle.ConstantTimeCompare(got[:], want[:]) == 1
	}
}

// RequestAuth starts authentication: working data is dropped and a password prompt sent.
func (e *Engine) RequestAuth(ctx context.Context, key models.SessionKey) error {
	if until, blocked := e.blocked(key.UserID); blocked {
		slog.Warn("Engine.RequestAuth refused, identity blocked", "userID", key.UserID, "until", until)
		if err := e.sessions.Clear(ctx, key); err != nil {
			return err
		}
		return e.send(ctx, key, blockedNotice(until.Sub(e.now())))
	}
	if err := e.sessions.Clear(ctx, key); err != nil {
		return err
	}
	if err := e.sessions.SetMode(ctx, key, models.ModeAdminAuthRequested); err != nil {
		return err
	}
	slog.Info("Admin authentication requested", "userID", key.UserID)
	return e.send(ctx, key, PasswordPromptMessage)
}

// CheckPassword verifies submitted against the administrator secret.
func (e *Engine) CheckPassword(ctx context.Context, key models.SessionKey, submitted string) (bool, error) {
	id := key.UserID
	if until, blocked := e.blocked(id); blocked {
		if err := e.sessions.Clear(ctx, key); err != nil {
			return false, err
		}
		return false, e.send(ctx, key, blockedNotice(until.Sub(e.now())))
	}

	if e.verify(submitted) {
		e.mu.Lock()
		e.authenticated[id] = struct{}{}
		delete(e.failures, id)
		e.mu.Unlock()

		if err := e.sessions.SetMode(ctx, key, models.ModeAdminAuthenticated); err != nil {
			e.mu.Lock()
			delete(e.authenticated, id)
			e.mu.Unlock()
			return false, err
		}
		slog.Info("Administrator logged in", "userID", id)
		return true, e.send(ctx, key, MenuMessage)
	}

	notice := e.recordFailure(id)
	if err := e.sessions.Clear(ctx, key); err != nil {
		return false, err
	}
	return false, e.send(ctx, key, notice)
}

// recordFailure applies the lockout algorithm and returns the notice to send.
func (e *Engine) recordFailure(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	attempts := e.failures[id] + 1
	if attempts >= MaxAttempts {
		delete(e.failures, id)
		slog.Warn("Administrator login locked out", "userID", id, "attempts", attempts)
		if e.lockout > 0 {
			e.blockedUntil[id] = e.now().Add(e.lockout)
			return blockedNotice(e.lockout)
		}
		return LockoutMessage
	}
	e.failures[id] = attempts
	slog.Info("Administrator login failed", "userID", id, "attempt", attempts)
	return fmt.Sprintf(WrongPasswordMessage, MaxAttempts-attempts)
}

// blocked reports whether id is inside an enforced lockout window.
func (e *Engine) blocked(id string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.blockedUntil[id]
	if !ok {
		return time.Time{}, false
	}
	if !e.now().Before(until) {
		delete(e.blockedUntil, id)
		return time.Time{}, false
	}
	return until, true
}

// Exit ends the administrator session.
func (e *Engine) Exit(ctx context.Context, key models.SessionKey) error {
	e.mu.Lock()
	delete(e.authenticated, key.UserID)
	e.mu.Unlock()

	if err := e.sessions.Clear(ctx, key); err != nil {
		return err
	}
	slog.Info("Administrator logged out", "userID", key.UserID)
	return e.send(ctx, key, ExitMessage)
}

// HandleCommand dispatches an authenticated administrator's message. It reports
// whether text was a recognized command; anything else is rejected with a hint.
func (e *Engine) HandleCommand(ctx context.Context, key models.SessionKey, text string) bool {
	if !e.IsAuthenticated(key.UserID) {
		slog.Warn("Engine.HandleCommand refused, identity not logged in", "userID", key.UserID)
		if err := e.sessions.Clear(ctx, key); err != nil {
			slog.Error("Engine.HandleCommand clear failed", "error", err, "userID", key.UserID)
		}
		if err := e.send(ctx, key, SessionExpiredMessage); err != nil {
			slog.Error("Engine.HandleCommand notice failed", "error", err)
		}
		return false
	}
	command := strings.ToLower(strings.TrimSpace(text))
	var err error
	switch command {
	case CommandGetReport:
		err = e.getReport(ctx, key)
	case CommandRunSurvey:
		err = e.runSurvey(ctx, key)
	case CommandExitAdmin:
		err = e.Exit(ctx, key)
	default:
		slog.Warn("Administrator sent unknown command", "userID", key.UserID, "text", text)
		if err := e.send(ctx, key, UnknownCommandMessage); err != nil {
			slog.Error("Engine.HandleCommand hint failed", "error", err)
		}
		return false
	}
	if err != nil {
		slog.Error("Engine.HandleCommand failed", "error", err, "command", command, "userID", key.UserID)
	}
	return true
}

func (e *Engine) getReport(ctx context.Context, key models.SessionKey) error {
	if e.reporter == nil {
		return e.send(ctx, key, ReportFailedMessage)
	}
	if err := e.send(ctx, key, ReportPendingMessage); err != nil {
		return err
	}
	chatID := key.ChatID
	queued := e.exec.Submit("get-report", func(ctx context.Context) {
		if !e.reporter.ProcessAllData(ctx) {
			e.notify(ctx, chatID, ReportFailedMessage)
			return
		}
		path := e.reporter.LatestPath()
		if ds, ok := e.sender.(DocumentSender); ok {
			if err := ds.SendDocument(ctx, chatID, path, ReportReadyMessage); err != nil {
				slog.Error("Engine.getReport document send failed", "error", err, "path", path)
				e.notify(ctx, chatID, ReportFailedMessage)
			}
			return
		}
		e.notify(ctx, chatID, ReportReadyMessage+"\n"+path)
	})
	if !queued {
		return e.send(ctx, key, ReportFailedMessage)
	}
	return nil
}

func (e *Engine) runSurvey(ctx context.Context, key models.SessionKey) error {
	if e.broadcaster == nil {
		return e.send(ctx, key, fmt.Sprintf(BroadcastFailedMessage, 0))
	}
	if err := e.send(ctx, key, BroadcastPendingMessage); err != nil {
		return err
	}
	chatID := key.ChatID
	excluded := e.excluded(key.UserID)
	slog.Info("Administrator started survey broadcast", "userID", key.UserID, "excluded", len(excluded))
	queued := e.exec.Submit("run-survey", func(ctx context.Context) {
		attempted, succeeded := e.broadcaster.RunBroadcast(ctx, excluded)
		if succeeded > 0 {
			e.notify(ctx, chatID, fmt.Sprintf(BroadcastDoneMessage, succeeded, attempted))
			return
		}
		e.notify(ctx, chatID, fmt.Sprintf(BroadcastFailedMessage, attempted))
	})
	if !queued {
		return e.send(ctx, key, fmt.Sprintf(BroadcastFailedMessage, 0))
	}
	return nil
}

// excluded lists configured admin ids, every authenticated admin, and the invoker.
func (e *Engine) excluded(invoker string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range e.adminIDs {
		add(id)
	}
	for _, id := range e.AuthenticatedIDs() {
		add(id)
	}
	add(invoker)
	return out
}

// IsAuthenticated reports whether id is in the authenticated set.
func (e *Engine) IsAuthenticated(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.authenticated[id]
	return ok
}

// AuthenticatedIDs returns the authenticated identities, sorted.
func (e *Engine) AuthenticatedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.authenticated))
	for id := range e.authenticated {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FailedAttempts returns the failure counter for id and whether one exists.
func (e *Engine) FailedAttempts(id string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.failures[id]
	return n, ok
}

func (e *Engine) send(ctx context.Context, key models.SessionKey, body string) error {
	if err := e.sender.SendMessage(ctx, key.ChatID, body); err != nil {
		slog.Error("Admin send failed", "error", err, "key", key.String())
		return fmt.Errorf("failed to send message to %s: %w", key.ChatID, err)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, chatID, body string) {
	if err := e.sender.SendMessage(ctx, chatID, body); err != nil {
		slog.Error("Admin notify failed", "error", err, "chatID", chatID)
	}
}
