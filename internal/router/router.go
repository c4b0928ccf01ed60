// Package router dispatches inbound messages to the admin engine, the survey engine,
// or the free-form fallback, in a fixed priority order.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/session"
)

// Commands recognized outside of admin mode.
const (
	AdminEntryToken = "/admin"
	StartCommand    = "/start"
	SurveyCommand   = "/survey"
)

// Admin is the slice of the admin engine the router needs.
type Admin interface {
	RequestAuth(ctx context.Context, key models.SessionKey) error
	CheckPassword(ctx context.Context, key models.SessionKey, submitted string) (bool, error)
	HandleCommand(ctx context.Context, key models.SessionKey, text string) bool
	IsAuthenticated(id string) bool
}

// Surveys is the slice of the survey engine the router needs.
type Surveys interface {
	RequestConsent(ctx context.Context, key models.SessionKey) error
	HandleConsent(ctx context.Context, key models.SessionKey, text string) error
	RequestSurvey(ctx context.Context, key models.SessionKey) error
	HandleAnswer(ctx context.Context, key models.SessionKey, text string) error
}

// Responder generates free-form replies. It never fails; errors degrade to a fixed reply.
type Responder interface {
	GenerateResponse(ctx context.Context, text, participantID string) string
}

// Sender delivers a text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

type handler func(ctx context.Context, key models.SessionKey, body string) error

// rule is one (predicate, handler) pair. text is the trimmed message body.
type rule struct {
	name   string
	match  func(mode models.Mode, text string) bool
	handle handler
}

// Router routes messages. Messages for one session key are handled strictly in
// arrival order; distinct keys are handled concurrently.
type Router struct {
	sessions *session.Store
	admin    Admin
	surveys  Surveys
	fallback Responder
	sender   Sender
	rules    []rule

	mu     sync.Mutex
	queues map[models.SessionKey][]models.Response
	wg     sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(sessions *session.Store, admin Admin, surveys Surveys, fallback Responder, sender Sender) *Router {
	r := &Router{
		sessions: sessions,
		admin:    admin,
		surveys:  surveys,
		fallback: fallback,
		sender:   sender,
		queues:   make(map[models.SessionKey][]models.Response),
	}
	r.rules = []rule{
		{"admin-command", inMode(models.ModeAdminAuthenticated), r.handleAdminCommand},
		{"admin-entry", func(_ models.Mode, text string) bool { return strings.HasPrefix(text, AdminEntryToken) }, func(ctx context.Context, key models.SessionKey, _ string) error {
			return r.admin.RequestAuth(ctx, key)
		}},
		{"admin-password", inMode(models.ModeAdminAuthRequested), r.handlePassword},
		{"consent", inMode(models.ModeConsentPending), r.surveys.HandleConsent},
		{"survey-answer", inMode(models.ModeSurveyInProgress), r.surveys.HandleAnswer},
		{"start", idleCommand(StartCommand), func(ctx context.Context, key models.SessionKey, _ string) error {
			return r.surveys.RequestConsent(ctx, key)
		}},
		{"survey-start", idleCommand(SurveyCommand), func(ctx context.Context, key models.SessionKey, _ string) error {
			return r.surveys.RequestSurvey(ctx, key)
		}},
		{"fallback", func(models.Mode, string) bool { return true }, r.handleFallback},
	}
	return r
}

func inMode(m models.Mode) func(models.Mode, string) bool {
	return func(mode models.Mode, _ string) bool { return mode == m }
}

func idleCommand(cmd string) func(models.Mode, string) bool {
	return func(mode models.Mode, text string) bool {
		return mode == models.ModeIdle && strings.EqualFold(text, cmd)
	}
}

// Route handles one message under its session lock and returns the name of the rule
// that handled it.
func (r *Router) Route(ctx context.Context, resp models.Response) (string, error) {
	key := resp.Key()
	unlock := r.sessions.Lock(key)
	defer unlock()

	sess, err := r.sessions.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	// A stored admin mode outlives the in-memory login set across restarts.
	if sess.Mode == models.ModeAdminAuthenticated && !r.admin.IsAuthenticated(key.UserID) {
		slog.Warn("Router stale admin session reset", "key", key.String())
		if err := r.sessions.Clear(ctx, key); err != nil {
			return "", fmt.Errorf("failed to reset stale admin session: %w", err)
		}
		sess.Mode = models.ModeIdle
	}
	text := resp.Text()
	for _, rl := range r.rules {
		if !rl.match(sess.Mode, text) {
			continue
		}
		slog.Debug("Router.Route matched", "rule", rl.name, "key", key.String(), "mode", sess.Mode)
		if err := rl.handle(ctx, key, resp.Body); err != nil {
			return rl.name, fmt.Errorf("%s handler failed: %w", rl.name, err)
		}
		return rl.name, nil
	}
	return "", nil
}

func (r *Router) handleAdminCommand(ctx context.Context, key models.SessionKey, body string) error {
	r.admin.HandleCommand(ctx, key, body)
	return nil
}

func (r *Router) handlePassword(ctx context.Context, key models.SessionKey, body string) error {
	_, err := r.admin.CheckPassword(ctx, key, body)
	return err
}

func (r *Router) handleFallback(ctx context.Context, key models.SessionKey, body string) error {
	text := strings.TrimSpace(body)
	if text == "" || r.fallback == nil {
		slog.Debug("Router fallback skipped", "key", key.String(), "empty", text == "")
		return nil
	}
	reply := r.fallback.GenerateResponse(ctx, text, key.UserID)
	if reply == "" {
		return nil
	}
	return r.sender.SendMessage(ctx, key.ChatID, reply)
}

// Start consumes responses until ctx is cancelled or the channel closes.
func (r *Router) Start(ctx context.Context, responses <-chan models.Response) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		slog.Info("Router started")
		for {
			select {
			case <-ctx.Done():
				slog.Info("Router stopping", "reason", ctx.Err())
				return
			case resp, ok := <-responses:
				if !ok {
					slog.Info("Router stopping, response channel closed")
					return
				}
				r.Dispatch(ctx, resp)
			}
		}
	}()
}

// Dispatch queues resp behind earlier messages for the same key.
func (r *Router) Dispatch(ctx context.Context, resp models.Response) {
	key := resp.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	pending, draining := r.queues[key]
	r.queues[key] = append(pending, resp)
	if !draining {
		r.wg.Add(1)
		go r.drain(ctx, key)
	}
}

// drain handles queued messages for key until the queue is empty.
func (r *Router) drain(ctx context.Context, key models.SessionKey) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		pending := r.queues[key]
		if len(pending) == 0 {
			delete(r.queues, key)
			r.mu.Unlock()
			return
		}
		resp := pending[0]
		r.queues[key] = pending[1:]
		r.mu.Unlock()

		r.routeSafely(ctx, resp)
	}
}

func (r *Router) routeSafely(ctx context.Context, resp models.Response) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Router handler panicked", "key", resp.Key().String(), "panic", fmt.Sprint(p))
		}
	}()
	if name, err := r.Route(ctx, resp); err != nil {
		slog.Error("Router.Route failed", "error", err, "rule", name, "key", resp.Key().String())
	}
}

// Wait blocks until the consume loop and every in-flight drain have finished.
func (r *Router) Wait() {
	r.wg.Wait()
}
