// Package session provides the per-participant session store used by the survey and
// admin engines.
//
// Every operation is atomic for its key. Callers that need several operations to run
// as one unit (a message handler, a broadcast start) hold Lock for the key; operations
// on distinct keys never block one another.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// Error variables for session operations.
var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrInvalidMode       = errors.New("invalid session mode")
)

// Backend persists sessions. GetSession returns nil, nil when no session exists.
type Backend interface {
	GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
	SaveSession(ctx context.Context, s models.Session) error
	DeleteSession(ctx context.Context, key models.SessionKey) error
}

// Patch holds the fields UpdateData merges into a session. Nil fields are left alone.
type Patch struct {
	QuestionIndex *int
	Answers       map[string]string
	StartedAt     *time.Time
}

// Store is the session store.
type Store struct {
	backend Backend
	locks   keyedMutex // handler-level critical sections
	ops     keyedMutex // single-operation atomicity
	now     func() time.Time
}

// NewStore creates a Store on top of backend.
func NewStore(backend Backend) *Store {
	slog.Debug("Creating session Store")
	return &Store{
		backend: backend,
		now:     time.Now,
	}
}

// Lock enters the critical section for key and returns the function that leaves it.
func (s *Store) Lock(key models.SessionKey) (unlock func()) {
	return s.locks.lock(key)
}

// Get returns the session for key, or a default idle session when none exists.
func (s *Store) Get(ctx context.Context, key models.SessionKey) (models.Session, error) {
	unlock := s.ops.lock(key)
	defer unlock()
	return s.load(ctx, key)
}

// SetMode moves the session to mode, enforcing the transition table.
func (s *Store) SetMode(ctx context.Context, key models.SessionKey, mode models.Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	unlock := s.ops.lock(key)
	defer unlock()

	sess, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if !CanTransition(sess.Mode, mode) {
		slog.Warn("Session SetMode rejected", "key", key.String(), "from", sess.Mode, "to", mode)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Mode, mode)
	}
	from := sess.Mode
	sess.Mode = mode
	if err := s.save(ctx, sess); err != nil {
		return err
	}
	slog.Info("Session mode changed", "key", key.String(), "from", from, "to", mode)
	return nil
}

// UpdateData merges patch into the session's working data.
func (s *Store) UpdateData(ctx context.Context, key models.SessionKey, patch Patch) error {
	unlock := s.ops.lock(key)
	defer unlock()

	sess, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if patch.QuestionIndex != nil {
		sess.QuestionIndex = *patch.QuestionIndex
	}
	if patch.StartedAt != nil {
		sess.StartedAt = *patch.StartedAt
	}
	for field, value := range patch.Answers {
		sess.Answers[field] = value
	}
	if err := s.save(ctx, sess); err != nil {
		return err
	}
	slog.Debug("Session UpdateData succeeded", "key", key.String(), "answers", len(sess.Answers), "index", sess.QuestionIndex)
	return nil
}

// Clear resets the session to idle and drops its working data.
func (s *Store) Clear(ctx context.Context, key models.SessionKey) error {
	unlock := s.ops.lock(key)
	defer unlock()

	if err := s.backend.DeleteSession(ctx, key); err != nil {
		slog.Error("Session Clear failed", "error", err, "key", key.String())
		return fmt.Errorf("failed to clear session %s: %w", key, err)
	}
	slog.Debug("Session cleared", "key", key.String())
	return nil
}

func (s *Store) load(ctx context.Context, key models.SessionKey) (models.Session, error) {
	stored, err := s.backend.GetSession(ctx, key)
	if err != nil {
		slog.Error("Session load failed", "error", err, "key", key.String())
		return models.Session{}, fmt.Errorf("failed to load session %s: %w", key, err)
	}
	if stored == nil {
		return models.NewSession(key), nil
	}
	sess := stored.Clone()
	sess.Key = key
	if !sess.Mode.IsValid() {
		slog.Warn("Session has unknown mode, treating as idle", "key", key.String(), "mode", sess.Mode)
		sess.Mode = models.ModeIdle
	}
	return sess, nil
}

func (s *Store) save(ctx context.Context, sess models.Session) error {
	sess.UpdatedAt = s.now()
	if err := s.backend.SaveSession(ctx, sess); err != nil {
		slog.Error("Session save failed", "error", err, "key", sess.Key.String())
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds or waits on it.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[models.SessionKey]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key models.SessionKey) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[models.SessionKey]*lockEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// size reports how many keys currently have a live entry.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
