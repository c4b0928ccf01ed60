// Package store provides storage backends for SurveyPipe.
//
// It includes an in-memory store and persistent SQLite / PostgreSQL stores for
// sessions, the participant registry, completed survey submissions, and receipts.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// ErrDuplicateSubmission is returned when a submission id is stored twice.
var ErrDuplicateSubmission = errors.New("submission already stored")

// Store is the persistence surface the rest of SurveyPipe depends on.
type Store interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)

	// GetSession returns nil, nil when no session exists for key.
	GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
	SaveSession(ctx context.Context, s models.Session) error
	DeleteSession(ctx context.Context, key models.SessionKey) error

	// RegisterParticipant adds id to the registry. It returns false when id was
	// already registered; the registry never holds duplicates.
	RegisterParticipant(ctx context.Context, id string) (bool, error)
	// IsRegistered reports whether id has given consent and is in the registry.
	IsRegistered(ctx context.Context, id string) (bool, error)
	// ListParticipants returns every registered participant in registration order.
	ListParticipants(ctx context.Context) ([]models.Participant, error)

	// SaveSubmission appends a completed survey.
	SaveSubmission(ctx context.Context, sub models.Submission) error
	// ListSubmissions returns every stored submission in arrival order.
	ListSubmissions(ctx context.Context) ([]models.Submission, error)

	Close() error
}

// Opts holds configuration for persistent stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3"
// for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store matching dsn. An empty dsn yields an in-memory store.
func New(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// InMemoryStore is a Store kept entirely in process memory. Safe for concurrent use.
type InMemoryStore struct {
	mu           sync.RWMutex
	receipts     []models.Receipt
	sessions     map[models.SessionKey]models.Session
	participants []models.Participant
	registered   map[string]struct{}
	submissions  []models.Submission
	submittedIDs map[string]struct{}
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:     make(map[models.SessionKey]models.Session),
		registered:   make(map[string]struct{}),
		submittedIDs: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	c := sess.Clone()
	return &c, nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Key] = sess.Clone()
	return nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, key models.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *InMemoryStore) RegisterParticipant(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, models.ErrEmptyParticipantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registered[id]; ok {
		return false, nil
	}
	s.registered[id] = struct{}{}
	s.participants = append(s.participants, models.Participant{ID: id, RegisteredAt: time.Now()})
	return true, nil
}

func (s *InMemoryStore) IsRegistered(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registered[id]
	return ok, nil
}

func (s *InMemoryStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, len(s.participants))
	copy(out, s.participants)
	return out, nil
}

func (s *InMemoryStore) SaveSubmission(ctx context.Context, sub models.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID != "" {
		if _, dup := s.submittedIDs[sub.ID]; dup {
			return ErrDuplicateSubmission
		}
		s.submittedIDs[sub.ID] = struct{}{}
	}
	answers := make(map[string]string, len(sub.Answers))
	for k, v := range sub.Answers {
		answers[k] = v
	}
	sub.Answers = answers
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *InMemoryStore) ListSubmissions(ctx context.Context) ([]models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Submission, len(s.submissions))
	copy(out, s.submissions)
	return out, nil
}

// SessionKeys returns the keys of all stored sessions, sorted (for tests and stats).
func (s *InMemoryStore) SessionKeys() []models.SessionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]models.SessionKey, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (s *InMemoryStore) Close() error {
	return nil
}
