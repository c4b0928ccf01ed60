package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/google/go-cmp/cmp"
)

func newTestStore() *Store {
	return NewStore(store.NewInMemoryStore())
}

func TestCanTransition(t *testing.T) {
	allowed := map[models.Mode][]models.Mode{
		models.ModeIdle:               {models.ModeIdle, models.ModeAdminAuthRequested, models.ModeConsentPending, models.ModeSurveyInProgress},
		models.ModeAdminAuthRequested: {models.ModeIdle, models.ModeAdminAuthRequested, models.ModeAdminAuthenticated, models.ModeSurveyInProgress},
		models.ModeAdminAuthenticated: {models.ModeIdle},
		models.ModeConsentPending:     {models.ModeIdle, models.ModeAdminAuthRequested, models.ModeConsentPending, models.ModeSurveyInProgress},
		models.ModeSurveyInProgress:   {models.ModeIdle, models.ModeAdminAuthRequested, models.ModeSurveyInProgress},
	}
	for _, from := range models.AllModes {
		want := make(map[models.Mode]bool)
		for _, to := range allowed[from] {
			want[to] = true
		}
		for _, to := range models.AllModes {
			if got := CanTransition(from, to); got != want[to] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want[to])
			}
		}
	}
}

func TestGetDefaultsToIdle(t *testing.T) {
	s := newTestStore()
	key := models.KeyFor("100")
	sess, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Mode != models.ModeIdle || sess.QuestionIndex != 0 || len(sess.Answers) != 0 {
		t.Errorf("unexpected default session: %+v", sess)
	}
	if sess.Key != key {
		t.Errorf("Key = %v, want %v", sess.Key, key)
	}
}

func TestSetModeEnforcesTransitions(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := models.KeyFor("100")

	if err := s.SetMode(ctx, key, models.ModeAdminAuthenticated); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("IDLE -> AUTHENTICATED: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.SetMode(ctx, key, models.ModeAdminAuthRequested); err != nil {
		t.Fatalf("IDLE -> AUTH_REQUESTED: %v", err)
	}
	if err := s.SetMode(ctx, key, models.ModeAdminAuthenticated); err != nil {
		t.Fatalf("AUTH_REQUESTED -> AUTHENTICATED: %v", err)
	}
	if err := s.SetMode(ctx, key, models.ModeSurveyInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("AUTHENTICATED -> SURVEY: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.SetMode(ctx, key, models.Mode("BOGUS")); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}

	sess, _ := s.Get(ctx, key)
	if sess.Mode != models.ModeAdminAuthenticated {
		t.Errorf("mode = %s after rejected transitions, want %s", sess.Mode, models.ModeAdminAuthenticated)
	}
}

func TestUpdateDataMerges(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := models.KeyFor("100")
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	idx := 1

	if err := s.UpdateData(ctx, key, Patch{Answers: map[string]string{"steps": "8000"}, StartedAt: &started}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateData(ctx, key, Patch{Answers: map[string]string{"mood": "4"}, QuestionIndex: &idx}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"steps": "8000", "mood": "4"}, sess.Answers); diff != "" {
		t.Errorf("answers mismatch (-want +got):\n%s", diff)
	}
	if sess.QuestionIndex != 1 {
		t.Errorf("QuestionIndex = %d, want 1", sess.QuestionIndex)
	}
	if !sess.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", sess.StartedAt, started)
	}
}

func TestClearResetsToIdle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := models.KeyFor("100")

	if err := s.SetMode(ctx, key, models.ModeSurveyInProgress); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateData(ctx, key, Patch{Answers: map[string]string{"steps": "1"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx, key); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.Get(ctx, key)
	if sess.Mode != models.ModeIdle || len(sess.Answers) != 0 {
		t.Errorf("session not cleared: %+v", sess)
	}
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	a := models.SessionKey{ChatID: "group", UserID: "a"}
	b := models.SessionKey{ChatID: "group", UserID: "b"}

	if err := s.SetMode(ctx, a, models.ModeConsentPending); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.Get(ctx, b)
	if sess.Mode != models.ModeIdle {
		t.Errorf("key b affected by key a: %s", sess.Mode)
	}
}

func TestLockSerializesSameKey(t *testing.T) {
	s := newTestStore()
	key := models.KeyFor("100")

	unlock := s.Lock(key)
	acquired := make(chan struct{})
	go func() {
		u := s.Lock(key)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	// A different key is never blocked.
	otherDone := make(chan struct{})
	go func() {
		u := s.Lock(models.KeyFor("200"))
		u()
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("lock on a distinct key blocked")
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after unlock")
	}
}

func TestLockEntriesAreReleased(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(models.KeyFor("100"))
			unlock()
			unlock() // second call is a no-op
		}()
	}
	wg.Wait()
	if n := s.locks.size(); n != 0 {
		t.Errorf("lock table holds %d entries after all unlocks, want 0", n)
	}
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := models.KeyFor("100")
	fields := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for _, f := range fields {
		wg.Add(1)
		go func(field string) {
			defer wg.Done()
			if err := s.UpdateData(ctx, key, Patch{Answers: map[string]string{field: "x"}}); err != nil {
				t.Error(err)
			}
		}(f)
	}
	wg.Wait()

	sess, _ := s.Get(ctx, key)
	if len(sess.Answers) != len(fields) {
		t.Errorf("got %d answers, want %d: %v", len(sess.Answers), len(fields), sess.Answers)
	}
}
