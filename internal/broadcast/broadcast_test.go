package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/session"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
	"github.com/BTreeMap/SurveyPipe/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

type failingRegistry struct{}

func (failingRegistry) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return nil, errors.New("db down")
}

type recordingStarter struct {
	mu      sync.Mutex
	started []models.SessionKey
	fail    map[string]bool
	panics  map[string]bool
}

func (r *recordingStarter) Start(ctx context.Context, key models.SessionKey) error {
	if r.panics[key.UserID] {
		panic("boom")
	}
	if r.fail[key.UserID] {
		return errors.New("send failed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, key)
	return nil
}

func registryWith(t *testing.T, ids ...string) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	for _, id := range ids {
		if _, err := st.RegisterParticipant(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestRunBroadcastExcludesAdmins(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := registryWith(t, "1", "2", "3", "4", "5")
	sessions := session.NewStore(st)
	starter := &recordingStarter{}
	o := NewOrchestrator(st, sessions, starter, WithConcurrency(2))

	attempted, succeeded := o.RunBroadcast(context.Background(), []string{"2", "5", "not-registered"})
	if attempted != 3 || succeeded != 3 {
		t.Errorf("RunBroadcast = (%d, %d), want (3, 3)", attempted, succeeded)
	}

	var got []string
	for _, k := range starter.started {
		if k.ChatID != k.UserID {
			t.Errorf("target key %v is not a one-to-one key", k)
		}
		got = append(got, k.UserID)
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"1", "3", "4"}, got); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestRunBroadcastIsolatesFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := registryWith(t, "1", "2", "3", "4")
	starter := &recordingStarter{
		fail:   map[string]bool{"2": true},
		panics: map[string]bool{"3": true},
	}
	o := NewOrchestrator(st, session.NewStore(st), starter)

	attempted, succeeded := o.RunBroadcast(context.Background(), nil)
	if attempted != 4 || succeeded != 2 {
		t.Errorf("RunBroadcast = (%d, %d), want (4, 2)", attempted, succeeded)
	}
}

func TestRunBroadcastRegistryFailure(t *testing.T) {
	o := NewOrchestrator(failingRegistry{}, session.NewStore(store.NewInMemoryStore()), &recordingStarter{})
	attempted, succeeded := o.RunBroadcast(context.Background(), nil)
	if attempted != 0 || succeeded != 0 {
		t.Errorf("RunBroadcast = (%d, %d), want (0, 0)", attempted, succeeded)
	}
}

func TestRunBroadcastStartsRealSurveys(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := registryWith(t, "10", "20", "30", "admin")
	sessions := session.NewStore(st)
	msgs := testutil.NewMockMessagingService()
	msgs.FailFor("30")
	engine := survey.NewEngine(sessions, survey.DefaultCatalog(), msgs, st)
	o := NewOrchestrator(st, sessions, engine)

	attempted, succeeded := o.RunBroadcast(context.Background(), []string{"admin"})
	if attempted != 3 || succeeded != 2 {
		t.Errorf("RunBroadcast = (%d, %d), want (3, 2)", attempted, succeeded)
	}

	ctx := context.Background()
	for _, id := range []string{"10", "20"} {
		sess, err := sessions.Get(ctx, models.KeyFor(id))
		if err != nil {
			t.Fatal(err)
		}
		if sess.Mode != models.ModeSurveyInProgress || sess.QuestionIndex != 0 {
			t.Errorf("participant %s: mode=%s index=%d", id, sess.Mode, sess.QuestionIndex)
		}
	}
	for _, id := range []string{"30", "admin"} {
		if engine.IsActive(ctx, models.KeyFor(id)) {
			t.Errorf("participant %s has an active survey", id)
		}
	}
}
