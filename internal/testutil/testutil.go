// Package testutil provides common test utilities and helpers for SurveyPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
)

// ErrSendFailed is returned by MockMessagingService for recipients marked with FailFor.
var ErrSendFailed = errors.New("mock send failed")

// SentMessage is one message recorded by MockMessagingService.
type SentMessage struct {
	To       string
	Body     string
	Document string // file name when the message was a document
}

// MockMessagingService records every outgoing message. Safe for concurrent use.
type MockMessagingService struct {
	mu        sync.Mutex
	sent      []SentMessage
	failing   map[string]bool
	receipts  chan models.Receipt
	responses chan models.Response
}

// NewMockMessagingService creates a mock whose Responses channel can be fed with Deliver.
func NewMockMessagingService() *MockMessagingService {
	return &MockMessagingService{
		failing:   make(map[string]bool),
		receipts:  make(chan models.Receipt, 16),
		responses: make(chan models.Response, 64),
	}
}

// FailFor makes every send to recipient return ErrSendFailed.
func (m *MockMessagingService) FailFor(recipient string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[recipient] = true
}

func (m *MockMessagingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", errors.New("empty recipient")
	}
	return r, nil
}

func (m *MockMessagingService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[to] {
		return ErrSendFailed
	}
	slog.Debug("MockMessagingService.SendMessage", "to", to, "messageLength", len(body))
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockMessagingService) SendDocument(ctx context.Context, to string, path string, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[to] {
		return ErrSendFailed
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: caption, Document: path})
	return nil
}

func (m *MockMessagingService) Start(ctx context.Context) error { return nil }

func (m *MockMessagingService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses != nil {
		close(m.responses)
		close(m.receipts)
		m.responses = nil
		m.receipts = nil
	}
	return nil
}

func (m *MockMessagingService) Receipts() <-chan models.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receipts
}

func (m *MockMessagingService) Responses() <-chan models.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responses
}

// Deliver pushes an inbound message onto the Responses channel.
func (m *MockMessagingService) Deliver(from, body string) {
	m.mu.Lock()
	ch := m.responses
	m.mu.Unlock()
	ch <- models.Response{From: from, ChatID: from, Body: body, Time: time.Now().Unix()}
}

// Sent returns a copy of every recorded message.
func (m *MockMessagingService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the bodies sent to recipient, in order.
func (m *MockMessagingService) SentTo(recipient string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.To == recipient {
			out = append(out, s.Body)
		}
	}
	return out
}

// LastTo returns the last body sent to recipient, or "".
func (m *MockMessagingService) LastTo(recipient string) string {
	msgs := m.SentTo(recipient)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// Reset forgets recorded messages.
func (m *MockMessagingService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// SeedTestData registers participants and stores one submission per participant.
func SeedTestData(t *testing.T, st store.Store, participantIDs ...string) {
	t.Helper()
	ctx := context.Background()
	for i, id := range participantIDs {
		if _, err := st.RegisterParticipant(ctx, id); err != nil {
			t.Fatalf("failed to register participant %s: %v", id, err)
		}
		sub := models.Submission{
			ID:            "seed-" + id,
			ParticipantID: id,
			Answers:       map[string]string{"steps": "1000", "mood": "5"},
			CompletedAt:   time.Unix(int64(1700000000+i), 0).UTC(),
		}
		if err := st.SaveSubmission(ctx, sub); err != nil {
			t.Fatalf("failed to save submission for %s: %v", id, err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
