package models

import (
	"errors"
	"testing"
)

func TestResponseKeyFallsBackToSender(t *testing.T) {
	r := Response{From: "15551234567", Body: " hi "}
	key := r.Key()
	if key.ChatID != "15551234567" || key.UserID != "15551234567" {
		t.Errorf("unexpected key %v", key)
	}
	if r.Text() != "hi" {
		t.Errorf("expected trimmed text, got %q", r.Text())
	}

	group := Response{ChatID: "chat-1", From: "user-1"}
	if got := group.Key(); got != (SessionKey{ChatID: "chat-1", UserID: "user-1"}) {
		t.Errorf("unexpected group key %v", got)
	}
}

func TestModeIsValid(t *testing.T) {
	for _, m := range AllModes {
		if !m.IsValid() {
			t.Errorf("expected %s to be valid", m)
		}
	}
	if Mode("SOMETHING_ELSE").IsValid() {
		t.Error("unexpected valid mode")
	}
}

func TestSessionCloneDoesNotShareAnswers(t *testing.T) {
	s := NewSession(KeyFor("1"))
	s.Answers["steps"] = "500"
	c := s.Clone()
	c.Answers["mood"] = "Good"
	if _, ok := s.Answers["mood"]; ok {
		t.Error("clone mutated the original answers map")
	}
}

func TestSubmissionValidate(t *testing.T) {
	s := Submission{}
	if err := s.Validate(); !errors.Is(err, ErrEmptyParticipantID) {
		t.Errorf("expected ErrEmptyParticipantID, got %v", err)
	}
	s.ParticipantID = "1"
	if err := s.Validate(); !errors.Is(err, ErrEmptyAnswers) {
		t.Errorf("expected ErrEmptyAnswers, got %v", err)
	}
	s.Answers = map[string]string{"steps": "10"}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != APIStatusOK || ok.Result == nil {
		t.Errorf("unexpected success response %+v", ok)
	}
	e := Error("boom")
	if e.Status != APIStatusError || e.Message != "boom" {
		t.Errorf("unexpected error response %+v", e)
	}
}
