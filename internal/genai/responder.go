package genai

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Fixed replies.
const (
	ApologyMessage = "Sorry, something went wrong while processing your message. Please try rephrasing your question."
	ClarifyMessage = "Could you clarify your question, please?"
	HotlineMessage = "Please talk to your school psychologist or call a helpline: 8-800-2000-122."
)

// SystemPrompt frames the fallback assistant.
const SystemPrompt = "You are a supportive wellbeing assistant for school students. " +
	"Answer in 3 to 5 sentences. Use cognitive behavioral and mindfulness techniques. Examples:\n" +
	"1. 'Try the 4-7-8 breathing exercise: inhale for 4 seconds, hold for 7, exhale for 8.'\n" +
	"2. 'Make a to-do list ordered by priority and start with the most important task.'"

// minReplyLength is the shortest generated reply worth sending.
const minReplyLength = 15

// sensitiveTopics redirect the conversation to a human.
var sensitiveTopics = []string{"suicide", "kill myself", "self-harm", "self harm", "religion", "politics", "meaning of life"}

var roleLabelRegex = regexp.MustCompile(`(?i)\b(user|assistant|question|answer)\s*:`)

// Generator produces a raw reply.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Responder turns free-form participant messages into replies. It never fails:
// generation errors degrade to ApologyMessage.
type Responder struct {
	gen Generator
}

// NewResponder creates a Responder. A nil generator answers every message with
// ApologyMessage.
func NewResponder(gen Generator) *Responder {
	return &Responder{gen: gen}
}

// GenerateResponse returns the reply to text from participantID.
func (r *Responder) GenerateResponse(ctx context.Context, text, participantID string) string {
	if mentionsSensitiveTopic(text) {
		slog.Info("Responder redirected sensitive topic", "participantID", participantID)
		return HotlineMessage
	}
	if r.gen == nil {
		return ApologyMessage
	}
	raw, err := r.gen.Generate(ctx, SystemPrompt, text)
	if err != nil {
		slog.Error("Responder generation failed", "error", err, "participantID", participantID)
		return ApologyMessage
	}
	return postprocess(raw)
}

// postprocess strips role labels and guards against sensitive or empty output.
func postprocess(raw string) string {
	text := roleLabelRegex.ReplaceAllString(raw, "")
	text = strings.Join(strings.Fields(text), " ")
	if mentionsSensitiveTopic(text) {
		return HotlineMessage
	}
	if utf8.RuneCountInString(text) < minReplyLength {
		return ClarifyMessage
	}
	return text
}

func mentionsSensitiveTopic(text string) bool {
	lower := strings.ToLower(text)
	for _, topic := range sensitiveTopics {
		if strings.Contains(lower, topic) {
			return true
		}
	}
	return false
}
