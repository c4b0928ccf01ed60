// Package models defines the core data structures for SurveyPipe.
//
// It includes types for inbound messages, delivery receipts, sessions, and survey
// submissions, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

var (
	ErrEmptyParticipantID = errors.New("participant id cannot be empty")
	ErrEmptyChatID        = errors.New("chat id cannot be empty")
	ErrEmptyAnswers       = errors.New("submission has no answers")
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

// Receipt statuses reported by the transports.
const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// Receipt records a delivery event for an outgoing message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a participant.
// ChatID identifies the conversation the reply goes to; From identifies the sender.
// For one-to-one chats both carry the same canonical number.
type Response struct {
	ID     string `json:"id,omitempty"`
	ChatID string `json:"chat_id"`
	From   string `json:"from"`
	Body   string `json:"body"`
	Time   int64  `json:"time"`
}

// Key returns the session key this message belongs to.
// An empty ChatID falls back to the sender, which is the one-to-one case.
func (r Response) Key() SessionKey {
	chat := r.ChatID
	if chat == "" {
		chat = r.From
	}
	return SessionKey{ChatID: chat, UserID: r.From}
}

// Text returns the message body without surrounding whitespace.
func (r Response) Text() string {
	return strings.TrimSpace(r.Body)
}

// APIResponse is the JSON envelope of every HTTP reply.
type APIResponse struct {
	Status  APIStatus `json:"status"`
	Message string    `json:"message,omitempty"`
	Result  any       `json:"result,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result any) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error builds an error envelope carrying message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
