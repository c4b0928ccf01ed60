// Package messaging defines the transport abstraction SurveyPipe talks through and its
// WhatsApp and Twilio implementations.
package messaging

import (
	"context"
	"errors"
	"regexp"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// minPhoneDigits is the shortest accepted canonical phone number.
const minPhoneDigits = 6

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming participant responses.
	Responses() <-chan models.Response
}

// DocumentSender is implemented by services that can deliver a file attachment.
type DocumentSender interface {
	SendDocument(ctx context.Context, to string, path string, caption string) error
}
