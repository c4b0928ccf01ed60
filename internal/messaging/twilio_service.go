package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/twiliowhatsapp"
	"github.com/twilio/twilio-go/client"
)

// twilioSignatureHeader carries the HMAC Twilio computes over each webhook request.
const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature does not
// match authToken for the public webhookURL.
func WithSignatureValidation(authToken, webhookURL string) TwilioOption {
	return func(s *TwilioService) {
		v := client.NewRequestValidator(authToken)
		s.validator = &v
		s.webhookURL = webhookURL
	}
}

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client     twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	validator  *client.RequestValidator
	webhookURL string
	receipts   chan models.Receipt
	responses  chan models.Response
	mu         sync.RWMutex
	stopped    bool
}

// NewTwilioService creates a new TwilioService around a Twilio client.
func NewTwilioService(sender twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:    sender,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces recipient to its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("TwilioService", strings.TrimPrefix(recipient, twiliowhatsapp.ChannelPrefix))
}

// Start is a no-op for Twilio; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}

	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel fed by the inbound webhook.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *TwilioService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

// statusFor maps a Twilio MessageStatus callback value to a receipt status.
func statusFor(twilioStatus string) (models.MessageStatus, bool) {
	switch twilioStatus {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed", "undelivered":
		return models.MessageStatusFailed, true
	}
	return "", false
}

// TwilioWebhookHandler handles inbound Twilio webhook requests: incoming messages are
// emitted on Responses, status callbacks on Receipts.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get(twilioSignatureHeader)) {
			slog.Warn("Twilio webhook signature mismatch", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")

	if status := r.FormValue("MessageStatus"); status != "" && body == "" {
		s.handleStatusCallback(w, r.FormValue("To"), status)
		return
	}

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonicalFrom, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", canonicalFrom, "body_length", len(body))
	s.emitResponse(models.Response{
		ID:     r.FormValue("MessageSid"),
		ChatID: canonicalFrom,
		From:   canonicalFrom,
		Body:   body,
		Time:   time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) handleStatusCallback(w http.ResponseWriter, to, twilioStatus string) {
	status, ok := statusFor(twilioStatus)
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if ok && err == nil {
		s.emitReceipt(models.Receipt{To: canonicalTo, Status: status, Time: time.Now().Unix()})
	} else {
		slog.Debug("TwilioService ignoring status callback", "status", twilioStatus)
	}
	w.WriteHeader(http.StatusNoContent)
}

// emitResponse pushes an inbound message into the responses channel.
func (s *TwilioService) emitResponse(response models.Response) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("TwilioService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}
