package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
	handlerID uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient reduces recipient to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("WhatsAppService", recipient)
}

// Start registers the event handler that feeds Responses and Receipts.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop unregisters the event handler and closes the channels. It is idempotent.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
		s.waClient.GetClient().Disconnect()
	}
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	slog.Debug("WhatsAppService SendMessage invoked", "to", canonicalTo, "body_length", len(body))
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// SendDocument uploads the file at path and sends it with caption.
func (s *WhatsAppService) SendDocument(ctx context.Context, to string, path string, caption string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendDocument(ctx, canonicalTo, path, caption); err != nil {
		slog.Error("WhatsAppService SendDocument error", "error", err, "to", canonicalTo, "path", path)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if resp, ok := responseFromMessage(v); ok {
			s.emitResponse(resp)
		}
	case *events.Receipt:
		if r, ok := receiptFromEvent(v); ok {
			s.emitReceipt(r)
		}
	default:
		slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
	}
}

// responseFromMessage extracts a text message from a one-to-one chat.
func responseFromMessage(evt *events.Message) (models.Response, bool) {
	if evt.Message == nil {
		return models.Response{}, false
	}
	if evt.Info.IsFromMe {
		return models.Response{}, false
	}
	if evt.Info.IsGroup {
		slog.Debug("WhatsAppService ignoring group message", "chat", evt.Info.Chat.String())
		return models.Response{}, false
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return models.Response{}, false
	}

	return models.Response{
		ID:     string(evt.Info.ID),
		ChatID: evt.Info.Chat.User,
		From:   evt.Info.Sender.User,
		Body:   messageText,
		Time:   evt.Info.Timestamp.Unix(),
	}, true
}

// receiptFromEvent maps delivery and read receipts; other receipt types are dropped.
func receiptFromEvent(evt *events.Receipt) (models.Receipt, bool) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		slog.Debug("WhatsAppService ignoring receipt type", "type", evt.Type)
		return models.Receipt{}, false
	}
	return models.Receipt{
		To:     evt.MessageSource.Chat.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}, true
}

func (s *WhatsAppService) emitResponse(response models.Response) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", response.From)
		return
	}
	select {
	case s.responses <- response:
		slog.Debug("WhatsAppService incoming message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", receipt.To, "timeout", DefaultChannelTimeout)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
