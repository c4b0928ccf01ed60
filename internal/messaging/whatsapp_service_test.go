package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/whatsapp"
	"github.com/google/go-cmp/cmp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Ensure WhatsAppService implements Service and DocumentSender
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ DocumentSender = (*WhatsAppService)(nil)
}

// Test SendMessage canonicalizes the recipient and emits a sent receipt
func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+1 (234) 567-890", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "1234567890" {
			t.Errorf("expected receipt.To 1234567890, got %s", receipt.To)
		}
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected receipt.Status %s, got %s", models.MessageStatusSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
	if len(mockClient.Sent) != 1 || mockClient.Sent[0].To != "1234567890" {
		t.Errorf("unexpected sent messages: %+v", mockClient.Sent)
	}
}

func TestWhatsAppService_SendDocument(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendDocument(context.Background(), "1234567", "/tmp/report.csv", "report"); err != nil {
		t.Fatalf("SendDocument returned error: %v", err)
	}
	want := []whatsapp.SentMessage{{To: "1234567", Body: "report", Path: "/tmp/report.csv"}}
	if diff := cmp.Diff(want, mockClient.Sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestWhatsAppService_RejectsInvalidRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	for _, to := range []string{"", "abc", "+12"} {
		if err := svc.SendMessage(context.Background(), to, "x"); err == nil {
			t.Errorf("expected error for recipient %q", to)
		}
	}
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "1234567", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestWhatsAppService_HandleIncomingText(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	sender := types.NewJID("4915112345", types.DefaultUserServer)
	ts := time.Unix(1700000000, 0)
	svc.handleEvent(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: sender, Sender: sender},
			ID:            "MSG1",
			Timestamp:     ts,
		},
		Message: &waE2E.Message{Conversation: proto.String("/start")},
	})
	select {
	case got := <-svc.Responses():
		want := models.Response{ID: "MSG1", ChatID: "4915112345", From: "4915112345", Body: "/start", Time: ts.Unix()}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("response mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("expected response")
	}
}

func TestWhatsAppService_IgnoresGroupAndNonText(t *testing.T) {
	user := types.NewJID("4915112345", types.DefaultUserServer)
	group := types.NewJID("12036302", types.GroupServer)
	tests := []*events.Message{
		{Info: types.MessageInfo{MessageSource: types.MessageSource{Chat: group, Sender: user, IsGroup: true}}, Message: &waE2E.Message{Conversation: proto.String("hi")}},
		{Info: types.MessageInfo{MessageSource: types.MessageSource{Chat: user, Sender: user}}, Message: &waE2E.Message{}},
		{Info: types.MessageInfo{MessageSource: types.MessageSource{Chat: user, Sender: user, IsFromMe: true}}, Message: &waE2E.Message{Conversation: proto.String("echo")}},
		{Info: types.MessageInfo{MessageSource: types.MessageSource{Chat: user, Sender: user}}},
	}
	for i, evt := range tests {
		if _, ok := responseFromMessage(evt); ok {
			t.Errorf("case %d: expected message to be ignored", i)
		}
	}
}

func TestReceiptFromEvent(t *testing.T) {
	chat := types.NewJID("4915112345", types.DefaultUserServer)
	ts := time.Unix(1700000100, 0)
	delivered := &events.Receipt{MessageSource: types.MessageSource{Chat: chat}, Type: events.ReceiptTypeDelivered, Timestamp: ts}
	got, ok := receiptFromEvent(delivered)
	if !ok || got.Status != models.MessageStatusDelivered || got.To != "4915112345" || got.Time != ts.Unix() {
		t.Errorf("unexpected receipt %+v ok=%v", got, ok)
	}
	self := &events.Receipt{MessageSource: types.MessageSource{Chat: chat}, Type: events.ReceiptTypeReadSelf}
	if _, ok := receiptFromEvent(self); ok {
		t.Error("expected self-read receipt to be dropped")
	}
}
