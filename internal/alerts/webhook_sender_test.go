package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWebhookSender_Send(t *testing.T) {
	var received Alert
	var kindHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		kindHeader = r.Header.Get("X-Rxsync-Alert-Kind")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{URL: server.URL, Timeout: 2 * time.Second})
	alert := makeTestAlert(ChannelWebhook)

	if err := sender.Send(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.ID != alert.ID {
		t.Errorf("expected alert id %s, got %s", alert.ID, received.ID)
	}
	if kindHeader != string(KindOrderStatus) {
		t.Errorf("expected kind header, got %q", kindHeader)
	}
}

func TestWebhookSender_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer server.Close()

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{URL: server.URL})
	if err := sender.Send(context.Background(), makeTestAlert(ChannelWebhook)); err == nil {
		t.Error("expected error for 503")
	}
}

func TestWebhookSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		channel Channel
	}{
		{"missing url", "", ChannelWebhook},
		{"wrong channel", "http://localhost:1", ChannelEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewWebhookSender(zap.NewNop(), WebhookConfig{URL: tt.url})
			if err := sender.Send(context.Background(), makeTestAlert(tt.channel)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
