// Package alerts turns notification and fulfillment changes into outbound
// alerts and delivers them through channel senders with retries.
package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Channel is an alert delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
	ChannelQueue   Channel = "queue"
	ChannelTopic   Channel = "topic"
	ChannelLog     Channel = "log"
)

// Kind is what an alert is about.
type Kind string

const (
	KindPharmacyResponse Kind = "pharmacy_response"
	KindOrderStatus      Kind = "order_status"
	KindChatMessage      Kind = "chat_message"
	KindInbox            Kind = "inbox"
	KindTransition       Kind = "transition"
)

// Alert is one outbound message on one channel.
type Alert struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	Channel   Channel           `json:"channel"`
	SubjectID string            `json:"subject_id"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Attempt   int               `json:"attempt"`
	CreatedAt time.Time         `json:"created_at"`
}

// New creates an alert with a fresh id. Channel is set on dispatch.
func New(kind Kind, subjectID, subject, body string) Alert {
	return Alert{
		ID:        uuid.New(),
		Kind:      kind,
		SubjectID: subjectID,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

// Routes maps alert kinds to the channels they are delivered on.
type Routes map[Kind][]Channel

// UniformRoutes delivers every kind on the same channels.
func UniformRoutes(channels ...Channel) Routes {
	r := make(Routes)
	for _, k := range []Kind{KindPharmacyResponse, KindOrderStatus, KindChatMessage, KindInbox, KindTransition} {
		r[k] = append([]Channel(nil), channels...)
	}
	return r
}
