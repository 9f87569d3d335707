package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/alerts"
)

type mockQueue struct {
	sent     []*sqs.SendMessageInput
	sendErr  error
	messages []types.Message
	deleted  []string
}

func (m *mockQueue) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (m *mockQueue) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: m.messages}
	m.messages = nil
	return out, nil
}

func (m *mockQueue) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func queueAlert() *alerts.Alert {
	a := alerts.New(alerts.KindOrderStatus, "o1", "Order o1: Ready", "Ready (step 4 of 6).")
	a.Channel = alerts.ChannelQueue
	return &a
}

func newTestProducer(q *mockQueue) *Producer {
	return &Producer{
		client:   q,
		queueURL: "https://sqs.us-east-1.amazonaws.com/123456789/alerts",
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestProducer_Send(t *testing.T) {
	q := &mockQueue{}
	p := newTestProducer(q)
	alert := queueAlert()

	if err := p.Send(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.sent))
	}

	in := q.sent[0]
	if got := aws.ToString(in.MessageAttributes["kind"].StringValue); got != string(alerts.KindOrderStatus) {
		t.Errorf("kind attribute = %q", got)
	}

	var msg Message
	if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &msg); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if msg.Alert.ID != alert.ID || msg.Alert.SubjectID != "o1" {
		t.Errorf("unexpected alert in body: %+v", msg.Alert)
	}
	if msg.EnqueuedAt != time.Unix(1700000000, 0).UnixNano() {
		t.Errorf("unexpected enqueued_at %d", msg.EnqueuedAt)
	}
}

func TestProducer_SendErrors(t *testing.T) {
	q := &mockQueue{}
	p := newTestProducer(q)

	wrong := queueAlert()
	wrong.Channel = alerts.ChannelEmail
	if err := p.Send(context.Background(), wrong); err == nil {
		t.Error("expected error for non-queue channel")
	}

	q.sendErr = errors.New("access denied")
	if err := p.Send(context.Background(), queueAlert()); err == nil {
		t.Error("expected send error to propagate")
	}
}

func TestProducer_SupportsChannel(t *testing.T) {
	p := newTestProducer(&mockQueue{})
	if !p.SupportsChannel(alerts.ChannelQueue) {
		t.Error("should support queue")
	}
	if p.SupportsChannel(alerts.ChannelTopic) {
		t.Error("should not support topic")
	}
}

func TestConsumer_ReceiveAndDelete(t *testing.T) {
	q := &mockQueue{}
	p := newTestProducer(q)
	alert := queueAlert()
	if err := p.Send(context.Background(), alert); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	q.messages = []types.Message{{Body: q.sent[0].MessageBody, ReceiptHandle: aws.String("r-1")}}
	c := &Consumer{client: q, queueURL: p.queueURL, logger: zap.NewNop()}

	got, receipt, err := c.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if got == nil || got.ID != alert.ID {
		t.Fatalf("expected alert %s, got %+v", alert.ID, got)
	}
	if err := c.Delete(context.Background(), receipt); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(q.deleted) != 1 || q.deleted[0] != "r-1" {
		t.Errorf("unexpected deletes %v", q.deleted)
	}

	got, _, err = c.Receive(context.Background())
	if err != nil || got != nil {
		t.Errorf("expected empty receive, got %+v, %v", got, err)
	}
}

func TestConsumer_MalformedBody(t *testing.T) {
	q := &mockQueue{messages: []types.Message{{Body: aws.String("not json"), ReceiptHandle: aws.String("r-2")}}}
	c := &Consumer{client: q, queueURL: "q", logger: zap.NewNop()}

	_, receipt, err := c.Receive(context.Background())
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
	if receipt != "r-2" {
		t.Errorf("receipt should be returned so the message can be deleted, got %q", receipt)
	}
}
