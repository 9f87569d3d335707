// Package sns publishes alerts to an SNS topic, e.g. fulfillment
// transitions fanned out to downstream subscribers.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/lalithlochan/rxsync/internal/alerts"
)

type publishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher is the alerts.Sender for the topic channel.
type Publisher struct {
	client   publishAPI
	topicARN string
}

// Message is the topic payload.
type Message struct {
	AlertID   string            `json:"alert_id"`
	Kind      alerts.Kind       `json:"kind"`
	SubjectID string            `json:"subject_id"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
}

// NewPublisher creates a publisher for the given topic.
func NewPublisher(ctx context.Context, topicARN string, optFns ...func(*config.LoadOptions) error) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// NewPublisherWithEndpoint creates a publisher with a custom endpoint (LocalStack).
func NewPublisherWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Publisher{
		client:   client,
		topicARN: topicARN,
	}, nil
}

// Send publishes the alert. kind and subject_id are message attributes so
// subscriptions can filter on them.
func (p *Publisher) Send(ctx context.Context, alert *alerts.Alert) error {
	if alert.Channel != alerts.ChannelTopic {
		return fmt.Errorf("sns publisher only supports the topic channel, got: %s", alert.Channel)
	}

	_, err := p.Publish(ctx, Message{
		AlertID:   alert.ID.String(),
		Kind:      alert.Kind,
		SubjectID: alert.SubjectID,
		Subject:   alert.Subject,
		Body:      alert.Body,
		Data:      alert.Data,
	})
	return err
}

func (p *Publisher) SupportsChannel(channel alerts.Channel) bool {
	return channel == alerts.ChannelTopic
}

// Publish sends msg to the topic and returns the message id.
func (p *Publisher) Publish(ctx context.Context, msg Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
			"subject_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.SubjectID),
			},
		},
	}
	if msg.Subject != "" {
		input.Subject = aws.String(truncate(msg.Subject, maxSubjectLength))
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// maxSubjectLength is the SNS limit for email-protocol subjects.
const maxSubjectLength = 100

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
