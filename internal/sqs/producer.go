// Package sqs ships alerts to an SQS queue for out-of-process delivery and
// reads them back for the tail command.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/alerts"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Message is the queue payload.
type Message struct {
	Alert      alerts.Alert `json:"alert"`
	EnqueuedAt int64        `json:"enqueued_at"`
}

type sendAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Producer is the alerts.Sender for the queue channel.
type Producer struct {
	client   sendAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

// NewProducer creates an SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs producer requires a queue url")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Send enqueues the alert. The kind travels as a message attribute so
// queue subscribers can filter without decoding the body.
func (p *Producer) Send(ctx context.Context, alert *alerts.Alert) error {
	if alert.Channel != alerts.ChannelQueue {
		return fmt.Errorf("sqs producer only supports the queue channel, got: %s", alert.Channel)
	}

	body, err := json.Marshal(Message{Alert: *alert, EnqueuedAt: p.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Kind)),
			},
		},
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("alert queued",
		zap.String("alert_id", alert.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (p *Producer) SupportsChannel(channel alerts.Channel) bool {
	return channel == alerts.ChannelQueue
}

type receiveAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer reads queued alerts.
type Consumer struct {
	client   receiveAPI
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates an SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Receive long-polls for one alert. It returns a nil alert when the wait
// elapses with nothing queued.
func (c *Consumer) Receive(ctx context.Context) (*alerts.Alert, string, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	m := result.Messages[0]
	receipt := aws.ToString(m.ReceiptHandle)

	var msg Message
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
		c.logger.Error("failed to unmarshal message", zap.Error(err))
		return nil, receipt, fmt.Errorf("invalid message format: %w", err)
	}

	return &msg.Alert, receipt, nil
}

// Delete acknowledges a received alert.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
