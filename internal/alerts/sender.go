package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sender delivers alerts on one or more channels.
// Implementations: SES (email), SNS (SMS), webhooks, SQS queue, SNS topic.
type Sender interface {
	Send(ctx context.Context, alert *Alert) error
	SupportsChannel(channel Channel) bool
}

// MultiSender routes alerts to the first sender supporting their channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the alert to the appropriate sender based on channel.
func (m *MultiSender) Send(ctx context.Context, alert *Alert) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(alert.Channel) {
			m.logger.Debug("routing alert to sender",
				zap.String("channel", string(alert.Channel)),
				zap.String("alert_id", alert.ID.String()),
			)
			return sender.Send(ctx, alert)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", alert.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel Channel) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender writes alerts to the log. Used in development and as the
// fallback when no other channel is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, alert *Alert) error {
	s.logger.Info("alert",
		zap.String("id", alert.ID.String()),
		zap.String("kind", string(alert.Kind)),
		zap.String("subject_id", alert.SubjectID),
		zap.String("subject", alert.Subject),
		zap.String("body", alert.Body),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelLog
}
