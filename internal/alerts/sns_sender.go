package alerts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// maxSMSLength keeps an alert within a single SMS segment.
const maxSMSLength = 160

type smsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender texts alerts via AWS SNS.
type SNSSender struct {
	client smsAPI
	phone  string
	logger *zap.Logger
}

type SNSConfig struct {
	Region      string
	PhoneNumber string
}

// NewSNSSender creates an SMS sender.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	if cfg.PhoneNumber == "" {
		return nil, fmt.Errorf("SNS sender requires a phone number")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		phone:  cfg.PhoneNumber,
		logger: logger,
	}, nil
}

// Send texts the alert subject.
func (s *SNSSender) Send(ctx context.Context, alert *Alert) error {
	if alert.Channel != ChannelSMS {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", alert.Channel)
	}

	message := alert.Subject
	if message == "" {
		message = alert.Body
	}
	if message == "" {
		return fmt.Errorf("SMS alert has no text")
	}
	if r := []rune(message); len(r) > maxSMSLength {
		message = string(r[:maxSMSLength-3]) + "..."
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(s.phone),
		Message:     aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("alert texted via SNS",
		zap.String("id", alert.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (s *SNSSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelSMS
}
