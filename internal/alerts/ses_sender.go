package alerts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type emailAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender emails alerts via AWS SES.
type SESSender struct {
	client emailAPI
	from   string
	to     string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	ToEmail   string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	if cfg.FromEmail == "" || cfg.ToEmail == "" {
		return nil, fmt.Errorf("SES sender requires from and to addresses")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		to:     cfg.ToEmail,
		logger: logger,
	}, nil
}

// Send emails the alert.
func (s *SESSender) Send(ctx context.Context, alert *Alert) error {
	if alert.Channel != ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", alert.Channel)
	}
	if alert.Subject == "" {
		return fmt.Errorf("email alert missing subject")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{s.to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(alert.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(alert.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("alert emailed via SES",
		zap.String("id", alert.ID.String()),
		zap.String("to", s.to),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (s *SESSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelEmail
}
