package main

import (
	"context"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/alerts"
	"github.com/lalithlochan/rxsync/internal/circuitbreaker"
	"github.com/lalithlochan/rxsync/internal/config"
	"github.com/lalithlochan/rxsync/internal/sns"
	"github.com/lalithlochan/rxsync/internal/sqs"
)

// alertSenders builds one breaker-protected sender per configured channel
// and the routes that use them. The log channel is always available.
func alertSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (alerts.Sender, alerts.Routes, []*circuitbreaker.CircuitBreaker) {
	var (
		senders  []alerts.Sender
		breakers []*circuitbreaker.CircuitBreaker
		direct   []alerts.Channel
	)

	protect := func(name string, s alerts.Sender) {
		cb := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
		senders = append(senders, circuitbreaker.NewProtectedSender(s, cb, logger))
		breakers = append(breakers, cb)
	}

	if cfg.AlertEmail != "" {
		ses, err := alerts.NewSESSender(ctx, alerts.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			ToEmail:   cfg.AlertEmail,
		}, logger)
		if err != nil {
			logger.Warn("SES sender unavailable, email alerts disabled", zap.Error(err))
		} else {
			protect("ses", ses)
			direct = append(direct, alerts.ChannelEmail)
		}
	}

	if cfg.AlertPhone != "" {
		sms, err := alerts.NewSNSSender(ctx, alerts.SNSConfig{
			Region:      cfg.AWSRegion,
			PhoneNumber: cfg.AlertPhone,
		}, logger)
		if err != nil {
			logger.Warn("SNS sender unavailable, SMS alerts disabled", zap.Error(err))
		} else {
			protect("sms", sms)
			direct = append(direct, alerts.ChannelSMS)
		}
	}

	if cfg.AlertWebhookURL != "" {
		protect("webhook", alerts.NewWebhookSender(logger, alerts.WebhookConfig{
			URL:     cfg.AlertWebhookURL,
			Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
		}))
		direct = append(direct, alerts.ChannelWebhook)
	}

	// A queue takes over delivery from the direct channels.
	if cfg.AlertQueueURL != "" {
		producer, err := sqs.NewProducer(ctx, sqs.Config{Region: cfg.AWSRegion, QueueURL: cfg.AlertQueueURL}, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, delivering alerts directly", zap.Error(err))
		} else {
			protect("sqs", producer)
			direct = []alerts.Channel{alerts.ChannelQueue}
		}
	}

	var topic bool
	if cfg.TransitionARN != "" {
		var (
			pub *sns.Publisher
			err error
		)
		if cfg.SNSEndpoint != "" {
			pub, err = sns.NewPublisherWithEndpoint(ctx, cfg.TransitionARN, cfg.SNSEndpoint, cfg.AWSRegion)
		} else {
			pub, err = sns.NewPublisher(ctx, cfg.TransitionARN, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if err != nil {
			logger.Warn("transition topic unavailable", zap.Error(err))
		} else {
			protect("transition-topic", pub)
			topic = true
		}
	}

	senders = append(senders, alerts.NewLogSender(logger))
	if len(direct) == 0 {
		direct = []alerts.Channel{alerts.ChannelLog}
	}

	routes := alerts.UniformRoutes(direct...)
	if topic {
		routes[alerts.KindTransition] = append(routes[alerts.KindTransition], alerts.ChannelTopic)
	}

	logger.Info("initialized alert channels",
		zap.Strings("direct", channelNames(direct)),
		zap.Bool("transition_topic", topic),
	)

	return alerts.NewMultiSender(logger, senders...), routes, breakers
}

func channelNames(cs []alerts.Channel) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
