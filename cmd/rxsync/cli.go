package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/fulfillment"
	"github.com/lalithlochan/rxsync/internal/notify"
	"github.com/lalithlochan/rxsync/internal/progress"
	"github.com/lalithlochan/rxsync/internal/sqs"
)

func sessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("token", "", "Marketplace token (defaults to API_TOKEN)")
	cmd.Flags().String("role", "patient", "Session role (patient, pharmacy, admin)")
}

// openCore loads config and signs in for a one-shot command.
func openCore(cmd *cobra.Command) (*core, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	c, err := newCore(cfg, logger, nil)
	if err != nil {
		return nil, err
	}

	token, _ := cmd.Flags().GetString("token")
	role, _ := cmd.Flags().GetString("role")
	if err := c.login(token, role); err != nil {
		return nil, err
	}
	return c, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every notification category once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.logger.Sync() }()

			res := c.aggregator.FetchAll(cmd.Context())

			return printJSON(struct {
				Result    notify.Result     `json:"result"`
				Snapshots []notify.Snapshot `json:"snapshots"`
			}{res, c.aggregator.Snapshots()})
		},
	}
	sessionFlags(cmd)
	return cmd
}

func selectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <prescription-id> <pharmacy-id>",
		Short: "Select an approved pharmacy for a prescription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.logger.Sync() }()

			p, err := c.prescriptions.SelectPharmacy(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("select pharmacy: %w", err)
			}

			return printJSON(struct {
				Prescription fulfillment.Prescription    `json:"prescription"`
				Outcome      fulfillment.ApprovalOutcome `json:"outcome"`
				Actions      fulfillment.Actions         `json:"actions"`
			}{p, p.Outcome(), p.Actions()})
		},
	}
	sessionFlags(cmd)
	return cmd
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <status>",
		Short: "Show the progress projection of an order status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj := progress.ProjectRaw(args[0])
			if !proj.Progressing {
				fmt.Printf("%s (%s): not progressing\n", proj.Label, proj.Status)
				return nil
			}
			fmt.Printf("%s: step %d of %d (%d%%)\n", proj.Label, proj.Step, proj.Total, proj.Percent())
			return nil
		},
	}
}

func tailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Print alerts from the SQS alert queue as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.AlertQueueURL == "" {
				return fmt.Errorf("SQS_ALERT_QUEUE_URL is not set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			consumer, err := sqs.NewConsumer(ctx, sqs.Config{Region: cfg.AWSRegion, QueueURL: cfg.AlertQueueURL}, logger)
			if err != nil {
				return err
			}

			return tail(ctx, consumer, logger)
		},
	}
}

func tail(ctx context.Context, consumer *sqs.Consumer, logger *zap.Logger) error {
	for {
		alert, receipt, err := consumer.Receive(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warn("receive failed", zap.Error(err))
			// Unreadable messages are acknowledged so they do not redeliver forever.
			if receipt != "" {
				_ = consumer.Delete(ctx, receipt)
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if alert == nil {
			continue
		}

		if err := printJSON(alert); err != nil {
			return err
		}
		if err := consumer.Delete(ctx, receipt); err != nil {
			logger.Warn("failed to acknowledge alert", zap.String("alert_id", alert.ID.String()), zap.Error(err))
		}
	}
}
