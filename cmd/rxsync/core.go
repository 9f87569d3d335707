package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/circuitbreaker"
	"github.com/lalithlochan/rxsync/internal/config"
	"github.com/lalithlochan/rxsync/internal/fulfillment"
	"github.com/lalithlochan/rxsync/internal/notify"
	"github.com/lalithlochan/rxsync/internal/observ"
	"github.com/lalithlochan/rxsync/internal/session"
	"github.com/lalithlochan/rxsync/internal/transport"
)

// core is the sync engine shared by every command.
type core struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *session.Session
	breaker *circuitbreaker.CircuitBreaker
	api     *circuitbreaker.ProtectedAPI

	aggregator    *notify.Aggregator
	tracker       *notify.Tracker
	prescriptions *fulfillment.Service
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// newCore builds the engine. store may be nil.
func newCore(cfg *config.Config, logger *zap.Logger, store notify.SnapshotStore) (*core, error) {
	sess := session.New(logger)

	client, err := transport.NewClient(transport.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout,
	}, sess, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create marketplace client: %w", err)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("marketplace"), logger)
	api := circuitbreaker.NewProtectedAPI(client, breaker, logger)

	agg := notify.NewAggregator(notify.Config{
		PollInterval:      cfg.PollInterval,
		Store:             store,
		OnUnauthenticated: sess.Expire,
	}, notify.DefaultSources(api, cfg.EnableInbox), logger)

	return &core{
		cfg:           cfg,
		logger:        logger,
		session:       sess,
		breaker:       breaker,
		api:           api,
		aggregator:    agg,
		tracker:       notify.NewTracker(agg, logger),
		prescriptions: fulfillment.NewService(api, logger),
	}, nil
}

// login opens the session from the flag token, falling back to API_TOKEN.
func (c *core) login(token, role string) error {
	if token == "" {
		token = c.cfg.APIToken
	}
	if token == "" {
		return fmt.Errorf("no token: pass --token or set API_TOKEN")
	}
	c.session.Login(token, session.Role(role))
	return nil
}

// bindSession keeps the engine in step with the session. A new session starts
// with a closed marketplace breaker. Logout drops the aggregator's listeners,
// so onLogin re-subscribes them on every sign-in.
func (c *core) bindSession(ctx context.Context, onLogin func(), onLogout func()) {
	c.session.Observe(func(authenticated bool) {
		if authenticated {
			c.breaker.Reset()
			if onLogin != nil {
				onLogin()
			}
			c.aggregator.SetAuthenticated(true)
			return
		}

		c.aggregator.Logout(ctx)
		c.prescriptions.Forget()
		if onLogout != nil {
			onLogout()
		}
	})
}
