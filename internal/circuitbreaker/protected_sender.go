package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/alerts"
)

// ProtectedSender wraps an alert channel with a CircuitBreaker. While the
// circuit is open, Send fails fast and the dispatcher schedules a retry.
type ProtectedSender struct {
	sender  alerts.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender alerts.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedSender) Send(ctx context.Context, alert *alerts.Alert) error {
	if !p.breaker.Allow() {
		p.logger.Warn("alert channel unavailable, failing fast",
			zap.String("breaker", p.breaker.Name()),
			zap.String("alert_id", alert.ID.String()),
			zap.String("channel", string(alert.Channel)),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.sender.Send(ctx, alert); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

func (p *ProtectedSender) SupportsChannel(channel alerts.Channel) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker exposes the breaker for the status endpoint.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
