package circuitbreaker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/transport"
)

// API is the marketplace call surface shared by the notification sources
// and the fulfillment service.
type API interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// ProtectedAPI guards marketplace calls with a CircuitBreaker. Only
// transient failures count against the circuit: a 401, 403 or rejected
// request says nothing about the backend's health. While open, calls
// return a transient *transport.Error so callers keep their stale state.
type ProtectedAPI struct {
	api     API
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedAPI(api API, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedAPI {
	return &ProtectedAPI{api: api, breaker: breaker, logger: logger}
}

func (p *ProtectedAPI) Do(ctx context.Context, method, path string, body, out any) error {
	if !p.breaker.Allow() {
		p.logger.Debug("marketplace call short-circuited",
			zap.String("method", method),
			zap.String("path", path),
		)
		return &transport.Error{Method: method, Path: path, Kind: transport.ErrTransient, Err: ErrCircuitOpen}
	}

	err := p.api.Do(ctx, method, path, body, out)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case errors.Is(err, transport.ErrTransient) && !transport.IsCanceled(err):
		p.breaker.RecordFailure()
	default:
		// The backend answered; a cancel is the caller's doing.
		p.breaker.RecordSuccess()
	}
	return err
}

// Breaker exposes the breaker for the status endpoint.
func (p *ProtectedAPI) Breaker() *CircuitBreaker {
	return p.breaker
}
