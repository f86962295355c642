package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// Sender mirrors the dispatch.Sender interface to avoid circular imports.
type Sender interface {
	Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error
	Supports(channel notify.Channel) bool
}

// ProtectedSender wraps a channel sender with a CircuitBreaker. When the
// downstream provider (SES, SNS, SQS) starts failing, the circuit opens
// and deliveries fail fast instead of piling up.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts the delivery through the breaker. If the circuit is open
// it returns ErrCircuitOpen immediately; the dispatcher logs and drops
// the delivery like any other channel failure.
func (p *ProtectedSender) Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("notification_id", n.ID.String()),
			zap.String("channel", string(channel)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	if err := p.sender.Send(ctx, n, channel); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Supports delegates to the underlying sender.
func (p *ProtectedSender) Supports(channel notify.Channel) bool {
	return p.sender.Supports(channel)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
