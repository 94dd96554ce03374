package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/circuitbreaker"
	"github.com/lalithlochan/slotwise/internal/db"
)

// Delivery channels
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// Delivery is one outbound message to a business about the notifications a
// scan just created.
type Delivery struct {
	BusinessID    uuid.UUID
	Channel       string
	Recipient     string // email address, E.164 phone number, or webhook URL
	Subject       string
	Body          string
	Notifications []*db.SmartNotification
}

// Sender is the unified interface for all delivery channels.
// Implementations: Email (SES), SMS (SNS), Webhooks, Log.
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
	SupportsChannel(channel string) bool
}

// MultiSender routes a delivery to the first sender that supports its channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router that uses multiple underlying senders
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

func (m *MultiSender) Send(ctx context.Context, d *Delivery) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(d.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", d.Channel),
				zap.String("business_id", d.BusinessID.String()),
			)
			return sender.Send(ctx, d)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", d.Channel)
}

func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender only logs deliveries. It stands in for channels that have no
// AWS configuration in development.
type LogSender struct {
	logger   *zap.Logger
	channels map[string]bool
}

// NewLogSender handles the given channels, or all of them when none are named.
func NewLogSender(logger *zap.Logger, channels ...string) *LogSender {
	if len(channels) == 0 {
		channels = []string{ChannelEmail, ChannelSMS, ChannelWebhook}
	}
	s := &LogSender{logger: logger, channels: make(map[string]bool, len(channels))}
	for _, ch := range channels {
		s.channels[ch] = true
	}
	return s
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) error {
	s.logger.Info("delivery logged (no sender configured)",
		zap.String("business_id", d.BusinessID.String()),
		zap.String("channel", d.Channel),
		zap.String("recipient", d.Recipient),
		zap.String("subject", d.Subject),
		zap.Int("notifications", len(d.Notifications)),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return s.channels[channel]
}

// ProtectedSender wraps a Sender with a circuit breaker so a failing channel
// fails fast instead of stalling every scan that delivers through it.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{sender: sender, breaker: breaker, logger: logger}
}

func (p *ProtectedSender) Send(ctx context.Context, d *Delivery) error {
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.sender.Send(ctx, d)
	})
	if err != nil && p.breaker.GetState() != circuitbreaker.StateClosed {
		p.logger.Warn("delivery channel degraded",
			zap.String("breaker", p.breaker.Name()),
			zap.String("state", p.breaker.GetState().String()),
			zap.String("business_id", d.BusinessID.String()),
			zap.Error(err),
		)
	}
	return err
}

func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker exposes the breaker for health reporting.
func (p *ProtectedSender) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
