package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/circuitbreaker"
	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/metrics"
)

// Dispatcher tells a business about newly created notifications on every
// channel it has configured. Delivery is best effort: failures are logged and
// counted, never returned, so a dead channel cannot fail a scan.
type Dispatcher struct {
	sender Sender
	logger *zap.Logger
}

func NewDispatcher(sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logger: logger}
}

// Deliver fans the created notifications out to email, SMS and webhook.
// SMS only carries high priority items.
func (d *Dispatcher) Deliver(ctx context.Context, b *db.Business, created []*db.SmartNotification) {
	if b == nil || len(created) == 0 {
		return
	}
	for _, del := range d.deliveries(b, created) {
		d.send(ctx, del)
	}
}

func (d *Dispatcher) deliveries(b *db.Business, created []*db.SmartNotification) []*Delivery {
	sorted := make([]*db.SmartNotification, len(created))
	copy(sorted, created)
	sort.SliceStable(sorted, func(i, j int) bool {
		return db.PriorityRank(sorted[i].Priority) > db.PriorityRank(sorted[j].Priority)
	})

	var out []*Delivery
	if b.NotifyEmail != nil && *b.NotifyEmail != "" {
		out = append(out, &Delivery{
			BusinessID:    b.ID,
			Channel:       ChannelEmail,
			Recipient:     *b.NotifyEmail,
			Subject:       digestSubject(len(sorted)),
			Body:          digestBody(b, sorted),
			Notifications: sorted,
		})
	}

	if b.NotifyPhone != nil && *b.NotifyPhone != "" {
		var urgent []*db.SmartNotification
		for _, n := range sorted {
			if n.Priority == db.PriorityHigh {
				urgent = append(urgent, n)
			}
		}
		if len(urgent) > 0 {
			out = append(out, &Delivery{
				BusinessID:    b.ID,
				Channel:       ChannelSMS,
				Recipient:     *b.NotifyPhone,
				Body:          smsBody(urgent),
				Notifications: urgent,
			})
		}
	}

	if b.WebhookURL != nil && *b.WebhookURL != "" {
		out = append(out, &Delivery{
			BusinessID:    b.ID,
			Channel:       ChannelWebhook,
			Recipient:     *b.WebhookURL,
			Notifications: sorted,
		})
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, del *Delivery) {
	err := d.sender.Send(ctx, del)
	switch {
	case err == nil:
		metrics.RecordDelivery(del.Channel, "sent")
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.RecordDelivery(del.Channel, "rejected")
		d.logger.Warn("delivery skipped, channel circuit open",
			zap.String("business_id", del.BusinessID.String()),
			zap.String("channel", del.Channel),
		)
	default:
		metrics.RecordDelivery(del.Channel, "failed")
		d.logger.Error("delivery failed",
			zap.String("business_id", del.BusinessID.String()),
			zap.String("channel", del.Channel),
			zap.Error(err),
		)
	}
}

func digestSubject(n int) string {
	if n == 1 {
		return "1 new scheduling opportunity"
	}
	return fmt.Sprintf("%d new scheduling opportunities", n)
}

func digestBody(b *db.Business, ns []*db.SmartNotification) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hi %s,\n\nWe found new openings in your calendar:\n\n", b.Name)
	for _, n := range ns {
		fmt.Fprintf(&sb, "[%s] %s\n  %s\n\n", strings.ToUpper(n.Priority), n.Title, n.Message)
	}
	return sb.String()
}

func smsBody(ns []*db.SmartNotification) string {
	if len(ns) == 1 {
		return "Slotwise: " + ns[0].Title + ". " + ns[0].Message
	}
	titles := make([]string, 0, len(ns))
	for _, n := range ns {
		titles = append(titles, n.Title)
	}
	return fmt.Sprintf("Slotwise: %d urgent openings. %s", len(ns), strings.Join(titles, "; "))
}
