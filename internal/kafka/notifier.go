package kafka

import (
	"context"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
)

type eventPublisher interface {
	PublishWithRetry(ctx context.Context, topic, key string, payload interface{}, maxRetries int) error
}

// Notifier writes customer notifications and lifecycle events to Kafka.
// Messages are keyed by booking id so one booking's events stay ordered.
type Notifier struct {
	producer           eventPublisher
	eventsTopic        string
	notificationsTopic string
	maxRetries         int
	now                func() time.Time
}

func NewNotifier(producer eventPublisher, eventsTopic, notificationsTopic string) *Notifier {
	return &Notifier{
		producer:           producer,
		eventsTopic:        eventsTopic,
		notificationsTopic: notificationsTopic,
		maxRetries:         3,
		now:                time.Now,
	}
}

func (n *Notifier) NotifyConfirmed(ctx context.Context, b *domain.Booking) error {
	return n.send(ctx, n.notificationsTopic, domain.EventBookingConfirmed, b, 0)
}

func (n *Notifier) NotifyCancelled(ctx context.Context, b *domain.Booking, refundAmount int64) error {
	return n.send(ctx, n.notificationsTopic, domain.EventBookingCancelled, b, refundAmount)
}

func (n *Notifier) PublishBookingEvent(ctx context.Context, eventType string, b *domain.Booking, refundAmount int64) error {
	return n.send(ctx, n.eventsTopic, eventType, b, refundAmount)
}

func (n *Notifier) send(ctx context.Context, topic, eventType string, b *domain.Booking, refundAmount int64) error {
	if topic == "" {
		return nil
	}
	event := NewBookingEvent(eventType, b, refundAmount, n.now())
	return n.producer.PublishWithRetry(ctx, topic, b.ID, event, n.maxRetries)
}

var (
	_ booking.Notifier       = (*Notifier)(nil)
	_ booking.EventPublisher = (*Notifier)(nil)
)
