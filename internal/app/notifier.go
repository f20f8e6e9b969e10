/**
 * @description
 * Notification fan-out for lifecycle events. Events are published to a RabbitMQ
 * topic exchange; the notification workers that deliver email/telegram consume
 * from there. Delivery is strictly best-effort: a publish failure is logged and
 * swallowed, never unwinding the lifecycle transition that triggered it.
 */
package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nimbushost/lifecycle-service/internal/domain"
)

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Notifier publishes templated notification events for users and admins.
type Notifier struct {
	publisher EventPublisher
	exchange  string
	logger    *slog.Logger
}

// NewNotifier creates a notifier publishing to the given exchange.
func NewNotifier(publisher EventPublisher, exchange string, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, exchange: exchange, logger: logger}
}

// Notify publishes a notification event. Admin variants (kinds ending in
// "_admin") route under notification.admin, everything else under
// notification.user.
func (n *Notifier) Notify(ctx context.Context, userID, subscriptionID uuid.UUID, kind string, extra map[string]interface{}) {
	event := domain.NotificationEvent{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Kind:           kind,
		Context:        extra,
	}

	audience := "user"
	if strings.HasSuffix(kind, "_admin") {
		audience = "admin"
	}
	routingKey := "notification." + audience + "." + kind

	if err := n.publisher.Publish(ctx, n.exchange, routingKey, event); err != nil {
		n.logger.Warn("failed to publish notification event",
			"kind", kind, "subscription_id", subscriptionID, "error", err)
	}
}
