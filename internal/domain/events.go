/**
 * @description
 * Notification event payloads published to RabbitMQ for the notification
 * workers (email/telegram). Delivery is best-effort and never blocks
 * lifecycle correctness.
 */

package domain

import "github.com/google/uuid"

// Notification kinds understood by the notification workers.
const (
	NotifyRenewalConfirmation    = "renewal_confirmation"
	NotifyInsufficientFunds      = "insufficient_funds"
	NotifyInsufficientFundsAdmin = "insufficient_funds_admin"
	NotifyReinstatementFee       = "reinstatement_fee"
	NotifySuspended              = "suspended"
	NotifyTerminated             = "terminated"
	NotifyActive                 = "active"
	NotifyExpired                = "expired"
	NotifyCPanelExpired          = "cpanel_expired"
	NotifyCPanelExpiredAdmin     = "cpanel_expired_admin"
)

// NotificationEvent is the message body published for every user-visible
// lifecycle change.
type NotificationEvent struct {
	UserID         uuid.UUID              `json:"user_id"`
	SubscriptionID uuid.UUID              `json:"subscription_id"`
	Kind           string                 `json:"kind"`
	Context        map[string]interface{} `json:"context,omitempty"`
}
