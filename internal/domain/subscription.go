/**
 * @description
 * This file defines the core domain models for the lifecycle-service: the VPS
 * subscription entity, its embedded cPanel license sub-record, and the related
 * catalog records (plan, billing cycle, OS, disk type) that the store hydrates
 * alongside it.
 *
 * @notes
 * - Monetary amounts are stored as `int64` cents to avoid floating-point
 *   inaccuracies with financial data.
 * - The subscription status and the cPanel license status are independent state
 *   machines. They live in disjoint column families and must never be collapsed
 *   into one field.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus enumerates the lifecycle states of a VPS subscription.
type SubscriptionStatus string

const (
	StatusActive         SubscriptionStatus = "active"
	StatusPendingRenewal SubscriptionStatus = "pending_renewal"
	StatusGracePeriod    SubscriptionStatus = "grace_period"
	StatusSuspended      SubscriptionStatus = "suspended"
	StatusTerminated     SubscriptionStatus = "terminated"
	StatusExpired        SubscriptionStatus = "expired"
	StatusCancelled      SubscriptionStatus = "cancelled"
	StatusDeleted        SubscriptionStatus = "deleted"
)

// CPanelStatus enumerates the states of the embedded cPanel license.
type CPanelStatus string

const (
	CPanelActive  CPanelStatus = "active"
	CPanelExpired CPanelStatus = "expired"
	CPanelDeleted CPanelStatus = "deleted"
)

// BillingCycleType is the recurring period governing how often a subscription is charged.
type BillingCycleType string

const (
	CycleHourly    BillingCycleType = "Hourly"
	CycleMonthly   BillingCycleType = "Monthly"
	CycleQuarterly BillingCycleType = "Quarterly"
	CycleAnnually  BillingCycleType = "Annually"
)

// ReminderState tracks the two-step reminder sequence for a renewal or expiry window.
type ReminderState struct {
	FirstReminderSent bool `json:"first_reminder_sent"`
	FinalReminderSent bool `json:"final_reminder_sent"`
}

// CPanelLicense is the add-on license sub-record embedded in a subscription.
// It renews and expires independently of the parent VPS subscription.
type CPanelLicense struct {
	PlanID          *uuid.UUID    `json:"plan_id,omitempty"`
	Status          CPanelStatus  `json:"status"`
	ExpiryDate      *time.Time    `json:"expiry_date,omitempty"`
	LicenseCanceled bool          `json:"license_canceled"`
	RenewalReminder ReminderState `json:"renewal_reminder"`
	ExpiryReminder  ReminderState `json:"expiry_reminder"`
}

// Subscription is the system-of-record entity for a provisioned VPS and its billing state.
type Subscription struct {
	ID             uuid.UUID          `json:"id"`
	UserID         uuid.UUID          `json:"user_id"`
	VMID           *uuid.UUID         `json:"vm_id,omitempty"`
	PlanID         uuid.UUID          `json:"plan_id"`
	BillingCycleID uuid.UUID          `json:"billing_cycle_id"`
	OSID           uuid.UUID          `json:"os_id"`
	DiskTypeID     uuid.UUID          `json:"disk_type_id"`
	Status         SubscriptionStatus `json:"status"`
	PriceCents     int64              `json:"price_cents"` // per-cycle charge, in cents
	Currency       string             `json:"currency"`
	AutoRenewable  bool               `json:"auto_renewable"`
	CycleStart     time.Time          `json:"cycle_start"`
	SubscriptionEnd time.Time         `json:"subscription_end"`
	GraceEndDate   *time.Time         `json:"grace_end_date,omitempty"`
	CPanel         *CPanelLicense     `json:"cpanel,omitempty"`
	RenewalReminder ReminderState     `json:"renewal_reminder"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`

	// Hydrated relations, populated by the store's read path.
	Plan         *Plan         `json:"plan,omitempty"`
	BillingCycle *BillingCycle `json:"billing_cycle,omitempty"`
	OS           *OSImage      `json:"os,omitempty"`
	DiskType     *DiskType     `json:"disk_type,omitempty"`
	CPanelPlan   *CPanelPlan   `json:"cpanel_plan,omitempty"`
	User         *User         `json:"user,omitempty"`
	VM           *VPSInstance  `json:"vm,omitempty"`
}

// Plan is a VPS plan catalog record.
type Plan struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	CPUCount int       `json:"cpu_count"`
	RAMMB    int       `json:"ram_mb"`
	DiskGB   int       `json:"disk_gb"`
}

// BillingCycle is a billing cycle catalog record.
type BillingCycle struct {
	ID   uuid.UUID        `json:"id"`
	Type BillingCycleType `json:"type"`
}

// OSImage is an operating system catalog record.
type OSImage struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Family  string    `json:"family"`
	Version string    `json:"version"`
}

// DiskType is a disk type catalog record.
type DiskType struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Type string    `json:"type"` // e.g. 'pd-ssd', 'pd-balanced'
}

// CPanelPlanType distinguishes WHM from Plesk license plans.
type CPanelPlanType string

const (
	CPanelPlanWHM   CPanelPlanType = "WHM"
	CPanelPlanPlesk CPanelPlanType = "Plesk"
)

// CPanelPlan is a control-panel license plan catalog record.
type CPanelPlan struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Type            CPanelPlanType `json:"type"`
	PriceCents      int64          `json:"price_cents"`
	BillingDuration string         `json:"billing_duration"` // 'days', 'months', 'years'
	DurationValue   int            `json:"duration_value"`
}

// User is the simplified view of a user needed by the lifecycle-service.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
}

// VPSInstance is the stored record of a provisioned compute instance.
type VPSInstance struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Label        string    `json:"label"`
	InstanceName string    `json:"instance_name"`
	Zone         string    `json:"zone"`
	Status       string    `json:"status"` // 'running', 'suspended', 'deleted'
	CreatedAt    time.Time `json:"created_at"`
}
