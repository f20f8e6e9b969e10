/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * operations the lifecycle-service needs. Defining an interface decouples the
 * state-machine logic from PostgreSQL and lets the app layer be tested with
 * hand-rolled stubs.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nimbushost/lifecycle-service/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrVPSNotFound          = errors.New("vps instance not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrTransactionNotFound  = errors.New("transaction not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Subscription read path. GetSubscriptionByID returns a fully hydrated
	// subscription (plan, billing cycle, os, disk type, cPanel plan, user, vm).
	GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	GetDueSubscriptions(ctx context.Context, now time.Time, buffer time.Duration) ([]domain.Subscription, error)
	GetActiveCPanelSubscriptions(ctx context.Context, webhostPlanID uuid.UUID) ([]domain.Subscription, error)

	// Subscription writes, each scoped to the fields the transition owns.
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error
	ApplyRenewal(ctx context.Context, id uuid.UUID, cycleStart, subscriptionEnd time.Time) error
	SetGracePeriod(ctx context.Context, id uuid.UUID, graceEnd time.Time) error
	MarkTerminated(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error
	SetAutoRenew(ctx context.Context, id uuid.UUID, autoRenew bool) error

	// cPanel license writes, scoped to the cpanel_* column family only.
	ApplyCPanelRenewal(ctx context.Context, id uuid.UUID, expiry time.Time) error
	ExpireCPanelLicense(ctx context.Context, id uuid.UUID) error

	// VPS instance records.
	GetVPSByID(ctx context.Context, id uuid.UUID) (*domain.VPSInstance, error)
	UpdateVPSStatus(ctx context.Context, id uuid.UUID, status string) error
	DeleteVPSRecord(ctx context.Context, id uuid.UUID) error

	// Wallet and ledger.
	GetOrCreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	GetWalletBalance(ctx context.Context, userID uuid.UUID, currency string) (int64, error)
	DebitWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error
	CreditWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	DeleteTransaction(ctx context.Context, txID uuid.UUID) error
}
