package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimbushost/lifecycle-service/internal/domain"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestSubscription(repo *repoStub, status domain.SubscriptionStatus, priceCents int64) *domain.Subscription {
	userID := uuid.New()
	vmID := uuid.New()
	sub := &domain.Subscription{
		ID:              uuid.New(),
		UserID:          userID,
		VMID:            &vmID,
		PlanID:          uuid.New(),
		BillingCycleID:  uuid.New(),
		OSID:            uuid.New(),
		DiskTypeID:      uuid.New(),
		Status:          status,
		PriceCents:      priceCents,
		Currency:        "USD",
		AutoRenewable:   true,
		CycleStart:      fixedNow.AddDate(0, -1, 0),
		SubscriptionEnd: fixedNow.Add(-2 * time.Minute),
		BillingCycle:    &domain.BillingCycle{ID: uuid.New(), Type: domain.CycleMonthly},
		Plan:            &domain.Plan{ID: uuid.New(), Name: "vps-small"},
		User:            &domain.User{ID: userID, Email: "user@example.com"},
	}
	repo.addSubscription(sub)
	repo.vps[vmID] = &domain.VPSInstance{
		ID:           vmID,
		UserID:       userID,
		InstanceName: "vps-" + vmID.String()[:8],
		Zone:         "us-central1-a",
		Status:       "running",
	}
	return sub
}

func newTestRenewer(repo *repoStub, publisher *publisherStub) *Renewer {
	notifier := NewNotifier(publisher, "notifications", testLogger())
	r := NewRenewer(repo, notifier, testLogger())
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestRenew_SuccessExtendsAndDebitsExactlyOnce(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{}
	sub := newTestSubscription(repo, domain.StatusPendingRenewal, 1500)
	repo.setBalance(sub.UserID, "USD", 1500)
	renewer := newTestRenewer(repo, publisher)

	endBefore := sub.SubscriptionEnd
	res := renewer.Renew(context.Background(), sub.ID, true)
	if !res.Success {
		t.Fatalf("expected success, got %q (%s)", res.Message, res.Reason)
	}

	if got := repo.balance(sub.UserID, "USD"); got != 0 {
		t.Fatalf("expected balance 0 after exact-price renewal, got %d", got)
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(repo.transactions))
	}
	tx := repo.transactions[0]
	if tx.Status != domain.TxCompleted || tx.Type != domain.TxDebit || tx.Amount != 1500 {
		t.Fatalf("unexpected transaction record: %+v", tx)
	}

	stored := repo.subs[sub.ID]
	if stored.Status != domain.StatusActive {
		t.Fatalf("expected status active, got %s", stored.Status)
	}
	if !stored.SubscriptionEnd.After(endBefore) {
		t.Fatal("subscription end must move strictly forward on renewal")
	}
	if !stored.RenewalReminder.FirstReminderSent || !stored.RenewalReminder.FinalReminderSent {
		t.Fatal("renewal must close the reminder window")
	}
}

func TestRenew_InsufficientFundsMutatesNothing(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{}
	sub := newTestSubscription(repo, domain.StatusPendingRenewal, 1500)
	repo.setBalance(sub.UserID, "USD", 1499)
	renewer := newTestRenewer(repo, publisher)

	res := renewer.Renew(context.Background(), sub.ID, true)
	if res.Success || res.Reason != ReasonInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %+v", res)
	}

	if got := repo.balance(sub.UserID, "USD"); got != 1499 {
		t.Fatalf("balance must be untouched, got %d", got)
	}
	if len(repo.transactions) != 0 {
		t.Fatalf("no transaction may be recorded, got %d", len(repo.transactions))
	}
	if repo.subs[sub.ID].Status != domain.StatusPendingRenewal {
		t.Fatalf("status must be unchanged, got %s", repo.subs[sub.ID].Status)
	}
}

func TestRenew_RollbackRestoresBalanceOnPersistenceFailure(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{}
	sub := newTestSubscription(repo, domain.StatusPendingRenewal, 2000)
	repo.setBalance(sub.UserID, "USD", 5000)
	repo.applyRenewalErr = errors.New("write conflict")
	renewer := newTestRenewer(repo, publisher)

	res := renewer.Renew(context.Background(), sub.ID, true)
	if res.Success || res.Reason != ReasonPersistence {
		t.Fatalf("expected persistence failure, got %+v", res)
	}

	if got := repo.balance(sub.UserID, "USD"); got != 5000 {
		t.Fatalf("rollback must restore the pre-debit balance, got %d", got)
	}
	if len(repo.transactions) != 0 {
		t.Fatalf("rollback must remove the transaction record, got %d", len(repo.transactions))
	}
	if len(publisher.kinds()) != 0 {
		t.Fatal("no confirmation may be sent for a failed renewal")
	}
}

func TestRenew_FreeTrialRejectedWithoutDebit(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{}
	sub := newTestSubscription(repo, domain.StatusPendingRenewal, 0)
	repo.setBalance(sub.UserID, "USD", 10000)
	renewer := newTestRenewer(repo, publisher)

	res := renewer.Renew(context.Background(), sub.ID, false)
	if res.Success || res.Reason != ReasonFreeTrial {
		t.Fatalf("expected free trial rejection, got %+v", res)
	}
	if got := repo.balance(sub.UserID, "USD"); got != 10000 {
		t.Fatalf("balance must be untouched, got %d", got)
	}
}

func TestRenew_NotifierFailureDoesNotUnwindRenewal(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{err: errors.New("broker down")}
	sub := newTestSubscription(repo, domain.StatusPendingRenewal, 1000)
	repo.setBalance(sub.UserID, "USD", 1000)
	renewer := newTestRenewer(repo, publisher)

	res := renewer.Renew(context.Background(), sub.ID, true)
	if !res.Success {
		t.Fatalf("renewal must succeed despite notifier failure, got %+v", res)
	}
	if repo.subs[sub.ID].Status != domain.StatusActive {
		t.Fatalf("expected active, got %s", repo.subs[sub.ID].Status)
	}
}

func TestReinstate_ChargesPricePlusFeeInOneDebit(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{}
	sub := newTestSubscription(repo, domain.StatusGracePeriod, 3000)
	repo.setBalance(sub.UserID, "USD", 3100)
	renewer := newTestRenewer(repo, publisher)

	res := renewer.Reinstate(context.Background(), copySub(sub), 100)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if got := repo.balance(sub.UserID, "USD"); got != 0 {
		t.Fatalf("expected exact debit of price+fee, remaining %d", got)
	}
	if len(repo.transactions) != 1 || repo.transactions[0].Amount != 3100 {
		t.Fatalf("expected one transaction of 3100, got %+v", repo.transactions)
	}
}

func TestRenewCPanelLicense_DoesNotTouchParentSubscription(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{}
	sub := newTestSubscription(repo, domain.StatusActive, 1500)
	expiry := fixedNow.Add(10 * time.Minute)
	planID := uuid.New()
	sub.CPanel = &domain.CPanelLicense{PlanID: &planID, Status: domain.CPanelActive, ExpiryDate: &expiry}
	sub.CPanelPlan = &domain.CPanelPlan{
		ID: planID, Name: "whm-5", Type: domain.CPanelPlanWHM,
		PriceCents: 500, BillingDuration: "months", DurationValue: 1,
	}
	repo.setBalance(sub.UserID, "USD", 500)
	renewer := newTestRenewer(repo, publisher)

	endBefore := repo.subs[sub.ID].SubscriptionEnd
	statusBefore := repo.subs[sub.ID].Status

	res := renewer.RenewCPanelLicense(context.Background(), copySub(sub))
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	stored := repo.subs[sub.ID]
	if stored.Status != statusBefore || !stored.SubscriptionEnd.Equal(endBefore) {
		t.Fatal("cPanel renewal must not touch the parent subscription state")
	}
	if stored.CPanel.ExpiryDate.Equal(expiry) {
		t.Fatal("cPanel expiry must advance")
	}
}
