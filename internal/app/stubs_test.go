package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimbushost/lifecycle-service/internal/domain"
	"github.com/nimbushost/lifecycle-service/internal/store"
	"github.com/nimbushost/lifecycle-service/pkg/computeclient"
)

// repoStub is an in-memory Repository for exercising the state machine without
// a database. Error hooks allow injecting failures on specific operations.
type repoStub struct {
	mu           sync.Mutex
	subs         map[uuid.UUID]*domain.Subscription
	vps          map[uuid.UUID]*domain.VPSInstance
	balances     map[string]int64 // "userID/currency"
	transactions []domain.Transaction

	applyRenewalErr       error
	applyCPanelRenewalErr error
	debitErr              error
	createTxErr           error
}

func newRepoStub() *repoStub {
	return &repoStub{
		subs:     make(map[uuid.UUID]*domain.Subscription),
		vps:      make(map[uuid.UUID]*domain.VPSInstance),
		balances: make(map[string]int64),
	}
}

func balanceKey(userID uuid.UUID, currency string) string {
	return fmt.Sprintf("%s/%s", userID, currency)
}

func (s *repoStub) addSubscription(sub *domain.Subscription) {
	s.subs[sub.ID] = sub
}

func (s *repoStub) setBalance(userID uuid.UUID, currency string, cents int64) {
	s.balances[balanceKey(userID, currency)] = cents
}

func (s *repoStub) balance(userID uuid.UUID, currency string) int64 {
	return s.balances[balanceKey(userID, currency)]
}

func copySub(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	if sub.GraceEndDate != nil {
		g := *sub.GraceEndDate
		c.GraceEndDate = &g
	}
	if sub.CPanel != nil {
		cp := *sub.CPanel
		c.CPanel = &cp
	}
	return &c
}

func (s *repoStub) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	return copySub(sub), nil
}

func (s *repoStub) GetDueSubscriptions(ctx context.Context, now time.Time, buffer time.Duration) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sweepable := map[domain.SubscriptionStatus]bool{
		domain.StatusActive:         true,
		domain.StatusPendingRenewal: true,
		domain.StatusGracePeriod:    true,
		domain.StatusSuspended:      true,
	}
	var due []domain.Subscription
	for _, sub := range s.subs {
		if sweepable[sub.Status] && sub.SubscriptionEnd.Before(now.Add(-buffer)) {
			due = append(due, *copySub(sub))
		}
	}
	return due, nil
}

func (s *repoStub) GetActiveCPanelSubscriptions(ctx context.Context, webhostPlanID uuid.UUID) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range s.subs {
		if sub.CPanel == nil || sub.CPanel.Status != domain.CPanelActive || sub.CPanel.LicenseCanceled {
			continue
		}
		if sub.CPanelPlan != nil && sub.CPanelPlan.Type == domain.CPanelPlanPlesk && sub.CPanelPlan.ID == webhostPlanID {
			continue
		}
		out = append(out, *copySub(sub))
	}
	return out, nil
}

func (s *repoStub) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.Status = status
	return nil
}

func (s *repoStub) ApplyRenewal(ctx context.Context, id uuid.UUID, cycleStart, subscriptionEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyRenewalErr != nil {
		return s.applyRenewalErr
	}
	sub, ok := s.subs[id]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.Status = domain.StatusActive
	sub.CycleStart = cycleStart
	sub.SubscriptionEnd = subscriptionEnd
	sub.GraceEndDate = nil
	sub.RenewalReminder.FirstReminderSent = true
	sub.RenewalReminder.FinalReminderSent = true
	return nil
}

func (s *repoStub) SetGracePeriod(ctx context.Context, id uuid.UUID, graceEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.Status = domain.StatusGracePeriod
	sub.GraceEndDate = &graceEnd
	return nil
}

func (s *repoStub) MarkTerminated(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.Status = status
	if sub.CPanel != nil {
		sub.CPanel.Status = domain.CPanelDeleted
		sub.CPanel.LicenseCanceled = true
	}
	return nil
}

func (s *repoStub) SetAutoRenew(ctx context.Context, id uuid.UUID, autoRenew bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.AutoRenewable = autoRenew
	return nil
}

func (s *repoStub) ApplyCPanelRenewal(ctx context.Context, id uuid.UUID, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyCPanelRenewalErr != nil {
		return s.applyCPanelRenewalErr
	}
	sub, ok := s.subs[id]
	if !ok || sub.CPanel == nil {
		return store.ErrSubscriptionNotFound
	}
	sub.CPanel.Status = domain.CPanelActive
	sub.CPanel.ExpiryDate = &expiry
	sub.CPanel.RenewalReminder.FirstReminderSent = true
	sub.CPanel.RenewalReminder.FinalReminderSent = true
	return nil
}

func (s *repoStub) ExpireCPanelLicense(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.CPanel == nil {
		return store.ErrSubscriptionNotFound
	}
	sub.CPanel.Status = domain.CPanelExpired
	sub.CPanel.LicenseCanceled = true
	return nil
}

func (s *repoStub) GetVPSByID(ctx context.Context, id uuid.UUID) (*domain.VPSInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vps[id]
	if !ok {
		return nil, store.ErrVPSNotFound
	}
	c := *vm
	return &c, nil
}

func (s *repoStub) UpdateVPSStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vps[id]
	if !ok {
		return store.ErrVPSNotFound
	}
	vm.Status = status
	return nil
}

func (s *repoStub) DeleteVPSRecord(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vps, id)
	return nil
}

func (s *repoStub) GetOrCreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey(userID, currency)
	if _, ok := s.balances[key]; !ok {
		s.balances[key] = 0
	}
	return &domain.Wallet{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)),
		UserID:       userID,
		Currency:     currency,
		BalanceCents: s.balances[key],
	}, nil
}

func (s *repoStub) GetWalletBalance(ctx context.Context, userID uuid.UUID, currency string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey(userID, currency)], nil
}

func (s *repoStub) DebitWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debitErr != nil {
		return s.debitErr
	}
	key := balanceKey(userID, currency)
	if s.balances[key] < amount {
		return store.ErrInsufficientFunds
	}
	s.balances[key] -= amount
	return nil
}

func (s *repoStub) CreditWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey(userID, currency)] += amount
	return nil
}

func (s *repoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createTxErr != nil {
		return s.createTxErr
	}
	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *repoStub) DeleteTransaction(ctx context.Context, txID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tx := range s.transactions {
		if tx.ID == txID {
			s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
			return nil
		}
	}
	return nil
}

// publisherStub records published notification events.
type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if ev, ok := e.body.(domain.NotificationEvent); ok {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// computeStub simulates the provisioning gateway.
type computeStub struct {
	mu           sync.Mutex
	stopped      []string
	started      []string
	deleted      []string
	deletedDisks []string

	stopErr    error
	startErr   error
	deleteErr  error
	diskErr    error
	getErr     error
	waitErr    error
	instance   *computeclient.Instance
}

func doneOp() *computeclient.Operation {
	return &computeclient.Operation{ID: "op", Status: "DONE"}
}

func (c *computeStub) StartInstance(ctx context.Context, project, zone, instance string) (*computeclient.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.started = append(c.started, instance)
	return doneOp(), nil
}

func (c *computeStub) StopInstance(ctx context.Context, project, zone, instance string) (*computeclient.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopErr != nil {
		return nil, c.stopErr
	}
	c.stopped = append(c.stopped, instance)
	return doneOp(), nil
}

func (c *computeStub) DeleteInstance(ctx context.Context, project, zone, instance string) (*computeclient.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return nil, c.deleteErr
	}
	c.deleted = append(c.deleted, instance)
	return doneOp(), nil
}

func (c *computeStub) DeleteDisk(ctx context.Context, project, zone, disk string) (*computeclient.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.diskErr != nil {
		return nil, c.diskErr
	}
	c.deletedDisks = append(c.deletedDisks, disk)
	return doneOp(), nil
}

func (c *computeStub) GetInstance(ctx context.Context, project, zone, instance string) (*computeclient.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	if c.instance != nil {
		return c.instance, nil
	}
	return &computeclient.Instance{
		Name:   instance,
		Zone:   zone,
		Status: "RUNNING",
		Disks: []computeclient.AttachedDisk{
			{DeviceName: "boot", Source: "zones/" + zone + "/disks/" + instance + "-boot", Boot: true},
		},
	}, nil
}

func (c *computeStub) WaitForOperation(ctx context.Context, project, zone string, op *computeclient.Operation) error {
	return c.waitErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
