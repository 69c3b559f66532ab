package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/techwave-ventures/payment-service/internal/domain"
	"github.com/techwave-ventures/payment-service/internal/plans"
	"github.com/techwave-ventures/payment-service/internal/store"
)

const testTopUpPrice = 10000

type reconcileRepoStub struct {
	store.Repository

	ent     *domain.Entitlement
	findErr error

	completeApplied bool
	completeEnt     *domain.Entitlement
	completeErr     error
	completeCalled  bool
	completeGrant   store.GrantParams
	completeTxnID   uuid.UUID

	failApplied bool
	failErr     error
	failCalled  bool
	failReason  string
}

func (s *reconcileRepoStub) FindEntitlementByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Entitlement, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.ent, nil
}

func (s *reconcileRepoStub) CompletePendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, grant store.GrantParams) (bool, *domain.Entitlement, error) {
	s.completeCalled = true
	s.completeGrant = grant
	s.completeTxnID = transactionID
	if s.completeErr != nil {
		return false, nil, s.completeErr
	}
	if !s.completeApplied {
		return false, nil, nil
	}
	return true, s.completeEnt, nil
}

func (s *reconcileRepoStub) FailPendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, reason string) (bool, error) {
	s.failCalled = true
	s.failReason = reason
	if s.failErr != nil {
		return false, s.failErr
	}
	return s.failApplied, nil
}

type verifierStub struct {
	ok bool
}

func (v *verifierStub) Verify(n *domain.TransactionNotification) bool {
	return v.ok
}

type producerStub struct {
	published   bool
	routingKeys []string
}

func (p *producerStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = true
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *producerStub) Close() {}

func pendingEntitlement(userID, txnID uuid.UUID, planID string, purpose domain.PurchasePurpose, amount int64) *domain.Entitlement {
	ent := &domain.Entitlement{
		UserID:               userID,
		PaymentStatus:        domain.PaymentStatusPending,
		PendingTransactionID: &txnID,
		PendingPurpose:       purpose,
		PendingAmount:        amount,
		UsageUsed:            1,
		UsageLimit:           5,
	}
	if planID != "" {
		ent.PendingPlanID = &planID
	}
	return ent
}

func notificationFor(txnID uuid.UUID, amount int64) *domain.TransactionNotification {
	return &domain.TransactionNotification{
		Gateway:       domain.GatewayRazorpay,
		Flow:          domain.FlowWebhook,
		TransactionID: txnID,
		ClaimedAmount: amount,
	}
}

func TestReconcileRejectsBadSignatureBeforeAnyLookup(t *testing.T) {
	repo := &reconcileRepoStub{}
	r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: false}, &producerStub{}, testTopUpPrice)

	outcome, err := r.Reconcile(context.Background(), notificationFor(uuid.New(), 79900))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Status != domain.ReconcileBadSignature {
		t.Fatalf("expected status %s, got %s", domain.ReconcileBadSignature, outcome.Status)
	}
	if repo.completeCalled || repo.failCalled {
		t.Fatalf("expected no repository writes on signature rejection")
	}
}

func TestReconcileResolvesUnknownTransaction(t *testing.T) {
	repo := &reconcileRepoStub{findErr: store.ErrEntitlementNotFound}
	r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, &producerStub{}, testTopUpPrice)

	outcome, err := r.Reconcile(context.Background(), notificationFor(uuid.New(), 79900))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Status != domain.ReconcileUnknownTxn {
		t.Fatalf("expected status %s, got %s", domain.ReconcileUnknownTxn, outcome.Status)
	}
}

func TestReconcileIsNoOpForAlreadyResolvedTransaction(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	tests := []struct {
		name string
		ent  *domain.Entitlement
	}{
		{
			name: "record already completed",
			ent: &domain.Entitlement{
				UserID:            userID,
				PaymentStatus:     domain.PaymentStatusCompleted,
				LastTransactionID: &txnID,
			},
		},
		{
			name: "record already failed",
			ent: &domain.Entitlement{
				UserID:            userID,
				PaymentStatus:     domain.PaymentStatusFailed,
				LastTransactionID: &txnID,
			},
		},
		{
			name: "record pending for a different transaction",
			ent:  pendingEntitlement(userID, uuid.New(), "pro", domain.PurposePlan, 79900),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &reconcileRepoStub{ent: tt.ent}
			producer := &producerStub{}
			r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, producer, testTopUpPrice)

			outcome, err := r.Reconcile(context.Background(), notificationFor(txnID, 79900))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if outcome.Status != domain.ReconcileAlreadyProcessed {
				t.Fatalf("expected status %s, got %s", domain.ReconcileAlreadyProcessed, outcome.Status)
			}
			if repo.completeCalled || repo.failCalled {
				t.Fatalf("expected no repository writes for resolved transaction")
			}
			if producer.published {
				t.Fatalf("expected no event for a no-op reconciliation")
			}
		})
	}
}

func TestReconcileAppliesPlanCreditExactlyOnce(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	repo := &reconcileRepoStub{
		ent:             pendingEntitlement(userID, txnID, "pro", domain.PurposePlan, 79900),
		completeApplied: true,
		completeEnt: &domain.Entitlement{
			UserID:        userID,
			PaymentStatus: domain.PaymentStatusCompleted,
			UsageUsed:     1,
			UsageLimit:    30,
		},
	}
	producer := &producerStub{}
	r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, producer, testTopUpPrice)

	outcome, err := r.Reconcile(context.Background(), notificationFor(txnID, 79900))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Status != domain.ReconcileApplied {
		t.Fatalf("expected status %s, got %s", domain.ReconcileApplied, outcome.Status)
	}
	if outcome.UserID != userID {
		t.Fatalf("expected outcome for user %s, got %s", userID, outcome.UserID)
	}
	if outcome.NewUsageLimit != 30 {
		t.Fatalf("expected new usage limit 30, got %d", outcome.NewUsageLimit)
	}
	if !repo.completeCalled {
		t.Fatalf("expected the credit transition to be attempted")
	}
	if repo.completeGrant.PlanID != "pro" || repo.completeGrant.UsageDelta != 25 || repo.completeGrant.ReplaceWithUnlimited {
		t.Fatalf("unexpected grant for pro plan: %+v", repo.completeGrant)
	}
	if !producer.published || producer.routingKeys[0] != "entitlement.activated" {
		t.Fatalf("expected entitlement.activated event, got %v", producer.routingKeys)
	}
}

func TestReconcileGrantsUnlimitedPlanWithSentinel(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	repo := &reconcileRepoStub{
		ent:             pendingEntitlement(userID, txnID, "accelerator", domain.PurposePlan, 159900),
		completeApplied: true,
		completeEnt: &domain.Entitlement{
			UserID:        userID,
			PaymentStatus: domain.PaymentStatusCompleted,
			UsageLimit:    domain.UnlimitedUsage,
		},
	}
	r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, &producerStub{}, testTopUpPrice)

	outcome, err := r.Reconcile(context.Background(), notificationFor(txnID, 159900))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Status != domain.ReconcileApplied {
		t.Fatalf("expected status %s, got %s", domain.ReconcileApplied, outcome.Status)
	}
	if !repo.completeGrant.ReplaceWithUnlimited {
		t.Fatalf("expected unlimited grant, got %+v", repo.completeGrant)
	}
	if outcome.NewUsageLimit != domain.UnlimitedUsage {
		t.Fatalf("expected unlimited sentinel, got %d", outcome.NewUsageLimit)
	}
}

func TestReconcileCreditsTopUpAgainstConfiguredPrice(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	repo := &reconcileRepoStub{
		ent:             pendingEntitlement(userID, txnID, "", domain.PurposeAdditionalLimit, testTopUpPrice),
		completeApplied: true,
		completeEnt: &domain.Entitlement{
			UserID:        userID,
			PaymentStatus: domain.PaymentStatusCompleted,
			UsageLimit:    6,
		},
	}
	r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, &producerStub{}, testTopUpPrice)

	outcome, err := r.Reconcile(context.Background(), notificationFor(txnID, testTopUpPrice))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Status != domain.ReconcileApplied {
		t.Fatalf("expected status %s, got %s", domain.ReconcileApplied, outcome.Status)
	}
	if repo.completeGrant.UsageDelta != 1 || repo.completeGrant.PlanID != "" {
		t.Fatalf("unexpected top-up grant: %+v", repo.completeGrant)
	}
}

func TestReconcileForcesFailedOnAmountMismatch(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	tests := []struct {
		name    string
		ent     *domain.Entitlement
		claimed int64
	}{
		{
			name:    "claimed amount below plan price",
			ent:     pendingEntitlement(userID, txnID, "pro", domain.PurposePlan, 79900),
			claimed: 100,
		},
		{
			name:    "claimed top-up amount drifted",
			ent:     pendingEntitlement(userID, txnID, "", domain.PurposeAdditionalLimit, testTopUpPrice),
			claimed: testTopUpPrice - 1,
		},
		{
			name:    "pending plan vanished from catalog",
			ent:     pendingEntitlement(userID, txnID, "retired-plan", domain.PurposePlan, 49900),
			claimed: 49900,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &reconcileRepoStub{ent: tt.ent, failApplied: true}
			producer := &producerStub{}
			r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, producer, testTopUpPrice)

			outcome, err := r.Reconcile(context.Background(), notificationFor(txnID, tt.claimed))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if outcome.Status != domain.ReconcileAmountMismatch {
				t.Fatalf("expected status %s, got %s", domain.ReconcileAmountMismatch, outcome.Status)
			}
			if repo.completeCalled {
				t.Fatalf("credit must never be applied on a mismatched amount")
			}
			if !repo.failCalled || repo.failReason != "amount_mismatch" {
				t.Fatalf("expected pending transaction forced to failed, called=%t reason=%q", repo.failCalled, repo.failReason)
			}
		})
	}
}

func TestReconcileMarksGatewayFailureAndPublishes(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	repo := &reconcileRepoStub{
		ent:         pendingEntitlement(userID, txnID, "pro", domain.PurposePlan, 79900),
		failApplied: true,
	}
	producer := &producerStub{}
	r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, producer, testTopUpPrice)

	n := notificationFor(txnID, 79900)
	n.GatewayFailed = true
	n.FailureReason = "card_declined"

	outcome, err := r.Reconcile(context.Background(), n)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Status != domain.ReconcileAppliedFailed {
		t.Fatalf("expected status %s, got %s", domain.ReconcileAppliedFailed, outcome.Status)
	}
	if repo.failReason != "card_declined" {
		t.Fatalf("expected gateway reason recorded, got %q", repo.failReason)
	}
	if repo.completeCalled {
		t.Fatalf("a failed payment must not credit usage")
	}
	if !producer.published || producer.routingKeys[0] != "payment.failed" {
		t.Fatalf("expected payment.failed event, got %v", producer.routingKeys)
	}
}

func TestReconcileLosingTheDualIngressRaceIsBenign(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	// The read sees a pending record but the conditional update reports the
	// guard failed: the concurrent path resolved the transaction in between.
	repo := &reconcileRepoStub{
		ent:             pendingEntitlement(userID, txnID, "pro", domain.PurposePlan, 79900),
		completeApplied: false,
	}
	producer := &producerStub{}
	r := NewReconciler(repo, plans.NewDefaultCatalog(), &verifierStub{ok: true}, producer, testTopUpPrice)

	outcome, err := r.Reconcile(context.Background(), notificationFor(txnID, 79900))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Status != domain.ReconcileAlreadyProcessed {
		t.Fatalf("expected status %s, got %s", domain.ReconcileAlreadyProcessed, outcome.Status)
	}
	if producer.published {
		t.Fatalf("the losing path must not publish a second activation event")
	}
}
