/**
 * @description
 * This file contains the reconciler: the idempotent state-transition function
 * that converts a verified gateway notification into a local entitlement
 * credit, applied at most once per transaction.
 *
 * Transaction states: unseen -> pending -> {completed, failed}. Completed and
 * failed are terminal for a given transaction id; the guard that enforces the
 * single transition lives in the store as a conditional update, so two
 * concurrent reconciliations (client verify racing the webhook) cannot both
 * apply. Whichever is processed first wins and the loser resolves to a
 * harmless already-processed no-op.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/techwave-ventures/payment-service/internal/domain"
	"github.com/techwave-ventures/payment-service/internal/plans"
	"github.com/techwave-ventures/payment-service/internal/signature"
	"github.com/techwave-ventures/payment-service/internal/store"
	"github.com/techwave-ventures/payment-service/pkg/rabbitmq"
)

// Reconciler applies verified payment notifications to entitlement records.
type Reconciler struct {
	repo     store.Repository
	catalog  *plans.Catalog
	verifier signature.Verifier
	producer rabbitmq.Publisher
	// topUpPrice is the expected amount for additionalLimit purchases.
	topUpPrice int64
}

// NewReconciler creates a reconciler.
func NewReconciler(repo store.Repository, catalog *plans.Catalog, verifier signature.Verifier, producer rabbitmq.Publisher, topUpPrice int64) *Reconciler {
	return &Reconciler{
		repo:       repo,
		catalog:    catalog,
		verifier:   verifier,
		producer:   producer,
		topUpPrice: topUpPrice,
	}
}

// Reconcile pushes one notification through signature verification, the
// idempotency guard, the amount consistency check and, on success, the atomic
// credit transition. Rejections are recorded for audit and mapped to defined
// outcomes; they never surface as transport-level errors.
func (r *Reconciler) Reconcile(ctx context.Context, n *domain.TransactionNotification) (*domain.ReconcileOutcome, error) {
	if !r.verifier.Verify(n) {
		log.Printf("level=warn component=reconciler msg=\"signature verification failed\" gateway=%s flow=%s transaction_id=%s", n.Gateway, n.Flow, n.TransactionID)
		return &domain.ReconcileOutcome{Status: domain.ReconcileBadSignature, TransactionID: n.TransactionID}, nil
	}

	ent, err := r.repo.FindEntitlementByTransactionID(ctx, n.TransactionID)
	if err != nil {
		if err == store.ErrEntitlementNotFound {
			// Likely a stale notification for a transaction superseded by a
			// later purchase. Benign; log and move on.
			log.Printf("level=info component=reconciler msg=\"notification references unknown transaction\" gateway=%s transaction_id=%s", n.Gateway, n.TransactionID)
			return &domain.ReconcileOutcome{Status: domain.ReconcileUnknownTxn, TransactionID: n.TransactionID}, nil
		}
		return nil, err
	}

	// Idempotency guard: a record matched through last_transaction_id, or one
	// no longer pending, already reached a terminal state for this id.
	if ent.PaymentStatus != domain.PaymentStatusPending ||
		ent.PendingTransactionID == nil || *ent.PendingTransactionID != n.TransactionID {
		log.Printf("level=info component=reconciler msg=\"transaction already processed\" transaction_id=%s user_id=%s status=%s", n.TransactionID, ent.UserID, ent.PaymentStatus)
		return &domain.ReconcileOutcome{Status: domain.ReconcileAlreadyProcessed, TransactionID: n.TransactionID, UserID: ent.UserID}, nil
	}

	if n.GatewayFailed {
		return r.applyFailure(ctx, ent, n)
	}

	grant, expectedAmount, ok := r.resolveGrant(ent)
	if !ok || n.ClaimedAmount != expectedAmount {
		// Tampered or substituted notification, or catalog drift. Never
		// complete; force the pending transaction to failed and alert.
		log.Printf("level=error component=reconciler msg=\"amount mismatch; forcing failed\" transaction_id=%s user_id=%s claimed=%d expected=%d", n.TransactionID, ent.UserID, n.ClaimedAmount, expectedAmount)
		applied, err := r.repo.FailPendingTransaction(ctx, ent.UserID, n.TransactionID, "amount_mismatch")
		if err != nil {
			return nil, err
		}
		if !applied {
			return &domain.ReconcileOutcome{Status: domain.ReconcileAlreadyProcessed, TransactionID: n.TransactionID, UserID: ent.UserID}, nil
		}
		return &domain.ReconcileOutcome{Status: domain.ReconcileAmountMismatch, TransactionID: n.TransactionID, UserID: ent.UserID}, nil
	}

	applied, updated, err := r.repo.CompletePendingTransaction(ctx, ent.UserID, n.TransactionID, grant)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the dual-ingress race after the initial read.
		log.Printf("level=info component=reconciler msg=\"credit already applied by concurrent reconciliation\" transaction_id=%s user_id=%s", n.TransactionID, ent.UserID)
		return &domain.ReconcileOutcome{Status: domain.ReconcileAlreadyProcessed, TransactionID: n.TransactionID, UserID: ent.UserID}, nil
	}

	log.Printf("level=info component=reconciler msg=\"payment credited\" transaction_id=%s user_id=%s plan=%s new_limit=%d", n.TransactionID, ent.UserID, grant.PlanID, updated.UsageLimit)

	if r.producer != nil {
		event := domain.EntitlementActivatedEvent{
			UserID:        ent.UserID,
			TransactionID: n.TransactionID,
			PlanID:        grant.PlanID,
			Purpose:       grant.Purpose,
			NewUsageLimit: updated.UsageLimit,
			Timestamp:     time.Now().UTC(),
		}
		if err := r.producer.Publish(ctx, rabbitmq.PaymentEventsExchange, "entitlement.activated", event); err != nil {
			log.Printf("level=warn component=reconciler msg=\"failed to publish activation event\" transaction_id=%s err=%v", n.TransactionID, err)
		}
	}

	return &domain.ReconcileOutcome{
		Status:        domain.ReconcileApplied,
		TransactionID: n.TransactionID,
		UserID:        ent.UserID,
		PlanID:        grant.PlanID,
		NewUsageLimit: updated.UsageLimit,
	}, nil
}

func (r *Reconciler) applyFailure(ctx context.Context, ent *domain.Entitlement, n *domain.TransactionNotification) (*domain.ReconcileOutcome, error) {
	reason := n.FailureReason
	if reason == "" {
		reason = "gateway_reported_failure"
	}
	applied, err := r.repo.FailPendingTransaction(ctx, ent.UserID, n.TransactionID, reason)
	if err != nil {
		return nil, err
	}
	if !applied {
		return &domain.ReconcileOutcome{Status: domain.ReconcileAlreadyProcessed, TransactionID: n.TransactionID, UserID: ent.UserID}, nil
	}

	log.Printf("level=info component=reconciler msg=\"pending purchase marked failed\" transaction_id=%s user_id=%s reason=%q", n.TransactionID, ent.UserID, reason)

	if r.producer != nil {
		event := domain.PaymentFailedEvent{
			UserID:        ent.UserID,
			TransactionID: n.TransactionID,
			Reason:        reason,
			Timestamp:     time.Now().UTC(),
		}
		if err := r.producer.Publish(ctx, rabbitmq.PaymentEventsExchange, "payment.failed", event); err != nil {
			log.Printf("level=warn component=reconciler msg=\"failed to publish failure event\" transaction_id=%s err=%v", n.TransactionID, err)
		}
	}

	return &domain.ReconcileOutcome{Status: domain.ReconcileAppliedFailed, TransactionID: n.TransactionID, UserID: ent.UserID}, nil
}

// resolveGrant derives the credit and the expected charge for the purchase
// the record is pending for. Plan details are read from the catalog at
// activation time; a plan that has vanished from the catalog fails the
// consistency check rather than crediting an unknown grant.
func (r *Reconciler) resolveGrant(ent *domain.Entitlement) (store.GrantParams, int64, bool) {
	if ent.PendingPurpose == domain.PurposeAdditionalLimit {
		return store.GrantParams{
			Purpose:    domain.PurposeAdditionalLimit,
			UsageDelta: topUpGrantUnits,
		}, r.topUpPrice, true
	}

	if ent.PendingPlanID == nil {
		return store.GrantParams{}, 0, false
	}
	plan, err := r.catalog.Lookup(*ent.PendingPlanID)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"pending plan missing from catalog\" user_id=%s plan=%s", ent.UserID, *ent.PendingPlanID)
		return store.GrantParams{}, 0, false
	}
	return grantForPlan(plan), plan.UnitPrice, true
}
