/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the payment-service. Defining an
 * interface decouples the business logic from the PostgreSQL implementation
 * and lets tests substitute in-memory fakes.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For transaction and user identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/techwave-ventures/payment-service/internal/domain"
)

var (
	// ErrEntitlementNotFound is returned when no entitlement row exists for a
	// lookup key (user id or pending transaction id).
	ErrEntitlementNotFound = errors.New("entitlement record not found")
	// ErrUsageLimitReached is returned by ConsumeUsage when the user has no
	// generations left.
	ErrUsageLimitReached = errors.New("usage limit reached")
)

// MarkPendingParams captures everything recorded when a purchase transitions
// the entitlement to pending, before the gateway is contacted.
type MarkPendingParams struct {
	TransactionID uuid.UUID
	PlanID        string
	Purpose       domain.PurchasePurpose
	Amount        int64
}

// GrantParams describes the credit applied when a pending transaction
// completes. UsageDelta is added to the current limit; for unlimited plans
// ReplaceWithUnlimited pins the limit to the sentinel instead.
type GrantParams struct {
	PlanID               string
	Purpose              domain.PurchasePurpose
	UsageDelta           int
	ReplaceWithUnlimited bool
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// EnsureEntitlement returns the user's entitlement record, creating it
	// with free-tier defaults on first touch.
	EnsureEntitlement(ctx context.Context, userID uuid.UUID, freeTierLimit int) (*domain.Entitlement, error)
	GetEntitlementByUserID(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)
	// FindEntitlementByTransactionID locates the record whose in-flight or
	// most recently resolved transaction matches the given id. Terminal
	// resolution moves the id from pending_transaction_id to
	// last_transaction_id so late duplicates stay recognizable.
	FindEntitlementByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Entitlement, error)

	// MarkPurchasePending records the transition into pending. It supersedes
	// any previous pending transaction for the same user.
	MarkPurchasePending(ctx context.Context, userID uuid.UUID, params MarkPendingParams) error

	// CompletePendingTransaction applies the credit transition as a single
	// conditional update: the row must still be pending and still reference
	// the given transaction id. applied=false means another reconciliation
	// won the race or the record was superseded; no state was changed.
	CompletePendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, grant GrantParams) (applied bool, ent *domain.Entitlement, err error)

	// FailPendingTransaction transitions the same guarded state to failed,
	// leaving usage counters untouched.
	FailPendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, reason string) (applied bool, err error)

	// ActivateSelfServicePlan activates a zero-price plan directly, without a
	// gateway transaction.
	ActivateSelfServicePlan(ctx context.Context, userID uuid.UUID, grant GrantParams) (*domain.Entitlement, error)

	// ConsumeUsage atomically spends one generation if any remain.
	ConsumeUsage(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)
}
