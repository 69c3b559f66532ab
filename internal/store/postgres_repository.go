/**
 * @description
 * This file implements the data access layer for the payment-service against
 * PostgreSQL. All state transitions on the entitlement record are expressed as
 * single conditional statements so the check-then-act race between the
 * client-initiated verify call and the asynchronous webhook cannot apply the
 * same credit twice.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/techwave-ventures/payment-service/internal/domain"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entitlementColumns = `
	user_id, current_plan_id, payment_status,
	pending_transaction_id, last_transaction_id,
	pending_plan_id, COALESCE(pending_purpose, ''), pending_amount,
	usage_used, usage_limit, activated_at, updated_at
`

func scanEntitlement(row pgx.Row) (*domain.Entitlement, error) {
	var ent domain.Entitlement
	err := row.Scan(
		&ent.UserID,
		&ent.CurrentPlanID,
		&ent.PaymentStatus,
		&ent.PendingTransactionID,
		&ent.LastTransactionID,
		&ent.PendingPlanID,
		&ent.PendingPurpose,
		&ent.PendingAmount,
		&ent.UsageUsed,
		&ent.UsageLimit,
		&ent.ActivatedAt,
		&ent.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntitlementNotFound
		}
		return nil, err
	}
	return &ent, nil
}

// EnsureEntitlement returns the user's entitlement record, inserting the
// free-tier row on first touch. The insert is idempotent under concurrency.
func (r *PostgresRepository) EnsureEntitlement(ctx context.Context, userID uuid.UUID, freeTierLimit int) (*domain.Entitlement, error) {
	query := `
		INSERT INTO user_entitlements (user_id, payment_status, usage_used, usage_limit, updated_at)
		VALUES ($1, 'none', 0, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + entitlementColumns
	return scanEntitlement(r.db.QueryRow(ctx, query, userID, freeTierLimit))
}

// GetEntitlementByUserID retrieves the entitlement record for a user.
func (r *PostgresRepository) GetEntitlementByUserID(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM user_entitlements WHERE user_id = $1`
	return scanEntitlement(r.db.QueryRow(ctx, query, userID))
}

// FindEntitlementByTransactionID locates the record whose in-flight or most
// recently resolved transaction matches the given id.
func (r *PostgresRepository) FindEntitlementByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Entitlement, error) {
	query := `
		SELECT ` + entitlementColumns + `
		FROM user_entitlements
		WHERE pending_transaction_id = $1 OR last_transaction_id = $1
	`
	return scanEntitlement(r.db.QueryRow(ctx, query, transactionID))
}

// MarkPurchasePending records the transition into pending before the gateway
// is contacted. A newer initiation supersedes any earlier pending transaction
// for the same user.
func (r *PostgresRepository) MarkPurchasePending(ctx context.Context, userID uuid.UUID, params MarkPendingParams) error {
	query := `
		UPDATE user_entitlements
		SET payment_status = 'pending',
		    pending_transaction_id = $2,
		    pending_plan_id = NULLIF($3, ''),
		    pending_purpose = $4,
		    pending_amount = $5,
		    updated_at = NOW()
		WHERE user_id = $1
	`
	result, err := r.db.Exec(ctx, query,
		userID,
		params.TransactionID,
		params.PlanID,
		string(params.Purpose),
		params.Amount,
	)
	if err != nil {
		return fmt.Errorf("mark purchase pending: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEntitlementNotFound
	}
	return nil
}

// CompletePendingTransaction applies the credit transition at most once. The
// WHERE clause is the idempotency guard: the row must still be pending and
// still reference this transaction. The granted units are always added to the
// existing limit, never subtracted, and usage_used is preserved.
func (r *PostgresRepository) CompletePendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, grant GrantParams) (bool, *domain.Entitlement, error) {
	query := `
		UPDATE user_entitlements
		SET payment_status = 'completed',
		    current_plan_id = CASE WHEN $3 = 'plan' THEN $4 ELSE current_plan_id END,
		    usage_limit = CASE
		        WHEN $5 OR usage_limit = -1 THEN -1
		        ELSE usage_limit + $6
		    END,
		    activated_at = NOW(),
		    last_transaction_id = pending_transaction_id,
		    pending_transaction_id = NULL,
		    pending_plan_id = NULL,
		    pending_purpose = NULL,
		    pending_amount = 0,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND payment_status = 'pending'
		  AND pending_transaction_id = $2
		RETURNING ` + entitlementColumns
	ent, err := scanEntitlement(r.db.QueryRow(ctx, query,
		userID,
		transactionID,
		string(grant.Purpose),
		grant.PlanID,
		grant.ReplaceWithUnlimited,
		grant.UsageDelta,
	))
	if err != nil {
		if err == ErrEntitlementNotFound {
			// Guard held: the transaction already reached a terminal state.
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("complete pending transaction: %w", err)
	}
	return true, ent, nil
}

// FailPendingTransaction transitions the same guarded state to failed,
// leaving usage counters untouched.
func (r *PostgresRepository) FailPendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE user_entitlements
		SET payment_status = 'failed',
		    last_transaction_id = pending_transaction_id,
		    pending_transaction_id = NULL,
		    pending_plan_id = NULL,
		    pending_purpose = NULL,
		    pending_amount = 0,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND payment_status = 'pending'
		  AND pending_transaction_id = $2
	`
	result, err := r.db.Exec(ctx, query, userID, transactionID)
	if err != nil {
		return false, fmt.Errorf("fail pending transaction: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ActivateSelfServicePlan activates a zero-price plan without any gateway
// transaction. It bypasses the pending machinery entirely.
func (r *PostgresRepository) ActivateSelfServicePlan(ctx context.Context, userID uuid.UUID, grant GrantParams) (*domain.Entitlement, error) {
	query := `
		UPDATE user_entitlements
		SET payment_status = 'completed',
		    current_plan_id = $2,
		    usage_limit = CASE
		        WHEN $3 OR usage_limit = -1 THEN -1
		        ELSE usage_limit + $4
		    END,
		    activated_at = NOW(),
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + entitlementColumns
	ent, err := scanEntitlement(r.db.QueryRow(ctx, query,
		userID,
		grant.PlanID,
		grant.ReplaceWithUnlimited,
		grant.UsageDelta,
	))
	if err != nil {
		if err == ErrEntitlementNotFound {
			return nil, ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("activate self-service plan: %w", err)
	}
	return ent, nil
}

// ConsumeUsage atomically spends one generation if any remain. The condition
// keeps usage_used <= usage_limit without a read-then-write pair.
func (r *PostgresRepository) ConsumeUsage(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	query := `
		UPDATE user_entitlements
		SET usage_used = usage_used + 1,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND (usage_limit = -1 OR usage_used < usage_limit)
		RETURNING ` + entitlementColumns
	ent, err := scanEntitlement(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if err == ErrEntitlementNotFound {
			// Either no record or no headroom; look once to tell them apart.
			if _, lookupErr := r.GetEntitlementByUserID(ctx, userID); lookupErr != nil {
				return nil, lookupErr
			}
			return nil, ErrUsageLimitReached
		}
		return nil, fmt.Errorf("consume usage: %w", err)
	}
	return ent, nil
}
