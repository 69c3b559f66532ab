/**
 * @description
 * This file defines the core domain models for the payment-service. These structs
 * represent the entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (paise), which
 *   avoids floating-point inaccuracies with financial data.
 * - The entitlement record is the single source of truth for how many
 *   preference-list generations a user may still perform.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus enumerates the lifecycle states of a user's entitlement record
// with respect to its most recent purchase attempt.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "none"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PurchasePurpose distinguishes what a gateway order was opened for.
type PurchasePurpose string

const (
	// PurposePlan is a counseling plan purchase: the plan is switched and the
	// plan's granted units are added to the user's generation limit.
	PurposePlan PurchasePurpose = "plan"
	// PurposeAdditionalLimit is an a-la-carte top-up that grants one extra
	// generation without touching the current plan.
	PurposeAdditionalLimit PurchasePurpose = "additionalLimit"
)

// UnlimitedUsage is the sentinel stored in usage_limit for plans that grant
// unbounded generations. Consumption treats it as "never exhausted".
const UnlimitedUsage = -1

// Entitlement represents a user's stored entitlement record. One row exists per
// user; it is created lazily with free-tier defaults on first touch and lives
// for as long as the user does.
type Entitlement struct {
	UserID               uuid.UUID     `json:"user_id"`
	CurrentPlanID        *string       `json:"current_plan_id,omitempty"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	PendingTransactionID *uuid.UUID    `json:"pending_transaction_id,omitempty"`
	// LastTransactionID keeps the identifier of the most recently resolved
	// transaction so a late duplicate notification can be recognized as
	// already processed instead of unknown.
	LastTransactionID *uuid.UUID      `json:"last_transaction_id,omitempty"`
	PendingPlanID     *string         `json:"pending_plan_id,omitempty"`
	PendingPurpose    PurchasePurpose `json:"pending_purpose,omitempty"`
	PendingAmount     int64           `json:"pending_amount"`
	UsageUsed         int             `json:"usage_used"`
	UsageLimit        int             `json:"usage_limit"`
	ActivatedAt       *time.Time      `json:"activated_at,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// HasUsageRemaining reports whether the user may perform another generation.
func (e *Entitlement) HasUsageRemaining() bool {
	if e.UsageLimit == UnlimitedUsage {
		return true
	}
	return e.UsageUsed < e.UsageLimit
}

// EntitlementStatus is the DTO returned to clients asking about their own
// entitlement. A pending purchase is surfaced explicitly so the frontend can
// show "payment not yet confirmed" instead of prompting a duplicate purchase.
type EntitlementStatus struct {
	PlanID           *string       `json:"plan_id,omitempty"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	UsageUsed        int           `json:"usage_used"`
	UsageLimit       int           `json:"usage_limit"`
	PaymentConfirmed bool          `json:"payment_confirmed"`
	AwaitingPayment  bool          `json:"awaiting_payment"`
}

// OrderHandle is returned to the client after a gateway order has been opened.
// It carries everything the frontend checkout needs to collect the payment.
type OrderHandle struct {
	TransactionID  uuid.UUID `json:"transaction_id"`
	GatewayOrderID string    `json:"order_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	KeyID          string    `json:"key_id"`
	Description    string    `json:"description"`
}

// SelfServiceActivation is returned when a zero-price plan is activated
// without any gateway interaction.
type SelfServiceActivation struct {
	PlanID     string `json:"plan"`
	UsageLimit int    `json:"usage_limit"`
}
