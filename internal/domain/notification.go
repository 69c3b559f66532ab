/**
 * @description
 * This file defines the notification types that flow from the payment gateways
 * into the reconciler, together with the reconciliation outcome taxonomy. A
 * TransactionNotification is ephemeral: it is parsed from an ingress envelope,
 * pushed through signature verification and reconciliation, and discarded.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Gateway identifies which payment gateway issued a notification. The
// discriminator is set explicitly by the ingress adapter that parsed the
// envelope, never guessed from the payload shape.
type Gateway string

const (
	GatewayRazorpay Gateway = "razorpay"
	GatewayPhonePe  Gateway = "phonepe"
)

// NotificationFlow distinguishes the two ingress paths that can carry the same
// underlying payment event. The flows use different signing secrets.
type NotificationFlow string

const (
	// FlowCheckout is the synchronous, client-initiated verify call.
	FlowCheckout NotificationFlow = "checkout"
	// FlowWebhook is the asynchronous server-to-server notification.
	FlowWebhook NotificationFlow = "webhook"
)

// TransactionNotification is the gateway-agnostic form of a payment
// notification handed to the reconciler.
type TransactionNotification struct {
	Gateway          Gateway
	Flow             NotificationFlow
	TransactionID    uuid.UUID
	GatewayPaymentID string
	ClaimedAmount    int64
	ClaimedPlanID    string
	ClaimedPurpose   PurchasePurpose
	// GatewayFailed is set when the gateway itself reported the payment as
	// declined, timed out or errored rather than captured.
	GatewayFailed bool
	FailureReason string
	// SignedPayload and Signature are the exact bytes the gateway signed and
	// the signature it attached; what the bytes cover is gateway-specific.
	SignedPayload []byte
	Signature     string
}

// ReconcileStatus classifies what the reconciler did with a notification.
type ReconcileStatus string

const (
	// ReconcileApplied means the entitlement transitioned to completed and the
	// grant was credited exactly once.
	ReconcileApplied ReconcileStatus = "applied"
	// ReconcileAppliedFailed means the gateway reported a terminal failure and
	// the record transitioned to failed with counters untouched.
	ReconcileAppliedFailed ReconcileStatus = "applied_failed"
	// ReconcileAlreadyProcessed is the benign no-op taken when the record is
	// already terminal for this transaction (the dual-ingress race).
	ReconcileAlreadyProcessed ReconcileStatus = "already_processed"
	ReconcileBadSignature     ReconcileStatus = "rejected_bad_signature"
	ReconcileUnknownTxn       ReconcileStatus = "rejected_unknown_transaction"
	ReconcileAmountMismatch   ReconcileStatus = "rejected_amount_mismatch"
)

// Rejected reports whether the outcome is a business-level rejection rather
// than an applied transition or a benign no-op.
func (s ReconcileStatus) Rejected() bool {
	switch s {
	case ReconcileBadSignature, ReconcileUnknownTxn, ReconcileAmountMismatch:
		return true
	}
	return false
}

// ReconcileOutcome is the result of pushing one notification through the
// reconciler.
type ReconcileOutcome struct {
	Status        ReconcileStatus `json:"status"`
	TransactionID uuid.UUID       `json:"transaction_id,omitempty"`
	UserID        uuid.UUID       `json:"user_id,omitempty"`
	PlanID        string          `json:"plan,omitempty"`
	NewUsageLimit int             `json:"new_usage_limit,omitempty"`
}

// EntitlementActivatedEvent is published to RabbitMQ after a successful credit
// so downstream services (notifications, analytics) can react without polling.
type EntitlementActivatedEvent struct {
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	PlanID        string          `json:"plan_id,omitempty"`
	Purpose       PurchasePurpose `json:"purpose"`
	NewUsageLimit int             `json:"new_usage_limit"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PaymentFailedEvent is published when a pending purchase resolves to failed.
type PaymentFailedEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}
